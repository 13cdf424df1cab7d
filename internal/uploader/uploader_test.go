package uploader

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu       sync.Mutex
	failures int
	calls    int
	keys     []string
	bodies   []string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("503 slow down")
	}
	body, _ := io.ReadAll(in.Body)
	f.keys = append(f.keys, aws.ToString(in.Key))
	f.bodies = append(f.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) uploaded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

func newTestUploader(client putObjectAPI, deleteAfter bool, maxRetries int) *Uploader {
	u := newWithClient(client, Config{
		Bucket:            "journal",
		DeleteAfterUpload: deleteAfter,
		MaxRetries:        maxRetries,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	u.backoff = func(int) time.Duration { return time.Millisecond }
	return u
}

func writeJournal(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(`{"ts":"1"}`+"\n"), 0o644))
	return path
}

func TestObjectKey(t *testing.T) {
	key, err := objectKey("suppressed_20251230_103000.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "2025/12/30/suppressed_20251230_103000.jsonl", key)

	for _, bad := range []string{"archive_20251230_103000.jsonl", "suppressed_2025.jsonl", "suppressed_20251230_103000.txt"} {
		_, err := objectKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestUploadWithRetry_SucceedsAfterFailures(t *testing.T) {
	store := &fakeS3{failures: 2}
	u := newTestUploader(store, true, 3)
	path := writeJournal(t, t.TempDir(), "suppressed_20260102_030405.jsonl")

	assert.True(t, u.uploadWithRetry(context.Background(), path))
	assert.Equal(t, 3, store.calls)
	assert.Equal(t, []string{"2026/01/02/suppressed_20260102_030405.jsonl"}, store.uploaded())
	assert.Equal(t, `{"ts":"1"}`+"\n", store.bodies[0])

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "file is deleted after upload")
}

func TestUploadWithRetry_GivesUp(t *testing.T) {
	store := &fakeS3{failures: 10}
	u := newTestUploader(store, true, 2)
	path := writeJournal(t, t.TempDir(), "suppressed_20260102_030405.jsonl")

	assert.False(t, u.uploadWithRetry(context.Background(), path))
	assert.Equal(t, 3, store.calls)

	_, err := os.Stat(path)
	assert.NoError(t, err, "failed uploads stay on disk")
}

func TestScanAndUploadExisting(t *testing.T) {
	store := &fakeS3{}
	u := newTestUploader(store, false, 0)
	dir := t.TempDir()
	writeJournal(t, dir, "suppressed_20260102_030405.jsonl")
	writeJournal(t, dir, "suppressed_20260103_030405.jsonl")
	writeJournal(t, dir, "notes.txt")

	require.NoError(t, u.ScanAndUploadExisting(context.Background(), dir))

	require.Eventually(t, func() bool { return len(store.uploaded()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{
		"2026/01/02/suppressed_20260102_030405.jsonl",
		"2026/01/03/suppressed_20260103_030405.jsonl",
	}, store.uploaded())
}

func TestScanAndUploadExisting_MissingDir(t *testing.T) {
	u := newTestUploader(&fakeS3{}, false, 0)
	assert.NoError(t, u.ScanAndUploadExisting(context.Background(), filepath.Join(t.TempDir(), "nope")))
}

func TestStart_UploadsQueuedFiles(t *testing.T) {
	store := &fakeS3{}
	u := newTestUploader(store, false, 0)
	path := writeJournal(t, t.TempDir(), "suppressed_20260102_030405.jsonl")

	ctx, cancel := context.WithCancel(context.Background())
	fileChan := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- u.Start(ctx, fileChan) }()

	fileChan <- path
	require.Eventually(t, func() bool { return len(store.uploaded()) == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
