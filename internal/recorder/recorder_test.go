package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/john/slackignore/internal/message"
)

func newTestRecorder(t *testing.T, bufferSize int) *Recorder {
	t.Helper()
	return New(Config{
		OutputDir:       t.TempDir(),
		BufferSize:      bufferSize,
		RotateMinutes:   60,
		RotateMegabytes: 1,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func entry(ts string) message.Suppression {
	return message.Suppression{
		Time:           time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
		ConversationID: "C1",
		MessageTS:      ts,
		Outcome:        message.OutcomeMarkedRead,
		Message: message.Message{
			ConversationName: "general",
			AuthorRealName:   "CI Bot",
			AuthorIsBot:      true,
			Text:             "build " + ts,
		},
	}
}

func readEntries(t *testing.T, path string) []message.Suppression {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []message.Suppression
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var s message.Suppression
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &s))
		out = append(out, s)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestStart_WritesAndFlushesOnShutdown(t *testing.T) {
	r := newTestRecorder(t, 2)
	fileChan := make(chan string, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx, fileChan) }()

	// The queue holds BufferSize entries, so each one is consumed before the next.
	for _, ts := range []string{"1", "2", "3"} {
		r.Record(entry(ts))
		require.Eventually(t, func() bool { return len(r.entries) == 0 }, 2*time.Second, time.Millisecond)
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	require.Len(t, fileChan, 1)
	path := <-fileChan
	assert.True(t, strings.HasPrefix(filepath.Base(path), FilePrefix+"_"))

	got := readEntries(t, path)
	require.Len(t, got, 3)
	assert.Equal(t, "3", got[2].MessageTS)
	assert.Equal(t, "general", got[0].ConversationName)
	assert.Equal(t, message.OutcomeMarkedRead, got[0].Outcome)
}

func TestCheckRotation_ByAge(t *testing.T) {
	r := newTestRecorder(t, 10)
	now := time.Date(2026, 3, 4, 5, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	fileChan := make(chan string, 4)

	require.NoError(t, r.write(entry("1")))
	r.checkRotation(fileChan)
	assert.Empty(t, fileChan, "young file is kept")

	now = now.Add(61 * time.Minute)
	r.checkRotation(fileChan)
	require.Len(t, fileChan, 1)
	first := <-fileChan
	assert.Nil(t, r.current)
	assert.Len(t, readEntries(t, first), 1)

	require.NoError(t, r.write(entry("2")))
	require.NotNil(t, r.current)
	assert.NotEqual(t, filepath.Base(first), r.current.filename)
}

func TestCheckRotation_BySize(t *testing.T) {
	r := newTestRecorder(t, 10)
	r.rotateBytes = 10
	fileChan := make(chan string, 4)

	require.NoError(t, r.write(entry("1")))
	r.checkRotation(fileChan)

	assert.Len(t, fileChan, 1)
}

func TestRecord_DropsWhenQueueFull(t *testing.T) {
	r := newTestRecorder(t, 1)

	r.Record(entry("1"))
	r.Record(entry("2"))

	assert.Len(t, r.entries, 1)
}
