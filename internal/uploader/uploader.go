// Package uploader ships closed journal files to S3
package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/john/slackignore/internal/recorder"
)

// putObjectAPI is the part of the S3 client the uploader needs
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config selects the bucket and credentials. With RoleARN set the role is
// assumed using the web identity token in WebIdentityTokenFile; with
// AccessKeyID set static keys are used; otherwise the default chain applies.
type Config struct {
	Bucket               string
	Region               string
	RoleARN              string
	WebIdentityTokenFile string
	AccessKeyID          string
	SecretAccessKey      string
	Endpoint             string
	DeleteAfterUpload    bool
	MaxRetries           int
	Logger               *slog.Logger
}

// Uploader handles uploading completed journal files to S3
type Uploader struct {
	s3Client    putObjectAPI
	bucket      string
	deleteAfter bool
	maxRetries  int
	backoff     func(attempt int) time.Duration
	logger      *slog.Logger
}

// New creates an S3 uploader
func New(ctx context.Context, cfg Config) (*Uploader, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	if cfg.RoleARN != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		credProvider := stscreds.NewWebIdentityRoleProvider(
			stsClient,
			cfg.RoleARN,
			stscreds.IdentityTokenFile(cfg.WebIdentityTokenFile),
		)
		awsCfg.Credentials = aws.NewCredentialsCache(credProvider)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newWithClient(s3Client, cfg), nil
}

func newWithClient(client putObjectAPI, cfg Config) *Uploader {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		s3Client:    client,
		bucket:      cfg.Bucket,
		deleteAfter: cfg.DeleteAfterUpload,
		maxRetries:  cfg.MaxRetries,
		backoff:     func(attempt int) time.Duration { return time.Duration(1<<uint(attempt)) * time.Second },
		logger:      logger,
	}
}

// ScanAndUploadExisting uploads journal files left behind by a previous run
func (u *Uploader) ScanAndUploadExisting(ctx context.Context, outputDir string) error {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read directory: %w", err)
	}

	var pending []string
	for _, entry := range entries {
		if entry.IsDir() || !isJournalFile(entry.Name()) {
			continue
		}
		pending = append(pending, filepath.Join(outputDir, entry.Name()))
	}

	if len(pending) == 0 {
		return nil
	}
	u.logger.Info("Uploading journal files from a previous run", "count", len(pending))

	for _, path := range pending {
		go u.uploadWithRetry(ctx, path)
	}
	return nil
}

// Start uploads files received on fileChan until ctx is cancelled
func (u *Uploader) Start(ctx context.Context, fileChan <-chan string) error {
	for {
		select {
		case localPath := <-fileChan:
			go u.uploadWithRetry(ctx, localPath)

		case <-ctx.Done():
			u.logger.Info("Uploader shutting down...")
			return ctx.Err()
		}
	}
}

// uploadWithRetry uploads a file, backing off exponentially between attempts
func (u *Uploader) uploadWithRetry(ctx context.Context, localPath string) bool {
	filename := filepath.Base(localPath)

	key, err := objectKey(filename)
	if err != nil {
		u.logger.Error("Cannot derive object key", "file", filename, "error", err)
		return false
	}

	for attempt := 0; attempt <= u.maxRetries; attempt++ {
		err := u.uploadFile(ctx, localPath, key)
		if err == nil {
			u.logger.Info("Uploaded journal file", "file", filename, "bucket", u.bucket, "key", key)
			if u.deleteAfter {
				if err := os.Remove(localPath); err != nil {
					u.logger.Error("Error deleting local file", "file", localPath, "error", err)
				}
			}
			return true
		}

		if attempt < u.maxRetries {
			backoff := u.backoff(attempt)
			u.logger.Warn("Upload attempt failed",
				"attempt", attempt+1, "max_retries", u.maxRetries, "file", filename, "error", err, "retry_in", backoff)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return false
			}
		}
	}

	u.logger.Error("Failed to upload journal file", "file", filename, "attempts", u.maxRetries+1)
	return false
}

func (u *Uploader) uploadFile(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	_, err = u.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func isJournalFile(name string) bool {
	return strings.HasPrefix(name, recorder.FilePrefix+"_") && strings.HasSuffix(name, ".jsonl")
}

// objectKey derives the S3 key from a journal file name
// Input: suppressed_20251230_103000.jsonl
// Output: 2025/12/30/suppressed_20251230_103000.jsonl
func objectKey(filename string) (string, error) {
	if !isJournalFile(filename) {
		return "", fmt.Errorf("invalid filename format: %s", filename)
	}

	stamp := strings.TrimSuffix(strings.TrimPrefix(filename, recorder.FilePrefix+"_"), ".jsonl")
	t, err := time.Parse("20060102_150405", stamp)
	if err != nil {
		return "", fmt.Errorf("parse timestamp: %w", err)
	}

	return fmt.Sprintf("%04d/%02d/%02d/%s", t.Year(), t.Month(), t.Day(), filename), nil
}
