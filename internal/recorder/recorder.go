// Package recorder writes the suppression journal: one JSON line per matched
// message, rotated by age and size.
package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/john/slackignore/internal/message"
)

// FilePrefix starts every journal file name
const FilePrefix = "suppressed"

// Config holds recorder settings
type Config struct {
	OutputDir       string
	BufferSize      int
	RotateMinutes   int
	RotateMegabytes int
	Logger          *slog.Logger
}

// fileWriter manages the current JSONL file
type fileWriter struct {
	file         *os.File
	writer       *bufio.Writer
	createdAt    time.Time
	bytesWritten int64
	buffer       []message.Suppression
	filename     string
}

// Recorder buffers suppression records and writes them to disk. Only the
// Start goroutine touches the current file.
type Recorder struct {
	outputDir     string
	bufferSize    int
	rotateAfter   time.Duration
	rotateBytes   int64
	entries       chan message.Suppression
	current       *fileWriter
	logger        *slog.Logger
	now           func() time.Time
	checkInterval time.Duration
}

// New creates a recorder
func New(cfg Config) *Recorder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Recorder{
		outputDir:     cfg.OutputDir,
		bufferSize:    bufferSize,
		rotateAfter:   time.Duration(cfg.RotateMinutes) * time.Minute,
		rotateBytes:   int64(cfg.RotateMegabytes) * 1024 * 1024,
		entries:       make(chan message.Suppression, bufferSize),
		logger:        logger,
		now:           time.Now,
		checkInterval: time.Minute,
	}
}

// Record queues an entry without blocking; entries are dropped when the
// queue is full.
func (r *Recorder) Record(s message.Suppression) {
	select {
	case r.entries <- s:
	default:
		r.logger.Warn("Journal queue full, dropping entry", "channel", s.ConversationID, "ts", s.MessageTS)
	}
}

// Start writes queued entries until ctx is cancelled. Closed files are sent
// on fileChan for upload.
func (r *Recorder) Start(ctx context.Context, fileChan chan<- string) error {
	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	ticker := time.NewTicker(r.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-r.entries:
			if err := r.write(entry); err != nil {
				r.logger.Error("Error recording entry", "error", err)
			}

		case <-ticker.C:
			r.checkRotation(fileChan)

		case <-ctx.Done():
			r.logger.Info("Recorder shutting down, flushing buffers...")
			r.drain()
			r.closeCurrent(fileChan)
			return ctx.Err()
		}
	}
}

// drain writes entries still queued at shutdown
func (r *Recorder) drain() {
	for {
		select {
		case entry := <-r.entries:
			if err := r.write(entry); err != nil {
				r.logger.Error("Error recording entry", "error", err)
			}
		default:
			return
		}
	}
}

func (r *Recorder) write(entry message.Suppression) error {
	if r.current == nil {
		fw, err := r.createFileWriter()
		if err != nil {
			return fmt.Errorf("create file writer: %w", err)
		}
		r.current = fw
	}

	r.current.buffer = append(r.current.buffer, entry)
	if len(r.current.buffer) >= r.bufferSize {
		if err := r.flush(r.current); err != nil {
			return fmt.Errorf("flush buffer: %w", err)
		}
	}
	return nil
}

func (r *Recorder) createFileWriter() (*fileWriter, error) {
	now := r.now().UTC()
	filename := fmt.Sprintf("%s_%s.jsonl", FilePrefix, now.Format("20060102_150405"))
	path := filepath.Join(r.outputDir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	r.logger.Info("Created new journal file", "file", filename)

	return &fileWriter{
		file:      file,
		writer:    bufio.NewWriter(file),
		createdAt: now,
		buffer:    make([]message.Suppression, 0, r.bufferSize),
		filename:  filename,
	}, nil
}

// flush writes buffered entries to disk
func (r *Recorder) flush(fw *fileWriter) error {
	for _, entry := range fw.buffer {
		data, err := json.Marshal(entry)
		if err != nil {
			r.logger.Error("Error marshaling entry", "error", err)
			continue
		}

		n, err := fw.writer.Write(append(data, '\n'))
		fw.bytesWritten += int64(n)
		if err != nil {
			return fmt.Errorf("write entry: %w", err)
		}
	}

	fw.buffer = fw.buffer[:0]
	return fw.writer.Flush()
}

func (r *Recorder) checkRotation(fileChan chan<- string) {
	fw := r.current
	if fw == nil {
		return
	}

	// Buffered entries count toward neither limit until flushed.
	if err := r.flush(fw); err != nil {
		r.logger.Error("Error flushing journal", "error", err)
	}

	switch {
	case r.rotateAfter > 0 && r.now().Sub(fw.createdAt) >= r.rotateAfter:
		r.logger.Info("Rotating journal file (time limit)", "file", fw.filename)
	case r.rotateBytes > 0 && fw.bytesWritten >= r.rotateBytes:
		r.logger.Info("Rotating journal file (size limit)", "file", fw.filename)
	default:
		return
	}
	r.closeCurrent(fileChan)
}

// closeCurrent flushes and closes the current file and queues it for upload.
// The next entry opens a new file.
func (r *Recorder) closeCurrent(fileChan chan<- string) {
	fw := r.current
	if fw == nil {
		return
	}
	r.current = nil

	if err := r.flush(fw); err != nil {
		r.logger.Error("Error flushing journal", "error", err)
	}
	if err := fw.file.Close(); err != nil {
		r.logger.Error("Error closing journal file", "error", err)
	}

	if fileChan == nil {
		return
	}
	path := filepath.Join(r.outputDir, fw.filename)
	select {
	case fileChan <- path:
		r.logger.Info("Queued journal file for upload", "file", fw.filename)
	default:
		r.logger.Warn("Upload queue full, file will be uploaded on next start", "file", fw.filename)
	}
}
