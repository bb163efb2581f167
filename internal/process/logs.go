package process

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LogEntry is one captured line of child output
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Stream    string    `json:"stream"`
	Message   string    `json:"message"`
}

// LogConfig controls where child output is kept
type LogConfig struct {
	Dir  string
	Name string
	// MaxFileSize rotates the active file to <name>.log.1 once exceeded.
	// Zero disables rotation.
	MaxFileSize int64
	// MaxAge removes log files not modified for this long when the manager
	// is opened. Zero keeps everything.
	MaxAge time.Duration
}

// LogManager writes child stdout and stderr as JSON lines to a file
type LogManager struct {
	logger *zap.Logger
	config LogConfig

	mu      sync.Mutex
	file    *os.File
	size    int64
	writers []*lineWriter
}

// NewLogManager opens the log file, creating the directory as needed
func NewLogManager(config LogConfig, logger *zap.Logger) (*LogManager, error) {
	if config.Name == "" {
		config.Name = "child"
	}
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	lm := &LogManager{
		logger: logger.Named("child-logs"),
		config: config,
	}
	lm.removeExpired()

	if err := lm.open(); err != nil {
		return nil, err
	}
	return lm, nil
}

// Path returns the active log file
func (lm *LogManager) Path() string {
	return filepath.Join(lm.config.Dir, lm.config.Name+".log")
}

// Writer returns an io.Writer that records each complete line written to it
// under stream. Partial lines are held until a newline or Close.
func (lm *LogManager) Writer(stream string) io.Writer {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	w := &lineWriter{lm: lm, stream: stream}
	lm.writers = append(lm.writers, w)
	return w
}

// ReadLogs returns the entries of the active file within [start, end]
func (lm *LogManager) ReadLogs(start, end time.Time) ([]LogEntry, error) {
	file, err := os.Open(lm.Path())
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	var logs []LogEntry
	decoder := json.NewDecoder(file)
	for decoder.More() {
		var entry LogEntry
		if err := decoder.Decode(&entry); err != nil {
			return nil, fmt.Errorf("failed to decode log entry: %w", err)
		}
		if !entry.Timestamp.Before(start) && !entry.Timestamp.After(end) {
			logs = append(logs, entry)
		}
	}
	return logs, nil
}

// Close flushes partial lines and closes the file
func (lm *LogManager) Close() error {
	lm.mu.Lock()
	writers := lm.writers
	lm.mu.Unlock()

	for _, w := range writers {
		w.flush()
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.file == nil {
		return nil
	}
	err := lm.file.Close()
	lm.file = nil
	return err
}

func (lm *LogManager) open() error {
	file, err := os.OpenFile(lm.Path(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	lm.file = file
	lm.size = info.Size()
	return nil
}

func (lm *LogManager) record(stream, line string) {
	data, err := json.Marshal(LogEntry{
		Timestamp: time.Now(),
		Stream:    stream,
		Message:   line,
	})
	if err != nil {
		return
	}
	data = append(data, '\n')

	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.file == nil {
		return
	}
	n, err := lm.file.Write(data)
	lm.size += int64(n)
	if err != nil {
		lm.logger.Error("Failed to write log entry", zap.Error(err))
		return
	}

	if lm.config.MaxFileSize > 0 && lm.size > lm.config.MaxFileSize {
		lm.rotateLocked()
	}
}

// rotateLocked moves the active file aside and starts a new one
func (lm *LogManager) rotateLocked() {
	path := lm.Path()
	if err := lm.file.Close(); err != nil {
		lm.logger.Warn("Failed to close log file", zap.Error(err))
	}
	lm.file = nil

	if err := os.Rename(path, path+".1"); err != nil {
		lm.logger.Error("Failed to rotate log file",
			zap.String("path", path),
			zap.Error(err))
	}
	if err := lm.open(); err != nil {
		lm.logger.Error("Failed to reopen log file", zap.Error(err))
	}
}

func (lm *LogManager) removeExpired() {
	if lm.config.MaxAge <= 0 {
		return
	}

	now := time.Now()
	prefix := lm.config.Name + ".log"
	err := filepath.Walk(lm.config.Dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasPrefix(info.Name(), prefix) {
			return nil
		}
		if now.Sub(info.ModTime()) > lm.config.MaxAge {
			if err := os.Remove(path); err != nil {
				lm.logger.Error("Failed to remove old log file",
					zap.String("path", path),
					zap.Error(err))
			}
		}
		return nil
	})
	if err != nil {
		lm.logger.Error("Failed to clean up logs", zap.Error(err))
	}
}

type lineWriter struct {
	lm     *LogManager
	stream string

	mu  sync.Mutex
	buf []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.lm.record(w.stream, string(bytes.TrimRight(w.buf[:i], "\r")))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) > 0 {
		w.lm.record(w.stream, string(w.buf))
		w.buf = nil
	}
}
