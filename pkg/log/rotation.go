// Log file rotation support
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

const backupTimeFormat = "20060102-150405.000"

// RotatingFileWriter is a size-rotated log file. It satisfies
// zapcore.WriteSyncer so it can back a Logger directly.
type RotatingFileWriter struct {
	mu          sync.Mutex
	filename    string
	maxSize     int64
	maxBackups  int
	compress    bool
	currentSize int64
	file        *os.File
	now         func() time.Time
}

var _ zapcore.WriteSyncer = (*RotatingFileWriter)(nil)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	// Filename is the path to the log file.
	Filename string

	// MaxSize is the size in megabytes that triggers rotation. Default 10.
	MaxSize int

	// MaxBackups is the number of rotated files to retain. Default 5.
	MaxBackups int

	// Compress gzips rotated files.
	Compress bool
}

// NewRotatingFileWriter opens (or creates) the log file for appending.
func NewRotatingFileWriter(config RotationConfig) (*RotatingFileWriter, error) {
	if config.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}
	if config.MaxSize <= 0 {
		config.MaxSize = 10
	}
	if config.MaxBackups <= 0 {
		config.MaxBackups = 5
	}

	w := &RotatingFileWriter{
		filename:   config.Filename,
		maxSize:    int64(config.MaxSize) * 1024 * 1024,
		maxBackups: config.MaxBackups,
		compress:   config.Compress,
		now:        time.Now,
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingFileWriter) openFile() error {
	if err := os.MkdirAll(filepath.Dir(w.filename), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(w.filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.currentSize = info.Size()
	return nil
}

// Write appends p, rotating first when p would push the file past MaxSize.
func (w *RotatingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentSize > 0 && w.currentSize+int64(len(p)) > w.maxSize {
		if err := w.rotateLocked(); err != nil {
			return 0, fmt.Errorf("rotate log file: %w", err)
		}
	}
	n, err := w.file.Write(p)
	w.currentSize += int64(n)
	return n, err
}

// Rotate forces a rotation regardless of the current size.
func (w *RotatingFileWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotateLocked()
}

func (w *RotatingFileWriter) rotateLocked() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close current file: %w", err)
	}

	rotated := w.backupName(w.now())
	if err := os.Rename(w.filename, rotated); err != nil {
		if reopenErr := w.openFile(); reopenErr != nil {
			return reopenErr
		}
		return fmt.Errorf("rename log file: %w", err)
	}
	if w.compress {
		if err := gzipFile(rotated); err != nil {
			return err
		}
	}
	w.pruneBackups()
	return w.openFile()
}

// backupName returns base.<timestamp>.ext, adding a counter if a backup
// from the same millisecond already exists.
func (w *RotatingFileWriter) backupName(t time.Time) string {
	ext := filepath.Ext(w.filename)
	base := strings.TrimSuffix(w.filename, ext)
	stamp := t.Format(backupTimeFormat)
	name := fmt.Sprintf("%s.%s%s", base, stamp, ext)
	for i := 1; fileExists(name) || fileExists(name+".gz"); i++ {
		name = fmt.Sprintf("%s.%s-%d%s", base, stamp, i, ext)
	}
	return name
}

func fileExists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

func gzipFile(filename string) error {
	src, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(filename + ".gz")
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(filename + ".gz")
		return fmt.Errorf("compress %s: %w", filename, err)
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(filename)
}

// Backups lists rotated files for this log, oldest first.
func (w *RotatingFileWriter) Backups() []string {
	dir := filepath.Dir(w.filename)
	base := filepath.Base(w.filename)
	prefix := strings.TrimSuffix(base, filepath.Ext(base)) + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	type backup struct {
		path string
		mod  time.Time
	}
	var found []backup
	for _, e := range entries {
		name := e.Name()
		if name == base || !strings.HasPrefix(name, prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, backup{filepath.Join(dir, name), info.ModTime()})
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].mod.Equal(found[j].mod) {
			return found[i].path < found[j].path
		}
		return found[i].mod.Before(found[j].mod)
	})
	out := make([]string, len(found))
	for i, b := range found {
		out[i] = b.path
	}
	return out
}

func (w *RotatingFileWriter) pruneBackups() {
	backups := w.Backups()
	for len(backups) > w.maxBackups {
		os.Remove(backups[0])
		backups = backups[1:]
	}
}

// Close closes the current file.
func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// Sync flushes the current file to disk.
func (w *RotatingFileWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Sync()
	}
	return nil
}

// CurrentSize returns the size of the active file.
func (w *RotatingFileWriter) CurrentSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentSize
}

// Filename returns the active log filename.
func (w *RotatingFileWriter) Filename() string {
	return w.filename
}

// NewFileLogger creates an uncolored logger writing to a rotating file.
func NewFileLogger(prefix string, config RotationConfig) (*Logger, *RotatingFileWriter, error) {
	writer, err := NewRotatingFileWriter(config)
	if err != nil {
		return nil, nil, err
	}
	logger := New(prefix)
	logger.SetColorize(false)
	logger.SetWriter(writer)
	return logger, writer, nil
}

// NewConsoleAndFileLogger creates a logger that writes to stderr and a
// rotating file.
func NewConsoleAndFileLogger(prefix string, config RotationConfig) (*Logger, *RotatingFileWriter, error) {
	writer, err := NewRotatingFileWriter(config)
	if err != nil {
		return nil, nil, err
	}
	logger := New(prefix)
	logger.SetColorize(false)
	logger.SetWriter(zapcore.NewMultiWriteSyncer(zapcore.Lock(os.Stderr), writer))
	return logger, writer, nil
}
