// Log rotation tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatingFileWriter(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "klippy.log")

	writer, err := NewRotatingFileWriter(RotationConfig{Filename: logFile, MaxSize: 1, MaxBackups: 3})
	if err != nil {
		t.Fatalf("failed to create rotating writer: %v", err)
	}
	defer writer.Close()

	msg := "test log message\n"
	n, err := writer.Write([]byte(msg))
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if n != len(msg) {
		t.Errorf("expected %d bytes written, got %d", len(msg), n)
	}
	if writer.CurrentSize() != int64(len(msg)) {
		t.Errorf("expected size %d, got %d", len(msg), writer.CurrentSize())
	}
	if writer.Filename() != logFile {
		t.Errorf("Filename = %q", writer.Filename())
	}
}

func TestRotatingFileWriterRotatesOnSize(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "klippy.log")

	writer, err := NewRotatingFileWriter(RotationConfig{Filename: logFile, MaxSize: 1, MaxBackups: 3})
	if err != nil {
		t.Fatalf("failed to create rotating writer: %v", err)
	}
	defer writer.Close()

	if _, err := writer.Write([]byte("first\n")); err != nil {
		t.Fatal(err)
	}
	big := []byte(strings.Repeat("x", 1024*1024))
	if _, err := writer.Write(big); err != nil {
		t.Fatal(err)
	}

	if got := len(writer.Backups()); got != 1 {
		t.Fatalf("expected 1 backup, got %d", got)
	}
	if writer.CurrentSize() != int64(len(big)) {
		t.Errorf("expected fresh file to hold only the big write, got %d", writer.CurrentSize())
	}
}

func TestRotatingFileWriterPrunesBackups(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "klippy.log")

	writer, err := NewRotatingFileWriter(RotationConfig{Filename: logFile, MaxBackups: 2})
	if err != nil {
		t.Fatalf("failed to create rotating writer: %v", err)
	}
	defer writer.Close()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		writer.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		if _, err := writer.Write([]byte("line\n")); err != nil {
			t.Fatal(err)
		}
		if err := writer.Rotate(); err != nil {
			t.Fatalf("rotate %d: %v", i, err)
		}
	}

	if got := len(writer.Backups()); got != 2 {
		t.Errorf("expected 2 backups after pruning, got %d", got)
	}
}

func TestRotatingFileWriterCompress(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "klippy.log")

	writer, err := NewRotatingFileWriter(RotationConfig{Filename: logFile, Compress: true})
	if err != nil {
		t.Fatalf("failed to create rotating writer: %v", err)
	}
	defer writer.Close()

	if _, err := writer.Write([]byte("compress me\n")); err != nil {
		t.Fatal(err)
	}
	if err := writer.Rotate(); err != nil {
		t.Fatal(err)
	}

	backups := writer.Backups()
	if len(backups) != 1 || !strings.HasSuffix(backups[0], ".gz") {
		t.Fatalf("expected one gzip backup, got %v", backups)
	}
}

func TestRotatingFileWriterRequiresFilename(t *testing.T) {
	if _, err := NewRotatingFileWriter(RotationConfig{}); err == nil {
		t.Error("expected error for empty filename")
	}
}

func TestNewFileLogger(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "klippy.log")

	logger, writer, err := NewFileLogger("file", RotationConfig{Filename: logFile})
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	defer writer.Close()

	logger.Info("to file")
	if err := logger.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "file: to file") {
		t.Errorf("unexpected file content: %q", data)
	}
	if strings.Contains(string(data), "\x1b[") {
		t.Error("file output must not be colorized")
	}
}
