// SPDX-License-Identifier: MIT

package obslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRotatingWriter_CreatesLogFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "events.log")

	w, err := NewRotatingWriter(logPath)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer func() { _ = w.Close() }()

	if _, err := os.Stat(logPath); err != nil {
		t.Fatalf("expected log file to exist: %v", err)
	}
}

func TestRotatingWriter_WriteAdvancesSize(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "events.log")

	w, err := NewRotatingWriter(logPath)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer func() { _ = w.Close() }()

	line := "hello\n"
	n, err := w.Write([]byte(line))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(line) {
		t.Fatalf("Write returned %d, want %d", n, len(line))
	}
	if w.Size() != int64(len(line)) {
		t.Fatalf("Size() = %d, want %d", w.Size(), len(line))
	}
}

func TestRotatingWriter_RotateProducesGeneration1(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "events.log")

	w, err := NewRotatingWriter(logPath, WithMaxSize(50), WithMaxFiles(3), WithCompression(false))
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer func() { _ = w.Close() }()

	if _, err := w.Write([]byte(strings.Repeat("x", 20) + "\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	if _, err := os.Stat(logPath + ".1"); err != nil {
		t.Fatalf("expected rotated generation .1 to exist: %v", err)
	}
	if _, err := os.Stat(logPath); err != nil {
		t.Fatalf("expected a fresh log file to exist after rotation: %v", err)
	}
}

func TestRotatingWriter_WriteTriggersRotationPastMaxSize(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "events.log")

	w, err := NewRotatingWriter(logPath, WithMaxSize(10), WithMaxFiles(3), WithCompression(false))
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer func() { _ = w.Close() }()

	for i := 0; i < 5; i++ {
		if _, err := w.Write([]byte("0123456789\n")); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	if _, err := os.Stat(logPath + ".1"); err != nil {
		t.Fatalf("expected at least one rotated generation, got none: %v", err)
	}
}

func TestListRotatedFiles_ReturnsEachGeneration(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "events.log")

	if err := os.WriteFile(logPath+".1", []byte("a"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(logPath+".2", []byte("bb"), 0600); err != nil {
		t.Fatal(err)
	}

	files, err := ListRotatedFiles(logPath)
	if err != nil {
		t.Fatalf("ListRotatedFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("ListRotatedFiles returned %d entries, want 2", len(files))
	}
}

func TestNewEventLogger_WritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "events.log")

	logger, w, err := NewEventLogger(logPath, WithCompression(false))
	if err != nil {
		t.Fatalf("NewEventLogger: %v", err)
	}
	defer func() { _ = w.Close() }()

	logger.Info("switch committed", "from", 0, "to", 1)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"switch committed"`) {
		t.Fatalf("expected JSON event log entry, got: %s", data)
	}
}
