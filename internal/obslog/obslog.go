// SPDX-License-Identifier: MIT

// Package obslog provides a size-rotated structured log sink for the
// engine's own event stream (switch commits, health transitions, control
// requests) — the same rotation mechanics the teacher applies to captured
// subprocess stderr, pointed instead at the engine's own slog output.
package obslog

import (
	"compress/gzip"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultMaxSize is the default maximum event log size before rotation.
	DefaultMaxSize = 10 * 1024 * 1024 // 10 MB

	// DefaultMaxFiles is the default number of rotated event logs to keep.
	DefaultMaxFiles = 5
)

// RotatingWriter is an io.Writer that rotates the underlying file once it
// exceeds a size limit, retaining a bounded number of rotated generations
// with optional gzip compression of the older ones.
type RotatingWriter struct {
	path     string
	maxSize  int64
	maxFiles int
	compress bool

	mu   sync.Mutex
	file *os.File
	size int64
}

// Option configures a RotatingWriter.
type Option func(*RotatingWriter)

// WithMaxSize overrides DefaultMaxSize.
func WithMaxSize(size int64) Option {
	return func(w *RotatingWriter) { w.maxSize = size }
}

// WithMaxFiles overrides DefaultMaxFiles.
func WithMaxFiles(count int) Option {
	return func(w *RotatingWriter) { w.maxFiles = count }
}

// WithCompression gzips rotated generations once they are shifted out.
func WithCompression(compress bool) Option {
	return func(w *RotatingWriter) { w.compress = compress }
}

// NewRotatingWriter opens (creating if needed) the event log at path.
func NewRotatingWriter(path string, opts ...Option) (*RotatingWriter, error) {
	w := &RotatingWriter{
		path:     path,
		maxSize:  DefaultMaxSize,
		maxFiles: DefaultMaxFiles,
	}
	for _, opt := range opts {
		opt(w)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("obslog: create log directory: %w", err)
		}
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write implements io.Writer, rotating first if p would push the file past
// maxSize.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			// Prefer writing past the size limit over losing events.
			_ = err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the underlying file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Rotate forces an immediate rotation.
func (w *RotatingWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotate()
}

func (w *RotatingWriter) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("obslog: close log file: %w", err)
		}
		w.file = nil
	}
	if err := w.shiftFiles(); err != nil {
		return err
	}

	rotated := w.rotatedPath(1)
	if err := os.Rename(w.path, rotated); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("obslog: rotate log file: %w", err)
	}
	if w.compress {
		go w.compressFile(rotated)
	}
	w.cleanup()
	return w.openFile()
}

func (w *RotatingWriter) openFile() error {
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("obslog: open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("obslog: stat log file: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

func (w *RotatingWriter) shiftFiles() error {
	for i := w.maxFiles - 1; i >= 1; i-- {
		oldPath := w.rotatedPath(i)
		newPath := w.rotatedPath(i + 1)
		for _, ext := range []string{"", ".gz"} {
			old := oldPath + ext
			nw := newPath + ext
			if _, err := os.Stat(old); err == nil {
				if err := os.Rename(old, nw); err != nil {
					return fmt.Errorf("obslog: shift %s -> %s: %w", old, nw, err)
				}
			}
		}
	}
	return nil
}

func (w *RotatingWriter) rotatedPath(n int) string {
	return fmt.Sprintf("%s.%d", w.path, n)
}

func (w *RotatingWriter) compressFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	gzPath := path + ".gz"
	gzFile, err := os.Create(gzPath)
	if err != nil {
		return
	}
	defer gzFile.Close()

	gzWriter := gzip.NewWriter(gzFile)
	if _, err := gzWriter.Write(data); err != nil {
		os.Remove(gzPath)
		return
	}
	if err := gzWriter.Close(); err != nil {
		os.Remove(gzPath)
		return
	}
	os.Remove(path)
}

func (w *RotatingWriter) cleanup() {
	for i := w.maxFiles + 1; i <= w.maxFiles+10; i++ {
		path := w.rotatedPath(i)
		os.Remove(path)
		os.Remove(path + ".gz")
	}
}

// Size returns the current log file size.
func (w *RotatingWriter) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// RotatedFile describes one rotated generation on disk.
type RotatedFile struct {
	Path       string
	Name       string
	Size       int64
	ModTime    time.Time
	Compressed bool
}

// ListRotatedFiles returns all rotated generations for basePath, newest
// first.
func ListRotatedFiles(basePath string) ([]RotatedFile, error) {
	dir := filepath.Dir(basePath)
	base := filepath.Base(basePath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []RotatedFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, base+".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, RotatedFile{
			Path:       filepath.Join(dir, name),
			Name:       name,
			Size:       info.Size(),
			ModTime:    info.ModTime(),
			Compressed: strings.HasSuffix(name, ".gz"),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ModTime.After(files[j].ModTime) })
	return files, nil
}

// NewEventLogger builds a JSON *slog.Logger that writes engine events
// (switch commits, health transitions, control requests) through a
// RotatingWriter at path. The returned closer must be closed at shutdown.
func NewEventLogger(path string, opts ...Option) (*slog.Logger, *RotatingWriter, error) {
	w, err := NewRotatingWriter(path, opts...)
	if err != nil {
		return nil, nil, err
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler), w, nil
}
