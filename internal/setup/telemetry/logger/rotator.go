package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Rotator is a log file writer that keeps the file at roughly maxLines lines.
// Once twice the limit has been written, the file is rewritten with only the latest maxLines lines.
type Rotator struct {
	mu       sync.Mutex
	file     io.WriteCloser
	path     string
	maxLines int
	ring     *lineRing
}

// NewRotator opens path for appending. A maxLines of 0 or less disables compaction.
func NewRotator(path string, maxLines int) (*Rotator, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cannot open log file %s: %w", path, err)
	}

	r := &Rotator{
		file:     file,
		path:     path,
		maxLines: maxLines,
	}

	if maxLines > 0 {
		r.ring = newLineRing(maxLines)
	}

	return r, nil
}

// Write implements io.Writer.
func (r *Rotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.file.Write(p)
	if err != nil || r.ring == nil {
		return n, err
	}

	for line := range strings.SplitSeq(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}

		r.ring.push(line)

		if r.ring.since >= 2*r.maxLines {
			if err := r.compact(); err != nil {
				return n, fmt.Errorf("failed to rotate log file: %w", err)
			}

			r.ring.since = r.ring.count
		}
	}

	return n, nil
}

// Sync is a no-op so the rotator can be used as a zapcore.WriteSyncer.
func (r *Rotator) Sync() error {
	return nil
}

// Close closes the underlying file.
func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.file.Close()
}

// compact replaces the file with the lines held by the ring.
func (r *Rotator) compact() error {
	temp, err := os.CreateTemp(filepath.Dir(r.path), "compact-log-")
	if err != nil {
		return err
	}

	tempPath := temp.Name()
	content := strings.Join(r.ring.snapshot(), "\n") + "\n"

	if _, err := temp.WriteString(content); err != nil {
		temp.Close()
		os.Remove(tempPath)

		return err
	}

	if err := temp.Close(); err != nil {
		os.Remove(tempPath)
		return err
	}

	r.file.Close()

	// Rename does not replace an existing file on every platform
	os.Remove(r.path)

	if err := os.Rename(tempPath, r.path); err != nil {
		return err
	}

	file, err := os.OpenFile(r.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	r.file = file

	return nil
}
