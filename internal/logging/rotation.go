package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileConfig describes the optional log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int // default 20
	MaxBackups int // default 3; backups are Path.1 (newest) to Path.N
}

func (c FileConfig) limit() int64 {
	if c.MaxSizeMB <= 0 {
		return 20 << 20
	}
	return int64(c.MaxSizeMB) << 20
}

func (c FileConfig) backups() int {
	if c.MaxBackups <= 0 {
		return 3
	}
	return c.MaxBackups
}

// RotatingWriter appends to a log file and rotates it once it would grow
// past the size limit. Safe for concurrent use.
type RotatingWriter struct {
	cfg FileConfig

	mu   sync.Mutex
	f    *os.File
	size int64
}

func NewRotatingWriter(cfg FileConfig) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	rw := &RotatingWriter{cfg: cfg}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.f == nil {
		return 0, os.ErrClosed
	}
	if rw.size > 0 && rw.size+int64(len(p)) > rw.cfg.limit() {
		rw.f.Close()
		shiftBackups(rw.cfg.Path, rw.cfg.backups())
		if err := rw.open(); err != nil {
			rw.f = nil
			return 0, fmt.Errorf("log rotation: %w", err)
		}
	}

	n, err := rw.f.Write(p)
	rw.size += int64(n)
	return n, err
}

// Reopen starts writing to a fresh handle on the same path. gatewatch run
// calls it on SIGHUP, after an external logrotate moved the file.
func (rw *RotatingWriter) Reopen() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.f != nil {
		rw.f.Close()
	}
	return rw.open()
}

// Close closes the file. Later writes fail with os.ErrClosed.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.f == nil {
		return nil
	}
	err := rw.f.Close()
	rw.f = nil
	return err
}

func (rw *RotatingWriter) open() error {
	f, err := os.OpenFile(rw.cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	rw.f, rw.size = f, info.Size()
	return nil
}

// shiftBackups renames path.(N-1)..path.1 up by one, dropping path.N, then
// moves path to path.1. Missing files are skipped.
func shiftBackups(path string, keep int) {
	backup := func(i int) string { return fmt.Sprintf("%s.%d", path, i) }
	os.Remove(backup(keep))
	for i := keep - 1; i >= 1; i-- {
		os.Rename(backup(i), backup(i+1))
	}
	os.Rename(path, backup(1))
}
