package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotatingFile is an append-only log file that is renamed aside once it
// passes a size limit.
type RotatingFile struct {
	mu sync.Mutex

	name       string
	maxBytes   int64
	maxBackups int

	file *os.File
	size int64
}

// NewRotatingFile opens name for appending. maxBytes <= 0 disables rotation;
// maxBackups <= 0 keeps every backup.
func NewRotatingFile(name string, maxBytes int64, maxBackups int) (*RotatingFile, error) {
	if name == "" {
		return nil, fmt.Errorf("filename is required")
	}
	r := &RotatingFile{name: name, maxBytes: maxBytes, maxBackups: maxBackups}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

// Write implements io.Writer.
func (r *RotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return 0, os.ErrClosed
	}
	if r.maxBytes > 0 && r.size > 0 && r.size+int64(len(p)) > r.maxBytes {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate log: %w", err)
		}
	}
	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// Close closes the current file.
func (r *RotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *RotatingFile) open() error {
	if err := os.MkdirAll(filepath.Dir(r.name), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(r.name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	r.file, r.size = f, info.Size()
	return nil
}

func (r *RotatingFile) rotate() error {
	if err := r.file.Close(); err != nil {
		return err
	}
	r.file = nil

	if err := os.Rename(r.name, r.backupName(time.Now().UTC())); err != nil && !os.IsNotExist(err) {
		return err
	}
	r.prune()
	return r.open()
}

func (r *RotatingFile) backupName(ts time.Time) string {
	ext := filepath.Ext(r.name)
	prefix := strings.TrimSuffix(r.name, ext)
	return fmt.Sprintf("%s-%s%s", prefix, ts.Format("2006-01-02T15-04-05.000000000"), ext)
}

// prune removes the oldest backups beyond maxBackups. Backup names sort in
// creation order.
func (r *RotatingFile) prune() {
	if r.maxBackups <= 0 {
		return
	}
	ext := filepath.Ext(r.name)
	backups, err := filepath.Glob(strings.TrimSuffix(r.name, ext) + "-*" + ext)
	if err != nil || len(backups) <= r.maxBackups {
		return
	}
	sort.Strings(backups)
	for _, old := range backups[:len(backups)-r.maxBackups] {
		_ = os.Remove(old)
	}
}
