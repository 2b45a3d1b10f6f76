package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// rotatedSuffix sorts lexically in time order.
const rotatedSuffix = "20060102T150405.000000000Z"

// FileConfig configures a local JSON-lines audit file.
type FileConfig struct {
	Path string `mapstructure:"path"`
	// MaxSizeMB triggers rotation; 0 disables it.
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups bounds the rotated files kept; 0 keeps all of them.
	MaxBackups int `mapstructure:"max_backups"`
}

// FileShipper appends one JSON object per line. A rotated file is renamed
// to Path.<UTC timestamp>.
type FileShipper struct {
	cfg      FileConfig
	maxBytes int64
	now      func() time.Time

	mu   sync.Mutex
	out  *os.File
	size int64
}

// NewFileShipper opens or creates the audit file in append mode.
func NewFileShipper(cfg *FileConfig) (*FileShipper, error) {
	if cfg.Path == "" {
		return nil, errors.New("file path is required")
	}
	fs := &FileShipper{
		cfg:      *cfg,
		maxBytes: int64(cfg.MaxSizeMB) << 20,
		now:      time.Now,
	}
	if err := fs.open(); err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return fs, nil
}

func (fs *FileShipper) open() error {
	f, err := os.OpenFile(fs.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	fs.out, fs.size = f, info.Size()
	return nil
}

// Ship writes the entry as a single line. A failed rotation is logged and the
// entry goes to the current file.
func (fs *FileShipper) Ship(ctx context.Context, entry *LogEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	line = append(line, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.out == nil {
		return errors.New("audit file is closed")
	}
	if fs.maxBytes > 0 && fs.size > 0 && fs.size+int64(len(line)) > fs.maxBytes {
		if err := fs.rotate(); err != nil {
			slog.ErrorContext(ctx, "failed to rotate audit log", "path", fs.cfg.Path, "error", err)
			if fs.out == nil {
				return err
			}
		}
	}

	n, err := fs.out.Write(line)
	fs.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// rotate must be called with fs.mu held. On return fs.out is either a live
// handle on Path or nil.
func (fs *FileShipper) rotate() error {
	if err := fs.out.Close(); err != nil {
		fs.out = nil
		return err
	}
	fs.out = nil

	rotated := fs.cfg.Path + "." + fs.now().UTC().Format(rotatedSuffix)
	renameErr := os.Rename(fs.cfg.Path, rotated)
	if err := fs.open(); err != nil {
		return err
	}
	if renameErr != nil {
		return renameErr
	}
	return fs.prune()
}

func (fs *FileShipper) prune() error {
	if fs.cfg.MaxBackups <= 0 {
		return nil
	}
	backups, err := filepath.Glob(fs.cfg.Path + ".*")
	if err != nil {
		return err
	}
	if len(backups) <= fs.cfg.MaxBackups {
		return nil
	}
	sort.Strings(backups)
	for _, old := range backups[:len(backups)-fs.cfg.MaxBackups] {
		if err := os.Remove(old); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Close closes the audit file. Ship fails afterwards.
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.out == nil {
		return nil
	}
	err := fs.out.Close()
	fs.out = nil
	return err
}
