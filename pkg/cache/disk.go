package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Disk is a file-per-key cache. It survives restarts and is handy in
// development for de-duplicating NLU calls; expiry is judged by file
// modification time.
type Disk struct {
	dir    string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// NewDisk creates a disk cache rooted at dir.
func NewDisk(dir string, ttl time.Duration) (*Disk, error) {
	if dir == "" {
		return nil, errors.New("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &Disk{dir: dir, ttl: ttl}, nil
}

// path hashes the key so arbitrary strings are safe as filenames.
func (d *Disk) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(d.dir, hex.EncodeToString(sum[:])+".cache")
}

func (d *Disk) checkOpen() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrCacheClosed
	}
	return nil
}

func (d *Disk) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := d.checkOpen(); err != nil {
		return nil, false, err
	}
	path := d.path(key)

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("stat cache entry: %w", err)
	}
	if d.ttl > 0 && time.Since(info.ModTime()) > d.ttl {
		_ = os.Remove(path)
		return nil, false, nil
	}

	value, err := os.ReadFile(path) // #nosec G304 - path derives from a hashed key under our dir
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}
	return value, true, nil
}

func (d *Disk) Set(ctx context.Context, key string, value []byte) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	path := d.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0o600); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit cache entry: %w", err)
	}
	return nil
}

func (d *Disk) Delete(ctx context.Context, key string) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	err := os.Remove(d.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove cache entry: %w", err)
	}
	return nil
}

func (d *Disk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
