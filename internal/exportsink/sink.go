// Package exportsink writes audit export bundles to durable destinations.
package exportsink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Sink stores one encoded bundle under name and returns where it went.
type Sink interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

var (
	_ Sink = FileSink{}
	_ Sink = (*S3Sink)(nil)
)

// FileSink writes bundles as files under Dir.
type FileSink struct {
	Dir string
}

// Put writes data to Dir/name, creating Dir as needed. The file is
// written to a temporary sibling first and renamed into place.
func (f FileSink) Put(ctx context.Context, name string, data []byte) (string, error) {
	if f.Dir == "" || name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("file sink: invalid destination %q/%q", f.Dir, name)
	}
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return "", fmt.Errorf("file sink: %w", err)
	}
	path := filepath.Join(f.Dir, name)
	tmp, err := os.CreateTemp(f.Dir, ".export-*")
	if err != nil {
		return "", fmt.Errorf("file sink: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("file sink: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("file sink: close: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("file sink: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("file sink: rename: %w", err)
	}
	return path, nil
}
