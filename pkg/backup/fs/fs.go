// Package fs implements a backup sink on a local directory, one JSON
// file per workspace name.
package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/quillfs/quillfs/pkg/backup"
)

const backupExt = ".json"

// Sink stores backups as files under a base directory.
type Sink struct {
	dir string
}

// New creates the sink, creating the base directory if needed.
func New(dir string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory %q: %w", dir, err)
	}
	return &Sink{dir: dir}, nil
}

// Put implements backup.Sink. The write goes through a temp file and
// rename so a crash never leaves a truncated backup behind.
func (s *Sink) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to stage backup %q: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write backup %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write backup %q: %w", name, err)
	}

	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		return fmt.Errorf("failed to store backup %q: %w", name, err)
	}
	return nil
}

// Get implements backup.Sink.
func (s *Sink) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%q: %w", name, backup.ErrBackupNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup %q: %w", name, err)
	}
	return data, nil
}

// List implements backup.Sink.
func (s *Sink) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), backupExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), backupExt))
	}
	sort.Strings(names)
	return names, nil
}

func (s *Sink) path(name string) string {
	return filepath.Join(s.dir, name+backupExt)
}

var _ backup.Sink = (*Sink)(nil)
