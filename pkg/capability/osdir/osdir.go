// Package osdir implements the capability contract over an operating
// system directory.
//
// Permission is tracked per root capability: all handles under one root
// share a single permission state, the way a platform grants access to
// a chosen directory tree as a whole. The user prompt is abstracted
// behind the Granter seam; the default granter approves every request,
// which matches a process operating on its own files.
package osdir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/quillfs/quillfs/pkg/capability"
)

// Granter stands in for the platform permission prompt.
type Granter interface {
	// Grant reports whether the user approved read-write access to
	// path. A declined prompt is (false, nil), not an error.
	Grant(ctx context.Context, path string) (bool, error)
}

// GranterFunc adapts a function to the Granter interface.
type GranterFunc func(ctx context.Context, path string) (bool, error)

func (f GranterFunc) Grant(ctx context.Context, path string) (bool, error) {
	return f(ctx, path)
}

// root holds the state shared by every handle in one capability tree.
type root struct {
	granter Granter

	mu    sync.Mutex
	state capability.State
}

// Option configures a capability returned by New.
type Option func(*root)

// WithGranter sets the permission prompt implementation.
func WithGranter(g Granter) Option {
	return func(r *root) {
		if g != nil {
			r.granter = g
		}
	}
}

// WithState sets the initial permission state. The default is
// StateGranted, matching a process that owns its files.
func WithState(s capability.State) Option {
	return func(r *root) { r.state = s }
}

// New creates a directory capability rooted at path. The target must
// exist and be a directory; anything else is a non-retryable
// ErrInvalidCapability.
func New(path string, opts ...Option) (capability.Directory, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", capability.ErrInvalidCapability, path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a directory", capability.ErrInvalidCapability, path)
	}

	r := &root{
		granter: GranterFunc(func(context.Context, string) (bool, error) { return true, nil }),
		state:   capability.StateGranted,
	}
	for _, opt := range opts {
		opt(r)
	}

	return &dirHandle{
		root:     r,
		name:     filepath.Base(path),
		path:     path,
		children: make(map[string]capability.Handle),
	}, nil
}

// Picker returns a capability.Picker that always "chooses" the given
// path. It stands in for an interactive directory chooser.
func Picker(path string, opts ...Option) capability.Picker {
	return pickerFunc(func(context.Context) (capability.Directory, error) {
		return New(path, opts...)
	})
}

type pickerFunc func(ctx context.Context) (capability.Directory, error)

func (f pickerFunc) Pick(ctx context.Context) (capability.Directory, error) {
	return f(ctx)
}

// dirHandle implements capability.Directory.
//
// Child handles are memoized so that repeated lookups of the same entry
// return the same handle value; the directory walker keys its cache by
// handle identity and relies on this.
type dirHandle struct {
	root *root
	name string
	path string

	mu       sync.Mutex
	children map[string]capability.Handle
}

func (d *dirHandle) Name() string          { return d.name }
func (d *dirHandle) Kind() capability.Kind { return capability.KindDirectory }

func (d *dirHandle) QueryPermission(ctx context.Context) (capability.State, error) {
	if err := ctx.Err(); err != nil {
		return capability.StateUnknown, err
	}

	d.root.mu.Lock()
	defer d.root.mu.Unlock()

	if d.root.state == capability.StateUnknown {
		d.root.state = capability.StateDenied
	}
	return d.root.state, nil
}

func (d *dirHandle) RequestPermission(ctx context.Context) (capability.State, error) {
	if err := ctx.Err(); err != nil {
		return capability.StateUnknown, err
	}

	granted, err := d.root.granter.Grant(ctx, d.path)
	if err != nil {
		return capability.StateUnknown, fmt.Errorf("permission prompt failed: %w", err)
	}

	d.root.mu.Lock()
	defer d.root.mu.Unlock()

	if granted {
		d.root.state = capability.StateGranted
	} else {
		d.root.state = capability.StateDenied
	}
	return d.root.state, nil
}

// Revoke flips the capability to denied, the platform-side equivalent
// of the user withdrawing access between sessions.
func Revoke(dir capability.Directory) {
	if d, ok := dir.(*dirHandle); ok {
		d.root.mu.Lock()
		d.root.state = capability.StateDenied
		d.root.mu.Unlock()
	}
}

func (d *dirHandle) Children(ctx context.Context) ([]capability.Handle, error) {
	if err := d.ensureGranted(ctx); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", d.path, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]capability.Handle, 0, len(entries))
	for _, entry := range entries {
		out = append(out, d.handleForLocked(entry.Name(), entry.IsDir()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

func (d *dirHandle) Child(ctx context.Context, name string) (capability.Handle, error) {
	if err := d.ensureGranted(ctx); err != nil {
		return nil, err
	}

	info, err := os.Stat(filepath.Join(d.path, name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%q in %q: %w", name, d.path, capability.ErrEntryNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %q: %w", name, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handleForLocked(name, info.IsDir()), nil
}

func (d *dirHandle) CreateDirectory(ctx context.Context, name string) (capability.Directory, error) {
	if err := d.ensureGranted(ctx); err != nil {
		return nil, err
	}

	path := filepath.Join(d.path, name)
	info, err := os.Stat(path)
	switch {
	case err == nil && !info.IsDir():
		return nil, fmt.Errorf("%q: %w", name, capability.ErrNotADirectory)
	case err == nil:
		// Existing directory is reused.
	case os.IsNotExist(err):
		if err := os.Mkdir(path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %q: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("failed to stat %q: %w", path, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	h := d.handleForLocked(name, true)
	dir, ok := h.(capability.Directory)
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, capability.ErrNotADirectory)
	}
	return dir, nil
}

func (d *dirHandle) CreateFile(ctx context.Context, name string) (capability.File, error) {
	if err := d.ensureGranted(ctx); err != nil {
		return nil, err
	}

	path := filepath.Join(d.path, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %q: %w", path, err)
	}
	_ = f.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	h := d.handleForLocked(name, false)
	file, ok := h.(capability.File)
	if !ok {
		return nil, fmt.Errorf("%q exists as a directory", name)
	}
	return file, nil
}

func (d *dirHandle) Remove(ctx context.Context, name string) error {
	if err := d.ensureGranted(ctx); err != nil {
		return err
	}

	path := filepath.Join(d.path, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%q in %q: %w", name, d.path, capability.ErrEntryNotFound)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove %q: %w", path, err)
	}

	d.mu.Lock()
	delete(d.children, name)
	d.mu.Unlock()
	return nil
}

// handleForLocked returns the memoized handle for a child, creating it
// on first sight. A child whose kind changed on disk (file replaced by
// directory or vice versa) gets a fresh handle.
func (d *dirHandle) handleForLocked(name string, isDir bool) capability.Handle {
	if h, ok := d.children[name]; ok {
		if (h.Kind() == capability.KindDirectory) == isDir {
			return h
		}
	}

	var h capability.Handle
	if isDir {
		h = &dirHandle{
			root:     d.root,
			name:     name,
			path:     filepath.Join(d.path, name),
			children: make(map[string]capability.Handle),
		}
	} else {
		h = &fileHandle{
			root: d.root,
			name: name,
			path: filepath.Join(d.path, name),
		}
	}
	d.children[name] = h
	return h
}

func (d *dirHandle) ensureGranted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.root.mu.Lock()
	defer d.root.mu.Unlock()

	if d.root.state != capability.StateGranted {
		return fmt.Errorf("%q: %w", d.path, capability.ErrPermissionDenied)
	}
	return nil
}

// fileHandle implements capability.File.
type fileHandle struct {
	root *root
	name string
	path string
}

func (f *fileHandle) Name() string          { return f.name }
func (f *fileHandle) Kind() capability.Kind { return capability.KindFile }

func (f *fileHandle) Read(ctx context.Context) ([]byte, error) {
	if err := f.ensureGranted(ctx); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%q: %w", f.path, capability.ErrEntryNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", f.path, err)
	}
	return data, nil
}

func (f *fileHandle) Write(ctx context.Context, data []byte) error {
	if err := f.ensureGranted(ctx); err != nil {
		return err
	}

	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %q: %w", f.path, err)
	}
	return nil
}

func (f *fileHandle) LastModified(ctx context.Context) (time.Time, error) {
	if err := f.ensureGranted(ctx); err != nil {
		return time.Time{}, err
	}

	info, err := os.Stat(f.path)
	if os.IsNotExist(err) {
		return time.Time{}, fmt.Errorf("%q: %w", f.path, capability.ErrEntryNotFound)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to stat %q: %w", f.path, err)
	}
	return info.ModTime(), nil
}

func (f *fileHandle) ensureGranted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.root.mu.Lock()
	defer f.root.mu.Unlock()

	if f.root.state != capability.StateGranted {
		return fmt.Errorf("%q: %w", f.path, capability.ErrPermissionDenied)
	}
	return nil
}
