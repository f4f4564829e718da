// Package native implements the native backend: workspace files stored
// in a capability-scoped directory tree on the user's machine.
//
// The package has two layers: the Walker, which turns a directory
// capability into flat file listings and resolves logical paths to
// concrete handles with a per-directory child-list cache, and the
// Store, which implements the common backend contract on top of the
// Walker plus a content codec selected by file extension.
package native

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/quillfs/quillfs/pkg/capability"
	"github.com/quillfs/quillfs/pkg/metrics"
	"github.com/quillfs/quillfs/pkg/store"
)

// HandleChain is the ordered chain of handles from the root capability
// down to one leaf file: [root, intermediate dirs..., leaf].
type HandleChain []capability.Handle

// Leaf returns the final handle of the chain.
func (c HandleChain) Leaf() capability.Handle {
	return c[len(c)-1]
}

// Path returns the slash-joined path of the chain relative to the
// root, e.g. "notes/todo.md".
func (c HandleChain) Path() string {
	parts := make([]string, 0, len(c)-1)
	for _, h := range c[1:] {
		parts = append(parts, h.Name())
	}
	return strings.Join(parts, "/")
}

// ListOptions filters a recursive listing. Both predicates receive the
// entry name only.
type ListOptions struct {
	// AllowedFile decides whether a file appears in the listing.
	AllowedFile func(name string) bool

	// AllowedDir decides whether a directory is recursed into. A
	// pruned directory's subtree is never visited.
	AllowedDir func(name string) bool
}

// Walker enumerates and resolves paths inside a directory capability.
//
// The per-directory child-list cache is the only shared mutable state
// in the engine. It is keyed by directory handle identity, never by
// path string: two capabilities with the same display name must not
// collide, and a renamed or moved directory keeps its own entry.
// Mutations invalidate the affected parent's entry synchronously,
// before the operation returns, so no caller can observe a stale
// listing after an awaited mutation completes.
type Walker struct {
	mu      sync.Mutex
	cache   map[capability.Directory][]capability.Handle
	metrics metrics.WalkerMetrics
}

// WalkerOption configures a Walker.
type WalkerOption func(*Walker)

// WithWalkerMetrics attaches cache metrics.
func WithWalkerMetrics(m metrics.WalkerMetrics) WalkerOption {
	return func(w *Walker) {
		if m != nil {
			w.metrics = m
		}
	}
}

// NewWalker creates a walker with an empty cache.
func NewWalker(opts ...WalkerOption) *Walker {
	w := &Walker{
		cache:   make(map[capability.Directory][]capability.Handle),
		metrics: metrics.NewNoopWalkerMetrics(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// List enumerates root depth-first into the flat list of handle
// chains, one per eligible file. Directories with no eligible
// descendant files simply do not appear: directories have no
// independent existence in the engine.
func (w *Walker) List(ctx context.Context, root capability.Directory, opts ListOptions) ([]HandleChain, error) {
	if opts.AllowedFile == nil {
		opts.AllowedFile = func(string) bool { return true }
	}
	if opts.AllowedDir == nil {
		opts.AllowedDir = func(string) bool { return true }
	}

	var out []HandleChain
	chain := HandleChain{root}

	var walk func(dir capability.Directory, chain HandleChain) error
	walk = func(dir capability.Directory, chain HandleChain) error {
		children, err := w.children(ctx, dir)
		if err != nil {
			return err
		}

		for _, child := range children {
			next := append(append(HandleChain(nil), chain...), child)

			if sub, ok := child.(capability.Directory); ok {
				if !opts.AllowedDir(child.Name()) {
					continue
				}
				if err := walk(sub, next); err != nil {
					return err
				}
				continue
			}

			if opts.AllowedFile(child.Name()) {
				out = append(out, next)
			}
		}
		return nil
	}

	if err := walk(root, chain); err != nil {
		return nil, err
	}
	return out, nil
}

// GetHandle resolves path (one segment per element) to its leaf file
// handle, walking one segment at a time through the child-list cache.
func (w *Walker) GetHandle(ctx context.Context, root capability.Directory, path []string) (capability.File, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("%w: empty path", store.ErrFileNotFound)
	}

	dir := root
	for i, segment := range path[:len(path)-1] {
		child, err := w.lookupChild(ctx, dir, segment)
		if err != nil {
			return nil, err
		}

		sub, ok := child.(capability.Directory)
		if !ok {
			return nil, fmt.Errorf("%q in %q: %w",
				segment, strings.Join(path[:i], "/"), store.ErrNotADirectory)
		}
		dir = sub
	}

	leafName := path[len(path)-1]
	child, err := w.lookupChild(ctx, dir, leafName)
	if err != nil {
		return nil, err
	}

	file, ok := child.(capability.File)
	if !ok {
		return nil, fmt.Errorf("%q is a directory: %w", strings.Join(path, "/"), store.ErrFileNotFound)
	}
	return file, nil
}

// CreatePath creates the leaf file named by path, creating intermediate
// directories as needed. Existing directories are reused, never
// recreated. Each directory whose listing changes has its cache entry
// invalidated before the call returns.
func (w *Walker) CreatePath(ctx context.Context, root capability.Directory, path []string) (capability.File, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("%w: empty path", store.ErrWrite)
	}

	dir := root
	for _, segment := range path[:len(path)-1] {
		existing, err := w.lookupChild(ctx, dir, segment)
		switch {
		case err == nil:
			sub, ok := existing.(capability.Directory)
			if !ok {
				return nil, fmt.Errorf("%q: %w", segment, store.ErrNotADirectory)
			}
			dir = sub
			continue

		case errors.Is(err, store.ErrFileNotFound):
			sub, err := dir.CreateDirectory(ctx, segment)
			if err != nil {
				return nil, classify(err)
			}
			w.invalidate(dir)
			dir = sub

		default:
			return nil, err
		}
	}

	file, err := dir.CreateFile(ctx, path[len(path)-1])
	if err != nil {
		return nil, classify(err)
	}
	w.invalidate(dir)
	return file, nil
}

// Remove deletes the leaf named by path and invalidates its immediate
// parent's cache entry only; deeper cache entries are independent and
// remain valid.
func (w *Walker) Remove(ctx context.Context, root capability.Directory, path []string) error {
	if len(path) == 0 {
		return fmt.Errorf("%w: empty path", store.ErrFileNotFound)
	}

	dir := root
	for _, segment := range path[:len(path)-1] {
		child, err := w.lookupChild(ctx, dir, segment)
		if err != nil {
			return err
		}
		sub, ok := child.(capability.Directory)
		if !ok {
			return fmt.Errorf("%q: %w", segment, store.ErrNotADirectory)
		}
		dir = sub
	}

	if err := dir.Remove(ctx, path[len(path)-1]); err != nil {
		return classify(err)
	}
	w.invalidate(dir)
	return nil
}

// children returns dir's child list, from cache when present.
func (w *Walker) children(ctx context.Context, dir capability.Directory) ([]capability.Handle, error) {
	w.mu.Lock()
	cached, ok := w.cache[dir]
	w.mu.Unlock()
	if ok {
		w.metrics.CacheHit()
		return cached, nil
	}

	w.metrics.CacheMiss()
	children, err := dir.Children(ctx)
	if err != nil {
		return nil, classify(err)
	}

	w.mu.Lock()
	w.cache[dir] = children
	w.mu.Unlock()
	return children, nil
}

func (w *Walker) lookupChild(ctx context.Context, dir capability.Directory, name string) (capability.Handle, error) {
	children, err := w.children(ctx, dir)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if child.Name() == name {
			return child, nil
		}
	}
	return nil, fmt.Errorf("%q: %w", name, store.ErrFileNotFound)
}

func (w *Walker) invalidate(dir capability.Directory) {
	w.mu.Lock()
	delete(w.cache, dir)
	w.mu.Unlock()
	w.metrics.Invalidate()
}

// classify maps capability-layer failures into the shared backend
// taxonomy so callers never see platform error types.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, capability.ErrEntryNotFound):
		return fmt.Errorf("%w: %v", store.ErrFileNotFound, err)
	case errors.Is(err, capability.ErrPermissionDenied):
		return fmt.Errorf("%w: %v", store.ErrPermission, err)
	case errors.Is(err, capability.ErrNotADirectory):
		return fmt.Errorf("%w: %v", store.ErrNotADirectory, err)
	default:
		return err
	}
}
