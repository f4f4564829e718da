package native

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quillfs/quillfs/internal/logger"
	"github.com/quillfs/quillfs/pkg/capability"
	"github.com/quillfs/quillfs/pkg/doc"
	"github.com/quillfs/quillfs/pkg/metrics"
	"github.com/quillfs/quillfs/pkg/store"
)

// DefaultExtensions are the file extensions the native backend manages.
var DefaultExtensions = []string{".md", ".json"}

// DefaultIgnoredDirs are directory names never recursed into.
var DefaultIgnoredDirs = []string{".git", "node_modules"}

// Store is the native-directory implementation of store.Store. Keys are
// slash-joined paths relative to the root capability, e.g.
// "notes/todo.md".
//
// Only files matching the configured extensions participate; everything
// else in the directory is invisible to the engine and never touched.
type Store struct {
	root       capability.Directory
	walker     *Walker
	metrics    metrics.StoreMetrics
	extensions map[string]bool
	ignored    map[string]bool
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics attaches store metrics.
func WithMetrics(m metrics.StoreMetrics) Option {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithWalker sets the walker. Sharing a walker between stores shares
// its child-list cache.
func WithWalker(w *Walker) Option {
	return func(s *Store) {
		if w != nil {
			s.walker = w
		}
	}
}

// WithExtensions overrides the managed file extensions.
func WithExtensions(exts []string) Option {
	return func(s *Store) {
		s.extensions = make(map[string]bool, len(exts))
		for _, ext := range exts {
			s.extensions[ext] = true
		}
	}
}

// WithIgnoredDirs overrides the directory names excluded from listing.
// Dot-prefixed directories are always excluded.
func WithIgnoredDirs(names []string) Option {
	return func(s *Store) {
		s.ignored = make(map[string]bool, len(names))
		for _, name := range names {
			s.ignored[name] = true
		}
	}
}

// New creates a native store over the given root capability.
func New(root capability.Directory, opts ...Option) *Store {
	s := &Store{
		root:    root,
		walker:  NewWalker(),
		metrics: metrics.NewNoopStoreMetrics(),
	}
	WithExtensions(DefaultExtensions)(s)
	WithIgnoredDirs(DefaultIgnoredDirs)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend implements store.Store.
func (s *Store) Backend() store.BackendType {
	return store.BackendNative
}

// GetItem implements store.Store. The entry's LastModified comes from
// the file's actual modification time, so edits made outside the engine
// are reflected.
func (s *Store) GetItem(ctx context.Context, key string) (entry store.Entry, err error) {
	defer s.observe("get", time.Now(), &err)

	file, err := s.walker.GetHandle(ctx, s.root, splitKey(key))
	if err != nil {
		return store.Entry{}, err
	}
	return s.readEntry(ctx, key, file)
}

// SetItem implements store.Store. Intermediate directories are created
// as needed; the caller-supplied LastModified is discarded because the
// filesystem is the source of truth for modification times.
func (s *Store) SetItem(ctx context.Context, key string, entry store.Entry) (err error) {
	defer s.observe("set", time.Now(), &err)

	data, err := encodeDoc(key, entry.Doc)
	if err != nil {
		return err
	}

	file, err := s.walker.CreatePath(ctx, s.root, splitKey(key))
	if err != nil {
		return err
	}
	if err := file.Write(ctx, data); err != nil {
		return fmt.Errorf("%w: %v", store.ErrWrite, classify(err))
	}
	return nil
}

// RemoveItem implements store.Store.
func (s *Store) RemoveItem(ctx context.Context, key string) (err error) {
	defer s.observe("remove", time.Now(), &err)

	return s.walker.Remove(ctx, s.root, splitKey(key))
}

// Iterate implements store.Store. Eligible files are visited in key
// order; ignored directories are pruned without being read.
func (s *Store) Iterate(ctx context.Context, fn store.IterateFunc) (err error) {
	defer s.observe("iterate", time.Now(), &err)

	chains, err := s.walker.List(ctx, s.root, ListOptions{
		AllowedFile: s.allowedFile,
		AllowedDir:  s.allowedDir,
	})
	if err != nil {
		return err
	}

	sort.Slice(chains, func(i, j int) bool { return chains[i].Path() < chains[j].Path() })

	for _, chain := range chains {
		if err := ctx.Err(); err != nil {
			return err
		}

		key := chain.Path()
		file, ok := chain.Leaf().(capability.File)
		if !ok {
			continue
		}

		entry, err := s.readEntry(ctx, key, file)
		if err != nil {
			return err
		}
		if err := fn(key, entry); err != nil {
			return err
		}
	}
	return nil
}

// CreateNewItemKey implements store.Store. Suggestions keep their path
// and extension; an empty suggestion yields a short random markdown
// name at the top level.
func (s *Store) CreateNewItemKey(ctx context.Context, suggested string) (key string, err error) {
	defer s.observe("create_key", time.Now(), &err)

	if suggested == "" {
		return randomName() + ".md", nil
	}

	exists, err := s.hasKey(ctx, suggested)
	if err != nil {
		return "", err
	}
	if !exists {
		return suggested, nil
	}

	dir, base := path.Split(suggested)
	stem, ext := splitExt(base)
	return dir + stem + "-" + randomName() + ext, nil
}

// Drop implements store.Store. The directory belongs to the user, so
// forgetting a native workspace never deletes its files; only the
// capability is released.
func (s *Store) Drop(ctx context.Context) error {
	logger.Debug("native store dropped; leaving directory %q untouched", s.root.Name())
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	return nil
}

func (s *Store) readEntry(ctx context.Context, key string, file capability.File) (store.Entry, error) {
	data, err := file.Read(ctx)
	if err != nil {
		return store.Entry{}, classify(err)
	}

	d, err := decodeDoc(key, data)
	if err != nil {
		return store.Entry{}, err
	}

	modified, err := file.LastModified(ctx)
	if err != nil {
		return store.Entry{}, classify(err)
	}

	return store.Entry{
		Doc:      d,
		Metadata: store.Metadata{LastModified: modified.UnixMilli()},
	}, nil
}

func (s *Store) hasKey(ctx context.Context, key string) (bool, error) {
	_, err := s.walker.GetHandle(ctx, s.root, splitKey(key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrFileNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *Store) allowedFile(name string) bool {
	return s.extensions[path.Ext(name)]
}

func (s *Store) allowedDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return !s.ignored[name]
}

func (s *Store) observe(op string, start time.Time, err *error) {
	s.metrics.ObserveOp(op, time.Since(start), *err)
}

// encodeDoc serializes a document in the format its key's extension
// names: markdown text for .md, document JSON for .json. A nil document
// encodes as empty content: a plain file cannot hold a "never written"
// marker, so a nil doc reads back as an empty document on this backend.
func encodeDoc(key string, d *doc.Document) ([]byte, error) {
	if d == nil {
		d = doc.New()
	}

	switch path.Ext(key) {
	case ".json":
		data, err := doc.ToJSON(d)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to encode %q: %v", store.ErrWrite, key, err)
		}
		return data, nil
	default:
		text, err := doc.ToText(d)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to render %q: %v", store.ErrWrite, key, err)
		}
		return []byte(text), nil
	}
}

func decodeDoc(key string, data []byte) (*doc.Document, error) {
	switch path.Ext(key) {
	case ".json":
		d, err := doc.FromJSON(data)
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt document %q: %v", store.ErrRead, key, err)
		}
		return d, nil
	default:
		d, err := doc.FromText(string(data))
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse %q: %v", store.ErrRead, key, err)
		}
		return d, nil
	}
}

func splitKey(key string) []string {
	return strings.Split(strings.Trim(key, "/"), "/")
}

func splitExt(name string) (stem, ext string) {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i], name[i:]
	}
	return name, ""
}

func randomName() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}
