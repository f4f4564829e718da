// Package registry implements the persisted catalog of known
// workspaces. The catalog is the source of truth for which workspaces
// exist; it is stored independently of file content, so dropping a
// workspace's files and forgetting the workspace are separate steps.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/quillfs/quillfs/internal/logger"
	"github.com/quillfs/quillfs/pkg/capability"
	"github.com/quillfs/quillfs/pkg/store"
)

var (
	// ErrWorkspaceNotFound reports a uid or name with no catalog entry.
	ErrWorkspaceNotFound = errors.New("workspace not found")

	// ErrWorkspaceExists reports a create that collides with an
	// existing workspace name.
	ErrWorkspaceExists = errors.New("workspace already exists")
)

// keyPrefix namespaces catalog entries inside the shared database.
const keyPrefix = "registry/"

// Metadata is the per-workspace catalog metadata. NativePath is the
// capability reference for native-backed workspaces and empty for
// local ones.
type Metadata struct {
	LastModified int64  `json:"lastModified,omitempty"`
	NativePath   string `json:"nativePath,omitempty"`
}

// Entry is one catalog record. The persisted shape is exactly these
// three fields; anything else in a stored record is rejected on read.
type Entry struct {
	UID      string   `json:"uid" validate:"required,workspace_uid"`
	Name     string   `json:"name" validate:"required"`
	Metadata Metadata `json:"metadata"`
}

// Backend recovers the backend type encoded in the entry's uid prefix.
func (e Entry) Backend() store.BackendType {
	prefix, _, _ := strings.Cut(e.UID, "_")
	return store.BackendType(prefix)
}

// Resolver turns a native entry's capability reference back into a
// live directory capability.
type Resolver interface {
	Resolve(ctx context.Context, entry Entry) (capability.Directory, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, entry Entry) (capability.Directory, error)

func (f ResolverFunc) Resolve(ctx context.Context, entry Entry) (capability.Directory, error) {
	return f(ctx, entry)
}

// Registry is the badger-backed workspace catalog.
//
// The listing cache is owned by the Registry and invalidated
// explicitly after every mutation; no caller ever observes a listing
// that predates its own awaited mutation.
type Registry struct {
	db       *badger.DB
	gate     *capability.Gate
	resolver Resolver
	validate *validator.Validate

	mu     sync.Mutex
	cached []Entry
}

// Option configures a Registry.
type Option func(*Registry)

// WithGate sets the permission gate consulted by NeedsPermission.
func WithGate(g *capability.Gate) Option {
	return func(r *Registry) {
		if g != nil {
			r.gate = g
		}
	}
}

// WithResolver sets the capability resolver for native entries.
func WithResolver(res Resolver) Option {
	return func(r *Registry) {
		if res != nil {
			r.resolver = res
		}
	}
}

// New creates a registry over the shared database. The database's
// lifecycle belongs to the caller.
func New(db *badger.DB, opts ...Option) *Registry {
	r := &Registry{
		db:       db,
		gate:     capability.NewGate(nil),
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("workspace_uid", func(fl validator.FieldLevel) bool {
		return ValidUID(fl.Field().String())
	})
	return v
}

// ValidUID reports whether uid has the canonical
// "<local|native>_<suffix>" shape.
func ValidUID(uid string) bool {
	prefix, suffix, ok := strings.Cut(uid, "_")
	if !ok || suffix == "" {
		return false
	}
	return store.BackendType(prefix).Valid()
}

// NewUID generates a catalog uid for the given backend type.
func NewUID(backend store.BackendType) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("%s_%s", backend, suffix)
}

// List returns every catalog entry, most recently modified first.
// Entries without a modification time sort after dated ones, ordered
// by backend type then uid for determinism.
func (r *Registry) List(ctx context.Context) ([]Entry, error) {
	r.mu.Lock()
	cached := r.cached
	r.mu.Unlock()
	if cached != nil {
		return append([]Entry(nil), cached...), nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entries []Entry
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			var entry Entry
			if err := it.Item().Value(func(val []byte) error {
				return decodeEntry(val, &entry)
			}); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}

	sortEntries(entries)

	r.mu.Lock()
	r.cached = entries
	r.mu.Unlock()
	return append([]Entry(nil), entries...), nil
}

// Get returns the entry with the given uid.
func (r *Registry) Get(ctx context.Context, uid string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	var entry Entry
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(uid))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("uid %q: %w", uid, ErrWorkspaceNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read workspace %q: %w", uid, err)
		}
		return item.Value(func(val []byte) error {
			return decodeEntry(val, &entry)
		})
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// FindByName returns the entry with the given display name.
func (r *Registry) FindByName(ctx context.Context, name string) (Entry, error) {
	entries, err := r.List(ctx)
	if err != nil {
		return Entry{}, err
	}
	for _, entry := range entries {
		if entry.Name == name {
			return entry, nil
		}
	}
	return Entry{}, fmt.Errorf("name %q: %w", name, ErrWorkspaceNotFound)
}

// Create registers a new workspace and returns its entry. The name
// must be free across both backends.
func (r *Registry) Create(ctx context.Context, name string, backend store.BackendType, metadata Metadata) (Entry, error) {
	if !backend.Valid() {
		return Entry{}, fmt.Errorf("unknown backend type %q", backend)
	}

	if _, err := r.FindByName(ctx, name); err == nil {
		return Entry{}, fmt.Errorf("name %q: %w", name, ErrWorkspaceExists)
	} else if !errors.Is(err, ErrWorkspaceNotFound) {
		return Entry{}, err
	}

	entry := Entry{UID: NewUID(backend), Name: name, Metadata: metadata}
	if err := r.Update(ctx, entry); err != nil {
		return Entry{}, err
	}

	logger.Info("created workspace %q (%s)", name, entry.UID)
	return entry, nil
}

// Update upserts an entry keyed by uid. The entry is validated against
// the catalog schema first; a malformed entry fails loudly instead of
// being stored partially.
func (r *Registry) Update(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.validate.Struct(entry); err != nil {
		return fmt.Errorf("invalid catalog entry: %w", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode entry %q: %w", entry.UID, err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(entry.UID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store entry %q: %w", entry.UID, err)
	}

	r.Invalidate()
	return nil
}

// Rename persists a new display name for the workspace. Implements the
// catalog contract used by the workspace layer.
func (r *Registry) Rename(ctx context.Context, uid, newName string) error {
	entry, err := r.Get(ctx, uid)
	if err != nil {
		return err
	}
	entry.Name = newName
	return r.Update(ctx, entry)
}

// Touch records that the workspace was just used, moving it to the
// front of the listing order.
func (r *Registry) Touch(ctx context.Context, uid string, when int64) error {
	entry, err := r.Get(ctx, uid)
	if err != nil {
		return err
	}
	entry.Metadata.LastModified = when
	return r.Update(ctx, entry)
}

// Remove deletes the entry with the given uid; a subsequent List will
// not return it.
func (r *Registry) Remove(ctx context.Context, uid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(entryKey(uid)); err == badger.ErrKeyNotFound {
			return fmt.Errorf("uid %q: %w", uid, ErrWorkspaceNotFound)
		} else if err != nil {
			return fmt.Errorf("failed to read workspace %q: %w", uid, err)
		}
		return txn.Delete(entryKey(uid))
	})
	if err != nil {
		return err
	}

	r.Invalidate()
	return nil
}

// NeedsPermission reports whether opening this workspace requires a
// user permission grant right now. Local workspaces never do; native
// ones delegate to the permission gate against the resolved
// capability.
func (r *Registry) NeedsPermission(ctx context.Context, entry Entry) (bool, error) {
	if entry.Backend() != store.BackendNative {
		return false, nil
	}
	if r.resolver == nil {
		return false, fmt.Errorf("%w: no capability resolver configured", capability.ErrInvalidCapability)
	}

	dir, err := r.resolver.Resolve(ctx, entry)
	if err != nil {
		return false, err
	}

	granted, err := r.gate.HasPermission(ctx, dir)
	if err != nil {
		return false, err
	}
	return !granted, nil
}

// ResolveCapability returns the live directory capability behind a
// native entry.
func (r *Registry) ResolveCapability(ctx context.Context, entry Entry) (capability.Directory, error) {
	if r.resolver == nil {
		return nil, fmt.Errorf("%w: no capability resolver configured", capability.ErrInvalidCapability)
	}
	return r.resolver.Resolve(ctx, entry)
}

// Gate returns the permission gate shared with the lifecycle layer.
func (r *Registry) Gate() *capability.Gate {
	return r.gate
}

// Invalidate discards the cached listing. Called internally after
// every mutation; exposed for callers that mutate the database out of
// band.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}

func entryKey(uid string) []byte {
	return []byte(keyPrefix + uid)
}

// decodeEntry parses a stored record strictly: unknown fields mean the
// record was written by buggy code and must surface, not be dropped.
func decodeEntry(val []byte, entry *Entry) error {
	dec := json.NewDecoder(bytes.NewReader(val))
	dec.DisallowUnknownFields()
	if err := dec.Decode(entry); err != nil {
		return fmt.Errorf("corrupt catalog entry: %w", err)
	}
	return nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch {
		case a.Metadata.LastModified != 0 && b.Metadata.LastModified != 0:
			if a.Metadata.LastModified != b.Metadata.LastModified {
				return a.Metadata.LastModified > b.Metadata.LastModified
			}
		case a.Metadata.LastModified != 0:
			return true
		case b.Metadata.LastModified != 0:
			return false
		}
		if a.Backend() != b.Backend() {
			return a.Backend() < b.Backend()
		}
		return a.UID < b.UID
	})
}
