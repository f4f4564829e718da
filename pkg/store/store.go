// Package store defines the common contract implemented by every
// workspace storage backend.
//
// A Store presents one workspace's files as a flat key space. Keys are
// backend-specific: the local backend uses opaque generated identifiers,
// the native backend uses slash-joined relative paths. Callers never
// branch on the backend type; they hold a Store and use the contract.
package store

import (
	"context"

	"github.com/quillfs/quillfs/pkg/doc"
)

// BackendType identifies a physical storage backend.
type BackendType string

const (
	// BackendLocal is the embedded persistent key-value store.
	BackendLocal BackendType = "local"

	// BackendNative is a capability-scoped native directory tree.
	BackendNative BackendType = "native"
)

// Valid reports whether t names a known backend.
func (t BackendType) Valid() bool {
	return t == BackendLocal || t == BackendNative
}

// Metadata is the per-entry metadata kept alongside a document.
type Metadata struct {
	// LastModified is the modification time in Unix milliseconds.
	LastModified int64 `json:"lastModified"`
}

// Entry is one stored document plus its metadata. Doc is nil for a
// newly created, never-written file.
type Entry struct {
	Doc      *doc.Document `json:"doc"`
	Metadata Metadata      `json:"metadata"`
}

// IterateFunc receives each stored entry during Iterate. Returning an
// error stops the iteration and propagates the error to the caller.
type IterateFunc func(key string, entry Entry) error

// Store is the capability interface shared by both backends.
//
// Writes to distinct keys may proceed concurrently; two concurrent
// writes to the same key are not ordered by this layer beyond "each
// SetItem is individually atomic". Callers needing strict per-file
// ordering must serialize their own writes.
type Store interface {
	// GetItem returns the entry stored under key, or ErrFileNotFound.
	GetItem(ctx context.Context, key string) (Entry, error)

	// SetItem stores entry under key, overwriting any previous value.
	SetItem(ctx context.Context, key string, entry Entry) error

	// RemoveItem deletes the entry under key. Removing an absent key
	// returns ErrFileNotFound.
	RemoveItem(ctx context.Context, key string) error

	// Iterate streams every stored entry to fn in key order.
	Iterate(ctx context.Context, fn IterateFunc) error

	// CreateNewItemKey returns a key for a new entry, honoring the
	// suggested name when possible and generating one otherwise. The
	// returned key is guaranteed not to collide with an existing entry.
	CreateNewItemKey(ctx context.Context, suggested string) (string, error)

	// Backend identifies the physical backend behind this store.
	Backend() BackendType

	// Drop removes the entire backing key space. Used by workspace
	// deletion; the store must not be used afterwards.
	Drop(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
