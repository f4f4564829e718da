// Package workspace implements the in-memory workspace model: immutable
// file records, the immutable workspace collection, and the portable
// backup document.
//
// A Workspace and its Files are value objects. Every structural
// mutation returns a new instance and leaves the receiver untouched;
// callers must discard their old reference after a mutation. The one
// deliberate exception is Rename, which mutates identity in place
// because renaming does not affect file identity.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quillfs/quillfs/pkg/doc"
	"github.com/quillfs/quillfs/pkg/store"
)

// File is one document in a workspace: its name, content, and
// metadata, backed by the workspace's store. Identity is DocName, the
// file's key relative to its workspace.
type File struct {
	docName  string
	doc      *doc.Document
	metadata store.Metadata
	deleted  bool
	store    store.Store
}

// CreateFile persists a new file and returns its record. The store
// picks the concrete key, deduplicating a colliding suggestion; the
// caller's suggested name is a hint, not a guarantee.
func CreateFile(ctx context.Context, st store.Store, suggestedName string, d *doc.Document) (*File, error) {
	key, err := st.CreateNewItemKey(ctx, suggestedName)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate key for %q: %w", suggestedName, err)
	}

	metadata := store.Metadata{LastModified: time.Now().UnixMilli()}
	if err := st.SetItem(ctx, key, store.Entry{Doc: d, Metadata: metadata}); err != nil {
		return nil, fmt.Errorf("failed to persist new file %q: %w", key, err)
	}

	return &File{docName: key, doc: d, metadata: metadata, store: st}, nil
}

// OpenFile loads an existing file, failing with ErrFileNotFound when
// the store has no entry under docName.
func OpenFile(ctx context.Context, st store.Store, docName string) (*File, error) {
	entry, err := st.GetItem(ctx, docName)
	if err != nil {
		return nil, err
	}
	return &File{docName: docName, doc: entry.Doc, metadata: entry.Metadata, store: st}, nil
}

// fileFromEntry builds a record from an already-read store entry.
// Used during workspace hydration to avoid a second read per file.
func fileFromEntry(st store.Store, docName string, entry store.Entry) *File {
	return &File{docName: docName, doc: entry.Doc, metadata: entry.Metadata, store: st}
}

// DocName returns the file's identity within its workspace.
func (f *File) DocName() string { return f.docName }

// Doc returns the file's document. Nil means the file was created but
// never written. The document is shared across workspace snapshots and
// must be treated as read-only; build a new document and pass it to
// UpdateDoc to change content.
func (f *File) Doc() *doc.Document { return f.doc }

// LastModified returns the modification time in Unix milliseconds.
func (f *File) LastModified() int64 { return f.metadata.LastModified }

// Deleted reports whether the file has been deleted.
func (f *File) Deleted() bool { return f.deleted }

// UpdateDoc persists d and returns the replacement record. Passing nil
// re-persists the current document. Calling UpdateDoc on a deleted
// file is a no-op returning the receiver.
func (f *File) UpdateDoc(ctx context.Context, d *doc.Document) (*File, error) {
	if f.deleted {
		return f, nil
	}
	if d == nil {
		d = f.doc
	}

	metadata := store.Metadata{LastModified: time.Now().UnixMilli()}
	if err := f.store.SetItem(ctx, f.docName, store.Entry{Doc: d, Metadata: metadata}); err != nil {
		return nil, fmt.Errorf("failed to update %q: %w", f.docName, err)
	}

	return &File{docName: f.docName, doc: d, metadata: metadata, store: f.store}, nil
}

// Delete removes the backing entry and returns a record marked
// deleted. Idempotent: deleting an already-deleted file, or one whose
// entry is already gone, succeeds.
func (f *File) Delete(ctx context.Context) (*File, error) {
	err := f.store.RemoveItem(ctx, f.docName)
	if err != nil && !errors.Is(err, store.ErrFileNotFound) {
		return nil, fmt.Errorf("failed to delete %q: %w", f.docName, err)
	}

	return &File{docName: f.docName, doc: f.doc, metadata: f.metadata, deleted: true, store: f.store}, nil
}
