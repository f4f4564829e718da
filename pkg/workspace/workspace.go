package workspace

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/quillfs/quillfs/internal/logger"
	"github.com/quillfs/quillfs/pkg/doc"
	"github.com/quillfs/quillfs/pkg/store"
)

// ErrDuplicateFile reports an attempt to link a file whose name is
// already present. Duplicate names are a caller bug, not a recoverable
// condition.
var ErrDuplicateFile = errors.New("file already linked")

// Catalog is the slice of the workspace registry a Workspace needs to
// persist identity changes and its own removal.
type Catalog interface {
	// Rename persists a workspace's new display name.
	Rename(ctx context.Context, uid, newName string) error

	// Remove deletes the workspace's catalog entry.
	Remove(ctx context.Context, uid string) error
}

// Workspace is an immutable collection of files plus identity. The
// files slice is always sorted by DocName and never contains two
// entries with the same name; structural mutations return a new
// Workspace sharing the unaffected File records.
type Workspace struct {
	uid     string
	name    string
	backend store.BackendType
	files   []*File

	store   store.Store
	catalog Catalog
	deleted bool
}

// New builds a workspace around already-loaded files. Files are
// re-sorted; duplicate names are rejected.
func New(uid, name string, st store.Store, catalog Catalog, files []*File) (*Workspace, error) {
	sorted := append([]*File(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].docName < sorted[j].docName })

	for i := 1; i < len(sorted); i++ {
		if sorted[i].docName == sorted[i-1].docName {
			return nil, fmt.Errorf("%q: %w", sorted[i].docName, ErrDuplicateFile)
		}
	}

	return &Workspace{
		uid:     uid,
		name:    name,
		backend: st.Backend(),
		files:   sorted,
		store:   st,
		catalog: catalog,
	}, nil
}

// Hydrate loads every file from the store and builds the workspace.
func Hydrate(ctx context.Context, uid, name string, st store.Store, catalog Catalog) (*Workspace, error) {
	var files []*File
	err := st.Iterate(ctx, func(key string, entry store.Entry) error {
		files = append(files, fileFromEntry(st, key, entry))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate workspace %q: %w", name, err)
	}
	return New(uid, name, st, catalog, files)
}

// UID returns the workspace's registry identifier.
func (w *Workspace) UID() string { return w.uid }

// Name returns the workspace's display name.
func (w *Workspace) Name() string { return w.name }

// Backend returns the backing store type.
func (w *Workspace) Backend() store.BackendType { return w.backend }

// Deleted reports whether the workspace has been deleted.
func (w *Workspace) Deleted() bool { return w.deleted }

// Store exposes the backing store, for callers that open or create
// files directly.
func (w *Workspace) Store() store.Store { return w.store }

// Files returns the files in DocName order. The returned slice is a
// copy; the workspace's own list is never exposed for mutation.
func (w *Workspace) Files() []*File {
	return append([]*File(nil), w.files...)
}

// GetFile returns the file named docName, or nil when absent.
func (w *Workspace) GetFile(docName string) *File {
	for _, f := range w.files {
		if f.docName == docName && !f.deleted {
			return f
		}
	}
	return nil
}

// HasFile reports whether a file named docName is present.
func (w *Workspace) HasFile(docName string) bool {
	return w.GetFile(docName) != nil
}

// GetLastModifiedFile returns the most recently modified file, or nil
// for an empty workspace. Used to pick the file to open on entry.
func (w *Workspace) GetLastModifiedFile() *File {
	var latest *File
	for _, f := range w.files {
		if latest == nil || f.metadata.LastModified > latest.metadata.LastModified {
			latest = f
		}
	}
	return latest
}

// LinkFile returns a new Workspace with file added. Linking a name
// that is already present fails with ErrDuplicateFile.
func (w *Workspace) LinkFile(file *File) (*Workspace, error) {
	if w.HasFile(file.docName) {
		return nil, fmt.Errorf("%q: %w", file.docName, ErrDuplicateFile)
	}

	files := append(append([]*File(nil), w.files...), file)
	sort.Slice(files, func(i, j int) bool { return files[i].docName < files[j].docName })
	return w.withFiles(files), nil
}

// UnlinkFile returns a new Workspace with the file of that name
// removed. Unlinking an absent name is not an error; the result is
// still a fresh, structurally valid instance.
func (w *Workspace) UnlinkFile(file *File) *Workspace {
	files := make([]*File, 0, len(w.files))
	found := false
	for _, f := range w.files {
		if f.docName == file.docName {
			found = true
			continue
		}
		files = append(files, f)
	}
	if !found {
		logger.Debug("unlink of absent file %q in workspace %q", file.docName, w.name)
	}
	return w.withFiles(files)
}

// CreateFile persists a new file and returns the workspace containing
// it, together with the created record.
func (w *Workspace) CreateFile(ctx context.Context, suggestedName string, d *doc.Document) (*Workspace, *File, error) {
	file, err := CreateFile(ctx, w.store, suggestedName, d)
	if err != nil {
		return nil, nil, err
	}
	next, err := w.LinkFile(file)
	if err != nil {
		return nil, nil, err
	}
	return next, file, nil
}

// DeleteFile deletes the named file and returns the workspace without
// it. Deleting an absent name fails with ErrFileNotFound.
func (w *Workspace) DeleteFile(ctx context.Context, docName string) (*Workspace, error) {
	file := w.GetFile(docName)
	if file == nil {
		return nil, fmt.Errorf("%q: %w", docName, store.ErrFileNotFound)
	}

	deleted, err := file.Delete(ctx)
	if err != nil {
		return nil, err
	}
	return w.UnlinkFile(deleted), nil
}

// Rename validates and persists a new display name. This is the one
// in-place mutation on Workspace: renaming changes identity only, so
// producing a new instance would buy nothing.
func (w *Workspace) Rename(ctx context.Context, newName string) error {
	if newName == "" {
		return errors.New("workspace name must not be empty")
	}
	if w.catalog != nil {
		if err := w.catalog.Rename(ctx, w.uid, newName); err != nil {
			return fmt.Errorf("failed to rename workspace %q: %w", w.name, err)
		}
	}
	w.name = newName
	return nil
}

// Delete marks the workspace deleted, removes its catalog entry, and
// drops the physical store in the background so the caller is never
// blocked on storage cleanup. Idempotent.
func (w *Workspace) Delete(ctx context.Context) error {
	if w.deleted {
		return nil
	}

	if w.catalog != nil {
		if err := w.catalog.Remove(ctx, w.uid); err != nil {
			return fmt.Errorf("failed to remove workspace %q from catalog: %w", w.name, err)
		}
	}
	w.deleted = true

	st := w.store
	uid := w.uid
	go func() {
		if err := st.Drop(context.Background()); err != nil {
			logger.Warn("failed to drop store for workspace %s: %v", uid, err)
		}
	}()
	return nil
}

func (w *Workspace) withFiles(files []*File) *Workspace {
	return &Workspace{
		uid:     w.uid,
		name:    w.name,
		backend: w.backend,
		files:   files,
		store:   w.store,
		catalog: w.catalog,
		deleted: w.deleted,
	}
}
