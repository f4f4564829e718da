package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/quillfs/quillfs/pkg/doc"
	"github.com/quillfs/quillfs/pkg/store"
)

// BackupFile is one file inside a portable backup.
type BackupFile struct {
	DocName  string         `json:"docName"`
	Doc      *doc.Document  `json:"doc"`
	Metadata store.Metadata `json:"metadata"`
}

// Backup is the portable snapshot of a whole workspace. Restoring a
// backup reproduces the workspace's files exactly, on any backend.
type Backup struct {
	Name     string         `json:"name"`
	Files    []BackupFile   `json:"files"`
	Metadata map[string]any `json:"metadata"`
}

// DownloadBackup serializes the workspace into a portable backup.
func (w *Workspace) DownloadBackup() *Backup {
	files := make([]BackupFile, 0, len(w.files))
	for _, f := range w.files {
		if f.deleted {
			continue
		}
		files = append(files, BackupFile{
			DocName:  f.docName,
			Doc:      f.doc,
			Metadata: f.metadata,
		})
	}
	return &Backup{
		Name:     w.name,
		Files:    files,
		Metadata: map[string]any{},
	}
}

// Encode renders the backup as JSON.
func (b *Backup) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup: %w", err)
	}
	return data, nil
}

// ParseBackup decodes a backup document. Both the current object shape
// and the legacy bare array of files are accepted; the legacy shape
// gets a generated name and empty metadata.
func ParseBackup(data []byte) (*Backup, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var files []BackupFile
		if err := json.Unmarshal(data, &files); err != nil {
			return nil, fmt.Errorf("failed to parse legacy backup: %w", err)
		}
		return &Backup{
			Name:     "restored-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6],
			Files:    files,
			Metadata: map[string]any{},
		}, nil
	}

	var b Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse backup: %w", err)
	}
	if b.Metadata == nil {
		b.Metadata = map[string]any{}
	}
	return &b, nil
}

// RestoreFromBackup writes every backed-up file into st under its
// original name and returns the hydrated workspace. The target store
// is expected to be empty; existing entries with colliding names are
// overwritten.
func RestoreFromBackup(ctx context.Context, b *Backup, uid string, st store.Store, catalog Catalog) (*Workspace, error) {
	for _, f := range b.Files {
		entry := store.Entry{Doc: f.Doc, Metadata: f.Metadata}
		if err := st.SetItem(ctx, f.DocName, entry); err != nil {
			return nil, fmt.Errorf("failed to restore %q: %w", f.DocName, err)
		}
	}
	return Hydrate(ctx, uid, b.Name, st, catalog)
}
