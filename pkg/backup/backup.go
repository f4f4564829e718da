// Package backup stores and retrieves portable workspace backups in
// external storage. A Sink holds one JSON backup document per
// workspace name; the engine treats the sink as a black box.
package backup

import (
	"context"
	"errors"
)

// ErrBackupNotFound reports a backup name with no stored document.
var ErrBackupNotFound = errors.New("backup not found")

// Sink is a named blob store for backup documents.
type Sink interface {
	// Put stores data under name, overwriting any previous backup.
	Put(ctx context.Context, name string, data []byte) error

	// Get returns the backup stored under name, or ErrBackupNotFound.
	Get(ctx context.Context, name string) ([]byte, error)

	// List returns the names of all stored backups in sorted order.
	List(ctx context.Context) ([]string, error)
}
