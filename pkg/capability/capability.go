// Package capability models revocable, scoped access to a native
// directory tree.
//
// A capability is an opaque handle granting access to one directory and
// everything below it, distinct from a plain path string: it carries a
// permission state that the platform may revoke at any time, so the
// state is re-queried on every workspace open and never persisted.
//
// The platform directory-picker and permission prompt are consumed as
// black boxes behind the Picker and Directory interfaces; pkg/capability/osdir
// provides the operating-system implementation.
package capability

import (
	"context"
	"errors"
	"time"
)

// State is the permission state of a capability.
type State string

const (
	// StateUnknown means the permission has not been queried yet this
	// session.
	StateUnknown State = "unknown"

	// StateGranted means read-write access is currently allowed.
	StateGranted State = "granted"

	// StateDenied means access was refused or revoked. Recoverable by
	// re-requesting.
	StateDenied State = "denied"
)

var (
	// ErrPermissionDenied indicates the capability lacks read-write
	// permission. Recoverable: request permission and retry.
	ErrPermissionDenied = errors.New("capability permission denied")

	// ErrEntryNotFound indicates a named child does not exist.
	ErrEntryNotFound = errors.New("directory entry not found")

	// ErrNotADirectory indicates a child is a file where a directory
	// was required.
	ErrNotADirectory = errors.New("entry is not a directory")

	// ErrInvalidCapability indicates the capability is unusable (the
	// target is missing, or is not a directory at all). Non-retryable:
	// callers must fail fast instead of looping the permission state
	// machine.
	ErrInvalidCapability = errors.New("invalid capability")

	// ErrPickCancelled indicates the user dismissed the directory
	// chooser.
	ErrPickCancelled = errors.New("directory pick cancelled")
)

// Kind distinguishes directory entries.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
)

// Handle is the part of the contract shared by files and directories.
//
// Implementations must use pointer receivers: handle identity (interface
// equality) keys the directory walker's child-list cache, so the same
// logical entry must be represented by the same handle value across
// repeated lookups.
type Handle interface {
	Name() string
	Kind() Kind
}

// Directory is a capability over one directory.
type Directory interface {
	Handle

	// QueryPermission returns the current permission state without
	// prompting the user.
	QueryPermission(ctx context.Context) (State, error)

	// RequestPermission may block on a user-interaction-gated prompt.
	// A dismissed or timed-out prompt reports StateDenied, not an
	// error.
	RequestPermission(ctx context.Context) (State, error)

	// Children enumerates the direct entries of this directory.
	Children(ctx context.Context) ([]Handle, error)

	// Child resolves one named entry, or ErrEntryNotFound.
	Child(ctx context.Context, name string) (Handle, error)

	// CreateDirectory returns the named child directory, creating it
	// if absent. Idempotent: an existing directory is reused, never
	// recreated.
	CreateDirectory(ctx context.Context, name string) (Directory, error)

	// CreateFile returns the named child file, creating an empty file
	// if absent.
	CreateFile(ctx context.Context, name string) (File, error)

	// Remove deletes the named entry (recursively for directories).
	// Removing an absent entry returns ErrEntryNotFound.
	Remove(ctx context.Context, name string) error
}

// File is a capability over one file.
type File interface {
	Handle

	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	LastModified(ctx context.Context) (time.Time, error)
}

// Picker is the platform directory chooser. Pick blocks on user
// interaction and returns ErrPickCancelled if the user dismisses the
// chooser.
type Picker interface {
	Pick(ctx context.Context) (Directory, error)
}
