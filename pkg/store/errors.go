package store

import "errors"

// Failure taxonomy shared by both backends. Implementations classify
// platform-specific failures into these sentinels and rethrow via
// wrapping; callers never see platform error types.
//
// Usage:
//
//	entry, err := st.GetItem(ctx, key)
//	if errors.Is(err, store.ErrFileNotFound) {
//	    // recoverable: create the file or refresh the listing
//	}
var (
	// ErrFileNotFound indicates no entry exists under the requested
	// key. Recoverable: callers may create the file or refresh a
	// listing.
	ErrFileNotFound = errors.New("file not found")

	// ErrRead indicates an I/O failure while reading an entry.
	// Surfaced to the user with a retry affordance, never swallowed.
	ErrRead = errors.New("read failed")

	// ErrWrite indicates an I/O failure while persisting an entry.
	ErrWrite = errors.New("write failed")

	// ErrPermission indicates the backend capability lacks read-write
	// permission. Recoverable by re-requesting permission.
	ErrPermission = errors.New("permission denied")

	// ErrNotADirectory indicates a path segment resolved to a file
	// where a directory was required. Structural: fatal for that
	// operation, never retried.
	ErrNotADirectory = errors.New("not a directory")
)
