// Package wspath implements the workspace path addressing scheme.
//
// A workspace path ("wsPath") is a string of the exact form
//
//	<workspaceName>:<filePath>
//
// where workspaceName matches [A-Za-z0-9_-]+ and filePath is a
// slash-delimited sequence of non-empty segments. The full string is
// restricted to the charset [0-9A-Za-z_.\-/: ] and must contain exactly
// one colon.
//
// All functions are pure; a wsPath is parsed on every lookup and never
// persisted in parsed form.
package wspath

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPath indicates a malformed wsPath. This is always a caller
// bug: it is never retried and never reaches a storage backend.
var ErrInvalidPath = errors.New("invalid workspace path")

// Resolved is the decomposition of a valid wsPath.
type Resolved struct {
	// WorkspaceName is the part before the colon.
	WorkspaceName string

	// FilePath is the part after the colon, e.g. "notes/todo.md".
	FilePath string

	// FileName is the last segment of FilePath.
	FileName string

	// Dir holds the directory segments leading to FileName, outermost
	// first. Empty for top-level files.
	Dir []string
}

// Segments returns all path segments including the file name.
func (r Resolved) Segments() []string {
	return append(append([]string(nil), r.Dir...), r.FileName)
}

// Resolve parses and validates a wsPath.
func Resolve(wsPath string) (Resolved, error) {
	if err := Validate(wsPath); err != nil {
		return Resolved{}, err
	}

	name, filePath, _ := strings.Cut(wsPath, ":")
	segments := strings.Split(filePath, "/")

	return Resolved{
		WorkspaceName: name,
		FilePath:      filePath,
		FileName:      segments[len(segments)-1],
		Dir:           segments[:len(segments)-1],
	}, nil
}

// Validate checks the wsPath invariants: charset, exactly one colon,
// a valid workspace name, and no empty path segments. It is used as a
// guard at every mutation entry point.
func Validate(wsPath string) error {
	if strings.Count(wsPath, ":") != 1 {
		return fmt.Errorf("%w: %q must contain exactly one colon", ErrInvalidPath, wsPath)
	}

	for _, r := range wsPath {
		if !validRune(r) {
			return fmt.Errorf("%w: %q contains invalid character %q", ErrInvalidPath, wsPath, r)
		}
	}

	name, filePath, _ := strings.Cut(wsPath, ":")
	if !ValidWorkspaceName(name) {
		return fmt.Errorf("%w: invalid workspace name %q", ErrInvalidPath, name)
	}

	if filePath == "" {
		return fmt.Errorf("%w: %q has an empty file path", ErrInvalidPath, wsPath)
	}
	for _, segment := range strings.Split(filePath, "/") {
		if segment == "" {
			return fmt.Errorf("%w: %q contains an empty path segment", ErrInvalidPath, wsPath)
		}
	}

	return nil
}

// Join builds a wsPath from a workspace name and file path. It is the
// inverse of Resolve: Resolve(Join(w, f)) yields {w, f, ...} for all
// valid inputs. The result is validated before being returned.
func Join(workspaceName, filePath string) (string, error) {
	wsPath := workspaceName + ":" + filePath
	if err := Validate(wsPath); err != nil {
		return "", err
	}
	return wsPath, nil
}

// ValidWorkspaceName reports whether name matches [A-Za-z0-9_-]+.
func ValidWorkspaceName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

func validRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_' || r == '.' || r == '-' || r == '/' || r == ':' || r == ' ':
		return true
	}
	return false
}
