package capability

import (
	"context"
	"errors"
	"fmt"

	"github.com/quillfs/quillfs/internal/logger"
)

// Gate answers two questions about a native capability: "can I read and
// write this right now?" and "please ask the user". It distinguishes
// denial (recoverable, drives the permission state machine) from
// transient query failures (propagated as errors) and from unusable
// capabilities (ErrInvalidCapability, fail fast).
type Gate struct {
	picker Picker
}

// NewGate creates a permission gate. picker may be nil when the engine
// never needs to choose new directories (e.g. all capabilities come
// from the registry).
func NewGate(picker Picker) *Gate {
	return &Gate{picker: picker}
}

// HasPermission reports whether dir currently has read-write access.
// It never prompts the user. Errors indicate the query itself failed,
// not a denial.
func (g *Gate) HasPermission(ctx context.Context, dir Directory) (bool, error) {
	if dir == nil {
		return false, ErrInvalidCapability
	}

	state, err := dir.QueryPermission(ctx)
	if err != nil {
		return false, fmt.Errorf("permission query failed: %w", err)
	}
	return state == StateGranted, nil
}

// RequestPermission asks the user to grant access to dir. A declined,
// dismissed, or platform-suppressed prompt all report false; only a
// failed request reports an error.
func (g *Gate) RequestPermission(ctx context.Context, dir Directory) (bool, error) {
	if dir == nil {
		return false, ErrInvalidCapability
	}

	state, err := dir.RequestPermission(ctx)
	if err != nil {
		return false, fmt.Errorf("permission request failed: %w", err)
	}

	granted := state == StateGranted
	if !granted {
		logger.Debug("permission request for %q declined", dir.Name())
	}
	return granted, nil
}

// PickCapability returns a usable directory capability. An existing
// capability is validated and reused; otherwise the platform chooser is
// invoked. A cancelled or declined pick surfaces ErrPermissionDenied;
// a pick that produced something unusable surfaces ErrInvalidCapability.
func (g *Gate) PickCapability(ctx context.Context, existing Directory) (Directory, error) {
	if existing != nil {
		if err := validateCapability(existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	if g.picker == nil {
		return nil, fmt.Errorf("%w: no directory picker configured", ErrInvalidCapability)
	}

	dir, err := g.picker.Pick(ctx)
	if errors.Is(err, ErrPickCancelled) {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if err != nil {
		return nil, fmt.Errorf("directory pick failed: %w", err)
	}

	if err := validateCapability(dir); err != nil {
		return nil, err
	}
	return dir, nil
}

func validateCapability(dir Directory) error {
	if dir == nil {
		return ErrInvalidCapability
	}
	if dir.Kind() != KindDirectory {
		return fmt.Errorf("%w: %q is not a directory", ErrInvalidCapability, dir.Name())
	}
	return nil
}
