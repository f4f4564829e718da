// Package lifecycle implements the workspace lifecycle controller: the
// state machine a UI collaborates with to open workspaces, react to
// permission denials, and hold the live workspace snapshot.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quillfs/quillfs/internal/logger"
	"github.com/quillfs/quillfs/pkg/capability"
	"github.com/quillfs/quillfs/pkg/registry"
	"github.com/quillfs/quillfs/pkg/store"
	"github.com/quillfs/quillfs/pkg/workspace"
)

// State is the controller's observable lifecycle state.
type State string

const (
	StateUnopened         State = "unopened"
	StateLoading          State = "loading"
	StateReady            State = "ready"
	StatePermissionNeeded State = "permission-needed"
	StateError            State = "error"
)

// ErrNotReady reports an operation that requires a ready workspace.
var ErrNotReady = errors.New("workspace not ready")

// Backends builds the concrete store for each backend type. The
// lifecycle layer never constructs stores itself; wiring the embedded
// database and walker configuration belongs to the composition root.
type Backends interface {
	LocalStore(uid string) store.Store
	NativeStore(dir capability.Directory) store.Store
}

// Controller drives one workspace slot through the lifecycle
//
//	unopened -> loading -> ready | permission-needed | error
//
// Opening a different workspace name from any state is a full reset
// back through loading. The error state is terminal for that attempt;
// a fresh Open is required to retry. In the ready state the live
// Workspace is replaced atomically on every mutation.
type Controller struct {
	registry *registry.Registry
	backends Backends

	mu      sync.Mutex
	state   State
	name    string
	err     error
	ws      *workspace.Workspace
	entry   registry.Entry
	pending capability.Directory

	// gen counts Open and Close transitions. A load that finishes
	// under a stale gen was superseded and discards its result
	// instead of installing it over the newer attempt.
	gen int
}

// New creates a controller in the unopened state.
func New(reg *registry.Registry, backends Backends) *Controller {
	return &Controller{
		registry: reg,
		backends: backends,
		state:    StateUnopened,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that moved the controller into the error
// state, or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Workspace returns the live workspace, or nil outside the ready
// state.
func (c *Controller) Workspace() *workspace.Workspace {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws
}

// Open loads the named workspace. Changing the name resets the
// controller from any state. A native workspace without permission
// lands in permission-needed, which is not an error: the caller reacts
// by prompting and calling RequestAccess.
func (c *Controller) Open(ctx context.Context, name string) error {
	c.mu.Lock()
	c.state = StateLoading
	c.name = name
	c.err = nil
	c.ws = nil
	c.entry = registry.Entry{}
	c.pending = nil
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	entry, err := c.registry.FindByName(ctx, name)
	if err != nil {
		return c.fail(gen, fmt.Errorf("failed to open workspace %q: %w", name, err))
	}

	if entry.Backend() == store.BackendNative {
		dir, err := c.registry.ResolveCapability(ctx, entry)
		if err != nil {
			return c.fail(gen, err)
		}

		granted, err := c.registry.Gate().HasPermission(ctx, dir)
		if err != nil {
			return c.fail(gen, err)
		}
		if !granted {
			c.mu.Lock()
			if c.gen == gen {
				c.state = StatePermissionNeeded
				c.entry = entry
				c.pending = dir
			}
			c.mu.Unlock()
			logger.Info("workspace %q needs permission", name)
			return nil
		}

		return c.hydrate(ctx, gen, entry, c.backends.NativeStore(dir))
	}

	return c.hydrate(ctx, gen, entry, c.backends.LocalStore(entry.UID))
}

// RequestAccess prompts the user for the pending native capability. A
// declined prompt keeps the controller in permission-needed and
// reports false; a grant hydrates the workspace and moves to ready.
func (c *Controller) RequestAccess(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.state != StatePermissionNeeded {
		c.mu.Unlock()
		return false, fmt.Errorf("%w: no pending permission request", ErrNotReady)
	}
	entry := c.entry
	dir := c.pending
	gen := c.gen
	c.mu.Unlock()

	granted, err := c.registry.Gate().RequestPermission(ctx, dir)
	if err != nil {
		return false, err
	}
	if !granted {
		return false, nil
	}

	if err := c.hydrate(ctx, gen, entry, c.backends.NativeStore(dir)); err != nil {
		return false, err
	}
	return true, nil
}

// Mutate applies fn to the live workspace and installs its result as
// the new snapshot in a single assignment. fn returning nil keeps the
// current snapshot, for in-place identity mutations like Rename.
func (c *Controller) Mutate(fn func(w *workspace.Workspace) (*workspace.Workspace, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateReady {
		return ErrNotReady
	}

	next, err := fn(c.ws)
	if err != nil {
		return err
	}
	if next != nil {
		c.ws = next
	}
	return nil
}

// Close discards the current workspace and returns to unopened.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ws != nil {
		if err := c.ws.Store().Close(); err != nil {
			logger.Warn("failed to close store for %q: %v", c.name, err)
		}
	}
	c.state = StateUnopened
	c.name = ""
	c.err = nil
	c.ws = nil
	c.entry = registry.Entry{}
	c.pending = nil
	c.gen++
}

func (c *Controller) hydrate(ctx context.Context, gen int, entry registry.Entry, st store.Store) error {
	ws, err := workspace.Hydrate(ctx, entry.UID, entry.Name, st, c.registry)
	if err != nil {
		return c.fail(gen, err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		logger.Debug("discarding superseded load of %q", entry.Name)
		return nil
	}
	c.state = StateReady
	c.entry = entry
	c.ws = ws
	c.pending = nil
	c.mu.Unlock()

	if err := c.registry.Touch(ctx, entry.UID, time.Now().UnixMilli()); err != nil {
		logger.Warn("failed to record open of %q: %v", entry.Name, err)
	}

	logger.Debug("workspace %q ready with %d files", entry.Name, len(ws.Files()))
	return nil
}

// fail records the error state unless a newer Open superseded this
// attempt, in which case the error belongs to a dead load and only the
// caller sees it.
func (c *Controller) fail(gen int, err error) error {
	c.mu.Lock()
	if c.gen == gen {
		c.state = StateError
		c.err = err
	}
	c.mu.Unlock()
	return err
}
