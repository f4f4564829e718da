package lifecycle

import (
	"context"
	"errors"
	"testing"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/quillfs/quillfs/pkg/capability"
	"github.com/quillfs/quillfs/pkg/capability/osdir"
	"github.com/quillfs/quillfs/pkg/doc"
	"github.com/quillfs/quillfs/pkg/registry"
	"github.com/quillfs/quillfs/pkg/store"
	"github.com/quillfs/quillfs/pkg/store/local"
	"github.com/quillfs/quillfs/pkg/store/native"
	"github.com/quillfs/quillfs/pkg/workspace"
)

// testBackends wires stores to one shared badger database; native
// directories come straight from the capability.
type testBackends struct {
	db *badger.DB
}

func (b *testBackends) LocalStore(uid string) store.Store {
	return local.New(b.db, uid)
}

func (b *testBackends) NativeStore(dir capability.Directory) store.Store {
	return native.New(dir)
}

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("failed to open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenLocalWorkspace(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	reg := registry.New(db)
	backends := &testBackends{db: db}

	entry, err := reg.Create(ctx, "notes", store.BackendLocal, registry.Metadata{})
	if err != nil {
		t.Fatal(err)
	}

	// Seed one file so hydration has something to load.
	st := backends.LocalStore(entry.UID)
	if err := st.SetItem(ctx, "a.md", store.Entry{Doc: doc.NewText("alpha")}); err != nil {
		t.Fatal(err)
	}

	c := New(reg, backends)
	if c.State() != StateUnopened {
		t.Fatalf("initial state = %q", c.State())
	}

	if err := c.Open(ctx, "notes"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if c.State() != StateReady {
		t.Fatalf("state = %q, want ready", c.State())
	}

	ws := c.Workspace()
	if ws == nil || !ws.HasFile("a.md") {
		t.Error("hydrated workspace is missing its file")
	}
}

func TestOpenMissingWorkspaceIsError(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	c := New(registry.New(db), &testBackends{db: db})

	err := c.Open(ctx, "ghost")
	if !errors.Is(err, registry.ErrWorkspaceNotFound) {
		t.Fatalf("error = %v, want ErrWorkspaceNotFound", err)
	}
	if c.State() != StateError {
		t.Errorf("state = %q, want error", c.State())
	}
	if c.Err() == nil {
		t.Error("error state with nil Err")
	}
}

func TestPermissionStateMachine(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	dir := t.TempDir()

	// Decline the first prompt, grant the second.
	prompts := 0
	granter := osdir.GranterFunc(func(context.Context, string) (bool, error) {
		prompts++
		return prompts > 1, nil
	})

	resolver := registry.ResolverFunc(
		func(ctx context.Context, entry registry.Entry) (capability.Directory, error) {
			return osdir.New(entry.Metadata.NativePath,
				osdir.WithState(capability.StateDenied),
				osdir.WithGranter(granter))
		})

	reg := registry.New(db, registry.WithResolver(resolver))
	if _, err := reg.Create(ctx, "vault", store.BackendNative, registry.Metadata{NativePath: dir}); err != nil {
		t.Fatal(err)
	}

	c := New(reg, &testBackends{db: db})

	// Denied capability: open lands in permission-needed, not error.
	if err := c.Open(ctx, "vault"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if c.State() != StatePermissionNeeded {
		t.Fatalf("state = %q, want permission-needed", c.State())
	}

	// Declined prompt keeps the state retryable.
	granted, err := c.RequestAccess(ctx)
	if err != nil || granted {
		t.Fatalf("first RequestAccess = (%v, %v), want declined", granted, err)
	}
	if c.State() != StatePermissionNeeded {
		t.Fatalf("state after decline = %q, want permission-needed", c.State())
	}

	// Second prompt grants and the workspace hydrates.
	granted, err = c.RequestAccess(ctx)
	if err != nil || !granted {
		t.Fatalf("second RequestAccess = (%v, %v), want granted", granted, err)
	}
	if c.State() != StateReady {
		t.Errorf("state after grant = %q, want ready", c.State())
	}
}

func TestIdentityChangeResets(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	reg := registry.New(db)
	backends := &testBackends{db: db}

	if _, err := reg.Create(ctx, "first", store.BackendLocal, registry.Metadata{}); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Create(ctx, "second", store.BackendLocal, registry.Metadata{}); err != nil {
		t.Fatal(err)
	}

	c := New(reg, backends)
	if err := c.Open(ctx, "first"); err != nil {
		t.Fatal(err)
	}
	firstWS := c.Workspace()

	if err := c.Open(ctx, "second"); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateReady {
		t.Fatalf("state = %q", c.State())
	}
	if c.Workspace() == firstWS {
		t.Error("workspace not replaced on identity change")
	}
	if c.Workspace().Name() != "second" {
		t.Errorf("workspace name = %q", c.Workspace().Name())
	}
}

// gatedStore stalls Iterate until released, holding a hydration at its
// I/O boundary.
type gatedStore struct {
	store.Store
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Iterate(ctx context.Context, fn store.IterateFunc) error {
	g.entered <- struct{}{}
	<-g.release
	return g.Store.Iterate(ctx, fn)
}

type gatedBackends struct {
	inner   *testBackends
	slowUID string
	entered chan struct{}
	release chan struct{}
}

func (b *gatedBackends) LocalStore(uid string) store.Store {
	st := b.inner.LocalStore(uid)
	if uid == b.slowUID {
		return &gatedStore{Store: st, entered: b.entered, release: b.release}
	}
	return st
}

func (b *gatedBackends) NativeStore(dir capability.Directory) store.Store {
	return b.inner.NativeStore(dir)
}

// A load that finishes after a newer Open must not install its
// workspace over the newer one.
func TestSupersededOpenDoesNotInstall(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	reg := registry.New(db)

	slow, err := reg.Create(ctx, "slow", store.BackendLocal, registry.Metadata{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Create(ctx, "fast", store.BackendLocal, registry.Metadata{}); err != nil {
		t.Fatal(err)
	}

	backends := &gatedBackends{
		inner:   &testBackends{db: db},
		slowUID: slow.UID,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	c := New(reg, backends)

	done := make(chan error, 1)
	go func() { done <- c.Open(ctx, "slow") }()

	// First load is suspended inside its store; open another name.
	<-backends.entered
	if err := c.Open(ctx, "fast"); err != nil {
		t.Fatalf("Open(fast): %v", err)
	}

	close(backends.release)
	if err := <-done; err != nil {
		t.Fatalf("Open(slow): %v", err)
	}

	if c.State() != StateReady {
		t.Fatalf("state = %q, want ready", c.State())
	}
	if got := c.Workspace().Name(); got != "fast" {
		t.Errorf("live workspace = %q, want the later open to win", got)
	}
}

func TestMutateReplacesSnapshotAtomically(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	reg := registry.New(db)
	backends := &testBackends{db: db}

	if _, err := reg.Create(ctx, "notes", store.BackendLocal, registry.Metadata{}); err != nil {
		t.Fatal(err)
	}

	c := New(reg, backends)

	// Mutations outside ready are rejected.
	err := c.Mutate(func(w *workspace.Workspace) (*workspace.Workspace, error) {
		return w, nil
	})
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("Mutate before open: error = %v, want ErrNotReady", err)
	}

	if err := c.Open(ctx, "notes"); err != nil {
		t.Fatal(err)
	}

	err = c.Mutate(func(w *workspace.Workspace) (*workspace.Workspace, error) {
		next, _, err := w.CreateFile(ctx, "a.md", doc.NewText("alpha"))
		return next, err
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	if !c.Workspace().HasFile("a.md") {
		t.Error("mutation result not installed as the live snapshot")
	}
}
