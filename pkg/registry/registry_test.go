package registry

import (
	"context"
	"errors"
	"testing"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/quillfs/quillfs/pkg/capability"
	"github.com/quillfs/quillfs/pkg/capability/osdir"
	"github.com/quillfs/quillfs/pkg/store"
)

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

func TestValidUID(t *testing.T) {
	cases := []struct {
		uid  string
		want bool
	}{
		{"local_a1b2c3", true},
		{"native_xyz123", true},
		{"local_", false},
		{"s3_a1b2c3", false},
		{"local", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := ValidUID(tc.uid); got != tc.want {
			t.Errorf("ValidUID(%q) = %v, want %v", tc.uid, got, tc.want)
		}
	}
}

func TestNewUIDEncodesBackend(t *testing.T) {
	uid := NewUID(store.BackendNative)
	if !ValidUID(uid) {
		t.Fatalf("generated uid %q is invalid", uid)
	}
	if (Entry{UID: uid}).Backend() != store.BackendNative {
		t.Errorf("backend not recoverable from %q", uid)
	}
}

func TestCreateGetRemove(t *testing.T) {
	ctx := context.Background()
	r := New(openTestDB(t))

	entry, err := r.Create(ctx, "notes", store.BackendLocal, Metadata{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := r.Get(ctx, entry.UID)
	if err != nil || got.Name != "notes" {
		t.Fatalf("Get = (%+v, %v)", got, err)
	}

	// Names are unique across backends.
	if _, err := r.Create(ctx, "notes", store.BackendNative, Metadata{NativePath: "/tmp/x"}); !errors.Is(err, ErrWorkspaceExists) {
		t.Errorf("duplicate create: error = %v, want ErrWorkspaceExists", err)
	}

	if err := r.Remove(ctx, entry.UID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := r.Get(ctx, entry.UID); !errors.Is(err, ErrWorkspaceNotFound) {
		t.Errorf("Get after remove: error = %v, want ErrWorkspaceNotFound", err)
	}
	if err := r.Remove(ctx, entry.UID); !errors.Is(err, ErrWorkspaceNotFound) {
		t.Errorf("second Remove: error = %v, want ErrWorkspaceNotFound", err)
	}
}

func TestListOrdering(t *testing.T) {
	ctx := context.Background()
	r := New(openTestDB(t))

	undated := Entry{UID: "native_undat1", Name: "undated"}
	recent := Entry{UID: "local_recent", Name: "recent", Metadata: Metadata{LastModified: 300}}
	older := Entry{UID: "local_older1", Name: "older", Metadata: Metadata{LastModified: 100}}

	for _, e := range []Entry{undated, recent, older} {
		if err := r.Update(ctx, e); err != nil {
			t.Fatalf("Update(%q): %v", e.UID, err)
		}
	}

	entries, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	want := []string{"recent", "older", "undated"}
	if len(entries) != len(want) {
		t.Fatalf("List returned %d entries, want %d", len(entries), len(want))
	}
	for i, name := range want {
		if entries[i].Name != name {
			t.Errorf("entries[%d] = %q, want %q", i, entries[i].Name, name)
		}
	}
}

func TestListCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	r := New(openTestDB(t))

	if _, err := r.Create(ctx, "one", store.BackendLocal, Metadata{}); err != nil {
		t.Fatal(err)
	}
	first, err := r.List(ctx)
	if err != nil || len(first) != 1 {
		t.Fatalf("List = (%v, %v)", first, err)
	}

	// A mutation after a cached listing must be visible immediately.
	if _, err := r.Create(ctx, "two", store.BackendLocal, Metadata{}); err != nil {
		t.Fatal(err)
	}
	second, err := r.List(ctx)
	if err != nil || len(second) != 2 {
		t.Fatalf("List after create = (%v, %v), want 2 entries", second, err)
	}
}

func TestUpdateRejectsMalformedEntries(t *testing.T) {
	ctx := context.Background()
	r := New(openTestDB(t))

	cases := []struct {
		name  string
		entry Entry
	}{
		{"missing uid", Entry{Name: "x"}},
		{"missing name", Entry{UID: "local_abc123"}},
		{"bad uid prefix", Entry{UID: "s3_abc123", Name: "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := r.Update(ctx, tc.entry); err == nil {
				t.Error("malformed entry accepted")
			}
		})
	}
}

func TestStrictDecodeRejectsUnknownFields(t *testing.T) {
	var entry Entry
	err := decodeEntry([]byte(`{"uid":"local_abc123","name":"x","metadata":{},"extra":1}`), &entry)
	if err == nil {
		t.Error("record with extra field accepted")
	}
}

func TestRenameAndTouch(t *testing.T) {
	ctx := context.Background()
	r := New(openTestDB(t))

	entry, err := r.Create(ctx, "before", store.BackendLocal, Metadata{})
	if err != nil {
		t.Fatal(err)
	}

	if err := r.Rename(ctx, entry.UID, "after"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	got, err := r.Get(ctx, entry.UID)
	if err != nil || got.Name != "after" {
		t.Fatalf("Get after rename = (%+v, %v)", got, err)
	}

	if err := r.Touch(ctx, entry.UID, 12345); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	got, _ = r.Get(ctx, entry.UID)
	if got.Metadata.LastModified != 12345 {
		t.Errorf("LastModified = %d after touch", got.Metadata.LastModified)
	}
}

func TestNeedsPermission(t *testing.T) {
	ctx := context.Background()

	t.Run("local never needs permission", func(t *testing.T) {
		r := New(openTestDB(t))
		need, err := r.NeedsPermission(ctx, Entry{UID: "local_abc123", Name: "x"})
		if err != nil || need {
			t.Errorf("NeedsPermission = (%v, %v), want (false, nil)", need, err)
		}
	})

	t.Run("native delegates to the gate", func(t *testing.T) {
		denied, err := osdir.New(t.TempDir(), osdir.WithState(capability.StateDenied))
		if err != nil {
			t.Fatal(err)
		}
		r := New(openTestDB(t), WithResolver(ResolverFunc(
			func(context.Context, Entry) (capability.Directory, error) {
				return denied, nil
			},
		)))

		need, err := r.NeedsPermission(ctx, Entry{UID: "native_abc123", Name: "x"})
		if err != nil || !need {
			t.Errorf("NeedsPermission(denied) = (%v, %v), want (true, nil)", need, err)
		}
	})

	t.Run("native without resolver fails fast", func(t *testing.T) {
		r := New(openTestDB(t))
		_, err := r.NeedsPermission(ctx, Entry{UID: "native_abc123", Name: "x"})
		if !errors.Is(err, capability.ErrInvalidCapability) {
			t.Errorf("error = %v, want ErrInvalidCapability", err)
		}
	})
}
