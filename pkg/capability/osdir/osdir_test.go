package osdir

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/quillfs/quillfs/pkg/capability"
)

func TestNewValidatesTarget(t *testing.T) {
	t.Run("missing path", func(t *testing.T) {
		_, err := New(filepath.Join(t.TempDir(), "nope"))
		if !errors.Is(err, capability.ErrInvalidCapability) {
			t.Errorf("error = %v, want ErrInvalidCapability", err)
		}
	})

	t.Run("file instead of directory", func(t *testing.T) {
		dir := t.TempDir()
		file := filepath.Join(dir, "f.md")
		if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := New(file)
		if !errors.Is(err, capability.ErrInvalidCapability) {
			t.Errorf("error = %v, want ErrInvalidCapability", err)
		}
	})
}

func TestChildIdentityIsStable(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "notes"), 0o755); err != nil {
		t.Fatal(err)
	}

	root, err := New(base)
	if err != nil {
		t.Fatal(err)
	}

	first, err := root.Child(ctx, "notes")
	if err != nil {
		t.Fatal(err)
	}
	second, err := root.Child(ctx, "notes")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("repeated Child lookups returned distinct handles")
	}

	children, err := root.Children(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0] != first {
		t.Error("Children returned a different handle than Child")
	}
}

func TestCreateAndReadWrite(t *testing.T) {
	ctx := context.Background()
	root, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	sub, err := root.CreateDirectory(ctx, "a")
	if err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	// Idempotent: creating again reuses the directory.
	again, err := root.CreateDirectory(ctx, "a")
	if err != nil {
		t.Fatalf("second CreateDirectory: %v", err)
	}
	if capability.Handle(sub) != capability.Handle(again) {
		t.Error("CreateDirectory recreated an existing directory handle")
	}

	file, err := sub.CreateFile(ctx, "x.md")
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := file.Write(ctx, []byte("# hi\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := file.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "# hi\n" {
		t.Errorf("Read = %q", data)
	}

	if _, err := file.LastModified(ctx); err != nil {
		t.Errorf("LastModified: %v", err)
	}

	if err := sub.Remove(ctx, "x.md"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := sub.Child(ctx, "x.md"); !errors.Is(err, capability.ErrEntryNotFound) {
		t.Errorf("Child after remove: error = %v, want ErrEntryNotFound", err)
	}
	if err := sub.Remove(ctx, "x.md"); !errors.Is(err, capability.ErrEntryNotFound) {
		t.Errorf("Remove of absent entry: error = %v, want ErrEntryNotFound", err)
	}
}

func TestPermissionLifecycle(t *testing.T) {
	ctx := context.Background()

	// Deny on the first prompt, grant on the second.
	prompts := 0
	granter := GranterFunc(func(context.Context, string) (bool, error) {
		prompts++
		return prompts > 1, nil
	})

	root, err := New(t.TempDir(), WithState(capability.StateUnknown), WithGranter(granter))
	if err != nil {
		t.Fatal(err)
	}

	// unknown resolves to denied on first query.
	state, err := root.QueryPermission(ctx)
	if err != nil || state != capability.StateDenied {
		t.Fatalf("QueryPermission = (%v, %v), want denied", state, err)
	}

	if _, err := root.Children(ctx); !errors.Is(err, capability.ErrPermissionDenied) {
		t.Errorf("Children while denied: error = %v, want ErrPermissionDenied", err)
	}

	state, err = root.RequestPermission(ctx)
	if err != nil || state != capability.StateDenied {
		t.Fatalf("first RequestPermission = (%v, %v), want denied", state, err)
	}

	state, err = root.RequestPermission(ctx)
	if err != nil || state != capability.StateGranted {
		t.Fatalf("second RequestPermission = (%v, %v), want granted", state, err)
	}

	if _, err := root.Children(ctx); err != nil {
		t.Errorf("Children after grant: %v", err)
	}

	// Revocation flips the whole tree back to denied.
	Revoke(root)
	if _, err := root.Children(ctx); !errors.Is(err, capability.ErrPermissionDenied) {
		t.Errorf("Children after revoke: error = %v, want ErrPermissionDenied", err)
	}
}
