package native

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/quillfs/quillfs/pkg/capability"
	"github.com/quillfs/quillfs/pkg/capability/osdir"
	"github.com/quillfs/quillfs/pkg/store"
)

// seedTree writes files (relative slash paths) under base.
func seedTree(t *testing.T, base string, files ...string) {
	t.Helper()
	for _, file := range files {
		full := filepath.Join(base, filepath.FromSlash(file))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("# "+file+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func openRoot(t *testing.T, base string) capability.Directory {
	t.Helper()
	root, err := osdir.New(base)
	if err != nil {
		t.Fatal(err)
	}
	return root
}

func chainPaths(chains []HandleChain) []string {
	out := make([]string, 0, len(chains))
	for _, c := range chains {
		out = append(out, c.Path())
	}
	return out
}

func TestWalkerList(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	seedTree(t, base,
		"readme.md",
		"notes/todo.md",
		"notes/deep/idea.md",
		"notes/skip.txt",
		".git/config.md",
		"node_modules/dep/index.md",
	)

	root := openRoot(t, base)
	w := NewWalker()

	chains, err := w.List(ctx, root, ListOptions{
		AllowedFile: func(name string) bool { return filepath.Ext(name) == ".md" },
		AllowedDir: func(name string) bool {
			return name[0] != '.' && name != "node_modules"
		},
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	got := chainPaths(chains)
	want := map[string]bool{
		"readme.md":          true,
		"notes/todo.md":      true,
		"notes/deep/idea.md": true,
	}
	if len(got) != len(want) {
		t.Fatalf("List = %v, want keys %v", got, want)
	}
	for _, p := range got {
		if !want[p] {
			t.Errorf("unexpected listing entry %q", p)
		}
	}
}

func TestWalkerGetHandle(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	seedTree(t, base, "notes/todo.md")

	root := openRoot(t, base)
	w := NewWalker()

	file, err := w.GetHandle(ctx, root, []string{"notes", "todo.md"})
	if err != nil {
		t.Fatalf("GetHandle: %v", err)
	}
	if file.Name() != "todo.md" {
		t.Errorf("leaf name = %q", file.Name())
	}

	if _, err := w.GetHandle(ctx, root, []string{"notes", "missing.md"}); !errors.Is(err, store.ErrFileNotFound) {
		t.Errorf("absent leaf: error = %v, want ErrFileNotFound", err)
	}
	if _, err := w.GetHandle(ctx, root, []string{"nope", "todo.md"}); !errors.Is(err, store.ErrFileNotFound) {
		t.Errorf("absent intermediate: error = %v, want ErrFileNotFound", err)
	}
	if _, err := w.GetHandle(ctx, root, []string{"notes", "todo.md", "x"}); !errors.Is(err, store.ErrNotADirectory) {
		t.Errorf("file as intermediate: error = %v, want ErrNotADirectory", err)
	}
	if _, err := w.GetHandle(ctx, root, []string{"notes"}); !errors.Is(err, store.ErrFileNotFound) {
		t.Errorf("directory leaf: error = %v, want ErrFileNotFound", err)
	}
}

func TestWalkerCacheAndInvalidation(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	seedTree(t, base, "a.md")

	root := openRoot(t, base)
	w := NewWalker()

	if _, err := w.GetHandle(ctx, root, []string{"a.md"}); err != nil {
		t.Fatal(err)
	}

	// A file created behind the walker's back is invisible while the
	// cached child list is live.
	if err := os.WriteFile(filepath.Join(base, "b.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := w.GetHandle(ctx, root, []string{"b.md"}); !errors.Is(err, store.ErrFileNotFound) {
		t.Fatalf("expected stale cache to hide b.md, got %v", err)
	}

	// A mutation through the walker invalidates the parent, and the
	// fresh listing picks up both files.
	if _, err := w.CreatePath(ctx, root, []string{"c.md"}); err != nil {
		t.Fatal(err)
	}
	if _, err := w.GetHandle(ctx, root, []string{"b.md"}); err != nil {
		t.Errorf("b.md still hidden after invalidation: %v", err)
	}
}

func TestWalkerCreateAndRemove(t *testing.T) {
	ctx := context.Background()
	root := openRoot(t, t.TempDir())
	w := NewWalker()

	file, err := w.CreatePath(ctx, root, []string{"deep", "nested", "x.md"})
	if err != nil {
		t.Fatalf("CreatePath: %v", err)
	}
	if err := file.Write(ctx, []byte("# x\n")); err != nil {
		t.Fatal(err)
	}

	// Idempotent on the directory chain.
	if _, err := w.CreatePath(ctx, root, []string{"deep", "nested", "y.md"}); err != nil {
		t.Fatalf("second CreatePath: %v", err)
	}

	if err := w.Remove(ctx, root, []string{"deep", "nested", "x.md"}); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := w.GetHandle(ctx, root, []string{"deep", "nested", "x.md"}); !errors.Is(err, store.ErrFileNotFound) {
		t.Errorf("removed file still resolves: %v", err)
	}
	if err := w.Remove(ctx, root, []string{"deep", "nested", "x.md"}); !errors.Is(err, store.ErrFileNotFound) {
		t.Errorf("second Remove: error = %v, want ErrFileNotFound", err)
	}
}

func TestWalkerPermissionDenied(t *testing.T) {
	ctx := context.Background()
	root, err := osdir.New(t.TempDir(), osdir.WithState(capability.StateDenied))
	if err != nil {
		t.Fatal(err)
	}

	w := NewWalker()
	if _, err := w.List(ctx, root, ListOptions{}); !errors.Is(err, store.ErrPermission) {
		t.Errorf("List while denied: error = %v, want ErrPermission", err)
	}
}
