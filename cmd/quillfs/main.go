// Command quillfs is the command-line front end of the workspace
// storage engine.
//
// Usage:
//
//	quillfs [-config path] <command> [arguments]
//
// Commands:
//
//	list                          list known workspaces
//	create -name N [-dir PATH]    create a workspace (native when -dir is set)
//	delete -name N                delete a workspace and its stored files
//	rename -name N -to M          rename a workspace
//	files -name N                 list a workspace's files
//	cat WS:FILE                   print one file as markdown
//	write WS:FILE -text T         write markdown text into a file
//	rm WS:FILE                    delete one file
//	backup -name N                store a workspace backup in the sink
//	restore -backup N             restore a workspace from the sink
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/quillfs/quillfs/internal/logger"
	"github.com/quillfs/quillfs/pkg/config"
	"github.com/quillfs/quillfs/pkg/doc"
	"github.com/quillfs/quillfs/pkg/lifecycle"
	"github.com/quillfs/quillfs/pkg/registry"
	"github.com/quillfs/quillfs/pkg/store"
	"github.com/quillfs/quillfs/pkg/workspace"
	"github.com/quillfs/quillfs/pkg/wspath"
)

// app bundles the wired engine components the subcommands run against.
type app struct {
	cfg      *config.Config
	registry *registry.Registry
	backends *config.BackendSet
}

func main() {
	configPath := flag.String("config", "", "Path to config file (default: XDG config dir)")
	logLevel := flag.String("log-level", "", "Override the configured log level")
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quillfs: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if err := config.InitLogger(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "quillfs: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	config.InitMetrics(cfg.Metrics)

	db, err := config.OpenDatabase(cfg.Storage)
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
	defer db.Close()

	a := &app{
		cfg: cfg,
		registry: registry.New(db,
			registry.WithResolver(config.NewResolver())),
		backends: config.NewBackendSet(db, cfg.Native),
	}

	ctx := context.Background()
	if err := a.run(ctx, flag.Args()); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func (a *app) run(ctx context.Context, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "list":
		return a.runList(ctx)
	case "create":
		return a.runCreate(ctx, rest)
	case "delete":
		return a.runDelete(ctx, rest)
	case "rename":
		return a.runRename(ctx, rest)
	case "files":
		return a.runFiles(ctx, rest)
	case "cat":
		return a.runCat(ctx, rest)
	case "write":
		return a.runWrite(ctx, rest)
	case "rm":
		return a.runRm(ctx, rest)
	case "backup":
		return a.runBackup(ctx, rest)
	case "restore":
		return a.runRestore(ctx, rest)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// open drives the lifecycle controller to a ready workspace, prompting
// through the permission gate when the native backend requires it.
func (a *app) open(ctx context.Context, name string) (*workspace.Workspace, error) {
	c := lifecycle.New(a.registry, a.backends)
	if err := c.Open(ctx, name); err != nil {
		return nil, err
	}

	if c.State() == lifecycle.StatePermissionNeeded {
		granted, err := c.RequestAccess(ctx)
		if err != nil {
			return nil, err
		}
		if !granted {
			return nil, fmt.Errorf("permission to %q was declined", name)
		}
	}

	ws := c.Workspace()
	if ws == nil {
		return nil, fmt.Errorf("workspace %q did not become ready: %w", name, c.Err())
	}
	return ws, nil
}

func (a *app) runList(ctx context.Context) error {
	entries, err := a.registry.List(ctx)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("no workspaces")
		return nil
	}
	for _, entry := range entries {
		line := fmt.Sprintf("%-20s %-8s %s", entry.Name, entry.Backend(), entry.UID)
		if entry.Metadata.LastModified != 0 {
			line += "  " + time.UnixMilli(entry.Metadata.LastModified).Format(time.RFC3339)
		}
		fmt.Println(line)
	}
	return nil
}

func (a *app) runCreate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	name := fs.String("name", "", "Workspace name")
	dir := fs.String("dir", "", "Native directory (omit for a local workspace)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("create: -name is required")
	}
	if !wspath.ValidWorkspaceName(*name) {
		return fmt.Errorf("create: invalid workspace name %q", *name)
	}

	backend := store.BackendLocal
	metadata := registry.Metadata{}
	if *dir != "" {
		backend = store.BackendNative
		metadata.NativePath = *dir
	}

	entry, err := a.registry.Create(ctx, *name, backend, metadata)
	if err != nil {
		return err
	}

	fmt.Printf("created %s workspace %q (%s)\n", backend, *name, entry.UID)
	return nil
}

func (a *app) runDelete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	name := fs.String("name", "", "Workspace name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("delete: -name is required")
	}

	ws, err := a.open(ctx, *name)
	if err != nil {
		return err
	}
	if err := ws.Delete(ctx); err != nil {
		return err
	}

	fmt.Printf("deleted workspace %q\n", *name)
	return nil
}

func (a *app) runRename(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rename", flag.ExitOnError)
	name := fs.String("name", "", "Current workspace name")
	to := fs.String("to", "", "New workspace name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *to == "" {
		return fmt.Errorf("rename: -name and -to are required")
	}
	if !wspath.ValidWorkspaceName(*to) {
		return fmt.Errorf("rename: invalid workspace name %q", *to)
	}

	ws, err := a.open(ctx, *name)
	if err != nil {
		return err
	}
	if err := ws.Rename(ctx, *to); err != nil {
		return err
	}

	fmt.Printf("renamed %q to %q\n", *name, *to)
	return nil
}

func (a *app) runFiles(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("files", flag.ExitOnError)
	name := fs.String("name", "", "Workspace name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("files: -name is required")
	}

	ws, err := a.open(ctx, *name)
	if err != nil {
		return err
	}

	latest := ws.GetLastModifiedFile()
	for _, f := range ws.Files() {
		marker := " "
		if latest != nil && f.DocName() == latest.DocName() {
			marker = "*"
		}
		fmt.Printf("%s %-40s %s\n", marker, f.DocName(),
			time.UnixMilli(f.LastModified()).Format(time.RFC3339))
	}
	return nil
}

func (a *app) runCat(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("cat: expected exactly one WS:FILE argument")
	}

	resolved, err := wspath.Resolve(args[0])
	if err != nil {
		return err
	}

	ws, err := a.open(ctx, resolved.WorkspaceName)
	if err != nil {
		return err
	}

	file := ws.GetFile(resolved.FilePath)
	if file == nil {
		return fmt.Errorf("%q: %w", args[0], store.ErrFileNotFound)
	}

	d := file.Doc()
	if d == nil {
		return nil
	}
	text, err := doc.ToText(d)
	if err != nil {
		return err
	}
	fmt.Print(text)
	return nil
}

func (a *app) runWrite(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("write: expected a WS:FILE argument")
	}
	target := args[0]

	fs := flag.NewFlagSet("write", flag.ExitOnError)
	text := fs.String("text", "", "Markdown text to store")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	resolved, err := wspath.Resolve(target)
	if err != nil {
		return err
	}

	d, err := doc.FromText(*text)
	if err != nil {
		return err
	}

	ws, err := a.open(ctx, resolved.WorkspaceName)
	if err != nil {
		return err
	}

	if file := ws.GetFile(resolved.FilePath); file != nil {
		_, err = file.UpdateDoc(ctx, d)
		return err
	}

	file, err := workspace.CreateFile(ctx, ws.Store(), resolved.FilePath, d)
	if err != nil {
		return err
	}

	full, err := wspath.Join(resolved.WorkspaceName, file.DocName())
	if err != nil {
		full = file.DocName()
	}
	fmt.Printf("created %s\n", full)
	return nil
}

func (a *app) runRm(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("rm: expected exactly one WS:FILE argument")
	}

	resolved, err := wspath.Resolve(args[0])
	if err != nil {
		return err
	}

	ws, err := a.open(ctx, resolved.WorkspaceName)
	if err != nil {
		return err
	}

	if _, err := ws.DeleteFile(ctx, resolved.FilePath); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", args[0])
	return nil
}

func (a *app) runBackup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	name := fs.String("name", "", "Workspace name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("backup: -name is required")
	}

	sink, err := config.CreateBackupSink(ctx, a.cfg.Backup)
	if err != nil {
		return err
	}

	ws, err := a.open(ctx, *name)
	if err != nil {
		return err
	}

	data, err := ws.DownloadBackup().Encode()
	if err != nil {
		return err
	}
	if err := sink.Put(ctx, *name, data); err != nil {
		return err
	}

	fmt.Printf("backed up workspace %q (%d files)\n", *name, len(ws.Files()))
	return nil
}

func (a *app) runRestore(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	backupName := fs.String("backup", "", "Backup name in the sink")
	name := fs.String("name", "", "Name for the restored workspace (default: the backup's name)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *backupName == "" {
		return fmt.Errorf("restore: -backup is required")
	}

	sink, err := config.CreateBackupSink(ctx, a.cfg.Backup)
	if err != nil {
		return err
	}

	data, err := sink.Get(ctx, *backupName)
	if err != nil {
		return err
	}
	parsed, err := workspace.ParseBackup(data)
	if err != nil {
		return err
	}
	if *name != "" {
		parsed.Name = *name
	}

	// Restores always land on the local backend; a native workspace
	// can be recreated from there by the user.
	entry, err := a.registry.Create(ctx, parsed.Name, store.BackendLocal, registry.Metadata{
		LastModified: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	ws, err := workspace.RestoreFromBackup(ctx, parsed, entry.UID,
		a.backends.LocalStore(entry.UID), a.registry)
	if err != nil {
		return err
	}

	fmt.Printf("restored workspace %q (%d files)\n", ws.Name(), len(ws.Files()))
	return nil
}
