package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/codeframe/codeframe/internal/store"
	"github.com/codeframe/codeframe/internal/wsconfig"
)

func runInit(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return userErrorf("usage: codeframe init <path>")
	}
	repoPath, err := filepath.Abs(args[0])
	if err != nil {
		return userErrorf("resolve path: %s", err)
	}
	if err := os.MkdirAll(repoPath, 0o755); err != nil {
		return externalErrorf("create repo directory: %s", err)
	}
	wsDir := filepath.Join(repoPath, workspaceDir)
	if _, err := os.Stat(wsDir); err == nil {
		return userErrorf("%s already initialized", repoPath)
	}
	if err := os.MkdirAll(filepath.Join(wsDir, "logs"), 0o755); err != nil {
		return externalErrorf("create workspace directory: %s", err)
	}

	migrator, err := store.NewMigrator(statePath(wsDir))
	if err != nil {
		return externalErrorf("open state store: %s", err)
	}
	defer migrator.Close()
	if err := migrator.Up(ctx); err != nil {
		return externalErrorf("migrate state store: %s", err)
	}

	gdb, err := gorm.Open(sqlite.Open(statePath(wsDir)), &gorm.Config{})
	if err != nil {
		return externalErrorf("open state store: %s", err)
	}
	pool, err := store.NewPool(gdb, store.DefaultPoolConfig(), nil)
	if err != nil {
		return externalErrorf("open state store pool: %s", err)
	}
	defer pool.Close()
	st := store.New(pool)

	if err := st.Workspaces.Create(ctx, &store.Workspace{
		ID: repoPath, RepoPath: repoPath, CreatedAt: time.Now().UTC(),
	}); err != nil {
		return externalErrorf("create workspace record: %s", err)
	}

	cfg, _ := wsconfig.Detect(repoPath)
	if err := cfg.Save(configPath(wsDir)); err != nil {
		return externalErrorf("write config.yaml: %s", err)
	}

	fmt.Printf("initialized codeframe workspace at %s\n", repoPath)
	return nil
}

func runStatus(ctx context.Context, args []string) error {
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	tasks, err := app.Store.Tasks.ListByWorkspace(ctx, app.WorkspaceID, "")
	if err != nil {
		return externalErrorf("list tasks: %s", err)
	}
	counts := map[store.TaskStatus]int{}
	for _, t := range tasks {
		counts[t.Status]++
	}
	blockerList, err := app.Blockers.ListOpen(ctx, app.WorkspaceID)
	if err != nil {
		return externalErrorf("list blockers: %s", err)
	}

	fmt.Printf("workspace: %s\n", app.RepoPath)
	fmt.Printf("tasks: %d total\n", len(tasks))
	for _, status := range []store.TaskStatus{
		store.TaskBacklog, store.TaskReady, store.TaskInProgress,
		store.TaskBlocked, store.TaskDone, store.TaskFailed, store.TaskMerged,
	} {
		if counts[status] > 0 {
			fmt.Printf("  %-12s %d\n", status, counts[status])
		}
	}
	fmt.Printf("open blockers: %d\n", len(blockerList))
	return nil
}

func runSummary(ctx context.Context, args []string) error {
	return runStatus(ctx, args)
}

func runConfig(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return userErrorf("usage: codeframe config <init|show|set> ...")
	}
	repoPath, err := findRepoRoot()
	if err != nil {
		return err
	}
	wsDir := filepath.Join(repoPath, workspaceDir)

	switch args[0] {
	case "init":
		detect := hasFlag(args[1:], "--detect")
		force := hasFlag(args[1:], "--force")
		if _, err := os.Stat(configPath(wsDir)); err == nil && !force {
			return userErrorf("config.yaml already exists (use --force to overwrite)")
		}
		var cfg *wsconfig.Config
		if detect {
			cfg, err = wsconfig.Detect(repoPath)
		} else {
			cfg = &wsconfig.Config{Extra: map[string]any{}}
		}
		if err != nil {
			return externalErrorf("detect config: %s", err)
		}
		if err := cfg.Save(configPath(wsDir)); err != nil {
			return externalErrorf("write config.yaml: %s", err)
		}
		fmt.Println("wrote config.yaml")
		return nil

	case "show":
		cfg, err := wsconfig.Load(configPath(wsDir))
		if err != nil {
			return externalErrorf("load config: %s", err)
		}
		fmt.Printf("package_manager: %s\n", cfg.PackageManager)
		fmt.Printf("python_version: %s\n", cfg.PythonVersion)
		fmt.Printf("test_framework: %s\n", cfg.TestFramework)
		fmt.Printf("test_command: %s\n", cfg.TestCommand)
		fmt.Printf("lint_command: %s\n", cfg.LintCommand)
		return nil

	case "set":
		if len(args) < 3 {
			return userErrorf("usage: codeframe config set <key> <value>")
		}
		cfg, err := wsconfig.Load(configPath(wsDir))
		if err != nil {
			return externalErrorf("load config: %s", err)
		}
		if err := cfg.Set(args[1], args[2]); err != nil {
			return userErrorf("%s", err)
		}
		if err := cfg.Save(configPath(wsDir)); err != nil {
			return externalErrorf("save config: %s", err)
		}
		fmt.Printf("%s = %s\n", args[1], args[2])
		return nil

	default:
		return userErrorf("unknown config subcommand: %s", args[0])
	}
}

func hasFlag(args []string, name string) bool {
	for _, a := range args {
		if a == name {
			return true
		}
	}
	return false
}

func flagValue(args []string, name string) (string, bool) {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}
