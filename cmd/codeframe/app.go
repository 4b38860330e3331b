// Package main is codeframe's CLI: a thin adapter over the CORE packages
// (state store, event log, blockers, runtime, conductor, checkpoints,
// gates) — it owns no domain logic of its own, only argument parsing,
// workspace bootstrap, and output formatting.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/codeframe/codeframe/agent/gates"
	"github.com/codeframe/codeframe/agent/react"
	"github.com/codeframe/codeframe/agent/tools"
	"github.com/codeframe/codeframe/blockers"
	"github.com/codeframe/codeframe/checkpoints"
	"github.com/codeframe/codeframe/conductor"
	"github.com/codeframe/codeframe/internal/eventlog"
	"github.com/codeframe/codeframe/internal/store"
	"github.com/codeframe/codeframe/internal/wsconfig"
	"github.com/codeframe/codeframe/llm"
	"github.com/codeframe/codeframe/llm/openaicompat"
	"github.com/codeframe/codeframe/llm/tokencount"
	"github.com/codeframe/codeframe/runtime"
)

// exitUser/exitExternal/exitInterrupted are the CLI's process exit codes;
// 0 is the zero value and needs no constant.
const (
	exitUser        = 1
	exitExternal    = 2
	exitInterrupted = 130
)

// cliError carries the exit code a failure should surface with, distinguishing
// user error (1) from an external/infrastructure failure (2).
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }

func userErrorf(format string, args ...any) error {
	return &cliError{code: exitUser, err: fmt.Errorf(format, args...)}
}

func externalErrorf(format string, args ...any) error {
	return &cliError{code: exitExternal, err: fmt.Errorf(format, args...)}
}

// workspaceDir is the fixed directory name under a target repo that holds
// codeframe's state store, config, and checkpoints.
const workspaceDir = ".codeframe"

// App bundles every CORE collaborator the CLI drives. It is opened fresh
// for each invocation (the CORE is not a persistent server, per the
// Non-goals) and closed before main returns.
type App struct {
	RepoPath    string
	WSDir       string
	WorkspaceID string

	Store      *store.Store
	Events     *eventlog.Log
	Blockers   *blockers.Service
	Runtime    *runtime.Runtime
	Conductor  *conductor.Conductor
	Checkpoint *checkpoints.Store
	Supervisor *conductor.Supervisor
	Config     *wsconfig.Config
	Provider   llm.Provider
	Gates      []gates.Gate
	Logger     *zap.Logger

	pool *store.Pool
}

func statePath(wsDir string) string { return filepath.Join(wsDir, "state.db") }
func configPath(wsDir string) string { return filepath.Join(wsDir, "config.yaml") }

// findRepoRoot walks up from the current directory looking for .codeframe,
// the same "nearest ancestor" resolution git itself uses for .git.
func findRepoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, workspaceDir)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", userErrorf("no %s workspace found in %s or any parent directory (run 'codeframe init' first)", workspaceDir, dir)
		}
		dir = parent
	}
}

// openApp bootstraps the full dependency graph against an already
// initialized workspace.
func openApp(ctx context.Context) (*App, error) {
	repoPath, err := findRepoRoot()
	if err != nil {
		return nil, err
	}
	return openAppAt(repoPath)
}

func openAppAt(repoPath string) (*App, error) {
	wsDir := filepath.Join(repoPath, workspaceDir)
	logger := newLogger()

	migrator, err := store.NewMigrator(statePath(wsDir))
	if err != nil {
		return nil, externalErrorf("open state store: %s", err)
	}
	if err := migrator.Up(context.Background()); err != nil {
		migrator.Close()
		return nil, externalErrorf("migrate state store: %s", err)
	}
	migrator.Close()

	gdb, err := gorm.Open(sqlite.Open(statePath(wsDir)), &gorm.Config{})
	if err != nil {
		return nil, externalErrorf("open state store: %s", err)
	}
	pool, err := store.NewPool(gdb, store.DefaultPoolConfig(), logger)
	if err != nil {
		return nil, externalErrorf("open state store pool: %s", err)
	}
	st := store.New(pool)

	cfg, err := wsconfig.Load(configPath(wsDir))
	if err != nil {
		pool.Close()
		return nil, externalErrorf("load config: %s", err)
	}

	// A workspace's ID is its repo path: there is exactly one workspace per
	// state.db, so no separate lookup index is needed.
	workspaceID := repoPath
	if _, err := st.Workspaces.Get(context.Background(), workspaceID); err != nil {
		pool.Close()
		return nil, userErrorf("no workspace record for %s (state store and directory are out of sync — re-run 'codeframe init')", repoPath)
	}

	events := eventlog.New(st.Events)
	blockerSvc := blockers.New(st.Blockers, events)

	provider := buildProvider(logger)

	policy, err := tools.NewPathPolicy(repoPath)
	if err != nil {
		pool.Close()
		return nil, externalErrorf("build path policy: %s", err)
	}
	registry := buildToolRegistry(policy, cfg)
	model := envOr("CODEFRAME_LLM_MODEL", "gpt-4o-mini")
	counter, err := tokencount.New(model, 4096)
	if err != nil {
		pool.Close()
		return nil, externalErrorf("build token counter: %s", err)
	}

	gateList := buildGates(cfg, repoPath)

	agentConfig := react.DefaultConfig()
	agent := react.New(provider, registry, gateList, blockerSvc, events, counter, agentConfig, logger)

	builder := &contextBuilder{store: st, repoPath: repoPath, cfg: cfg}
	engines := map[string]runtime.Engine{runtime.DefaultEngine: agent}
	rt := runtime.New(st, events, blockerSvc, builder, engines, runtime.DefaultEngine, logger)

	supervisor := conductor.NewSupervisor(st.Decisions, blockerSvc, events)
	cond := conductor.New(st, events, rt, provider, supervisor, logger)

	cps := checkpoints.New(st.Checkpoints, st.Batches, repoPath, statePath(wsDir))

	return &App{
		RepoPath: repoPath, WSDir: wsDir, WorkspaceID: workspaceID,
		Store: st, Events: events, Blockers: blockerSvc, Runtime: rt,
		Conductor: cond, Checkpoint: cps, Supervisor: supervisor,
		Config: cfg, Provider: provider, Gates: gateList, Logger: logger, pool: pool,
	}, nil
}

func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	a.Logger.Sync()
}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// buildProvider constructs the LLM provider from environment variables.
// The CORE never imports a vendor SDK directly; this CLI-level adapter
// talks to any OpenAI-compatible endpoint over plain HTTP and wraps it
// with the retry/circuit-breaker behavior already implemented in
// llm.ResilientProvider.
func buildProvider(logger *zap.Logger) llm.Provider {
	model := envOr("CODEFRAME_LLM_MODEL", "gpt-4o-mini")
	base := openaicompat.New(openaicompat.Config{
		Name:         envOr("CODEFRAME_LLM_PROVIDER", "openai"),
		BaseURL:      envOr("CODEFRAME_LLM_BASE_URL", "https://api.openai.com"),
		APIKey:       os.Getenv("CODEFRAME_LLM_API_KEY"),
		DefaultModel: model,
		Timeout:      2 * time.Minute,
	})
	resilient := llm.NewResilientProvider(base, nil, logger)

	// Planning and dependency-inference purposes tend to fan out the most
	// (one call per task/PRD section); cap them separately so a busy batch
	// run can't starve the execution/review purposes sharing the same
	// provider and rate limit.
	limits := map[llm.Purpose]rate.Limit{
		llm.PurposePlanning:            rate.Limit(envFloat("CODEFRAME_LLM_QPS_PLANNING", 2)),
		llm.PurposeDependencyInference: rate.Limit(envFloat("CODEFRAME_LLM_QPS_PLANNING", 2)),
	}
	models := map[llm.Purpose]string{}
	return llm.NewPurposeRouter(resilient, models, model, limits, logger)
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func buildToolRegistry(policy *tools.PathPolicy, cfg *wsconfig.Config) *tools.Registry {
	registry := tools.NewRegistry(nil)
	registry.Register("read_file", tools.NewReadFile(policy), tools.Metadata{Schema: tools.ReadFileSchema})
	registry.Register("list_files", tools.NewListFiles(policy), tools.Metadata{Schema: tools.ListFilesSchema})
	registry.Register("search_codebase", tools.NewSearchCodebase(policy), tools.Metadata{Schema: tools.SearchCodebaseSchema})
	registry.Register("create_file", tools.NewCreateFile(policy), tools.Metadata{Schema: tools.CreateFileSchema})
	registry.Register("edit_file", tools.NewEditFile(policy), tools.Metadata{Schema: tools.EditFileSchema})
	registry.Register("run_tests", tools.NewRunTests(policy, cfg.TestCommand, 2*time.Minute), tools.Metadata{
		Schema: tools.RunTestsSchema, Timeout: 2 * time.Minute,
	})
	registry.Register("run_command", tools.NewRunCommand(policy, 2*time.Minute), tools.Metadata{Schema: tools.RunCommandSchema, Timeout: 2 * time.Minute})
	return registry
}

func buildGates(cfg *wsconfig.Config, repoPath string) []gates.Gate {
	var gateList []gates.Gate
	if cfg.TestCommand != "" {
		gateList = append(gateList, gates.NewCommandGate("test", cfg.TestCommand, "", repoPath, 3*time.Minute, commandBinary(cfg.TestCommand)))
	}
	if cfg.LintCommand != "" {
		gateList = append(gateList, gates.NewCommandGate("lint", cfg.LintCommand, "", repoPath, 2*time.Minute, commandBinary(cfg.LintCommand)))
	}
	return gateList
}

// commandBinary returns the program a gate's configured command will
// invoke, so CommandGate.IsAvailable can confirm it's on PATH before
// running it — e.g. "pytest" for "pytest -q", "go" for "go test ./...".
func commandBinary(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
