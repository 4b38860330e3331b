package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/codeframe/codeframe/agent/react"
	"github.com/codeframe/codeframe/internal/store"
	"github.com/codeframe/codeframe/runtime"
)

func runWork(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return userErrorf("usage: codeframe work <start|stop|resume|follow|batch> ...")
	}
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	switch args[0] {
	case "start":
		return workStart(ctx, app, args[1:])
	case "stop":
		return workStop(app, args[1:])
	case "resume":
		return workResume(ctx, app, args[1:])
	case "follow":
		return workFollow(ctx, app, args[1:])
	case "batch":
		return workBatch(ctx, app, args[1:])
	default:
		return userErrorf("unknown work subcommand: %s", args[0])
	}
}

func engineFlag(args []string) string {
	if v, ok := flagValue(args, "--engine"); ok {
		return v
	}
	return runtime.DefaultEngine
}

func workStart(ctx context.Context, app *App, args []string) error {
	if len(args) < 1 {
		return userErrorf("usage: codeframe work start <id> [--engine react|plan]")
	}
	run, outcome, err := app.Runtime.StartRun(ctx, app.WorkspaceID, args[0], engineFlag(args[1:]))
	if err != nil {
		return externalErrorf("start run: %s", err)
	}
	printRunOutcome(run, outcome)
	return nil
}

func workStop(app *App, args []string) error {
	if len(args) < 1 {
		return userErrorf("usage: codeframe work stop <id>")
	}
	if err := app.Runtime.StopRun(args[0]); err != nil {
		return userErrorf("%s", err)
	}
	fmt.Printf("stop requested for task %s\n", args[0])
	return nil
}

func workResume(ctx context.Context, app *App, args []string) error {
	if len(args) < 1 {
		return userErrorf("usage: codeframe work resume <id>")
	}
	run, outcome, err := app.Runtime.ResumeRun(ctx, app.WorkspaceID, args[0], engineFlag(args[1:]))
	if err != nil {
		return externalErrorf("resume run: %s", err)
	}
	printRunOutcome(run, outcome)
	return nil
}

// workFollow prints the run's terminal state; the CORE's Engine.Run blocks
// to completion rather than detaching into a background goroutine the CLI
// could poll (no persistent-server Non-goal), so "follow" after a run has
// already finished is just a status read.
func workFollow(ctx context.Context, app *App, args []string) error {
	if len(args) < 1 {
		return userErrorf("usage: codeframe work follow <id>")
	}
	t, err := app.Store.Tasks.Get(ctx, args[0])
	if err != nil {
		return userErrorf("no task with id %s", args[0])
	}
	runs, err := app.Store.Runs.ListByTask(ctx, t.ID)
	if err != nil {
		return externalErrorf("list runs: %s", err)
	}
	if len(runs) == 0 {
		fmt.Printf("task %s: %s, no runs yet\n", t.ID, t.Status)
		return nil
	}
	last := runs[len(runs)-1]
	fmt.Printf("task %s: %s\nlast run %s: %s\n", t.ID, t.Status, last.ID, last.Status)
	if last.FinalSummary != "" {
		fmt.Println(last.FinalSummary)
	}
	return nil
}

func printRunOutcome(run *store.Run, outcome react.RunOutcome) {
	fmt.Printf("run %s: %s (%s)\n", run.ID, run.Status, outcome.Kind)
	if outcome.Summary != "" {
		fmt.Println(outcome.Summary)
	}
	if outcome.Reason != "" {
		fmt.Println("reason:", outcome.Reason)
	}
}

func workBatch(ctx context.Context, app *App, args []string) error {
	if len(args) < 1 {
		return userErrorf("usage: codeframe work batch <run|status|cancel|resume> ...")
	}
	switch args[0] {
	case "run":
		return batchRun(ctx, app, args[1:])
	case "status":
		return batchStatus(ctx, app, args[1:])
	case "cancel":
		return batchCancel(app, args[1:])
	case "resume":
		return batchResume(ctx, app, args[1:])
	default:
		return userErrorf("unknown work batch subcommand: %s", args[0])
	}
}

func batchRun(ctx context.Context, app *App, args []string) error {
	var taskIDs []string
	allReady := hasFlag(args, "--all-ready")
	if allReady {
		tasks, err := app.Store.Tasks.ListByWorkspace(ctx, app.WorkspaceID, store.TaskReady)
		if err != nil {
			return externalErrorf("list ready tasks: %s", err)
		}
		for _, t := range tasks {
			taskIDs = append(taskIDs, t.ID)
		}
	} else {
		for _, a := range args {
			if strings.HasPrefix(a, "--") {
				continue
			}
			taskIDs = append(taskIDs, a)
		}
	}
	if len(taskIDs) == 0 {
		return userErrorf("no tasks to run (pass ids or --all-ready)")
	}

	strategy := store.StrategyAuto
	if v, ok := flagValue(args, "--strategy"); ok {
		strategy = store.BatchStrategy(strings.ToUpper(v))
	}
	maxParallel := 4
	if v, ok := flagValue(args, "--max-parallel"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			maxParallel = n
		}
	}
	onFailure := store.OnFailureStop
	if v, ok := flagValue(args, "--on-failure"); ok && strings.EqualFold(v, "continue") {
		onFailure = store.OnFailureContinue
	}
	retry := 0
	if v, ok := flagValue(args, "--retry"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			retry = n
		}
	}
	if hasFlag(args, "--dry-run") {
		fmt.Printf("would run %d tasks with strategy=%s max_parallel=%d on_failure=%s retry=%d\n",
			len(taskIDs), strategy, maxParallel, onFailure, retry)
		return nil
	}

	batch, err := app.Conductor.StartBatch(ctx, app.WorkspaceID, taskIDs, strategy, maxParallel, onFailure, retry, nil)
	if err != nil {
		return externalErrorf("start batch: %s", err)
	}
	fmt.Printf("batch %s: %s\n", batch.ID, batch.Status)
	return nil
}

func batchStatus(ctx context.Context, app *App, args []string) error {
	if len(args) < 1 {
		batches, err := app.Store.Batches.ListByWorkspace(ctx, app.WorkspaceID)
		if err != nil {
			return externalErrorf("list batches: %s", err)
		}
		for _, b := range batches {
			fmt.Printf("%s  %s  %s\n", b.ID, b.Status, b.Strategy)
		}
		return nil
	}
	b, err := app.Store.Batches.Get(ctx, args[0])
	if err != nil {
		return userErrorf("no batch with id %s", args[0])
	}
	fmt.Printf("%s  %s  %s  max_parallel=%d on_failure=%s\n", b.ID, b.Status, b.Strategy, b.MaxParallel, b.OnFailure)
	return nil
}

func batchCancel(app *App, args []string) error {
	if len(args) < 1 {
		return userErrorf("usage: codeframe work batch cancel <id>")
	}
	if err := app.Conductor.CancelBatch(args[0]); err != nil {
		return userErrorf("%s", err)
	}
	fmt.Printf("cancel requested for batch %s\n", args[0])
	return nil
}

func batchResume(ctx context.Context, app *App, args []string) error {
	if len(args) < 1 {
		return userErrorf("usage: codeframe work batch resume <id> [--force]")
	}
	force := hasFlag(args[1:], "--force")
	batch, err := app.Conductor.ResumeBatch(ctx, args[0], force)
	if err != nil {
		return externalErrorf("resume batch: %s", err)
	}
	fmt.Printf("batch %s: %s\n", batch.ID, batch.Status)
	return nil
}
