package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitUser)
	}

	err := dispatch(ctx, os.Args[1], os.Args[2:])
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "interrupted")
		os.Exit(exitInterrupted)
	}

	var cliErr *cliError
	if errors.As(err, &cliErr) {
		fmt.Fprintln(os.Stderr, cliErr.Error())
		os.Exit(cliErr.code)
	}
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(exitExternal)
}

func dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "init":
		return runInit(ctx, args)
	case "status":
		return runStatus(ctx, args)
	case "summary":
		return runSummary(ctx, args)
	case "config":
		return runConfig(ctx, args)
	case "prd":
		return runPRD(ctx, args)
	case "tasks":
		return runTasks(ctx, args)
	case "work":
		return runWork(ctx, args)
	case "events":
		return runEvents(ctx, args)
	case "blocker":
		return runBlocker(ctx, args)
	case "review", "gates":
		return runReview(ctx, args)
	case "patch":
		return runPatch(ctx, args)
	case "commit":
		return runCommit(ctx, args)
	case "checkpoint":
		return runCheckpoint(ctx, args)
	case "version":
		printVersion()
		return nil
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return userErrorf("unknown command: %s", cmd)
	}
}

func printVersion() {
	fmt.Printf("codeframe %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
}

func printUsage() {
	fmt.Println(`codeframe - autonomous coding agent platform

Usage:
  codeframe <command> [options]

Workspace:
  init <path>                  Initialize a workspace in path
  status                       Show workspace summary status
  summary                      Alias for status

Configuration:
  config init [--detect] [--force]
  config show
  config set <key> <value>

PRD:
  prd add <file>
  prd show [id]
  prd generate
  prd refine <id>
  prd list
  prd delete <id>
  prd export <id> <path>
  prd versions <id>
  prd diff <id> <v1> <v2>
  prd update <id>

Tasks:
  tasks generate
  tasks list [--status S]
  tasks set status <STATUS> <id|--all>
  tasks get status <id>

Work:
  work start <id> [--engine react|plan]
  work stop <id>
  work resume <id>
  work follow <id>
  work batch run <ids...|--all-ready> [--strategy serial|parallel|auto] [--max-parallel N] [--on-failure continue|stop] [--retry N] [--dry-run]
  work batch status [id]
  work batch cancel <id>
  work batch resume <id> [--force]

Events:
  events tail

Blockers:
  blocker list
  blocker answer <id> "text"
  blocker resolve <id>

Review:
  review (or gates run)

Artifacts:
  patch export [--out <file>]
  commit create -m "msg"

Checkpoints:
  checkpoint create "name"
  checkpoint list
  checkpoint restore <id>`)
}
