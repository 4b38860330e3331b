package main

import (
	"context"
	"fmt"

	"github.com/codeframe/codeframe/internal/store"
)

func runCheckpoint(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return userErrorf("usage: codeframe checkpoint <create|list|restore> ...")
	}
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	switch args[0] {
	case "create":
		if len(args) < 2 {
			return userErrorf(`usage: codeframe checkpoint create "name"`)
		}
		cursor, err := app.Events.Cursor(ctx, app.WorkspaceID)
		if err != nil {
			return externalErrorf("read event cursor: %s", err)
		}
		cp, err := app.Checkpoint.Create(ctx, app.WorkspaceID, args[1], cursor)
		if err != nil {
			return externalErrorf("create checkpoint: %s", err)
		}
		app.Events.Emit(ctx, app.WorkspaceID, store.EventCheckpointCreated, cp.ID, map[string]any{"label": cp.Label})
		fmt.Printf("checkpoint %s created (%s)\n", cp.ID, cp.Label)
		return nil

	case "list":
		checkpointList, err := app.Checkpoint.List(ctx, app.WorkspaceID)
		if err != nil {
			return externalErrorf("list checkpoints: %s", err)
		}
		for _, cp := range checkpointList {
			fmt.Printf("%s  %s  %s  cursor=%d\n", cp.ID, cp.Label, cp.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), cp.EventCursor)
		}
		return nil

	case "restore":
		if len(args) < 2 {
			return userErrorf("usage: codeframe checkpoint restore <id>")
		}
		idle, err := app.Checkpoint.BatchIdle(ctx, app.WorkspaceID)
		if err != nil {
			return externalErrorf("check batch state: %s", err)
		}
		if !idle {
			return userErrorf("cannot restore while a batch is running; cancel it first")
		}
		cp, err := app.Checkpoint.Restore(ctx, args[1])
		if err != nil {
			return externalErrorf("restore checkpoint: %s", err)
		}
		fmt.Printf("restored to checkpoint %s (%s)\n", cp.ID, cp.Label)
		return nil

	default:
		return userErrorf("unknown checkpoint subcommand: %s", args[0])
	}
}
