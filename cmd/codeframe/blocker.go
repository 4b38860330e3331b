package main

import (
	"context"
	"fmt"
)

func runBlocker(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return userErrorf("usage: codeframe blocker <list|answer|resolve> ...")
	}
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	switch args[0] {
	case "list":
		blockerList, err := app.Blockers.ListOpen(ctx, app.WorkspaceID)
		if err != nil {
			return externalErrorf("list blockers: %s", err)
		}
		for _, b := range blockerList {
			fmt.Printf("%s  task=%s  [%s]  %s\n", b.ID, b.TaskID, b.Category, b.Question)
		}
		return nil

	case "answer":
		if len(args) < 3 {
			return userErrorf(`usage: codeframe blocker answer <id> "text"`)
		}
		b, err := app.Blockers.Answer(ctx, app.WorkspaceID, args[1], args[2])
		if err != nil {
			return userErrorf("%s", err)
		}
		fmt.Printf("blocker %s answered\n", b.ID)
		return nil

	case "resolve":
		if len(args) < 2 {
			return userErrorf("usage: codeframe blocker resolve <id>")
		}
		b, err := app.Blockers.Resolve(ctx, app.WorkspaceID, args[1])
		if err != nil {
			return userErrorf("%s", err)
		}
		fmt.Printf("blocker %s resolved\n", b.ID)
		return nil

	default:
		return userErrorf("unknown blocker subcommand: %s", args[0])
	}
}
