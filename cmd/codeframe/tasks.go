package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codeframe/codeframe/internal/store"
	"github.com/codeframe/codeframe/llm"
)

func runTasks(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return userErrorf("usage: codeframe tasks <generate|list|set|get> ...")
	}
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	switch args[0] {
	case "generate":
		return tasksGenerate(ctx, app)
	case "list":
		return tasksList(ctx, app, args[1:])
	case "set":
		return tasksSet(ctx, app, args[1:])
	case "get":
		return tasksGet(ctx, app, args[1:])
	default:
		return userErrorf("unknown tasks subcommand: %s", args[0])
	}
}

// tasksGenerate decomposes the latest PRD into BACKLOG tasks via a single
// LLM call. Full PRD-to-task decomposition is explicitly outside the CORE;
// this is the CLI's own thin boundary adapter around it, using the same
// provider the ReAct agent uses, not a separate decomposition engine.
func tasksGenerate(ctx context.Context, app *App) error {
	prds, err := app.Store.PRDs.ListByWorkspace(ctx, app.WorkspaceID)
	if err != nil {
		return externalErrorf("list PRDs: %s", err)
	}
	if len(prds) == 0 {
		return userErrorf("no PRD added yet (use 'prd add <file>' first)")
	}
	prd := prds[len(prds)-1]

	resp, err := app.Provider.Completion(ctx, &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You decompose a product requirements document into a JSON array of implementation tasks. Respond with ONLY a JSON array of objects, each with \"title\", \"description\", and \"priority\" (integer, lower runs first). No prose."},
			{Role: llm.RoleUser, Content: prd.Content},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return externalErrorf("generate tasks: %s", err)
	}
	if len(resp.Choices) == 0 {
		return externalErrorf("generate tasks: empty response")
	}

	var drafts []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Priority    int    `json:"priority"`
	}
	raw := extractJSONArray(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), &drafts); err != nil {
		return externalErrorf("parse generated tasks: %s", err)
	}
	if len(drafts) == 0 {
		return externalErrorf("generate tasks: model returned no tasks")
	}

	existing, err := app.Store.Tasks.ListByWorkspace(ctx, app.WorkspaceID, "")
	if err != nil {
		return externalErrorf("list existing tasks: %s", err)
	}
	nextNumber := len(existing) + 1

	for _, d := range drafts {
		t := &store.Task{
			ID:          uuid.NewString(),
			WorkspaceID: app.WorkspaceID,
			TaskNumber:  nextNumber,
			Title:       d.Title,
			Description: d.Description,
			Status:      store.TaskBacklog,
			Priority:    d.Priority,
			Complexity:  2,
			CreatedAt:   time.Now().UTC(),
		}
		if err := app.Store.Tasks.Create(ctx, t); err != nil {
			return externalErrorf("store task: %s", err)
		}
		nextNumber++
	}

	app.Events.Emit(ctx, app.WorkspaceID, store.EventTasksGenerated, prd.ID, map[string]any{"count": len(drafts)})
	fmt.Printf("generated %d tasks\n", len(drafts))
	return nil
}

// extractJSONArray trims any prose wrapping a model response down to the
// first top-level JSON array, since models occasionally ignore a
// "no prose" instruction and fence the array in markdown.
func extractJSONArray(s string) string {
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}

func tasksList(ctx context.Context, app *App, args []string) error {
	var status store.TaskStatus
	if v, ok := flagValue(args, "--status"); ok {
		status = store.TaskStatus(v)
	}
	taskList, err := app.Store.Tasks.ListByWorkspace(ctx, app.WorkspaceID, status)
	if err != nil {
		return externalErrorf("list tasks: %s", err)
	}
	for _, t := range taskList {
		fmt.Printf("#%d  %s  %-12s  %s\n", t.TaskNumber, t.ID, t.Status, t.Title)
	}
	return nil
}

func tasksSet(ctx context.Context, app *App, args []string) error {
	if len(args) < 3 || args[0] != "status" {
		return userErrorf("usage: codeframe tasks set status <STATUS> <id|--all>")
	}
	to := store.TaskStatus(strings.ToUpper(args[1]))
	target := args[2]

	if target == "--all" {
		taskList, err := app.Store.Tasks.ListByWorkspace(ctx, app.WorkspaceID, "")
		if err != nil {
			return externalErrorf("list tasks: %s", err)
		}
		var firstErr error
		count := 0
		for _, t := range taskList {
			if err := app.Store.Tasks.TransitionStatus(ctx, t.ID, to); err == nil {
				count++
			} else if firstErr == nil {
				firstErr = err
			}
		}
		fmt.Printf("transitioned %d tasks to %s\n", count, to)
		return nil
	}

	if err := app.Store.Tasks.TransitionStatus(ctx, target, to); err != nil {
		return userErrorf("%s", err)
	}
	app.Events.Emit(ctx, app.WorkspaceID, store.EventTaskStatusChanged, target, map[string]any{"to": string(to)})
	fmt.Printf("task %s -> %s\n", target, to)
	return nil
}

func tasksGet(ctx context.Context, app *App, args []string) error {
	if len(args) < 2 || args[0] != "status" {
		return userErrorf("usage: codeframe tasks get status <id>")
	}
	t, err := app.Store.Tasks.Get(ctx, args[1])
	if err != nil {
		return userErrorf("no task with id %s", args[1])
	}
	fmt.Println(t.Status)
	return nil
}
