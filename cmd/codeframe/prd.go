package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/codeframe/codeframe/agent/editor"
	"github.com/codeframe/codeframe/internal/store"
)

// runPRD handles every `codeframe prd <subcommand>` invocation. PRD
// ingestion and drafting live outside the CORE; this handler only manages
// the stored version chain — add/show/list/export/versions/diff/update —
// the CRUD surface the CORE does own; delete is refused, since the chain
// is append-only.
func runPRD(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return userErrorf("usage: codeframe prd <add|show|generate|refine|list|delete|export|versions|diff|update> ...")
	}
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	switch args[0] {
	case "add":
		return prdAdd(ctx, app, args[1:])
	case "show":
		return prdShow(ctx, app, args[1:])
	case "list":
		return prdList(ctx, app)
	case "delete":
		return userErrorf("prd delete: PRDs are append-only (version chain); delete is not supported")
	case "export":
		return prdExport(ctx, app, args[1:])
	case "versions":
		return prdVersions(ctx, app, args[1:])
	case "diff":
		return prdDiff(ctx, app, args[1:])
	case "update":
		return prdAdd(ctx, app, args[1:])
	case "generate", "refine":
		return userErrorf("prd %s requires an LLM drafting session, which codeframe's core does not provide — author the PRD content and use 'prd add <file>'", args[0])
	default:
		return userErrorf("unknown prd subcommand: %s", args[0])
	}
}

func prdAdd(ctx context.Context, app *App, args []string) error {
	if len(args) < 1 {
		return userErrorf("usage: codeframe prd add <file>")
	}
	content, err := os.ReadFile(args[0])
	if err != nil {
		return userErrorf("read %s: %s", args[0], err)
	}

	existing, err := app.Store.PRDs.ListByWorkspace(ctx, app.WorkspaceID)
	if err != nil {
		return externalErrorf("list PRDs: %s", err)
	}

	prd := &store.PRD{
		ID:        uuid.NewString(),
		WorkspaceID: app.WorkspaceID,
		Content:   string(content),
		CreatedAt: time.Now().UTC(),
	}
	if len(existing) == 0 {
		prd.ChainID = prd.ID
		prd.Version = 1
	} else {
		latest := existing[len(existing)-1]
		prd.ChainID = latest.ChainID
		prd.ParentID = latest.ID
		prd.Version = latest.Version + 1
	}

	if err := app.Store.PRDs.Create(ctx, prd); err != nil {
		return externalErrorf("store PRD: %s", err)
	}
	eventType := store.EventPRDAdded
	if prd.Version > 1 {
		eventType = store.EventPRDUpdated
	}
	app.Events.Emit(ctx, app.WorkspaceID, eventType, prd.ID, map[string]any{"version": prd.Version})

	fmt.Printf("added PRD %s (version %d)\n", prd.ID, prd.Version)
	return nil
}

func prdShow(ctx context.Context, app *App, args []string) error {
	prds, err := app.Store.PRDs.ListByWorkspace(ctx, app.WorkspaceID)
	if err != nil {
		return externalErrorf("list PRDs: %s", err)
	}
	if len(prds) == 0 {
		return userErrorf("no PRD has been added yet")
	}

	var target store.PRD
	if len(args) > 0 {
		found := false
		for _, p := range prds {
			if p.ID == args[0] {
				target, found = p, true
				break
			}
		}
		if !found {
			return userErrorf("no PRD with id %s", args[0])
		}
	} else {
		target = prds[len(prds)-1]
	}

	fmt.Println(target.Content)
	return nil
}

func prdList(ctx context.Context, app *App) error {
	prds, err := app.Store.PRDs.ListByWorkspace(ctx, app.WorkspaceID)
	if err != nil {
		return externalErrorf("list PRDs: %s", err)
	}
	for _, p := range prds {
		fmt.Printf("%s  v%d  %s\n", p.ID, p.Version, p.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func prdExport(ctx context.Context, app *App, args []string) error {
	if len(args) < 2 {
		return userErrorf("usage: codeframe prd export <id> <path>")
	}
	prd, err := app.Store.PRDs.Get(ctx, args[0])
	if err != nil {
		return userErrorf("no PRD with id %s", args[0])
	}
	if err := os.WriteFile(args[1], []byte(prd.Content), 0o644); err != nil {
		return externalErrorf("write %s: %s", args[1], err)
	}
	fmt.Printf("exported PRD %s to %s\n", prd.ID, args[1])
	return nil
}

func prdVersions(ctx context.Context, app *App, args []string) error {
	if len(args) < 1 {
		return userErrorf("usage: codeframe prd versions <id>")
	}
	prd, err := app.Store.PRDs.Get(ctx, args[0])
	if err != nil {
		return userErrorf("no PRD with id %s", args[0])
	}
	chain, err := app.Store.PRDs.ListChain(ctx, prd.ChainID)
	if err != nil {
		return externalErrorf("list PRD chain: %s", err)
	}
	for _, p := range chain {
		fmt.Printf("v%d  %s  %s\n", p.Version, p.ID, p.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func prdDiff(ctx context.Context, app *App, args []string) error {
	if len(args) < 3 {
		return userErrorf("usage: codeframe prd diff <id> <v1> <v2>")
	}
	prd, err := app.Store.PRDs.Get(ctx, args[0])
	if err != nil {
		return userErrorf("no PRD with id %s", args[0])
	}
	chain, err := app.Store.PRDs.ListChain(ctx, prd.ChainID)
	if err != nil {
		return externalErrorf("list PRD chain: %s", err)
	}
	var a, b *store.PRD
	for i := range chain {
		switch fmt.Sprint(chain[i].Version) {
		case args[1]:
			a = &chain[i]
		case args[2]:
			b = &chain[i]
		}
	}
	if a == nil || b == nil {
		return userErrorf("version not found in chain")
	}
	fmt.Printf("--- v%d\n+++ v%d\n", a.Version, b.Version)
	fmt.Println(editor.Summarize(a.Content, b.Content))
	return nil
}
