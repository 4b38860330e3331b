package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/codeframe/codeframe/agent/react"
	"github.com/codeframe/codeframe/internal/store"
	"github.com/codeframe/codeframe/internal/wsconfig"
)

// contextBuilder assembles a react.RunContext for one task: project
// preferences from wsconfig, a shallow file-tree inventory, the latest PRD
// excerpt, and the task's already-answered blockers.
type contextBuilder struct {
	store    *store.Store
	repoPath string
	cfg      *wsconfig.Config
}

const maxFileTreeEntries = 500

func (b *contextBuilder) Build(ctx context.Context, workspaceID string, task store.Task) (react.RunContext, error) {
	tree, err := walkFileTree(b.repoPath)
	if err != nil {
		tree = nil
	}

	var prdExcerpt string
	prds, err := b.store.PRDs.ListByWorkspace(ctx, workspaceID)
	if err == nil && len(prds) > 0 {
		prdExcerpt = prds[len(prds)-1].Content
	}

	blockers, err := b.store.Blockers.ListByTask(ctx, task.ID)
	var answered []store.Blocker
	if err == nil {
		for _, bl := range blockers {
			if bl.Status == store.BlockerAnswered || bl.Status == store.BlockerResolved || bl.Status == store.BlockerExpired {
				answered = append(answered, bl)
			}
		}
	}

	return react.RunContext{
		Task: task,
		Project: react.ProjectContext{
			TechStack:   string(b.cfg.TestFramework),
			PackageMgr:  string(b.cfg.PackageManager),
			TestCommand: b.cfg.TestCommand,
			LintCommand: b.cfg.LintCommand,
			FileTree:    tree,
		},
		PRDExcerpt:       prdExcerpt,
		AnsweredBlockers: answered,
	}, nil
}

// walkFileTree returns a flat list of repo-relative paths, skipping the
// workspace's own .codeframe directory and VCS metadata, capped at
// maxFileTreeEntries so a huge repo never blows out the prompt.
func walkFileTree(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if rel == "." {
			return nil
		}
		base := filepath.Base(rel)
		if d.IsDir() && (base == workspaceDir || base == ".git" || base == "node_modules") {
			return filepath.SkipDir
		}
		if d.IsDir() {
			return nil
		}
		if len(out) >= maxFileTreeEntries {
			return filepath.SkipAll
		}
		out = append(out, rel)
		return nil
	})
	return out, err
}
