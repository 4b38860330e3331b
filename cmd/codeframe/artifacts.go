package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
)

// runPatch implements `patch export [--out <file>]`: a unified diff of the
// workspace's working tree against HEAD, the git-shell-out idiom shared
// with checkpoints.Store rather than a vendored diff/patch library.
func runPatch(ctx context.Context, args []string) error {
	if len(args) < 1 || args[0] != "export" {
		return userErrorf("usage: codeframe patch export [--out <file>]")
	}
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	out, err := runGitArtifact(ctx, app.RepoPath, "diff", "HEAD")
	if err != nil {
		return externalErrorf("diff working tree: %s", err)
	}

	if path, ok := flagValue(args[1:], "--out"); ok {
		if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
			return externalErrorf("write %s: %s", path, err)
		}
		fmt.Printf("wrote patch to %s\n", path)
		return nil
	}
	fmt.Print(out)
	return nil
}

// runCommit implements `commit create -m "msg"`: stage the working tree
// and commit, again by shelling out to git.
func runCommit(ctx context.Context, args []string) error {
	if len(args) < 1 || args[0] != "create" {
		return userErrorf(`usage: codeframe commit create -m "msg"`)
	}
	msg, ok := flagValue(args[1:], "-m")
	if !ok {
		msg, ok = flagValue(args[1:], "--message")
	}
	if !ok || msg == "" {
		return userErrorf(`usage: codeframe commit create -m "msg"`)
	}

	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	if _, err := runGitArtifact(ctx, app.RepoPath, "add", "-A"); err != nil {
		return externalErrorf("git add: %s", err)
	}
	out, err := runGitArtifact(ctx, app.RepoPath, "commit", "-m", msg)
	if err != nil {
		return externalErrorf("git commit: %s", err)
	}
	fmt.Print(out)
	return nil
}

func runGitArtifact(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %v: %w: %s", args, err, stderr.String())
	}
	return stdout.String(), nil
}
