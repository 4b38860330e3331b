// Package checkpoints implements the durable snapshot primitive:
// create(workspace, label) captures a git ref, a copy of the workspace's
// state-store file, and the event log's current cursor; restore(id)
// checks out the git ref and then replaces the state-store file (not as one
// atomic step), and leaves bounding event reads by the cursor to the
// caller. It is a durable, git+filesystem-backed
// triple keyed by workspace rather than an in-memory per-thread cache.
package checkpoints

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/codeframe/codeframe/internal/store"
)

// Store creates, lists, and restores Checkpoints for one workspace.
// Restoring requires the caller to first confirm no batch is in flight —
// BatchIdle checks that against the state store's own Batch records.
type Store struct {
	repo     *store.CheckpointRepo
	batches  *store.BatchRepo
	repoPath string // workspace's git working tree
	statePath string // path to the workspace's state-store file
}

// New wires a Store. repoPath is the workspace's git working tree;
// statePath is the on-disk path of its state-store file (the thing
// create() copies and restore() replaces).
func New(repo *store.CheckpointRepo, batches *store.BatchRepo, repoPath, statePath string) *Store {
	return &Store{repo: repo, batches: batches, repoPath: repoPath, statePath: statePath}
}

// Create snapshots the workspace's current git HEAD, a copy of its
// state-store file, and the event log's current cursor (the highest Seq
// among already-appended events, obtained from the caller since Store has
// no direct eventlog dependency of its own).
func (s *Store) Create(ctx context.Context, workspaceID, label string, eventCursor int64) (*store.Checkpoint, error) {
	ref, err := s.captureGitRef(ctx)
	if err != nil {
		return nil, fmt.Errorf("checkpoints: capture git ref: %w", err)
	}

	cp := &store.Checkpoint{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Label:       label,
		GitRef:      ref,
		EventCursor: eventCursor,
		CreatedAt:   time.Now().UTC(),
	}
	cp.StatePath = filepath.Join(filepath.Dir(s.statePath), ".checkpoints", cp.ID+".db")
	if err := copyFile(s.statePath, cp.StatePath); err != nil {
		return nil, fmt.Errorf("checkpoints: copy state store: %w", err)
	}

	if err := s.repo.Create(ctx, cp); err != nil {
		return nil, fmt.Errorf("checkpoints: persist checkpoint record: %w", err)
	}
	return cp, nil
}

// List returns every checkpoint recorded for workspaceID, newest first.
func (s *Store) List(ctx context.Context, workspaceID string) ([]store.Checkpoint, error) {
	return s.repo.ListByWorkspace(ctx, workspaceID)
}

// Restore reverts the workspace to checkpointID: git checkout, state-store
// file replace, and truncating visibility of the event log to the
// checkpoint's cursor (the caller's eventlog reader is responsible for
// honoring EventCursor as an upper bound; the append-only log itself is
// never rewritten).
// Restore requires an idle batch; check that with BatchIdle first.
func (s *Store) Restore(ctx context.Context, checkpointID string) (*store.Checkpoint, error) {
	cp, err := s.repo.Get(ctx, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("checkpoints: load checkpoint: %w", err)
	}

	if err := s.checkoutGitRef(ctx, cp.GitRef); err != nil {
		return nil, fmt.Errorf("checkpoints: checkout git ref: %w", err)
	}
	if err := copyFile(cp.StatePath, s.statePath); err != nil {
		return nil, fmt.Errorf("checkpoints: restore state store: %w", err)
	}
	return cp, nil
}

// BatchIdle reports whether workspaceID has no RUNNING batch, the
// precondition Restore requires before it may proceed.
func (s *Store) BatchIdle(ctx context.Context, workspaceID string) (bool, error) {
	batches, err := s.batches.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return false, err
	}
	for _, b := range batches {
		if b.Status == store.BatchRunning {
			return false, nil
		}
	}
	return true, nil
}

// captureGitRef records the workspace's current commit by shelling out to
// the host git binary rather than a vendored git implementation — no Go
// git library covers every repo layout reliably, and the host binary is
// already a hard dependency of the workspace itself.
func (s *Store) captureGitRef(ctx context.Context) (string, error) {
	out, err := runGit(ctx, s.repoPath, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return trimNewline(out), nil
}

func (s *Store) checkoutGitRef(ctx context.Context, ref string) error {
	_, err := runGit(ctx, s.repoPath, "checkout", ref)
	return err
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
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

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
