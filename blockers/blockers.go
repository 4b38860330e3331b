// Package blockers exposes the typed-question workflow an Agent uses to
// ask a human for help: create, answer, resolve, listOpen, with
// SYNC/ASYNC semantics and expiry.
package blockers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codeframe/codeframe/internal/eventlog"
	"github.com/codeframe/codeframe/internal/store"
)

// DefaultExpiry is how long an OPEN blocker waits before it's treated as
// expired.
const DefaultExpiry = 24 * time.Hour

// ExpiredAnswer is the sentinel answer attached when a blocker expires
// unresolved; the Agent may act on it at its discretion.
const ExpiredAnswer = "expired — proceed with best judgment"

// Service implements create/answer/resolve/listOpen against the state
// store, emitting the corresponding BLOCKER_* events.
type Service struct {
	repo *store.BlockerRepo
	log  *eventlog.Log
}

// New wires a Service against repo and log.
func New(repo *store.BlockerRepo, log *eventlog.Log) *Service {
	return &Service{repo: repo, log: log}
}

// Create raises a new OPEN blocker. workspaceID is carried only for event
// emission — ownership is via task-id per the data model.
func (s *Service) Create(ctx context.Context, workspaceID, taskID string, mode store.BlockerMode, question, contextSnippet string, category store.BlockerCategory) (*store.Blocker, error) {
	now := time.Now().UTC()
	b := &store.Blocker{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Mode:      mode,
		Question:  question,
		Context:   contextSnippet,
		Category:  category,
		Status:    store.BlockerOpen,
		CreatedAt: now,
		ExpiresAt: now.Add(DefaultExpiry),
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("blockers: create: %w", err)
	}
	s.log.Emit(ctx, workspaceID, store.EventBlockerCreated, taskID, map[string]any{
		"blocker_id": b.ID, "mode": string(mode), "category": string(category), "question": question,
	})
	return b, nil
}

// Answer records a human (or Supervisor auto-resolution) answer, moving
// the blocker to ANSWERED.
func (s *Service) Answer(ctx context.Context, workspaceID, id, answer string) (*store.Blocker, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	b.Answer = answer
	b.Status = store.BlockerAnswered
	b.AnsweredAt = &now
	if err := s.repo.Update(ctx, b); err != nil {
		return nil, fmt.Errorf("blockers: answer: %w", err)
	}
	s.log.Emit(ctx, workspaceID, store.EventBlockerAnswered, b.TaskID, map[string]any{"blocker_id": id, "answer": answer})
	return b, nil
}

// Resolve marks an ANSWERED blocker RESOLVED, the terminal acknowledgement
// that the task may proceed with the answer incorporated.
func (s *Service) Resolve(ctx context.Context, workspaceID, id string) (*store.Blocker, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	b.Status = store.BlockerResolved
	if err := s.repo.Update(ctx, b); err != nil {
		return nil, fmt.Errorf("blockers: resolve: %w", err)
	}
	s.log.Emit(ctx, workspaceID, store.EventBlockerResolved, b.TaskID, map[string]any{"blocker_id": id})
	return b, nil
}

// ListOpen returns every OPEN blocker in workspaceID.
func (s *Service) ListOpen(ctx context.Context, workspaceID string) ([]store.Blocker, error) {
	return s.repo.ListOpenByWorkspace(ctx, workspaceID)
}

// ListForTask returns every blocker ever raised for taskID.
func (s *Service) ListForTask(ctx context.Context, taskID string) ([]store.Blocker, error) {
	return s.repo.ListByTask(ctx, taskID)
}

// ExpireOverdue transitions every OPEN blocker past its expiry to EXPIRED
// and attaches the sentinel answer, unblocking the task as if a human had
// answered it. Intended to be called periodically (e.g. before resuming a
// task, or by a background sweep).
func (s *Service) ExpireOverdue(ctx context.Context, workspaceID string) ([]string, error) {
	ids, err := s.repo.ExpireOverdue(ctx, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("blockers: expire: %w", err)
	}
	for _, id := range ids {
		b, getErr := s.repo.Get(ctx, id)
		if getErr != nil {
			continue
		}
		b.Answer = ExpiredAnswer
		_ = s.repo.Update(ctx, b)
	}
	return ids, nil
}

// HasOpenSyncBlocker reports whether taskID has any OPEN SYNC blocker —
// the condition that must clear before a BLOCKED task can resume.
func (s *Service) HasOpenSyncBlocker(ctx context.Context, taskID string) (bool, error) {
	all, err := s.repo.ListByTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	for _, b := range all {
		if b.Mode == store.BlockerSync && b.Status == store.BlockerOpen {
			return true, nil
		}
	}
	return false, nil
}
