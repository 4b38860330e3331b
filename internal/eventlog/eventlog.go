// Package eventlog is the append-only, tail-able event stream. It is a thin
// typed wrapper over internal/store's EventRepo — there is no separate
// event file; the log is layered directly on top of the state store.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/codeframe/codeframe/internal/store"
)

// Log emits and reads events for one workspace's append-only history.
type Log struct {
	events *store.EventRepo
}

// New wraps repo.
func New(repo *store.EventRepo) *Log {
	return &Log{events: repo}
}

// Emit appends an event atomically; payload is marshaled to JSON. It
// blocks until the store's write transaction has committed.
func (l *Log) Emit(ctx context.Context, workspaceID string, typ store.EventType, subjectID string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("eventlog: marshal payload: %w", err)
	}
	e := &store.Event{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Type:        typ,
		SubjectID:   subjectID,
		Payload:     string(raw),
	}
	return l.events.Append(ctx, e)
}

// Entry is an Event with its payload already decoded for callers.
type Entry struct {
	store.Event
	Fields map[string]any
}

func decode(events []store.Event) ([]Entry, error) {
	entries := make([]Entry, len(events))
	for i, e := range events {
		entries[i] = Entry{Event: e}
		if e.Payload == "" {
			continue
		}
		if err := json.Unmarshal([]byte(e.Payload), &entries[i].Fields); err != nil {
			return nil, fmt.Errorf("eventlog: decode payload for event %s: %w", e.ID, err)
		}
	}
	return entries, nil
}

// ListRecent returns the most recent limit events, oldest first.
func (l *Log) ListRecent(ctx context.Context, workspaceID string, limit int) ([]Entry, error) {
	events, err := l.events.ListRecent(ctx, workspaceID, limit)
	if err != nil {
		return nil, err
	}
	return decode(events)
}

// Tail returns events strictly after sinceSeq. Callers poll again with the
// last returned entry's Seq to continue; an empty result means "caught up
// for now", not "stream ended".
func (l *Log) Tail(ctx context.Context, workspaceID string, sinceSeq int64) ([]Entry, error) {
	events, err := l.events.Tail(ctx, workspaceID, sinceSeq)
	if err != nil {
		return nil, err
	}
	return decode(events)
}

// Cursor returns the Seq of the most recently appended event for
// workspaceID, or 0 if the log is empty. Checkpoints record this as the
// point the event log had reached at snapshot time.
func (l *Log) Cursor(ctx context.Context, workspaceID string) (int64, error) {
	events, err := l.events.ListRecent(ctx, workspaceID, 1)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	return events[0].Seq, nil
}
