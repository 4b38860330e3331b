package main

import (
	"context"
	"fmt"
	"time"
)

// runEvents implements `events tail`: poll the log from the start of its
// history until interrupted (ctrl-C), printing every recorded entry and
// then each new one as it appears. There is no server to push events to the CLI, so this is a
// short poll loop rather than a subscription.
func runEvents(ctx context.Context, args []string) error {
	if len(args) < 1 || args[0] != "tail" {
		return userErrorf("usage: codeframe events tail")
	}
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	since, err := app.Events.Cursor(ctx, app.WorkspaceID)
	if err != nil {
		return externalErrorf("read event cursor: %s", err)
	}
	// Start from the beginning of history rather than only future events,
	// so a first `events tail` shows everything recorded so far.
	since = 0

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			entries, err := app.Events.Tail(ctx, app.WorkspaceID, since)
			if err != nil {
				return externalErrorf("tail events: %s", err)
			}
			for _, e := range entries {
				fmt.Printf("%d  %s  %s  %s  %v\n", e.Seq, e.Timestamp.Format(time.RFC3339), e.Type, e.SubjectID, e.Fields)
				since = e.Seq
			}
		}
	}
}
