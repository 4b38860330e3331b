package main

import (
	"context"
	"fmt"

	"github.com/codeframe/codeframe/agent/gates"
)

// runReview implements both `review` and `gates run`, which are aliases:
// run every configured gate against the workspace and report pass/fail,
// exiting non-zero (external failure) if any gate fails so shell
// scripting can gate on it.
func runReview(ctx context.Context, args []string) error {
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	if len(app.Gates) == 0 {
		fmt.Println("no gates configured (set test_command/lint_command via 'config set')")
		return nil
	}

	reports := gates.RunAll(ctx, app.Gates)
	for _, r := range reports {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
		}
		if r.Infra {
			status = "INFRA"
		}
		fmt.Printf("%-6s %s\n", status, r.Gate)
		if !r.Passed {
			if r.Reason != "" {
				fmt.Println(r.Reason)
			}
			if r.Stderr != "" {
				fmt.Println(r.Stderr)
			}
		}
	}

	if !gates.AllPassed(reports) {
		return externalErrorf("one or more gates failed")
	}
	return nil
}
