package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/codeframe/codeframe/llm"
)

type runTestsArgs struct {
	Target string `json:"target,omitempty"`
}

type runTestsResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	TimedOut bool   `json:"timed_out"`
}

// RunTestsSchema is the JSON schema advertised to the model.
var RunTestsSchema = llm.ToolSchema{
	Name:        "run_tests",
	Description: "Run the workspace's configured test command, optionally scoped to a target (e.g. a package or test file).",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"target": {"type": "string", "description": "Optional test scope appended to the configured test command"}
		}
	}`),
}

// NewRunTests builds the run_tests tool. testCommand is the workspace's
// configured test command (config.yaml's test_command); it is run through
// the shell with target appended when provided.
func NewRunTests(policy *PathPolicy, testCommand string, timeout time.Duration) Func {
	return func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var args runTestsArgs
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("run_tests: invalid arguments: %w", err)
			}
		}
		if testCommand == "" {
			return nil, fmt.Errorf("run_tests: no test_command configured for this workspace")
		}

		command := testCommand
		if args.Target != "" {
			command = fmt.Sprintf("%s %s", testCommand, args.Target)
		}

		res, err := RunHostCommand(ctx, policy.Root(), "", command, timeout)
		if err != nil {
			return nil, fmt.Errorf("run_tests: %w", err)
		}
		return json.Marshal(runTestsResult{
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
			TimedOut: res.TimedOut,
		})
	}
}
