package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/codeframe/codeframe/llm"
)

type runCommandArgs struct {
	Command string `json:"command"`
}

type runCommandResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	TimedOut bool   `json:"timed_out"`
}

// RunCommandSchema is the JSON schema advertised to the model.
var RunCommandSchema = llm.ToolSchema{
	Name:        "run_command",
	Description: "Run an arbitrary shell command in the workspace root. Commands matching a disallowed pattern (recursive root deletes, fork bombs, piping a download into a shell) are rejected.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string"}
		},
		"required": ["command"]
	}`),
}

// NewRunCommand builds the run_command tool confined to policy's workspace
// root and guarded by CheckCommand.
func NewRunCommand(policy *PathPolicy, timeout time.Duration) Func {
	return func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var args runCommandArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("run_command: invalid arguments: %w", err)
		}
		if err := CheckCommand(args.Command); err != nil {
			return nil, fmt.Errorf("run_command: %w", err)
		}

		res, err := RunHostCommand(ctx, policy.Root(), "", args.Command, timeout)
		if err != nil {
			return nil, fmt.Errorf("run_command: %w", err)
		}
		return json.Marshal(runCommandResult{
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
			TimedOut: res.TimedOut,
		})
	}
}
