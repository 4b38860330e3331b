package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codeframe/codeframe/llm"
)

type createFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	// Overwrite must be set explicitly to replace an existing file; without
	// it create_file refuses, forcing the agent through edit_file for
	// modifications so accidental overwrites can't silently discard work.
	Overwrite bool `json:"overwrite,omitempty"`
}

type createFileResult struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

// CreateFileSchema is the JSON schema advertised to the model.
var CreateFileSchema = llm.ToolSchema{
	Name:        "create_file",
	Description: "Create a new file in the workspace with the given content. Fails if the file already exists unless overwrite is set.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Workspace-relative file path"},
			"content": {"type": "string", "description": "Full file content"},
			"overwrite": {"type": "boolean", "description": "Replace the file if it already exists"}
		},
		"required": ["path", "content"]
	}`),
}

// NewCreateFile builds the create_file tool confined to policy's workspace root.
func NewCreateFile(policy *PathPolicy) Func {
	return func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var args createFileArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("create_file: invalid arguments: %w", err)
		}
		abs, err := policy.Resolve(args.Path)
		if err != nil {
			return nil, err
		}

		if !args.Overwrite {
			if _, err := os.Stat(abs); err == nil {
				return nil, fmt.Errorf("create_file: %s already exists; set overwrite or use edit_file", args.Path)
			}
		}

		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return nil, fmt.Errorf("create_file: create parent directories: %w", err)
		}
		if err := os.WriteFile(abs, []byte(args.Content), 0644); err != nil {
			return nil, fmt.Errorf("create_file: write: %w", err)
		}

		return json.Marshal(createFileResult{Path: args.Path, Bytes: len(args.Content)})
	}
}
