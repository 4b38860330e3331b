package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/codeframe/codeframe/agent/editor"
	"github.com/codeframe/codeframe/llm"
)

type editFileArgs struct {
	Path  string       `json:"path"`
	Edits []editArgs   `json:"edits"`
}

type editArgs struct {
	Search     string `json:"search"`
	Replace    string `json:"replace"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

type editFileResult struct {
	Path       string            `json:"path"`
	Diff       string            `json:"diff"`
	MatchedVia []editor.MatchLayer `json:"matched_via"`
}

// EditFileSchema is the JSON schema advertised to the model.
var EditFileSchema = llm.ToolSchema{
	Name:        "edit_file",
	Description: "Apply one or more search/replace edits to an existing file. Matching falls back through exact, trimmed, whitespace-collapsed, and indent-preserving comparisons before failing.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"edits": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"search": {"type": "string"},
						"replace": {"type": "string"},
						"replace_all": {"type": "boolean"}
					},
					"required": ["search", "replace"]
				}
			}
		},
		"required": ["path", "edits"]
	}`),
}

// NewEditFile builds the edit_file tool confined to policy's workspace root.
func NewEditFile(policy *PathPolicy) Func {
	return func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var args editFileArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("edit_file: invalid arguments: %w", err)
		}
		abs, err := policy.Resolve(args.Path)
		if err != nil {
			return nil, err
		}

		edits := make([]editor.Edit, len(args.Edits))
		for i, e := range args.Edits {
			edits[i] = editor.Edit{Search: e.Search, Replace: e.Replace, ReplaceAll: e.ReplaceAll}
		}

		before, err := readForDiff(abs)
		if err != nil {
			return nil, err
		}

		after, layers, err := editor.WriteFile(abs, edits)
		if err != nil {
			return nil, fmt.Errorf("edit_file: %w", err)
		}

		return json.Marshal(editFileResult{
			Path:       args.Path,
			Diff:       editor.Summarize(before, after),
			MatchedVia: layers,
		})
	}
}

func readForDiff(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("edit_file: read %s: %w", path, err)
	}
	return string(data), nil
}
