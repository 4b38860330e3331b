package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/codeframe/codeframe/llm"
)

type readFileArgs struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

type readFileResult struct {
	Path       string `json:"path"`
	Content    string `json:"content"`
	Lines      int    `json:"lines"`
	Truncated  bool   `json:"truncated"`
	TotalLines int    `json:"total_lines"`
}

// ReadFileSchema is the JSON schema advertised to the model.
var ReadFileSchema = llm.ToolSchema{
	Name:        "read_file",
	Description: "Read a file from the workspace, optionally a specific line range.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Workspace-relative file path"},
			"start_line": {"type": "integer", "description": "1-indexed first line to include"},
			"end_line": {"type": "integer", "description": "1-indexed last line to include"}
		},
		"required": ["path"]
	}`),
}

// NewReadFile builds the read_file tool confined to policy's workspace root.
func NewReadFile(policy *PathPolicy) Func {
	return func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var args readFileArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("read_file: invalid arguments: %w", err)
		}
		abs, err := policy.Resolve(args.Path)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("read_file: %w", err)
		}

		lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
		total := len(lines)

		start, end := 0, total
		if args.StartLine > 0 {
			start = args.StartLine - 1
		}
		if args.EndLine > 0 && args.EndLine < total {
			end = args.EndLine
		}
		if start > total {
			start = total
		}
		if end < start {
			end = start
		}

		truncated := false
		if end-start > MaxFileReadLines {
			end = start + MaxFileReadLines
			truncated = true
		}
		selected := lines[start:end]
		content := strings.Join(selected, "\n")
		if len(content) > MaxFileReadChars {
			content = content[:MaxFileReadChars]
			truncated = true
		}

		result := readFileResult{
			Path:       args.Path,
			Content:    content,
			Lines:      len(selected),
			Truncated:  truncated,
			TotalLines: total,
		}
		return json.Marshal(result)
	}
}
