package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/codeframe/codeframe/llm"
)

type listFilesArgs struct {
	Glob string `json:"glob,omitempty"`
}

type listFilesResult struct {
	Entries     []string `json:"entries"`
	Truncated   bool     `json:"truncated"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// ListFilesSchema is the JSON schema advertised to the model.
var ListFilesSchema = llm.ToolSchema{
	Name:        "list_files",
	Description: "List workspace files matching a glob pattern (default: all files).",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"glob": {"type": "string", "description": "Glob pattern relative to the workspace root, e.g. 'internal/**/*.go'"}
		}
	}`),
}

// NewListFiles builds the list_files tool confined to policy's workspace root.
// When the glob matches nothing, it offers fuzzy suggestions drawn from the
// full file list so the agent can correct a near-miss path without another
// blind round trip.
func NewListFiles(policy *PathPolicy) Func {
	return func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var args listFilesArgs
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("list_files: invalid arguments: %w", err)
			}
		}

		var all []string
		err := filepath.WalkDir(policy.Root(), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() == ".git" {
					return filepath.SkipDir
				}
				return nil
			}
			rel, err := filepath.Rel(policy.Root(), path)
			if err != nil {
				return err
			}
			all = append(all, filepath.ToSlash(rel))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("list_files: walk workspace: %w", err)
		}
		sort.Strings(all)

		var matched []string
		if args.Glob == "" {
			matched = all
		} else {
			for _, rel := range all {
				if ok, _ := filepath.Match(args.Glob, rel); ok || globMatchAny(args.Glob, rel) {
					matched = append(matched, rel)
				}
			}
		}

		result := listFilesResult{}
		if len(matched) == 0 && args.Glob != "" {
			matches := fuzzy.Find(strings.TrimSuffix(args.Glob, "*"), all)
			for i, m := range matches {
				if i >= 5 {
					break
				}
				result.Suggestions = append(result.Suggestions, all[m.Index])
			}
			return json.Marshal(result)
		}

		if len(matched) > MaxListEntries {
			matched = matched[:MaxListEntries]
			result.Truncated = true
		}
		result.Entries = matched
		return json.Marshal(result)
	}
}

// globMatchAny supports "**" directory wildcards, which filepath.Match
// doesn't, by matching the pattern against path suffixes split on "**/".
func globMatchAny(pattern, path string) bool {
	if !strings.Contains(pattern, "**") {
		return false
	}
	parts := strings.SplitN(pattern, "**/", 2)
	if len(parts) != 2 {
		return false
	}
	prefix, suffix := parts[0], parts[1]
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := strings.TrimPrefix(path, prefix)
	for {
		if ok, _ := filepath.Match(suffix, rest); ok {
			return true
		}
		idx := strings.Index(rest, "/")
		if idx < 0 {
			return false
		}
		rest = rest[idx+1:]
	}
}
