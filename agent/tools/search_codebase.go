package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/codeframe/codeframe/llm"
)

type searchCodebaseArgs struct {
	Pattern string `json:"pattern"`
	Glob    string `json:"glob,omitempty"`
}

// SearchHit is a single regex match location.
type SearchHit struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Text    string `json:"text"`
}

type searchCodebaseResult struct {
	Hits      []SearchHit `json:"hits"`
	Truncated bool        `json:"truncated"`
}

// SearchCodebaseSchema is the JSON schema advertised to the model.
var SearchCodebaseSchema = llm.ToolSchema{
	Name:        "search_codebase",
	Description: "Search workspace file contents for a regular expression, optionally restricted to files matching a glob.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {"type": "string", "description": "RE2 regular expression to search for"},
			"glob": {"type": "string", "description": "Optional glob restricting which files are searched"}
		},
		"required": ["pattern"]
	}`),
}

// NewSearchCodebase builds the search_codebase tool confined to policy's
// workspace root.
func NewSearchCodebase(policy *PathPolicy) Func {
	return func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var args searchCodebaseArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("search_codebase: invalid arguments: %w", err)
		}
		re, err := regexp.Compile(args.Pattern)
		if err != nil {
			return nil, fmt.Errorf("search_codebase: invalid pattern: %w", err)
		}

		var hits []SearchHit
		truncated := false

		walkErr := filepath.WalkDir(policy.Root(), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() == ".git" {
					return filepath.SkipDir
				}
				return nil
			}
			if len(hits) >= MaxSearchHits {
				return fs.SkipAll
			}
			rel, err := filepath.Rel(policy.Root(), path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if args.Glob != "" {
				if ok, _ := filepath.Match(args.Glob, rel); !ok && !globMatchAny(args.Glob, rel) {
					return nil
				}
			}

			f, err := os.Open(path)
			if err != nil {
				return nil // unreadable file, skip
			}
			defer f.Close()

			scanner := bufio.NewScanner(f)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			lineNo := 0
			for scanner.Scan() {
				lineNo++
				line := scanner.Text()
				if re.MatchString(line) {
					hits = append(hits, SearchHit{Path: rel, Line: lineNo, Text: line})
					if len(hits) >= MaxSearchHits {
						truncated = true
						return fs.SkipAll
					}
				}
			}
			return nil
		})
		if walkErr != nil && walkErr != fs.SkipAll {
			return nil, fmt.Errorf("search_codebase: %w", walkErr)
		}

		return json.Marshal(searchCodebaseResult{Hits: hits, Truncated: truncated})
	}
}
