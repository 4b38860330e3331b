package tools

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/codeframe/codeframe/types"
)

// PathPolicy confines file tools to a workspace root. There is exactly
// one principal per run and exactly one concern: never touch a path
// outside the workspace, so this skips any role/priority machinery in
// favor of a single prefix check.
type PathPolicy struct {
	root string
}

// NewPathPolicy builds a policy rooted at root. root is resolved to an
// absolute, cleaned path once so every check is a simple prefix test.
func NewPathPolicy(root string) (*PathPolicy, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("tools: resolve workspace root: %w", err)
	}
	return &PathPolicy{root: filepath.Clean(abs)}, nil
}

// Resolve joins rel against the workspace root and rejects any result that
// escapes it, including via ".." segments or an absolute override.
func (p *PathPolicy) Resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", types.NewError(types.ErrPermissionDenied, fmt.Sprintf("path %q must be relative to the workspace", rel))
	}
	joined := filepath.Clean(filepath.Join(p.root, rel))
	if joined != p.root && !strings.HasPrefix(joined, p.root+string(filepath.Separator)) {
		return "", types.NewError(types.ErrPermissionDenied, fmt.Sprintf("path %q escapes the workspace root", rel))
	}
	return joined, nil
}

// Root returns the workspace root this policy confines paths to.
func (p *PathPolicy) Root() string { return p.root }

// dangerousCommandPatterns flags run_command invocations that have no
// legitimate place in a build/test/lint workflow: recursive deletes of the
// filesystem root, fork bombs, filesystem formatting, raw writes to disk
// devices, piping a curl/wget download into a shell, and a recursive
// chmod 777 of the root. Uploads of workspace data (e.g. curl posting a
// file) match none of these patterns.
var dangerousCommandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+-rf\s+/(\s|$)`),
	regexp.MustCompile(`rm\s+-rf\s+/\*`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;`), // fork bomb
	regexp.MustCompile(`mkfs\.`),
	regexp.MustCompile(`dd\s+if=.*of=/dev/`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]`),
	regexp.MustCompile(`curl[^|]*\|\s*(sh|bash)`),
	regexp.MustCompile(`wget[^|]*\|\s*(sh|bash)`),
	regexp.MustCompile(`chmod\s+-R\s+777\s+/`),
}

// CheckCommand rejects a run_command invocation that matches a known
// dangerous pattern. It is a denylist, not a sandbox: it catches the
// handful of commands listed in dangerousCommandPatterns, and otherwise
// trusts the agent with the rest of the shell.
func CheckCommand(command string) error {
	for _, pat := range dangerousCommandPatterns {
		if pat.MatchString(command) {
			return types.NewError(types.ErrDangerousCommand,
				fmt.Sprintf("command matches a disallowed pattern: %s", pat.String()))
		}
	}
	return nil
}
