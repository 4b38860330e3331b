// Package gates runs the verification checks (lint, tests) a run must pass
// before a task is marked done.
package gates

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/codeframe/codeframe/agent/tools"
)

// Report is the structured outcome of running one gate.
type Report struct {
	Gate     string `json:"gate"`
	Passed   bool   `json:"passed"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	// Infra is true when the gate could not run at all (tool missing,
	// command misconfigured) — distinct from the gate running and finding
	// genuine failures. AllPassed and FailingReports treat an infra
	// report as a skipped gate, not a task failure.
	Infra  bool   `json:"infra"`
	Reason string `json:"reason,omitempty"`
}

// Gate is a single pluggable verification check.
type Gate interface {
	Name() string
	IsAvailable(ctx context.Context) bool
	RunAll(ctx context.Context) (Report, error)
	RunOnFile(ctx context.Context, path string) (Report, error)
}

// CommandGate runs a fixed shell command (the workspace's configured lint
// or test command) and classifies its exit status.
type CommandGate struct {
	name       string
	command    string
	fileCmd    string // command template with %s for the target path, optional
	workDir    string
	timeout    time.Duration
	lookupTool string // binary that must be on PATH, e.g. "golangci-lint"
}

// NewCommandGate builds a gate named name running command in workDir.
// fileCmd, if non-empty, is used for RunOnFile with the target path
// substituted via fmt.Sprintf. lookupTool, if set, gates IsAvailable on
// exec.LookPath succeeding.
func NewCommandGate(name, command, fileCmd, workDir string, timeout time.Duration, lookupTool string) *CommandGate {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &CommandGate{
		name: name, command: command, fileCmd: fileCmd,
		workDir: workDir, timeout: timeout, lookupTool: lookupTool,
	}
}

func (g *CommandGate) Name() string { return g.name }

func (g *CommandGate) IsAvailable(ctx context.Context) bool {
	if g.command == "" {
		return false
	}
	if g.lookupTool == "" {
		return true
	}
	_, err := exec.LookPath(g.lookupTool)
	return err == nil
}

func (g *CommandGate) RunAll(ctx context.Context) (Report, error) {
	return g.run(ctx, g.command)
}

func (g *CommandGate) RunOnFile(ctx context.Context, path string) (Report, error) {
	if g.fileCmd == "" {
		return g.RunAll(ctx)
	}
	return g.run(ctx, fmt.Sprintf(g.fileCmd, path))
}

func (g *CommandGate) run(ctx context.Context, command string) (Report, error) {
	if !g.IsAvailable(ctx) {
		return Report{
			Gate: g.name, Infra: true,
			Reason: fmt.Sprintf("%s: required tool %q not found on PATH", g.name, g.lookupTool),
		}, nil
	}

	res, err := tools.RunHostCommand(ctx, g.workDir, "", command, g.timeout)
	if err != nil {
		return Report{Gate: g.name, Infra: true, Reason: err.Error()}, nil
	}
	if res.TimedOut {
		return Report{Gate: g.name, Infra: true, Reason: fmt.Sprintf("%s timed out after %s", g.name, g.timeout)}, nil
	}

	return Report{
		Gate:     g.name,
		Passed:   res.ExitCode == 0,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
	}, nil
}

// RunAll runs every gate and returns all reports; a gate whose RunAll
// errors is recorded as an infra report. Callers must inspect each report
// (or use AllPassed) to learn whether verification passed.
func RunAll(ctx context.Context, gateList []Gate) []Report {
	reports := make([]Report, 0, len(gateList))
	for _, g := range gateList {
		report, err := g.RunAll(ctx)
		if err != nil {
			report = Report{Gate: g.Name(), Infra: true, Reason: err.Error()}
		}
		reports = append(reports, report)
	}
	return reports
}

// AllPassed reports whether every gate that actually ran passed. A gate
// report with Infra set means the gate itself was unavailable or could not
// run (missing tool, misconfigured command, timeout) — that is a skipped
// gate, not a failed one, and is ignored here.
func AllPassed(reports []Report) bool {
	for _, r := range reports {
		if r.Infra {
			continue
		}
		if !r.Passed {
			return false
		}
	}
	return true
}

// FailingReports returns the reports that represent a genuine gate
// failure, excluding gates that were skipped for infra reasons.
func FailingReports(reports []Report) []Report {
	var out []Report
	for _, r := range reports {
		if r.Infra || r.Passed {
			continue
		}
		out = append(out, r)
	}
	return out
}
