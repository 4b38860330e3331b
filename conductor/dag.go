// Package conductor is the Batch Conductor: it schedules many tasks
// concurrently against a shared workspace, honoring a dependency map, a
// bounded worker pool, retries, resume, cancellation, and Supervisor
// auto-resolution of tactical-decision blockers.
//
// DAG and BuildDAG model a batch's dependency graph directly over
// store.Task records rather than a generic workflow-node type, since a
// batch's nodes are always tasks.
package conductor

import (
	"fmt"
	"sort"

	"github.com/codeframe/codeframe/internal/store"
	"github.com/codeframe/codeframe/types"
)

// DAG is the dependency graph of one batch's tasks: edges[taskID] lists the
// task IDs that must complete before taskID may start.
type DAG struct {
	tasks map[string]store.Task
	edges map[string][]string // taskID -> its dependency IDs
}

// BuildDAG assembles a DAG from tasks and an explicit dependency map
// (task ID -> dependency task IDs). A nil or empty depMap means "no
// dependencies", i.e. every task is immediately ready.
func BuildDAG(tasks []store.Task, depMap map[string][]string) (*DAG, error) {
	d := &DAG{
		tasks: make(map[string]store.Task, len(tasks)),
		edges: make(map[string][]string, len(tasks)),
	}
	for _, t := range tasks {
		d.tasks[t.ID] = t
	}
	for id, deps := range depMap {
		if _, ok := d.tasks[id]; !ok {
			return nil, types.NewError(types.ErrInvalidDependencyMap,
				fmt.Sprintf("dependency map references unknown task %q", id))
		}
		for _, dep := range deps {
			if _, ok := d.tasks[dep]; !ok {
				return nil, types.NewError(types.ErrInvalidDependencyMap,
					fmt.Sprintf("task %q depends on unknown task %q", id, dep))
			}
		}
		d.edges[id] = append([]string(nil), deps...)
	}
	if err := d.validateAcyclic(); err != nil {
		return nil, err
	}
	return d, nil
}

// validateAcyclic rejects cycles with *InvalidDependencyMap. This applies
// unconditionally, not just to AUTO-inferred dependency maps, since a
// hand-authored PARALLEL dependency map can be cyclic too.
func (d *DAG) validateAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(d.tasks))
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, dep := range d.edges[id] {
			switch color[dep] {
			case gray:
				return types.NewError(types.ErrInvalidDependencyMap,
					fmt.Sprintf("dependency cycle involving task %q", id))
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for id := range d.tasks {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Tasks returns every task in the DAG.
func (d *DAG) Tasks() []store.Task {
	out := make([]store.Task, 0, len(d.tasks))
	for _, t := range d.tasks {
		out = append(out, t)
	}
	return out
}

// Dependencies returns the dependency task IDs for taskID.
func (d *DAG) Dependencies(taskID string) []string {
	return d.edges[taskID]
}

// Ready returns the IDs of tasks in the DAG whose dependencies are all
// present in done, excluding any ID already in done or inFlight. Results
// are ordered by TaskNumber (submission order), so SERIAL scheduling
// (which ignores dependencies but must still run "in submitted order")
// gets a deterministic sequence for free.
func (d *DAG) Ready(done, inFlight map[string]bool) []string {
	var ready []store.Task
	for id, t := range d.tasks {
		if done[id] || inFlight[id] {
			continue
		}
		satisfied := true
		for _, dep := range d.edges[id] {
			if !done[dep] {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, t)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].TaskNumber < ready[j].TaskNumber })
	ids := make([]string, len(ready))
	for i, t := range ready {
		ids[i] = t.ID
	}
	return ids
}
