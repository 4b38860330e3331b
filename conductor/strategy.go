package conductor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codeframe/codeframe/internal/store"
	"github.com/codeframe/codeframe/llm"
	"github.com/codeframe/codeframe/types"
)

// resolveDependencyMap builds the dependency map a batch's DAG is built
// from, based on the strategy selected for it.
//
//   - SERIAL ignores dependencies outright: the caller chains tasks one at
//     a time regardless of what this returns, so SERIAL yields an empty map.
//   - PARALLEL honors the batch's explicit DependencyMap verbatim (empty
//     meaning "fully parallel").
//   - AUTO calls the provider with purpose=DEPENDENCY_INFERENCE over the
//     task titles/descriptions and parses its answer into the same shape;
//     BuildDAG then validates the result is acyclic.
func resolveDependencyMap(ctx context.Context, provider llm.Provider, strategy store.BatchStrategy, tasks []store.Task, explicit map[string][]string) (map[string][]string, error) {
	switch strategy {
	case store.StrategySerial:
		return map[string][]string{}, nil
	case store.StrategyParallel:
		if explicit == nil {
			explicit = map[string][]string{}
		}
		return explicit, nil
	case store.StrategyAuto:
		return inferDependencyMap(ctx, provider, tasks)
	default:
		return nil, types.NewError(types.ErrInvalidDependencyMap, fmt.Sprintf("unknown batch strategy %q", strategy))
	}
}

// inferredDependency is one entry of the provider's JSON answer.
type inferredDependency struct {
	TaskID    string   `json:"task_id"`
	DependsOn []string `json:"depends_on"`
}

func inferDependencyMap(ctx context.Context, provider llm.Provider, tasks []store.Task) (map[string][]string, error) {
	var b strings.Builder
	b.WriteString("Given the following tasks, infer which tasks must complete before others can start. ")
	b.WriteString("Respond with a JSON array, one object per task that has dependencies, each shaped ")
	b.WriteString(`{"task_id": "<id>", "depends_on": ["<id>", ...]}. `)
	b.WriteString("Omit tasks with no dependencies. Do not introduce a dependency cycle.\n\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "- id=%s title=%q description=%q\n", t.ID, t.Title, t.Description)
	}

	resp, err := provider.Completion(ctx, &llm.ChatRequest{
		Purpose: llm.PurposeDependencyInference,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: b.String()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("conductor: dependency inference: %w", err)
	}
	if len(resp.Choices) == 0 {
		return map[string][]string{}, nil
	}

	raw := extractJSONArray(resp.Choices[0].Message.Content)
	var deps []inferredDependency
	if err := json.Unmarshal([]byte(raw), &deps); err != nil {
		return nil, types.NewError(types.ErrInvalidDependencyMap,
			fmt.Sprintf("dependency inference returned unparseable JSON: %s", err)).WithCause(err)
	}

	out := make(map[string][]string, len(deps))
	for _, d := range deps {
		out[d.TaskID] = d.DependsOn
	}
	return out, nil
}

// extractJSONArray trims leading/trailing prose a model may wrap its JSON
// answer in, returning the substring from the first '[' to the last ']'.
func extractJSONArray(s string) string {
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
