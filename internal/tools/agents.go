package tools

import (
	"context"
	"encoding/json"
	"time"

	"ratchet/internal/logging"
	"ratchet/internal/memory"
	"ratchet/internal/session"
	"ratchet/internal/types"
)

// Subagent orchestration tools. Spawn returns immediately with agent ids;
// wait_agents joins them. Children receive a point-in-time brief of the
// parent's session, never a live store handle.

func registerAgentTools(r *Registry, store *memory.Store, spawner *session.Spawner) {
	r.MustRegister(&Tool{
		Def: types.ToolDefinition{
			Name:        "spawn_agents",
			Description: "Spawn one or more subagents to work on tasks concurrently. Returns agent ids; use wait_agents to collect results. An empty allowed_tools list means the agent can only reason, not act.",
			Class:       types.ToolClassRead,
			InputSchema: objectSchema(map[string]interface{}{
				"agents": map[string]interface{}{
					"type":        "array",
					"description": "Agents to spawn",
					"items": objectSchema(map[string]interface{}{
						"name":            prop("string", "Short label, e.g. researcher or tester"),
						"task":            prop("string", "The instruction the agent works on"),
						"allowed_tools":   stringArrayProp("Tool names the agent may use; empty for pure reasoning"),
						"max_iterations":  prop("integer", "Iteration ceiling (0 for the default)"),
						"timeout_seconds": prop("integer", "Wall-clock bound (0 for the default)"),
					}, "name", "task"),
				},
			}, "agents"),
		},
		Handler: func(ctx context.Context, call types.ToolCall, tc *types.ToolContext) types.ToolResult {
			specs, err := parseAgentSpecs(call.Input)
			if err != nil {
				return failure(err)
			}
			if len(specs) == 0 {
				return missingArg(call, "agents")
			}

			// One brief shared by the whole batch: siblings see the same
			// snapshot regardless of spawn order.
			brief := session.BuildBrief(store.Session())

			ids := make([]string, 0, len(specs))
			for _, spec := range specs {
				spec.Brief = brief
				id, err := spawner.Spawn(spec)
				if err != nil {
					return failure(err)
				}
				ids = append(ids, id)
			}
			logging.Agent("Spawned %d subagent(s): %v", len(ids), ids)
			return jsonResult(map[string]interface{}{"agent_ids": ids})
		},
	})

	r.MustRegister(&Tool{
		Def: types.ToolDefinition{
			Name:        "wait_agents",
			Description: "Wait for spawned subagents to finish and collect their results. Always returns one result per requested id.",
			Class:       types.ToolClassRead,
			InputSchema: objectSchema(map[string]interface{}{
				"agent_ids": stringArrayProp("Agent ids returned by spawn_agents"),
			}, "agent_ids"),
		},
		Handler: func(ctx context.Context, call types.ToolCall, tc *types.ToolContext) types.ToolResult {
			ids := stringSliceArg(call.Input, "agent_ids")
			if len(ids) == 0 {
				return missingArg(call, "agent_ids")
			}
			results := spawner.WaitAll(ctx, ids)

			// Render in request order.
			ordered := make([]session.SubAgentResult, 0, len(ids))
			for _, id := range ids {
				ordered = append(ordered, results[id])
			}
			return jsonResult(map[string]interface{}{"results": ordered})
		},
	})
}

func parseAgentSpecs(input map[string]interface{}) ([]session.SubAgentSpec, error) {
	raw, ok := input["agents"]
	if !ok {
		return nil, nil
	}
	// Round-trip through JSON rather than walking interface{} by hand.
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var items []struct {
		Name           string   `json:"name"`
		Task           string   `json:"task"`
		AllowedTools   []string `json:"allowed_tools"`
		MaxIterations  int      `json:"max_iterations"`
		TimeoutSeconds int      `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}

	specs := make([]session.SubAgentSpec, 0, len(items))
	for _, item := range items {
		specs = append(specs, session.SubAgentSpec{
			Name:          item.Name,
			Task:          item.Task,
			AllowedTools:  item.AllowedTools,
			MaxIterations: item.MaxIterations,
			Timeout:       time.Duration(item.TimeoutSeconds) * time.Second,
		})
	}
	return specs, nil
}
