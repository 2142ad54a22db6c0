// Package tools implements the tool registry and the built-in task-management
// tool family. External tools (file I/O, shell, web) register through the same
// surface; nothing in the registry is specific to the built-ins.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ratchet/internal/logging"
	"ratchet/internal/types"
)

// Handler executes one tool call. Failures are reported inside the result,
// never as a panic or error: the loop treats every tool outcome as
// recoverable.
type Handler func(ctx context.Context, call types.ToolCall, tc *types.ToolContext) types.ToolResult

// Tool pairs a definition with its handler.
type Tool struct {
	Def     types.ToolDefinition
	Handler Handler
}

// Registry holds all available tools. It is safe for concurrent use and
// implements types.ToolRegistry.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Duplicate names are an error.
func (r *Registry) Register(tool *Tool) error {
	if tool == nil || tool.Def.Name == "" {
		return fmt.Errorf("tool must have a name")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %s has no handler", tool.Def.Name)
	}
	if tool.Def.Class == "" {
		tool.Def.Class = types.ToolClassRead
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", tool.Def.Name)
	}
	r.tools[tool.Def.Name] = tool

	logging.TaskDebug("Registered tool: %s (class=%s)", tool.Def.Name, tool.Def.Class)
	return nil
}

// MustRegister registers a tool and panics on error. For static registration
// at startup.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Def.Name, err))
	}
}

// Execute runs the named tool and audits the outcome.
func (r *Registry) Execute(ctx context.Context, call types.ToolCall, tc *types.ToolContext) types.ToolResult {
	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	r.mu.RUnlock()

	if !ok {
		return types.ToolResult{
			CallID:  call.ID,
			Success: false,
			Error:   fmt.Sprintf("unknown tool: %s", call.Name),
		}
	}

	start := time.Now()
	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditToolInvoke,
		Target:    call.Name,
		Success:   true,
	})

	result := tool.Handler(ctx, call, tc)
	result.CallID = call.ID

	event := logging.AuditEvent{
		EventType:  logging.AuditToolComplete,
		Target:     call.Name,
		Success:    result.Success,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if !result.Success {
		event.EventType = logging.AuditToolError
		event.Error = result.Error
	}
	logging.Audit().Log(event)

	return result
}

// Definitions returns all tool definitions, sorted by name for a stable
// advertisement order.
func (r *Registry) Definitions() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]types.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Lookup returns the definition for a tool name.
func (r *Registry) Lookup(name string) (types.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return types.ToolDefinition{}, false
	}
	return tool.Def, true
}
