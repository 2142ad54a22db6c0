package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ratchet/internal/gate"
	"ratchet/internal/logging"
	"ratchet/internal/memory"
	"ratchet/internal/task"
	"ratchet/internal/types"
)

// SubAgentState is the lifecycle state of a spawned agent.
type SubAgentState int32

const (
	SubAgentQueued SubAgentState = iota
	SubAgentRunning
	SubAgentCompleted
	SubAgentFailed
	SubAgentCancelled
)

func (s SubAgentState) String() string {
	switch s {
	case SubAgentQueued:
		return "queued"
	case SubAgentRunning:
		return "running"
	case SubAgentCompleted:
		return "completed"
	case SubAgentFailed:
		return "failed"
	case SubAgentCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is an end state.
func (s SubAgentState) Terminal() bool {
	return s == SubAgentCompleted || s == SubAgentFailed || s == SubAgentCancelled
}

// SubAgentSpec describes one child loop to spawn.
type SubAgentSpec struct {
	// Name is a short human-readable label ("researcher", "tester").
	Name string

	// Task is the instruction the child works on.
	Task string

	// Brief is the point-in-time textual projection of the parent's memory.
	// Children read this snapshot, never the parent store itself; staleness
	// is the accepted price for lock-free isolation.
	Brief string

	// AllowedTools is the explicit allow-list. Empty means pure reasoning:
	// no tool may execute, so the child can have no side effects.
	AllowedTools []string

	// MaxIterations bounds the child loop; 0 uses the spawner default.
	MaxIterations int

	// MinIterations is the child's heuristic floor.
	MinIterations int

	// Timeout bounds the child's wall-clock execution; 0 uses the spawner
	// default.
	Timeout time.Duration
}

// SubAgentResult is the joined outcome of one child. A failed child is
// Success=false with Error set; failure never propagates as a Go error.
type SubAgentResult struct {
	AgentID    string        `json:"agent_id"`
	Name       string        `json:"name"`
	Success    bool          `json:"success"`
	Output     string        `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	Iterations int           `json:"iterations"`
	Duration   time.Duration `json:"duration"`
}

// SubAgent is one spawned child: an independent loop instance with its own
// conversation, its own ephemeral session scope, and a filtered tool view.
type SubAgent struct {
	mu   sync.RWMutex
	id   string
	spec SubAgentSpec

	state     int32 // atomic SubAgentState
	startTime time.Time
	endTime   time.Time

	result SubAgentResult
	cancel context.CancelFunc
	done   chan struct{}
}

// ID returns the agent's identifier.
func (a *SubAgent) ID() string {
	return a.id
}

// Name returns the agent's label.
func (a *SubAgent) Name() string {
	return a.spec.Name
}

// State returns the current lifecycle state.
func (a *SubAgent) State() SubAgentState {
	return SubAgentState(atomic.LoadInt32(&a.state))
}

// Result returns the joined result. Only meaningful once State().Terminal().
func (a *SubAgent) Result() SubAgentResult {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.result
}

// Stop requests cancellation. A queued agent resolves as cancelled without
// running; a running agent's context is cancelled and in-flight operations
// are allowed to finish.
func (a *SubAgent) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		logging.Agent("SubAgent %s stop requested", a.id)
	}
}

// wait blocks until the agent reaches a terminal state or ctx is done.
func (a *SubAgent) wait(ctx context.Context) (SubAgentResult, bool) {
	select {
	case <-a.done:
		return a.Result(), true
	case <-ctx.Done():
		return SubAgentResult{
			AgentID: a.id,
			Name:    a.spec.Name,
			Error:   "wait cancelled: " + ctx.Err().Error(),
		}, false
	}
}

// run executes the child loop. Admission is the caller's concern; run owns
// the state transitions and result capture.
func (a *SubAgent) run(ctx context.Context, client types.LLMClient, registry types.ToolRegistry, mode task.Mode) {
	defer close(a.done)

	if ctx.Err() != nil {
		a.finish(SubAgentCancelled, SubAgentResult{
			AgentID: a.id, Name: a.spec.Name, Error: "cancelled before start",
		})
		return
	}

	atomic.StoreInt32(&a.state, int32(SubAgentRunning))
	a.mu.Lock()
	a.startTime = time.Now()
	a.mu.Unlock()
	logging.Agent("SubAgent %s (%s) running: %s", a.id, a.spec.Name, truncate(a.spec.Task, 100))

	// The child gets a fresh ephemeral session scope. The parent's state
	// arrives only through the brief baked into the system prompt.
	childSession := memory.NewSessionStore(mode)
	childGate := gate.New(childSession, mode)

	loop := NewLoop(client, newFilteredRegistry(registry, a.spec.AllowedTools), Policy{
		Gate:             childGate,
		Session:          childSession,
		MaxIterations:    a.spec.MaxIterations,
		MinIterations:    a.spec.MinIterations,
		HistoryCap:       defaultSubagentHistoryCap,
		BatchParallelism: 1,
		SystemPrompt:     a.systemPrompt(),
	})

	res, err := loop.ProcessUserMessage(ctx, a.spec.Task)
	duration := time.Since(a.startTime)

	switch {
	case err != nil && ctx.Err() != nil:
		a.finish(SubAgentCancelled, SubAgentResult{
			AgentID: a.id, Name: a.spec.Name, Error: err.Error(), Duration: duration,
		})
	case err != nil:
		a.finish(SubAgentFailed, SubAgentResult{
			AgentID: a.id, Name: a.spec.Name, Error: err.Error(), Duration: duration,
		})
	default:
		a.finish(SubAgentCompleted, SubAgentResult{
			AgentID:    a.id,
			Name:       a.spec.Name,
			Success:    true,
			Output:     res.Text,
			Iterations: res.Iterations,
			Duration:   duration,
		})
	}
}

func (a *SubAgent) finish(state SubAgentState, result SubAgentResult) {
	a.mu.Lock()
	a.endTime = time.Now()
	a.result = result
	a.mu.Unlock()
	atomic.StoreInt32(&a.state, int32(state))

	event := logging.AuditAgentComplete
	switch state {
	case SubAgentFailed:
		event = logging.AuditAgentFailed
	case SubAgentCancelled:
		event = logging.AuditAgentCancel
	}
	logging.Audit().Log(logging.AuditEvent{
		EventType: event,
		Target:    a.id,
		Success:   result.Success,
		Message:   truncate(result.Error, 200),
	})
	logging.Agent("SubAgent %s finished: %s (success=%v)", a.id, state, result.Success)
}

// systemPrompt composes the child's seed prompt from its role and the brief.
func (a *SubAgent) systemPrompt() string {
	prompt := fmt.Sprintf("You are %q, a focused sub-agent. Work only the task you are given and report your findings as a final plain answer.", a.spec.Name)
	if len(a.spec.AllowedTools) == 0 {
		prompt += " You have no tools; reason over the provided context only."
	}
	if a.spec.Brief != "" {
		prompt += "\n\nContext from the parent session (snapshot, may be stale):\n" + a.spec.Brief
	}
	return prompt
}

const defaultSubagentHistoryCap = 30

// filteredRegistry narrows a registry to an allow-list. An empty list
// permits nothing: the child is pure reasoning.
type filteredRegistry struct {
	inner   types.ToolRegistry
	allowed map[string]bool
}

func newFilteredRegistry(inner types.ToolRegistry, allowed []string) types.ToolRegistry {
	set := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		set[name] = true
	}
	return &filteredRegistry{inner: inner, allowed: set}
}

func (f *filteredRegistry) Execute(ctx context.Context, call types.ToolCall, tc *types.ToolContext) types.ToolResult {
	if !f.allowed[call.Name] {
		return types.ToolResult{
			CallID: call.ID,
			Error:  fmt.Sprintf("tool %q is not in this agent's allow-list", call.Name),
		}
	}
	return f.inner.Execute(ctx, call, tc)
}

func (f *filteredRegistry) Definitions() []types.ToolDefinition {
	if f.inner == nil {
		return nil
	}
	var out []types.ToolDefinition
	for _, def := range f.inner.Definitions() {
		if f.allowed[def.Name] {
			out = append(out, def)
		}
	}
	return out
}

func (f *filteredRegistry) Lookup(name string) (types.ToolDefinition, bool) {
	if !f.allowed[name] || f.inner == nil {
		return types.ToolDefinition{}, false
	}
	return f.inner.Lookup(name)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
