package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"ratchet/internal/types"
)

// mockClient replays scripted turns through the streaming interface,
// chunking content and tool calls the way a real provider would.
type mockClient struct {
	mu    sync.Mutex
	turns []types.Completion
	calls int

	// errAt, when > 0, makes every request numbered >= errAt fail with a
	// transport error.
	errAt int
}

var errMockTransport = errors.New("mock transport failure")

func (m *mockClient) next() (*types.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.errAt > 0 && m.calls >= m.errAt {
		return nil, errMockTransport
	}
	if len(m.turns) == 0 {
		return &types.Completion{Text: "nothing scripted", FinishReason: "stop"}, nil
	}
	turn := m.turns[0]
	if len(m.turns) > 1 {
		m.turns = m.turns[1:]
	}
	return &turn, nil
}

func (m *mockClient) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockClient) Chat(_ context.Context, _ []types.Message, _ []types.ToolDefinition) (*types.Completion, error) {
	return m.next()
}

func (m *mockClient) ChatStream(_ context.Context, _ []types.Message, _ []types.ToolDefinition) (<-chan types.StreamChunk, <-chan error) {
	chunks := make(chan types.StreamChunk, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		turn, err := m.next()
		if err != nil {
			errs <- err
			return
		}

		// Content in two deltas to exercise accumulation.
		if turn.Text != "" {
			half := len(turn.Text) / 2
			chunks <- types.StreamChunk{ContentDelta: turn.Text[:half]}
			chunks <- types.StreamChunk{ContentDelta: turn.Text[half:]}
		}
		for i, call := range turn.ToolCalls {
			args, _ := json.Marshal(call.Input)
			chunks <- types.StreamChunk{ToolCall: &types.ToolCallFragment{
				Index: i, ID: call.ID, Name: call.Name,
			}}
			// Arguments arrive as split deltas.
			s := string(args)
			chunks <- types.StreamChunk{ToolCall: &types.ToolCallFragment{Index: i, ArgsDelta: s[:len(s)/2]}}
			chunks <- types.StreamChunk{ToolCall: &types.ToolCallFragment{Index: i, ArgsDelta: s[len(s)/2:]}}
		}
		finish := turn.FinishReason
		if finish == "" {
			finish = "stop"
		}
		chunks <- types.StreamChunk{FinishReason: finish}
	}()

	return chunks, errs
}

// mockRegistry dispatches to function handlers and counts executions.
type mockRegistry struct {
	defs     map[string]types.ToolDefinition
	handlers map[string]func(call types.ToolCall) types.ToolResult
	executed atomic.Int64
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{
		defs:     make(map[string]types.ToolDefinition),
		handlers: make(map[string]func(types.ToolCall) types.ToolResult),
	}
}

func (r *mockRegistry) add(def types.ToolDefinition, handler func(types.ToolCall) types.ToolResult) {
	r.defs[def.Name] = def
	r.handlers[def.Name] = handler
}

func (r *mockRegistry) Execute(_ context.Context, call types.ToolCall, _ *types.ToolContext) types.ToolResult {
	r.executed.Add(1)
	h, ok := r.handlers[call.Name]
	if !ok {
		return types.ToolResult{CallID: call.ID, Error: "no handler"}
	}
	res := h(call)
	res.CallID = call.ID
	return res
}

func (r *mockRegistry) Definitions() []types.ToolDefinition {
	var out []types.ToolDefinition
	for _, def := range r.defs {
		out = append(out, def)
	}
	return out
}

func (r *mockRegistry) Lookup(name string) (types.ToolDefinition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// toolThenDoneClient scripts per conversation instead of globally: while a
// history has no tool result yet it requests the tool, afterwards it
// answers. Safe under concurrent agents sharing one client.
type toolThenDoneClient struct {
	toolName string
	answer   string
}

func (c *toolThenDoneClient) turnFor(messages []types.Message) *types.Completion {
	for _, msg := range messages {
		if msg.Role == types.RoleTool {
			return &types.Completion{Text: c.answer, FinishReason: "stop"}
		}
	}
	return &types.Completion{
		ToolCalls:    []types.ToolCall{{ID: "t1", Name: c.toolName, Input: map[string]interface{}{}}},
		FinishReason: "tool_calls",
	}
}

func (c *toolThenDoneClient) Chat(_ context.Context, messages []types.Message, _ []types.ToolDefinition) (*types.Completion, error) {
	return c.turnFor(messages), nil
}

func (c *toolThenDoneClient) ChatStream(_ context.Context, messages []types.Message, _ []types.ToolDefinition) (<-chan types.StreamChunk, <-chan error) {
	chunks := make(chan types.StreamChunk, 16)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		turn := c.turnFor(messages)
		if turn.Text != "" {
			chunks <- types.StreamChunk{ContentDelta: turn.Text}
		}
		for i, call := range turn.ToolCalls {
			chunks <- types.StreamChunk{ToolCall: &types.ToolCallFragment{
				Index: i, ID: call.ID, Name: call.Name, ArgsDelta: "{}",
			}}
		}
		chunks <- types.StreamChunk{FinishReason: turn.FinishReason}
	}()
	return chunks, errs
}

func okResult(output string) func(types.ToolCall) types.ToolResult {
	return func(types.ToolCall) types.ToolResult {
		return types.ToolResult{Success: true, Output: output}
	}
}
