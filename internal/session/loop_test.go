package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ratchet/internal/gate"
	"ratchet/internal/memory"
	"ratchet/internal/task"
	"ratchet/internal/types"
)

func newTestLoop(t *testing.T, client types.LLMClient, registry types.ToolRegistry, maxIters int) (*Loop, *memory.SessionStore) {
	t.Helper()
	session := memory.NewSessionStore(task.ModeStrict)
	g := gate.New(session, task.ModeStrict)
	loop := NewLoop(client, registry, Policy{
		Gate:             g,
		Session:          session,
		MaxIterations:    maxIters,
		HistoryCap:       50,
		BatchParallelism: 2,
	})
	return loop, session
}

func TestLoop_PlainAnswerTerminatesClean(t *testing.T) {
	client := &mockClient{turns: []types.Completion{
		{Text: "The answer is 42.", FinishReason: "stop"},
	}}
	loop, _ := newTestLoop(t, client, newMockRegistry(), 10)

	res, err := loop.ProcessUserMessage(context.Background(), "what is the answer?")
	if err != nil {
		t.Fatalf("ProcessUserMessage: %v", err)
	}
	if res.Outcome != OutcomeClean {
		t.Errorf("outcome = %s, want clean", res.Outcome)
	}
	if res.Text != "The answer is 42." {
		t.Errorf("text = %q", res.Text)
	}
	if res.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", res.Iterations)
	}
}

func TestLoop_ToolCallsThenAnswer(t *testing.T) {
	registry := newMockRegistry()
	registry.add(types.ToolDefinition{Name: "read_file", Class: types.ToolClassRead}, okResult("file contents"))

	client := &mockClient{turns: []types.Completion{
		{ToolCalls: []types.ToolCall{
			{ID: "c1", Name: "read_file", Input: map[string]interface{}{"path": "main.go"}},
		}, FinishReason: "tool_calls"},
		{Text: "main.go defines the entry point.", FinishReason: "stop"},
	}}
	loop, _ := newTestLoop(t, client, registry, 10)

	res, err := loop.ProcessUserMessage(context.Background(), "what is in main.go?")
	if err != nil {
		t.Fatalf("ProcessUserMessage: %v", err)
	}
	if res.Outcome != OutcomeClean || res.Iterations != 2 {
		t.Errorf("outcome = %s iterations = %d, want clean after 2", res.Outcome, res.Iterations)
	}
	if registry.executed.Load() != 1 {
		t.Errorf("tool executions = %d, want 1", registry.executed.Load())
	}

	// The tool result must appear as a tool-role message bound to the call.
	var found bool
	for _, msg := range loop.Conversation().Messages() {
		if msg.Role == types.RoleTool && msg.ToolCallID == "c1" {
			found = true
			if !strings.Contains(msg.Content, "file contents") {
				t.Errorf("tool message missing output: %q", msg.Content)
			}
		}
	}
	if !found {
		t.Error("no tool-role message appended for call c1")
	}
}

func TestLoop_ToolFailureIsRecoverable(t *testing.T) {
	registry := newMockRegistry()
	registry.add(types.ToolDefinition{Name: "flaky", Class: types.ToolClassRead}, func(types.ToolCall) types.ToolResult {
		return types.ToolResult{Error: "disk on fire"}
	})

	client := &mockClient{turns: []types.Completion{
		{ToolCalls: []types.ToolCall{{ID: "c1", Name: "flaky", Input: map[string]interface{}{}}}},
		{Text: "Could not read the disk; nothing else to do.", FinishReason: "stop"},
	}}
	loop, _ := newTestLoop(t, client, registry, 10)

	res, err := loop.ProcessUserMessage(context.Background(), "try the flaky tool")
	if err != nil {
		t.Fatalf("tool failure must not abort the loop: %v", err)
	}
	if res.Outcome != OutcomeClean {
		t.Errorf("outcome = %s, want clean", res.Outcome)
	}

	var sawFailure bool
	for _, msg := range loop.Conversation().Messages() {
		if msg.Role == types.RoleTool && strings.Contains(msg.Content, "disk on fire") {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Error("structured failure result should be visible in history")
	}
}

func TestLoop_TransportFailureIsFatal(t *testing.T) {
	client := &mockClient{errAt: 1}
	loop, _ := newTestLoop(t, client, newMockRegistry(), 10)

	_, err := loop.ProcessUserMessage(context.Background(), "hello")
	if !errors.Is(err, ErrLLMTransport) {
		t.Fatalf("err = %v, want ErrLLMTransport", err)
	}
}

func TestLoop_GateRejectionInjectsCorrective(t *testing.T) {
	client := &mockClient{turns: []types.Completion{
		{Text: "All done!", FinishReason: "stop"},
		{Text: "Nothing was actually pending. Final answer.", FinishReason: "stop"},
	}}
	loop, session := newTestLoop(t, client, newMockRegistry(), 10)

	// A planned-but-unstarted task forces a planning rejection first.
	if _, err := session.AddTask("write the report", task.PriorityHigh, ""); err != nil {
		t.Fatal(err)
	}

	res, err := loop.ProcessUserMessage(context.Background(), "finish up")
	if err != nil {
		t.Fatalf("ProcessUserMessage: %v", err)
	}
	// The task is never worked, so the gate rejects every turn until the
	// ceiling. Each rejection must leave an observable corrective.
	var corrective int
	for _, msg := range loop.Conversation().Messages() {
		if msg.Role == types.RoleUser && strings.Contains(msg.Content, gate.MarkerPlanningValidation) {
			corrective++
		}
	}
	if corrective == 0 {
		t.Error("rejection must inject a corrective user message carrying the marker")
	}
	if res.Outcome != OutcomeExhausted {
		// With the task never worked, the gate cannot accept.
		t.Errorf("outcome = %s, want exhausted", res.Outcome)
	}
}

func TestLoop_IterationCeilingExhausts(t *testing.T) {
	// Model loops forever on tool calls; ceiling must cut it off and mark
	// the run exhausted, not clean.
	registry := newMockRegistry()
	registry.add(types.ToolDefinition{Name: "spin", Class: types.ToolClassRead}, okResult("spun"))

	spin := types.Completion{ToolCalls: []types.ToolCall{{ID: "c", Name: "spin", Input: map[string]interface{}{}}}}
	client := &mockClient{turns: []types.Completion{spin}}
	loop, _ := newTestLoop(t, client, registry, 3)

	res, err := loop.ProcessUserMessage(context.Background(), "spin forever")
	if err != nil {
		t.Fatalf("ProcessUserMessage: %v", err)
	}
	if res.Outcome != OutcomeExhausted {
		t.Errorf("outcome = %s, want exhausted", res.Outcome)
	}
	if res.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", res.Iterations)
	}
}

func TestLoop_PlanningGateBlocksWriteTool(t *testing.T) {
	registry := newMockRegistry()
	registry.add(types.ToolDefinition{Name: "write_file", Class: types.ToolClassWrite}, okResult("wrote"))

	client := &mockClient{turns: []types.Completion{
		{ToolCalls: []types.ToolCall{{ID: "w1", Name: "write_file", Input: map[string]interface{}{"path": "x"}}}},
		{Text: "Stopping here.", FinishReason: "stop"},
	}}
	loop, session := newTestLoop(t, client, registry, 5)

	res, err := loop.ProcessUserMessage(context.Background(), "edit the file")
	if err != nil {
		t.Fatalf("ProcessUserMessage: %v", err)
	}
	if registry.executed.Load() != 0 {
		t.Error("blocked write tool must not execute")
	}

	var blocked bool
	for _, msg := range loop.Conversation().Messages() {
		if msg.Role == types.RoleTool && strings.Contains(msg.Content, gate.MarkerPlanningValidation) {
			blocked = true
		}
	}
	if !blocked {
		t.Error("blocked call should produce a tool result carrying the planning marker")
	}
	_ = res

	// With an active task the same call goes through.
	tk, _ := session.AddTask("edit the file", task.PriorityMedium, "")
	if err := session.SetCurrentTask(tk.ID); err != nil {
		t.Fatal(err)
	}
	client2 := &mockClient{turns: []types.Completion{
		{ToolCalls: []types.ToolCall{{ID: "w2", Name: "write_file", Input: map[string]interface{}{"path": "x"}}}},
		{Text: "Stopping.", FinishReason: "stop"},
	}}
	loop2 := NewLoop(client2, registry, Policy{
		Gate:             gate.New(session, task.ModeStrict),
		Session:          session,
		MaxIterations:    5,
		HistoryCap:       50,
		BatchParallelism: 2,
	})
	if _, err := loop2.ProcessUserMessage(context.Background(), "edit the file"); err != nil {
		t.Fatalf("ProcessUserMessage: %v", err)
	}
	if registry.executed.Load() != 1 {
		t.Errorf("executions = %d, want 1 after task activation", registry.executed.Load())
	}
}

func TestLoop_PauseBlocksIterationBoundary(t *testing.T) {
	client := &mockClient{turns: []types.Completion{{Text: "hi", FinishReason: "stop"}}}
	loop, _ := newTestLoop(t, client, newMockRegistry(), 5)

	loop.Pause()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := loop.ProcessUserMessage(ctx, "hello")
		done <- err
	}()

	time.Sleep(150 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("paused loop should not proceed, returned %v", err)
	default:
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled pause should surface ctx error, got %v", err)
	}
	if client.requestCount() != 0 {
		t.Error("no LLM request should happen while paused")
	}
}
