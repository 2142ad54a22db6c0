package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"ratchet/internal/types"
)

// The genai dependency pulls in opencensus, whose stats worker starts at
// package init and lives for the whole process. It is not a spawner
// goroutine and must not fail the leak checks.
var ignoreInitGoroutines = goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start")

func TestSpawner_SpawnAndWaitAll(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreInitGoroutines)

	client := &mockClient{turns: []types.Completion{{Text: "child finding", FinishReason: "stop"}}}
	s := NewSpawner(client, newMockRegistry(), DefaultSpawnerConfig())

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.Spawn(SubAgentSpec{Name: "researcher", Task: "summarize the design"})
		if err != nil {
			t.Fatalf("Spawn: %v", err)
		}
		ids = append(ids, id)
	}

	results := s.WaitAll(context.Background(), ids)
	if len(results) != len(ids) {
		t.Fatalf("got %d results, want %d", len(results), len(ids))
	}
	for _, id := range ids {
		res, ok := results[id]
		if !ok {
			t.Fatalf("missing result for %s", id)
		}
		if !res.Success {
			t.Errorf("agent %s failed: %s", id, res.Error)
		}
		if res.Output != "child finding" {
			t.Errorf("agent %s output = %q", id, res.Output)
		}
	}
}

func TestSpawner_WaitAllNeverThrows(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreInitGoroutines)

	// Every child fails at the transport level.
	client := &mockClient{errAt: 1}
	s := NewSpawner(client, newMockRegistry(), DefaultSpawnerConfig())

	id1, _ := s.Spawn(SubAgentSpec{Name: "a", Task: "t"})
	id2, _ := s.Spawn(SubAgentSpec{Name: "b", Task: "t"})

	results := s.WaitAll(context.Background(), []string{id1, id2, "no-such-agent"})
	if len(results) != 3 {
		t.Fatalf("got %d results, want exactly one per requested id", len(results))
	}
	for id, res := range results {
		if res.Success {
			t.Errorf("agent %s unexpectedly succeeded", id)
		}
		if res.Error == "" {
			t.Errorf("agent %s failure must carry an error", id)
		}
	}
	if !strings.Contains(results["no-such-agent"].Error, ErrUnknownAgent.Error()) {
		t.Errorf("unknown id error = %q", results["no-such-agent"].Error)
	}
}

func TestSpawner_AdmissionBound(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreInitGoroutines)

	var mu sync.Mutex
	running, peak := 0, 0

	// A registry whose tool blocks long enough to observe concurrency.
	registry := newMockRegistry()
	registry.add(types.ToolDefinition{Name: "probe", Class: types.ToolClassRead}, func(types.ToolCall) types.ToolResult {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return types.ToolResult{Success: true, Output: "ok"}
	})

	// Agents interleave, so the script keys off each child's own history:
	// first turn requests the probe, the turn after its result answers.
	client := &toolThenDoneClient{toolName: "probe", answer: "done probing"}

	cfg := DefaultSpawnerConfig()
	cfg.MaxActive = 2
	s := NewSpawner(client, registry, cfg)

	var ids []string
	for i := 0; i < 6; i++ {
		id, err := s.Spawn(SubAgentSpec{Name: "probe", Task: "probe it", AllowedTools: []string{"probe"}})
		if err != nil {
			t.Fatalf("Spawn: %v", err)
		}
		ids = append(ids, id)
	}
	s.WaitAll(context.Background(), ids)

	if peak > cfg.MaxActive {
		t.Errorf("peak concurrent tool runs = %d, admission limit is %d", peak, cfg.MaxActive)
	}
}

func TestSpawner_EmptyAllowListIsPureReasoning(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreInitGoroutines)

	registry := newMockRegistry()
	registry.add(types.ToolDefinition{Name: "write_file", Class: types.ToolClassWrite}, okResult("wrote"))

	// The child tries to call a tool anyway; the filtered registry must
	// refuse and the model then answers plainly.
	client := &mockClient{turns: []types.Completion{
		{ToolCalls: []types.ToolCall{{ID: "c", Name: "write_file", Input: map[string]interface{}{}}}},
		{Text: "reasoned without tools", FinishReason: "stop"},
	}}
	s := NewSpawner(client, registry, DefaultSpawnerConfig())

	id, _ := s.Spawn(SubAgentSpec{Name: "thinker", Task: "think"})
	results := s.WaitAll(context.Background(), []string{id})

	if registry.executed.Load() != 0 {
		t.Error("pure-reasoning agent must not execute any tool")
	}
	if !results[id].Success {
		t.Errorf("agent should still complete: %s", results[id].Error)
	}
}

func TestSpawner_StopCancelsRunning(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreInitGoroutines)

	started := make(chan struct{})
	release := make(chan struct{})
	registry := newMockRegistry()
	registry.add(types.ToolDefinition{Name: "hang", Class: types.ToolClassRead}, func(types.ToolCall) types.ToolResult {
		close(started)
		<-release
		return types.ToolResult{Success: true}
	})

	client := &mockClient{turns: []types.Completion{
		{ToolCalls: []types.ToolCall{{ID: "h", Name: "hang", Input: map[string]interface{}{}}}},
		{Text: "done", FinishReason: "stop"},
	}}
	s := NewSpawner(client, registry, DefaultSpawnerConfig())

	id, _ := s.Spawn(SubAgentSpec{Name: "hanger", Task: "hang around", AllowedTools: []string{"hang"}})
	<-started
	agent, _ := s.Get(id)
	agent.Stop()
	close(release)

	results := s.WaitAll(context.Background(), []string{id})
	res := results[id]
	if res.Success {
		t.Error("stopped agent must not report success")
	}
	if agent.State() != SubAgentCancelled && agent.State() != SubAgentFailed {
		t.Errorf("state = %s, want cancelled or failed", agent.State())
	}
}

func TestSpawner_QueueStatusAndCleanup(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreInitGoroutines)

	client := &mockClient{turns: []types.Completion{{Text: "ok", FinishReason: "stop"}}}
	s := NewSpawner(client, newMockRegistry(), DefaultSpawnerConfig())

	id1, _ := s.Spawn(SubAgentSpec{Name: "a", Task: "t"})
	id2, _ := s.Spawn(SubAgentSpec{Name: "b", Task: "t"})
	s.WaitAll(context.Background(), []string{id1, id2})

	status := s.QueueStatus()
	if status.Completed != 2 {
		t.Errorf("completed = %d, want 2", status.Completed)
	}
	if status.MaxActive != DefaultSpawnerConfig().MaxActive {
		t.Errorf("max_active = %d", status.MaxActive)
	}

	if removed := s.Cleanup(); removed != 2 {
		t.Errorf("cleanup removed %d, want 2", removed)
	}
	if len(s.List()) != 0 {
		t.Error("cleanup should drop terminal agents from List")
	}
}
