package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"ratchet/internal/memory"
	"ratchet/internal/session"
	"ratchet/internal/task"
	"ratchet/internal/types"
)

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	store, err := memory.Open(memory.Options{
		HomeDir:     t.TempDir(),
		ProjectPath: t.TempDir(),
		Mode:        task.ModeStrict,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func run(t *testing.T, r *Registry, name string, input map[string]interface{}) types.ToolResult {
	t.Helper()
	return r.Execute(context.Background(), types.ToolCall{ID: "c_" + name, Name: name, Input: input}, &types.ToolContext{})
}

func mustRun(t *testing.T, r *Registry, name string, input map[string]interface{}) types.ToolResult {
	t.Helper()
	res := run(t, r, name, input)
	if !res.Success {
		t.Fatalf("%s failed: %s", name, res.Error)
	}
	return res
}

func taskIDFrom(t *testing.T, res types.ToolResult) string {
	t.Helper()
	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(res.Output), &payload); err != nil || payload.ID == "" {
		t.Fatalf("output %q should carry a task id", res.Output)
	}
	return payload.ID
}

func TestCreateTask(t *testing.T) {
	store := newTestStore(t)
	r := NewRegistry()
	RegisterBuiltins(r, store, nil)

	if res := run(t, r, "create_task", map[string]interface{}{}); res.Success {
		t.Error("create_task without description should fail")
	}

	res := mustRun(t, r, "create_task", map[string]interface{}{
		"description": "wire the importer",
		"priority":    "high",
	})
	id := taskIDFrom(t, res)

	created, ok := store.Session().GetTask(id)
	if !ok {
		t.Fatal("task not found in session store")
	}
	if created.Status != task.StatusWaiting {
		t.Errorf("new task status = %s, want waiting", created.Status)
	}
	if created.Priority != task.PriorityHigh {
		t.Errorf("priority = %s, want high", created.Priority)
	}
}

func TestCreateTask_UnknownPriorityDefaultsToMedium(t *testing.T) {
	store := newTestStore(t)
	r := NewRegistry()
	RegisterBuiltins(r, store, nil)

	res := mustRun(t, r, "create_task", map[string]interface{}{
		"description": "tidy up",
		"priority":    "urgent",
	})
	created, _ := store.Session().GetTask(taskIDFrom(t, res))
	if created.Priority != task.PriorityMedium {
		t.Errorf("priority = %s, want medium", created.Priority)
	}
}

func TestSetCurrentTask(t *testing.T) {
	store := newTestStore(t)
	r := NewRegistry()
	RegisterBuiltins(r, store, nil)

	id := taskIDFrom(t, mustRun(t, r, "create_task", map[string]interface{}{"description": "focus me"}))
	mustRun(t, r, "set_current_task", map[string]interface{}{"id": id})

	current := store.Session().CurrentTask()
	if current == nil || current.ID != id {
		t.Fatalf("current task = %+v, want %s", current, id)
	}
	if current.Status != task.StatusActive {
		t.Errorf("status = %s, want active", current.Status)
	}

	if res := run(t, r, "set_current_task", map[string]interface{}{"id": "task_missing"}); res.Success {
		t.Error("activating an unknown task should fail")
	}
}

func TestUpdateTaskStatus(t *testing.T) {
	store := newTestStore(t)
	r := NewRegistry()
	RegisterBuiltins(r, store, nil)

	id := taskIDFrom(t, mustRun(t, r, "create_task", map[string]interface{}{"description": "move me"}))
	mustRun(t, r, "set_current_task", map[string]interface{}{"id": id})

	if res := run(t, r, "update_task_status", map[string]interface{}{"id": id, "status": "half-done"}); res.Success {
		t.Error("unknown status should fail")
	}

	mustRun(t, r, "update_task_status", map[string]interface{}{"id": id, "status": "pending_verification"})
	updated, _ := store.Session().GetTask(id)
	if updated.Status != task.StatusPendingVerification {
		t.Errorf("status = %s, want pending_verification", updated.Status)
	}
}

func TestCompleteTask_RequiresWorkflow(t *testing.T) {
	store := newTestStore(t)
	r := NewRegistry()
	RegisterBuiltins(r, store, nil)

	id := taskIDFrom(t, mustRun(t, r, "create_task", map[string]interface{}{"description": "finish me"}))
	mustRun(t, r, "set_current_task", map[string]interface{}{"id": id})

	// Strict mode refuses active -> completed.
	if res := run(t, r, "complete_task", map[string]interface{}{"id": id, "summary": "did it"}); res.Success {
		t.Error("completing an active task should fail in strict mode")
	}

	mustRun(t, r, "update_task_status", map[string]interface{}{"id": id, "status": "pending_verification"})
	mustRun(t, r, "verify_task", map[string]interface{}{"id": id, "passed": true, "method": "tests_pass"})
	mustRun(t, r, "complete_task", map[string]interface{}{"id": id, "summary": "did it"})

	completed, _ := store.Session().GetTask(id)
	if completed.Status != task.StatusCompleted {
		t.Errorf("status = %s, want completed", completed.Status)
	}
	if completed.CompletionMessage != "did it" {
		t.Errorf("summary = %q", completed.CompletionMessage)
	}
}

func TestRecordError(t *testing.T) {
	store := newTestStore(t)
	r := NewRegistry()
	RegisterBuiltins(r, store, nil)

	mustRun(t, r, "record_error", map[string]interface{}{
		"message":  "TestImport failed",
		"source":   "go test",
		"severity": "high",
	})
	errs := store.Session().UnresolvedErrors()
	if len(errs) != 1 || errs[0].Message != "TestImport failed" {
		t.Errorf("UnresolvedErrors = %+v", errs)
	}
	if errs[0].Severity != memory.ImportanceHigh {
		t.Errorf("severity = %s, want high", errs[0].Severity)
	}
}

func TestNoteFile_AttributesEditToCurrentTask(t *testing.T) {
	store := newTestStore(t)
	r := NewRegistry()
	RegisterBuiltins(r, store, nil)

	id := taskIDFrom(t, mustRun(t, r, "create_task", map[string]interface{}{"description": "edit things"}))
	mustRun(t, r, "set_current_task", map[string]interface{}{"id": id})
	mustRun(t, r, "note_file", map[string]interface{}{"path": "internal/parser/lex.go", "summary": "new token kind"})

	edits := store.Session().EditsForTask(id)
	if len(edits) != 1 || edits[0].Path != "internal/parser/lex.go" {
		t.Errorf("EditsForTask = %+v", edits)
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	store := newTestStore(t)
	r := NewRegistry()
	RegisterBuiltins(r, store, nil)

	mustRun(t, r, "archive_note", map[string]interface{}{
		"content":    "retry loops must cap backoff at 4s",
		"summary":    "backoff cap",
		"keywords":   []interface{}{"retry", "backoff"},
		"importance": "high",
	})

	res := mustRun(t, r, "search_memory", map[string]interface{}{"query": "backoff"})
	if !strings.Contains(res.Output, "backoff cap") {
		t.Errorf("search output = %q", res.Output)
	}

	empty := mustRun(t, r, "search_memory", map[string]interface{}{"query": "zanzibar"})
	if !strings.Contains(empty.Output, "No archive entries") {
		t.Errorf("empty search output = %q", empty.Output)
	}
}

// reasonClient answers every turn with plain text, so spawned children finish
// on their first iteration.
type reasonClient struct{}

func (c *reasonClient) Chat(ctx context.Context, messages []types.Message, tools []types.ToolDefinition) (*types.Completion, error) {
	return &types.Completion{Text: "Analysis: nothing further is required.", FinishReason: "stop"}, nil
}

func (c *reasonClient) ChatStream(ctx context.Context, messages []types.Message, tools []types.ToolDefinition) (<-chan types.StreamChunk, <-chan error) {
	chunks := make(chan types.StreamChunk, 2)
	errs := make(chan error, 1)
	chunks <- types.StreamChunk{ContentDelta: "Analysis: nothing further is required."}
	chunks <- types.StreamChunk{FinishReason: "stop"}
	close(chunks)
	close(errs)
	return chunks, errs
}

func TestSpawnAndWaitAgents(t *testing.T) {
	store := newTestStore(t)
	r := NewRegistry()
	spawner := session.NewSpawner(&reasonClient{}, r, session.DefaultSpawnerConfig())
	RegisterBuiltins(r, store, spawner)

	res := mustRun(t, r, "spawn_agents", map[string]interface{}{
		"agents": []interface{}{
			map[string]interface{}{"name": "researcher", "task": "survey the parser"},
		},
	})
	var spawned struct {
		AgentIDs []string `json:"agent_ids"`
	}
	if err := json.Unmarshal([]byte(res.Output), &spawned); err != nil || len(spawned.AgentIDs) != 1 {
		t.Fatalf("spawn output = %q", res.Output)
	}

	waited := mustRun(t, r, "wait_agents", map[string]interface{}{
		"agent_ids": []interface{}{spawned.AgentIDs[0], "agent_missing"},
	})
	var payload struct {
		Results []session.SubAgentResult `json:"results"`
	}
	if err := json.Unmarshal([]byte(waited.Output), &payload); err != nil {
		t.Fatalf("wait output = %q", waited.Output)
	}
	if len(payload.Results) != 2 {
		t.Fatalf("got %d results, want one per requested id", len(payload.Results))
	}
	if !payload.Results[0].Success {
		t.Errorf("child should succeed: %+v", payload.Results[0])
	}
	if payload.Results[1].Error == "" {
		t.Error("unknown id should resolve to an error entry")
	}
}

func TestSpawnAgents_RequiresTask(t *testing.T) {
	store := newTestStore(t)
	r := NewRegistry()
	spawner := session.NewSpawner(&reasonClient{}, r, session.DefaultSpawnerConfig())
	RegisterBuiltins(r, store, spawner)

	res := run(t, r, "spawn_agents", map[string]interface{}{
		"agents": []interface{}{map[string]interface{}{"name": "idle"}},
	})
	if res.Success {
		t.Error("spawn without a task should fail")
	}
}
