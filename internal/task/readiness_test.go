package task

import (
	"testing"
	"time"
)

func taskMap(tasks ...*Task) map[string]*Task {
	m := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		m[t.ID] = t
	}
	return m
}

func mkTask(id string, status Status, priority Priority, createdAt time.Time) *Task {
	return &Task{
		ID:        id,
		Status:    status,
		Priority:  priority,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestNextTasks_OnlyWaiting(t *testing.T) {
	now := time.Now()
	tasks := taskMap(
		mkTask("t1", StatusWaiting, PriorityMedium, now),
		mkTask("t2", StatusActive, PriorityHigh, now),
		mkTask("t3", StatusBlocked, PriorityHigh, now),
		mkTask("t4", StatusPendingVerification, PriorityHigh, now),
		mkTask("t5", StatusCompleted, PriorityHigh, now),
		mkTask("t6", StatusAbandoned, PriorityHigh, now),
	)

	set := NextTasks(tasks, ReadyOptions{})
	if len(set.Tasks) != 1 || set.Tasks[0].ID != "t1" {
		t.Fatalf("got %d tasks, want exactly t1", len(set.Tasks))
	}
	for _, tk := range set.Tasks {
		if tk.Status != StatusWaiting {
			t.Errorf("returned task %s has status %s, want waiting", tk.ID, tk.Status)
		}
	}
	if set.TotalRemaining != 4 {
		t.Errorf("TotalRemaining = %d, want 4", set.TotalRemaining)
	}
}

func TestNextTasks_ChildrenMustBeTerminal(t *testing.T) {
	now := time.Now()
	parent := mkTask("parent", StatusWaiting, PriorityHigh, now)
	childDone := mkTask("c1", StatusCompleted, PriorityMedium, now)
	childDone.ParentID = "parent"
	childOpen := mkTask("c2", StatusWaiting, PriorityMedium, now.Add(time.Second))
	childOpen.ParentID = "parent"

	set := NextTasks(taskMap(parent, childDone, childOpen), ReadyOptions{})
	// Parent is not ready while c2 is open; c2 itself is ready (leaf).
	if len(set.Tasks) != 1 || set.Tasks[0].ID != "c2" {
		t.Fatalf("got %v, want just c2", ids(set.Tasks))
	}

	childOpen.Status = StatusAbandoned
	set = NextTasks(taskMap(parent, childDone, childOpen), ReadyOptions{})
	if len(set.Tasks) != 1 || set.Tasks[0].ID != "parent" {
		t.Fatalf("after children terminal, got %v, want just parent", ids(set.Tasks))
	}
}

func TestNextTasks_Ordering(t *testing.T) {
	base := time.Now()
	tasks := taskMap(
		mkTask("low", StatusWaiting, PriorityLow, base),
		mkTask("med_old", StatusWaiting, PriorityMedium, base.Add(1*time.Second)),
		mkTask("med_new", StatusWaiting, PriorityMedium, base.Add(5*time.Second)),
		mkTask("high_new", StatusWaiting, PriorityHigh, base.Add(10*time.Second)),
		mkTask("high_old", StatusWaiting, PriorityHigh, base.Add(2*time.Second)),
	)

	set := NextTasks(tasks, ReadyOptions{})
	want := []string{"high_old", "high_new", "med_old", "med_new", "low"}
	got := ids(set.Tasks)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %v, want %v", i, got, want)
		}
	}
}

func TestNextTasks_MaxTasksCap(t *testing.T) {
	base := time.Now()
	tasks := taskMap(
		mkTask("a", StatusWaiting, PriorityHigh, base),
		mkTask("b", StatusWaiting, PriorityMedium, base),
		mkTask("c", StatusWaiting, PriorityLow, base),
	)

	set := NextTasks(tasks, ReadyOptions{MaxTasks: 2})
	if len(set.Tasks) != 2 {
		t.Fatalf("MaxTasks=2 returned %d tasks", len(set.Tasks))
	}
	if set.TotalReady != 3 {
		t.Errorf("TotalReady = %d, want 3 (pre-cap)", set.TotalReady)
	}
	if set.Tasks[0].ID != "a" {
		t.Errorf("cap should keep highest priority first, got %s", set.Tasks[0].ID)
	}
}

func TestNextTasks_IndependentSubsetByFiles(t *testing.T) {
	base := time.Now()
	a := mkTask("a", StatusWaiting, PriorityHigh, base)
	a.RelatedFiles = []string{"internal/parser/parser.go"}
	b := mkTask("b", StatusWaiting, PriorityMedium, base.Add(time.Second))
	b.RelatedFiles = []string{"internal/parser/parser.go", "internal/parser/lexer.go"}
	c := mkTask("c", StatusWaiting, PriorityLow, base.Add(2*time.Second))
	c.RelatedFiles = []string{"cmd/main.go"}

	set := NextTasks(taskMap(a, b, c), ReadyOptions{IndependentOnly: true})
	got := ids(set.Tasks)
	// b conflicts with a on parser.go; a wins on priority.
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("got %v, want [a c]", got)
	}

	// Without the flag all three come back.
	set = NextTasks(taskMap(a, b, c), ReadyOptions{})
	if len(set.Tasks) != 3 {
		t.Fatalf("without IndependentOnly got %v", ids(set.Tasks))
	}
}

func TestNextTasks_Progress(t *testing.T) {
	now := time.Now()
	set := NextTasks(taskMap(
		mkTask("a", StatusCompleted, PriorityLow, now),
		mkTask("b", StatusAbandoned, PriorityLow, now),
		mkTask("c", StatusWaiting, PriorityLow, now),
		mkTask("d", StatusActive, PriorityLow, now),
	), ReadyOptions{})

	if set.ExecutionProgress != 50 {
		t.Errorf("ExecutionProgress = %v, want 50", set.ExecutionProgress)
	}

	empty := NextTasks(nil, ReadyOptions{})
	if empty.ExecutionProgress != 0 || len(empty.Tasks) != 0 {
		t.Errorf("empty set should report zero progress and no tasks")
	}
}

func ids(tasks []*Task) []string {
	out := make([]string, 0, len(tasks))
	for _, tk := range tasks {
		out = append(out, tk.ID)
	}
	return out
}
