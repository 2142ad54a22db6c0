package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ratchet/internal/task"
)

func openTestStore(t *testing.T, home string) *Store {
	t.Helper()
	s, err := Open(Options{
		HomeDir:     home,
		ProjectPath: "/work/demo",
		Mode:        task.ModeStrict,
		Decay:       DefaultDecayConfig(),
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func TestStore_OpenClose(t *testing.T) {
	home := t.TempDir()
	s := openTestStore(t, home)

	if s.SessionID() == "" || !strings.HasPrefix(s.SessionID(), "sess_") {
		t.Errorf("SessionID = %q", s.SessionID())
	}
	if s.Session() == nil || s.Project() == nil || s.Archive() == nil {
		t.Fatal("Store came up with nil components")
	}
	if _, err := os.Stat(filepath.Join(home, "archive.db")); err != nil {
		t.Errorf("Archive database not created: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestStore_OpenValidatesOptions(t *testing.T) {
	if _, err := Open(Options{ProjectPath: "/work/x"}); err == nil {
		t.Error("Open without HomeDir should fail")
	}
	if _, err := Open(Options{HomeDir: t.TempDir()}); err == nil {
		t.Error("Open without ProjectPath should fail")
	}
}

func TestStore_ArchiveNoteAndSearch(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	err := s.ArchiveNote(
		"Switched the retry loop to exponential backoff after 429 storms",
		"retry backoff decision",
		[]string{"retry", "backoff"},
		ImportanceHigh,
	)
	if err != nil {
		t.Fatalf("ArchiveNote failed: %v", err)
	}

	results, err := s.SearchArchive("backoff", 5)
	if err != nil {
		t.Fatalf("SearchArchive failed: %v", err)
	}
	if len(results) != 1 || !strings.Contains(results[0].Content, "exponential") {
		t.Errorf("SearchArchive = %+v", results)
	}
}

func TestStore_EndSessionPersistsSummary(t *testing.T) {
	home := t.TempDir()
	s := openTestStore(t, home)

	s.Session().SetGoal("Land the memory subsystem")
	tk, _ := s.Session().AddTask("Write the archive", task.PriorityHigh, "")
	s.Session().AddTask("Write the watcher", task.PriorityMedium, "")
	s.Session().SetCurrentTask(tk.ID)
	s.Session().UpdateTaskStatus(tk.ID, task.StatusPendingVerification)
	s.Session().AddVerification(task.VerificationRecord{TaskID: tk.ID, Passed: true, Method: "tests_pass"})
	if err := s.Session().CompleteTask(tk.ID, "archive landed"); err != nil {
		t.Fatalf("CompleteTask failed: %v", err)
	}
	s.Session().TouchFile("internal/memory/archive.go", nil)

	if err := s.EndSession("good progress on memory"); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	// Second call is a no-op.
	if err := s.EndSession("overwritten?"); err != nil {
		t.Errorf("Repeated EndSession failed: %v", err)
	}
	s.Close()

	reopened := openTestStore(t, home)
	defer reopened.Close()

	last := reopened.Project().LastSession()
	if last == nil {
		t.Fatal("LastSession missing after reopen")
	}
	if last.GoalDescription != "Land the memory subsystem" {
		t.Errorf("GoalDescription = %q", last.GoalDescription)
	}
	if last.CompletedTasks != 1 || last.OpenTasks != 1 {
		t.Errorf("Counts = completed %d open %d, want 1 and 1", last.CompletedTasks, last.OpenTasks)
	}
	if last.Summary != "good progress on memory" {
		t.Errorf("Summary = %q", last.Summary)
	}
	if len(last.KeyFiles) != 1 || last.KeyFiles[0] != "internal/memory/archive.go" {
		t.Errorf("KeyFiles = %v", last.KeyFiles)
	}
}

func TestStore_ContextSummary(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	s.Session().SetGoal("Summarize me")
	got := s.ContextSummary(0)
	if !strings.Contains(got, "Summarize me") {
		t.Errorf("ContextSummary = %q", got)
	}
}
