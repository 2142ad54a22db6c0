package session

import (
	"strings"
	"testing"

	"ratchet/internal/memory"
	"ratchet/internal/task"
)

func TestBuildBrief_ProjectsGoalAndTaskTree(t *testing.T) {
	session := memory.NewSessionStore(task.ModeStrict)
	session.SetGoal("ship the importer")

	root, _ := session.AddTask("build the importer", task.PriorityHigh, "")
	child, _ := session.AddTask("parse the manifest", task.PriorityMedium, root.ID)
	session.SetCurrentTask(child.ID)

	brief := BuildBrief(session)

	if !strings.Contains(brief, "ship the importer") {
		t.Error("brief missing goal")
	}
	if !strings.Contains(brief, "build the importer") || !strings.Contains(brief, "parse the manifest") {
		t.Error("brief missing tasks")
	}
	if !strings.Contains(brief, "<- current") {
		t.Error("brief should mark the current task")
	}
	// Child is indented under its parent.
	if !strings.Contains(brief, "  - ") {
		t.Error("child task should be indented")
	}
}

func TestBuildBrief_IsSnapshot(t *testing.T) {
	session := memory.NewSessionStore(task.ModeStrict)
	session.SetGoal("first goal")
	brief := BuildBrief(session)

	// Mutations after the projection must not leak into the text.
	session.AddTask("added later", task.PriorityLow, "")
	if strings.Contains(brief, "added later") {
		t.Error("brief must be a point-in-time snapshot")
	}
}

func TestBuildBrief_EmptySession(t *testing.T) {
	session := memory.NewSessionStore(task.ModeStrict)
	if brief := BuildBrief(session); brief != "" {
		t.Errorf("empty session brief = %q, want empty", brief)
	}
}
