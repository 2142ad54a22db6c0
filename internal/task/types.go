// Package task implements the task tree and its status state machine,
// plus the readiness resolver that picks the next executable tasks.
//
// Tasks form a flat id-keyed map with a parentId back-reference. That is the
// only structural link: children are computed by scanning, and cycles are
// impossible because a task can only be created under a parent that already
// exists.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	// StatusWaiting means the task has been planned but not started.
	StatusWaiting Status = "waiting"

	// StatusActive means the task is currently being worked on.
	StatusActive Status = "active"

	// StatusBlocked means the task cannot proceed (see BlockedBy).
	StatusBlocked Status = "blocked"

	// StatusPendingVerification means work is finished and awaiting
	// verification before it may complete.
	StatusPendingVerification Status = "pending_verification"

	// StatusCompleted is terminal: verified and done.
	StatusCompleted Status = "completed"

	// StatusAbandoned is terminal: given up on.
	StatusAbandoned Status = "abandoned"
)

// IsTerminal reports whether the status is an end state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusActive, StatusBlocked,
		StatusPendingVerification, StatusCompleted, StatusAbandoned:
		return true
	}
	return false
}

// Priority represents task priority levels.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// rank orders priorities for sorting; higher is more urgent.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Task is a unit of tracked work.
type Task struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Status      Status   `json:"status"`
	Priority    Priority `json:"priority"`

	// ParentID links into the tree; empty for roots.
	ParentID string `json:"parent_id,omitempty"`

	// RelatedFiles are paths this task touches.
	RelatedFiles []string `json:"related_files,omitempty"`

	// CompletionMessage summarizes the outcome; required to complete.
	CompletionMessage string `json:"completion_message,omitempty"`

	// BlockedBy explains a blocked status.
	BlockedBy string `json:"blocked_by,omitempty"`

	// WaitingFor explains a return to waiting.
	WaitingFor string `json:"waiting_for,omitempty"`

	// PendingVerificationAt is stamped when the task enters
	// pending_verification; verification records must be newer than this.
	PendingVerificationAt time.Time `json:"pending_verification_at,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// New creates a task in waiting status.
func New(description string, priority Priority) *Task {
	if priority.rank() == 0 {
		priority = PriorityMedium
	}
	now := time.Now()
	return &Task{
		ID:          fmt.Sprintf("task_%s", uuid.New().String()[:8]),
		Description: description,
		Status:      StatusWaiting,
		Priority:    priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// VerificationRecord captures one verification run against a task.
type VerificationRecord struct {
	TaskID    string    `json:"task_id"`
	Passed    bool      `json:"passed"`
	Method    string    `json:"method,omitempty"` // tests_pass, builds, manual
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TrackingStatus represents the review state of a tracking item.
type TrackingStatus string

const (
	TrackingOpen        TrackingStatus = "open"
	TrackingUnderReview TrackingStatus = "under-review"
	TrackingClosed      TrackingStatus = "closed"
)

// TrackingItem is detected-but-unconfirmed incomplete work. Items are
// created by the incomplete-work detector and resolved only through an
// explicit review then close transition.
type TrackingItem struct {
	ID            string         `json:"id"`
	Description   string         `json:"description"`
	Status        TrackingStatus `json:"status"`
	ClosureReason string         `json:"closure_reason,omitempty"`
	RelatedFiles  []string       `json:"related_files,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NewTrackingItem creates an open tracking item.
func NewTrackingItem(description string) *TrackingItem {
	now := time.Now()
	return &TrackingItem{
		ID:          fmt.Sprintf("track_%s", uuid.New().String()[:8]),
		Description: description,
		Status:      TrackingOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Review moves an open item under review.
func (ti *TrackingItem) Review() error {
	if ti.Status != TrackingOpen {
		return fmt.Errorf("tracking item %s is %s, only open items can be reviewed", ti.ID, ti.Status)
	}
	ti.Status = TrackingUnderReview
	ti.UpdatedAt = time.Now()
	return nil
}

// Close resolves an under-review item with a reason.
func (ti *TrackingItem) Close(reason string) error {
	if ti.Status != TrackingUnderReview {
		return fmt.Errorf("tracking item %s is %s, only under-review items can be closed", ti.ID, ti.Status)
	}
	if reason == "" {
		return fmt.Errorf("closure reason is required")
	}
	ti.Status = TrackingClosed
	ti.ClosureReason = reason
	ti.UpdatedAt = time.Now()
	return nil
}

// GoalStatus represents the lifecycle state of a goal.
type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalAbandoned GoalStatus = "abandoned"
)

// Goal is a hierarchical mission statement the task tree serves.
// Exactly one root goal (depth 0) is current at a time.
type Goal struct {
	ID           string     `json:"id"`
	Description  string     `json:"description"`
	Status       GoalStatus `json:"status"`
	ParentGoalID string     `json:"parent_goal_id,omitempty"`
	ChildGoalIDs []string   `json:"child_goal_ids,omitempty"`
	Depth        int        `json:"depth"`
	Progress     float64    `json:"progress,omitempty"` // 0.0-1.0
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewGoal creates an active root goal.
func NewGoal(description string) *Goal {
	now := time.Now()
	return &Goal{
		ID:          fmt.Sprintf("goal_%s", uuid.New().String()[:8]),
		Description: description,
		Status:      GoalActive,
		Depth:       0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewChildGoal creates a goal nested under parent and links it.
func NewChildGoal(description string, parent *Goal) *Goal {
	g := NewGoal(description)
	g.ParentGoalID = parent.ID
	g.Depth = parent.Depth + 1
	parent.ChildGoalIDs = append(parent.ChildGoalIDs, g.ID)
	parent.UpdatedAt = time.Now()
	return g
}
