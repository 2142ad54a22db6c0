package task

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a status change is not permitted by
// the state machine.
var ErrInvalidTransition = errors.New("invalid task transition")

// ErrMissingSummary is returned when a task is completed without a
// completion message.
var ErrMissingSummary = errors.New("completion message is required")

// ErrTerminal is returned when mutating a task already in a terminal status.
var ErrTerminal = errors.New("task is terminal")

// Mode selects strict or relaxed workflow enforcement.
type Mode int

const (
	// ModeStrict is the normal operating mode: completed is reachable only
	// through pending_verification.
	ModeStrict Mode = iota

	// ModeRelaxed permits active -> completed directly and demotes workflow
	// failures to warnings. Used by evaluation harnesses, never normal runs.
	ModeRelaxed
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeStrict:
		return "strict"
	case ModeRelaxed:
		return "relaxed"
	default:
		return "unknown"
	}
}

// ParseMode parses a mode name; anything unrecognized is strict.
func ParseMode(s string) Mode {
	if s == "relaxed" {
		return ModeRelaxed
	}
	return ModeStrict
}

// validTransitions is the closed transition table. Terminal states have no
// outgoing edges.
var validTransitions = map[Status][]Status{
	StatusWaiting: {StatusActive, StatusAbandoned},
	StatusActive:  {StatusBlocked, StatusWaiting, StatusPendingVerification, StatusAbandoned},
	StatusBlocked: {StatusActive, StatusWaiting, StatusAbandoned},
	StatusPendingVerification: {StatusCompleted, StatusActive, StatusAbandoned},
	StatusCompleted:           {},
	StatusAbandoned:           {},
}

// Machine validates and applies task status transitions.
type Machine struct {
	mode Mode
}

// NewMachine creates a state machine in the given mode.
func NewMachine(mode Mode) *Machine {
	return &Machine{mode: mode}
}

// Mode returns the configured enforcement mode.
func (m *Machine) Mode() Mode {
	return m.mode
}

// CanTransition reports whether from -> to is permitted.
func (m *Machine) CanTransition(from, to Status) bool {
	if m.mode == ModeRelaxed && from == StatusActive && to == StatusCompleted {
		return true
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Apply transitions t to the target status, stamping lifecycle timestamps.
// Entering pending_verification records PendingVerificationAt, used later to
// check that verification happened after the work claimed to be finished.
// The caller is responsible for clearing any current-task pointer when the
// target is terminal; that pointer lives in session state, not on the task.
func (m *Machine) Apply(t *Task, to Status) error {
	if t == nil {
		return fmt.Errorf("apply: task is nil")
	}
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if t.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, t.ID, t.Status)
	}
	if !m.CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s (task %s)", ErrInvalidTransition, t.Status, to, t.ID)
	}

	if to == StatusCompleted && t.CompletionMessage == "" && m.mode == ModeStrict {
		return fmt.Errorf("%w: task %s", ErrMissingSummary, t.ID)
	}

	now := time.Now()
	switch to {
	case StatusPendingVerification:
		t.PendingVerificationAt = now
	case StatusCompleted:
		t.CompletedAt = now
	case StatusActive:
		t.BlockedBy = ""
		t.WaitingFor = ""
	}
	t.Status = to
	t.UpdatedAt = now
	return nil
}
