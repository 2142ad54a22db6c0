package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"ratchet/internal/logging"
	"ratchet/internal/task"
)

// SessionStore holds the ephemeral session scope: goals, the task tree,
// tracking items, verification records, and working state. It is cleared per
// run and never persisted beyond the lastSession summary.
type SessionStore struct {
	mu      sync.RWMutex
	machine *task.Machine

	goals         map[string]*task.Goal
	currentGoalID string

	tasks         map[string]*task.Task
	tracking      map[string]*task.TrackingItem
	verifications map[string][]task.VerificationRecord

	working WorkingState
}

// NewSessionStore creates an empty session scope enforcing the given mode.
func NewSessionStore(mode task.Mode) *SessionStore {
	return &SessionStore{
		machine:       task.NewMachine(mode),
		goals:         make(map[string]*task.Goal),
		tasks:         make(map[string]*task.Task),
		tracking:      make(map[string]*task.TrackingItem),
		verifications: make(map[string][]task.VerificationRecord),
	}
}

// Machine exposes the configured state machine.
func (s *SessionStore) Machine() *task.Machine {
	return s.machine
}

// Reset clears all session state.
func (s *SessionStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goals = make(map[string]*task.Goal)
	s.currentGoalID = ""
	s.tasks = make(map[string]*task.Task)
	s.tracking = make(map[string]*task.TrackingItem)
	s.verifications = make(map[string][]task.VerificationRecord)
	s.working = WorkingState{}
}

// =============================================================================
// GOALS
// =============================================================================

// SetGoal installs a new root goal and makes it current.
func (s *SessionStore) SetGoal(description string) *task.Goal {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := task.NewGoal(description)
	s.goals[g.ID] = g
	s.currentGoalID = g.ID
	logging.Memory("Goal set: %s (%s)", g.ID, description)
	return g
}

// AddChildGoal nests a goal under an existing parent.
func (s *SessionStore) AddChildGoal(parentID, description string) (*task.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.goals[parentID]
	if !ok {
		return nil, fmt.Errorf("parent goal %s not found", parentID)
	}
	g := task.NewChildGoal(description, parent)
	s.goals[g.ID] = g
	return g, nil
}

// CurrentGoal returns the current root goal, or nil when none is set.
func (s *SessionStore) CurrentGoal() *task.Goal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.goals[s.currentGoalID]
}

// Goals returns all goals keyed by id.
func (s *SessionStore) Goals() map[string]*task.Goal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*task.Goal, len(s.goals))
	for id, g := range s.goals {
		out[id] = g
	}
	return out
}

// =============================================================================
// TASKS
// =============================================================================

// AddTask creates a task in waiting status. A non-empty parentID must name
// an existing task; that creation-time check is what keeps the tree acyclic.
func (s *SessionStore) AddTask(description string, priority task.Priority, parentID string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if description == "" {
		return nil, fmt.Errorf("task description is required")
	}
	if parentID != "" {
		if _, ok := s.tasks[parentID]; !ok {
			return nil, fmt.Errorf("parent task %s not found", parentID)
		}
	}

	t := task.New(description, priority)
	t.ParentID = parentID
	s.tasks[t.ID] = t
	logging.Task("Task created: %s [%s] %s", t.ID, t.Priority, description)
	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditTaskCreated,
		Target:    t.ID,
		Success:   true,
		Message:   description,
	})
	return t, nil
}

// GetTask looks up a task by id.
func (s *SessionStore) GetTask(id string) (*task.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

// Tasks returns the task map. The returned map is a copy; the tasks are
// shared pointers and must not be mutated outside the store.
func (s *SessionStore) Tasks() map[string]*task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*task.Task, len(s.tasks))
	for id, t := range s.tasks {
		out[id] = t
	}
	return out
}

// UpdateTaskStatus transitions a task, applying store-level side effects:
// entering a terminal status clears the current-task pointer if it named
// this task.
func (s *SessionStore) UpdateTaskStatus(id string, to task.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateStatusLocked(id, to)
}

func (s *SessionStore) updateStatusLocked(id string, to task.Status) error {
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	from := t.Status
	if err := s.machine.Apply(t, to); err != nil {
		return err
	}
	if to.IsTerminal() && s.working.CurrentTaskID == id {
		s.working.CurrentTaskID = ""
	}
	logging.Task("Task %s: %s -> %s", id, from, to)
	logging.Audit().TaskTransition(id, string(from), string(to))
	return nil
}

// SetCurrentTask points the working state at a task, activating it if it is
// not already active. The pointer only ever names a live task.
func (s *SessionStore) SetCurrentTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	if t.Status.IsTerminal() {
		return fmt.Errorf("task %s is %s and cannot be current", id, t.Status)
	}
	if t.Status != task.StatusActive {
		if err := s.updateStatusLocked(id, task.StatusActive); err != nil {
			return err
		}
	}
	s.working.CurrentTaskID = id
	return nil
}

// CurrentTask returns the task the session is working on. When the pointer
// is unset it is inferred: the most recently updated task in an active-like
// status, preferring active over pending_verification.
func (s *SessionStore) CurrentTask() *task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.tasks[s.working.CurrentTaskID]; ok && !t.Status.IsTerminal() {
		return t
	}

	var best *task.Task
	for _, t := range s.tasks {
		if t.Status != task.StatusActive && t.Status != task.StatusPendingVerification {
			continue
		}
		if best == nil {
			best = t
			continue
		}
		if t.Status == task.StatusActive && best.Status != task.StatusActive {
			best = t
			continue
		}
		if t.Status == best.Status && t.UpdatedAt.After(best.UpdatedAt) {
			best = t
		}
	}
	return best
}

// CompleteTask records the completion summary and transitions to completed.
// In strict mode a pending_verification task must carry a passing
// verification newer than its pending_verification transition; once a task
// is terminal the completion gate no longer inspects it, so the check has to
// hold here.
func (s *SessionStore) CompleteTask(id, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	if s.machine.Mode() == task.ModeStrict &&
		t.Status == task.StatusPendingVerification && !s.verifiedSinceLocked(t) {
		return fmt.Errorf("task %s has no passing verification newer than its pending_verification transition", id)
	}
	if summary != "" {
		t.CompletionMessage = summary
	}
	return s.updateStatusLocked(id, task.StatusCompleted)
}

// verifiedSinceLocked reports whether a passing verification record
// postdates the task's pending_verification transition.
func (s *SessionStore) verifiedSinceLocked(t *task.Task) bool {
	for _, rec := range s.verifications[t.ID] {
		if rec.Passed && rec.Timestamp.After(t.PendingVerificationAt) {
			return true
		}
	}
	return false
}

// NextTasks resolves ready tasks from the current tree.
func (s *SessionStore) NextTasks(opts task.ReadyOptions) task.ReadySet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return task.NextTasks(s.tasks, opts)
}

// OpenTaskCount counts non-terminal tasks.
func (s *SessionStore) OpenTaskCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.tasks {
		if !t.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// EverActivated reports whether any task has left waiting status.
func (s *SessionStore) EverActivated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		if t.Status != task.StatusWaiting {
			return true
		}
	}
	return false
}

// =============================================================================
// VERIFICATION
// =============================================================================

// AddVerification appends a verification record for a task.
func (s *SessionStore) AddVerification(rec task.VerificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[rec.TaskID]; !ok {
		return fmt.Errorf("task %s not found", rec.TaskID)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	s.verifications[rec.TaskID] = append(s.verifications[rec.TaskID], rec)
	logging.Task("Verification for %s: passed=%v (%s)", rec.TaskID, rec.Passed, rec.Method)
	return nil
}

// VerificationsFor returns the verification records for a task, in
// insertion order.
func (s *SessionStore) VerificationsFor(taskID string) []task.VerificationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.verifications[taskID]
	out := make([]task.VerificationRecord, len(recs))
	copy(out, recs)
	return out
}

// =============================================================================
// TRACKING ITEMS
// =============================================================================

// AddTracking registers a detected-but-unconfirmed piece of work.
func (s *SessionStore) AddTracking(description string, relatedFiles []string) *task.TrackingItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	ti := task.NewTrackingItem(description)
	ti.RelatedFiles = relatedFiles
	s.tracking[ti.ID] = ti
	logging.Task("Tracking item opened: %s %s", ti.ID, description)
	return ti
}

// ReviewTracking moves an open item under review.
func (s *SessionStore) ReviewTracking(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ti, ok := s.tracking[id]
	if !ok {
		return fmt.Errorf("tracking item %s not found", id)
	}
	return ti.Review()
}

// CloseTracking resolves an under-review item.
func (s *SessionStore) CloseTracking(id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ti, ok := s.tracking[id]
	if !ok {
		return fmt.Errorf("tracking item %s not found", id)
	}
	return ti.Close(reason)
}

// OpenTracking returns items not yet closed, oldest first.
func (s *SessionStore) OpenTracking() []*task.TrackingItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*task.TrackingItem
	for _, ti := range s.tracking {
		if ti.Status != task.TrackingClosed {
			out = append(out, ti)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// =============================================================================
// WORKING STATE
// =============================================================================

// TouchFile marks a file as actively worked on.
func (s *SessionStore) TouchFile(path string, sections []FileSection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.working.touchFile(path, sections)
}

// RecordError adds an error to the session ring buffer.
func (s *SessionStore) RecordError(rec ErrorRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.working.recordError(rec)
	logging.Memory("Error recorded (source=%s resolved=%v): %s", rec.Source, rec.Resolved, rec.Message)
}

// ResolveErrors marks all errors from the given source resolved.
func (s *SessionStore) ResolveErrors(source string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.working.RecentErrors {
		if s.working.RecentErrors[i].Source == source && !s.working.RecentErrors[i].Resolved {
			s.working.RecentErrors[i].Resolved = true
			n++
		}
	}
	return n
}

// RecordEdit adds a file edit to the session ring buffer and touches the
// file. The edit is attributed to the current task when taskID is empty.
func (s *SessionStore) RecordEdit(path, taskID, summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if taskID == "" {
		taskID = s.working.CurrentTaskID
	}
	s.working.recordEdit(EditRecord{Path: path, TaskID: taskID, Summary: summary})
	s.working.touchFile(path, nil)
}

// EditsForTask returns edits recorded against a task.
func (s *SessionStore) EditsForTask(taskID string) []EditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.working.editsForTask(taskID)
}

// UnresolvedErrors returns errors not yet marked resolved.
func (s *SessionStore) UnresolvedErrors() []ErrorRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.working.unresolvedErrors()
}

// Working returns a copy of the working state value.
func (s *SessionStore) Working() WorkingState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w := s.working
	w.ActiveFiles = append([]ActiveFile(nil), s.working.ActiveFiles...)
	w.RecentErrors = append([]ErrorRecord(nil), s.working.RecentErrors...)
	w.EditHistory = append([]EditRecord(nil), s.working.EditHistory...)
	return w
}
