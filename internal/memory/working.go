package memory

import "time"

// Caps for the working-state collections. ActiveFiles evicts least recently
// touched; the error and edit histories are ring buffers dropping oldest.
const (
	maxActiveFiles  = 15
	maxRecentErrors = 20
	maxEditHistory  = 50
)

// FileSection names a region of interest within an active file.
type FileSection struct {
	Name      string `json:"name"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

// ActiveFile is a file the session is currently working in.
type ActiveFile struct {
	Path        string        `json:"path"`
	Sections    []FileSection `json:"sections,omitempty"`
	LastTouched time.Time     `json:"last_touched"`
}

// ErrorRecord captures an error observed during the session.
type ErrorRecord struct {
	Message   string     `json:"message"`
	Source    string     `json:"source,omitempty"` // tool name, file, ...
	TaskID    string     `json:"task_id,omitempty"`
	Severity  Importance `json:"severity,omitempty"`
	Resolved  bool       `json:"resolved"`
	Timestamp time.Time  `json:"timestamp"`
}

// EditRecord captures one file edit made during the session.
type EditRecord struct {
	Path      string    `json:"path"`
	TaskID    string    `json:"task_id,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkingState is the session-scoped working snapshot. It is a plain value
// owned by the SessionStore; nothing module-level holds one.
type WorkingState struct {
	ActiveFiles   []ActiveFile  `json:"active_files,omitempty"`
	RecentErrors  []ErrorRecord `json:"recent_errors,omitempty"`
	EditHistory   []EditRecord  `json:"edit_history,omitempty"`
	CurrentTaskID string        `json:"current_task_id,omitempty"`
}

// touchFile records activity on path, adding or refreshing its entry.
// When the cap is hit the least recently touched file is evicted.
func (w *WorkingState) touchFile(path string, sections []FileSection) {
	now := time.Now()
	for i := range w.ActiveFiles {
		if w.ActiveFiles[i].Path == path {
			w.ActiveFiles[i].LastTouched = now
			if sections != nil {
				w.ActiveFiles[i].Sections = sections
			}
			return
		}
	}

	if len(w.ActiveFiles) >= maxActiveFiles {
		oldest := 0
		for i := range w.ActiveFiles {
			if w.ActiveFiles[i].LastTouched.Before(w.ActiveFiles[oldest].LastTouched) {
				oldest = i
			}
		}
		w.ActiveFiles = append(w.ActiveFiles[:oldest], w.ActiveFiles[oldest+1:]...)
	}

	w.ActiveFiles = append(w.ActiveFiles, ActiveFile{
		Path:        path,
		Sections:    sections,
		LastTouched: now,
	})
}

// recordError appends to the error ring buffer.
func (w *WorkingState) recordError(rec ErrorRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	w.RecentErrors = append(w.RecentErrors, rec)
	if len(w.RecentErrors) > maxRecentErrors {
		w.RecentErrors = w.RecentErrors[len(w.RecentErrors)-maxRecentErrors:]
	}
}

// recordEdit appends to the edit ring buffer.
func (w *WorkingState) recordEdit(rec EditRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	w.EditHistory = append(w.EditHistory, rec)
	if len(w.EditHistory) > maxEditHistory {
		w.EditHistory = w.EditHistory[len(w.EditHistory)-maxEditHistory:]
	}
}

// unresolvedErrors returns errors not yet marked resolved.
func (w *WorkingState) unresolvedErrors() []ErrorRecord {
	var out []ErrorRecord
	for _, e := range w.RecentErrors {
		if !e.Resolved {
			out = append(out, e)
		}
	}
	return out
}

// editsForTask returns edits recorded against the given task.
func (w *WorkingState) editsForTask(taskID string) []EditRecord {
	var out []EditRecord
	for _, e := range w.EditHistory {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out
}
