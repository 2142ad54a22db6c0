package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"ratchet/internal/logging"
	"ratchet/internal/task"
)

const sessionSnapshotVersion = 1

// sessionDocument is the serialized form of a SessionStore. Export and
// Import round-trip through it without loss.
type sessionDocument struct {
	Version       int                                  `json:"version"`
	ExportedAt    time.Time                            `json:"exported_at"`
	Mode          string                               `json:"mode"`
	Goals         map[string]*task.Goal                `json:"goals,omitempty"`
	CurrentGoalID string                               `json:"current_goal_id,omitempty"`
	Tasks         map[string]*task.Task                `json:"tasks,omitempty"`
	Tracking      map[string]*task.TrackingItem        `json:"tracking,omitempty"`
	Verifications map[string][]task.VerificationRecord `json:"verifications,omitempty"`
	Working       WorkingState                         `json:"working"`
}

// Export serializes the full session state as indented JSON.
func (s *SessionStore) Export() ([]byte, error) {
	s.mu.RLock()
	doc := sessionDocument{
		Version:       sessionSnapshotVersion,
		ExportedAt:    time.Now(),
		Mode:          s.machine.Mode().String(),
		Goals:         s.goals,
		CurrentGoalID: s.currentGoalID,
		Tasks:         s.tasks,
		Tracking:      s.tracking,
		Verifications: s.verifications,
		Working:       s.working,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("failed to export session: %w", err)
	}
	return data, nil
}

// ImportSession rebuilds a SessionStore from an exported snapshot.
func ImportSession(data []byte) (*SessionStore, error) {
	var doc sessionDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse session snapshot: %w", err)
	}
	if doc.Version > sessionSnapshotVersion {
		return nil, fmt.Errorf("session snapshot version %d is newer than supported %d", doc.Version, sessionSnapshotVersion)
	}

	s := NewSessionStore(task.ParseMode(doc.Mode))
	s.mu.Lock()
	if doc.Goals != nil {
		s.goals = doc.Goals
	}
	s.currentGoalID = doc.CurrentGoalID
	if doc.Tasks != nil {
		s.tasks = doc.Tasks
	}
	if doc.Tracking != nil {
		s.tracking = doc.Tracking
	}
	if doc.Verifications != nil {
		s.verifications = doc.Verifications
	}
	s.working = doc.Working
	s.mu.Unlock()

	logging.MemoryDebug("Imported session snapshot: %d goals, %d tasks, %d tracking items",
		len(doc.Goals), len(doc.Tasks), len(doc.Tracking))
	return s, nil
}

// ExportToFile writes the session snapshot to path.
func (s *SessionStore) ExportToFile(path string) error {
	data, err := s.Export()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write session snapshot: %w", err)
	}
	logging.Memory("Exported session snapshot to %s", path)
	return nil
}

// ImportFromFile reads a session snapshot from path.
func ImportFromFile(path string) (*SessionStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session snapshot: %w", err)
	}
	return ImportSession(data)
}
