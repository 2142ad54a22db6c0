package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"ratchet/internal/embedding"
	"ratchet/internal/logging"
	"ratchet/internal/task"
)

// Options configures a Store.
type Options struct {
	HomeDir       string
	ProjectPath   string
	Mode          task.Mode
	SessionExpiry float64
	Decay         DecayConfig
	ArchivePath   string // defaults to HomeDir/archive.db
	Engine        embedding.Engine
	Watch         bool
}

// Store bundles the two memory scopes and the archive behind one handle.
// Session state lives for the process; project state is loaded at Open and
// saved at session end and Close.
type Store struct {
	mu        sync.RWMutex
	session   *SessionStore
	project   *ProjectStore
	archive   *Archive
	watcher   *MemoryWatcher
	homeDir   string
	decay     DecayConfig
	sessionID string
	ended     bool
}

// Open loads project memory for opts.ProjectPath, applying confidence decay
// for the downtime since the last save, and opens the archive database.
func Open(opts Options) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "StoreOpen")
	defer timer.Stop()

	if opts.HomeDir == "" {
		return nil, fmt.Errorf("memory home directory is required")
	}
	if opts.ProjectPath == "" {
		return nil, fmt.Errorf("project path is required")
	}

	archivePath := opts.ArchivePath
	if archivePath == "" {
		archivePath = filepath.Join(opts.HomeDir, "archive.db")
	}
	archive, err := NewArchive(archivePath, opts.Engine)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	decay := opts.Decay
	if decay.MinConfidence == 0 {
		decay = DefaultDecayConfig()
	}

	s := &Store{
		session:   NewSessionStore(opts.Mode),
		project:   LoadProjectStore(opts.HomeDir, opts.ProjectPath, opts.SessionExpiry, &decay),
		archive:   archive,
		homeDir:   opts.HomeDir,
		decay:     decay,
		sessionID: fmt.Sprintf("sess_%s", uuid.New().String()[:8]),
	}

	if opts.Watch {
		projectFile := ProjectFilePath(opts.HomeDir, opts.ProjectPath)
		watcher, err := NewMemoryWatcher(opts.HomeDir, func(path string) {
			if path != projectFile {
				return
			}
			reloaded := LoadProjectStore(opts.HomeDir, opts.ProjectPath, opts.SessionExpiry, nil)
			s.mu.Lock()
			s.project = reloaded
			s.mu.Unlock()
		})
		if err != nil {
			logging.Get(logging.CategoryMemory).Warn("Memory watcher unavailable: %v", err)
		} else {
			s.watcher = watcher
			watcher.Start(context.Background())
		}
	}

	logging.Memory("Memory store opened (session=%s, project=%s)", s.sessionID, opts.ProjectPath)
	return s, nil
}

// SessionID returns the identifier assigned to this session.
func (s *Store) SessionID() string {
	return s.sessionID
}

// Session returns the session-scoped store.
func (s *Store) Session() *SessionStore {
	return s.session
}

// Project returns the project-scoped store. The pointer may change when an
// external edit triggers a reload, so callers should not cache it.
func (s *Store) Project() *ProjectStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.project
}

// Archive returns the long-term archive.
func (s *Store) Archive() *Archive {
	return s.archive
}

// ContextSummary renders the current memory state into a prompt-ready digest.
func (s *Store) ContextSummary(tokenBudget int) string {
	return BuildContextSummary(s.Session(), s.Project(), tokenBudget)
}

// ArchiveNote appends a note to the long-term archive.
func (s *Store) ArchiveNote(content, summary string, keywords []string, importance Importance) error {
	return s.archive.Add(&ArchiveEntry{
		Content:    content,
		Summary:    summary,
		Keywords:   keywords,
		Importance: importance,
	})
}

// SearchArchive runs keyword search over the archive.
func (s *Store) SearchArchive(query string, limit int) ([]ArchiveEntry, error) {
	return s.archive.Search(query, limit)
}

// SaveProject persists project memory to disk.
func (s *Store) SaveProject() error {
	return s.Project().Save(s.homeDir)
}

// EndSession summarizes the finished session into project memory, applies
// end-of-session confidence decay, and saves. Only the first call takes
// effect; later calls return nil.
func (s *Store) EndSession(summaryText string) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	project := s.project
	s.mu.Unlock()

	summary := s.buildSessionSummary(summaryText)
	project.SetLastSession(summary)
	stats := project.ApplyConfidenceDecay(s.decay)
	logging.Memory("Session %s ended: completed=%d open=%d decay(examined=%d decayed=%d)",
		s.sessionID, summary.CompletedTasks, summary.OpenTasks, stats.Examined, stats.Decayed)

	if err := project.Save(s.homeDir); err != nil {
		logging.Get(logging.CategoryMemory).Error("Failed to save project memory at session end: %v", err)
		return err
	}
	return nil
}

// buildSessionSummary snapshots the session for the next run.
func (s *Store) buildSessionSummary(summaryText string) *SessionSummary {
	summary := &SessionSummary{
		SessionID: s.sessionID,
		EndedAt:   time.Now(),
		Summary:   summaryText,
	}

	if goal := s.session.CurrentGoal(); goal != nil {
		summary.GoalDescription = goal.Description
	}
	for _, t := range s.session.Tasks() {
		switch {
		case t.Status == task.StatusCompleted:
			summary.CompletedTasks++
		case !t.Status.IsTerminal():
			summary.OpenTasks++
		}
	}
	working := s.session.Working()
	for _, f := range working.ActiveFiles {
		summary.KeyFiles = append(summary.KeyFiles, f.Path)
	}
	return summary
}

// Close stops the watcher, ends the session if the caller has not, and
// closes the archive.
func (s *Store) Close() error {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if err := s.EndSession(""); err != nil {
		logging.Get(logging.CategoryMemory).Warn("Session end during close failed: %v", err)
	}
	return s.archive.Close()
}
