package memory

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ratchet/internal/logging"
)

// projectFileVersion is the current on-disk format. Version 1 documents
// predate record lifespans; loading one upgrades it in place.
const projectFileVersion = 2

// SessionSummary captures the shape of a finished session so the next one
// can pick up where it left off.
type SessionSummary struct {
	SessionID       string    `json:"session_id"`
	EndedAt         time.Time `json:"ended_at"`
	GoalDescription string    `json:"goal_description,omitempty"`
	CompletedTasks  int       `json:"completed_tasks"`
	OpenTasks       int       `json:"open_tasks"`
	Summary         string    `json:"summary,omitempty"`
	KeyFiles        []string  `json:"key_files,omitempty"`
}

// projectDocument is the serialized form of a ProjectStore.
type projectDocument struct {
	Version       int              `json:"version"`
	ProjectPath   string           `json:"project_path"`
	SavedAt       time.Time        `json:"saved_at"`
	Facts         []*UserFact       `json:"facts,omitempty"`
	Preferences   []*UserPreference `json:"preferences,omitempty"`
	Decisions     []*Decision       `json:"decisions,omitempty"`
	Contexts      []*ProjectContext `json:"contexts,omitempty"`
	FeatureGroups []*FeatureGroup   `json:"feature_groups,omitempty"`
	LastSession   *SessionSummary   `json:"last_session,omitempty"`
}

// ProjectFilePath maps a project path to its memory file under homeDir.
// The path is hashed so projects anywhere on disk get distinct, stable files.
func ProjectFilePath(homeDir, projectPath string) string {
	sum := sha256.Sum256([]byte(projectPath))
	return filepath.Join(homeDir, "projects", fmt.Sprintf("%x.json", sum[:8]))
}

// Save writes the project store to its file under homeDir. Failures are
// logged and returned; callers treat them as non-fatal.
func (p *ProjectStore) Save(homeDir string) error {
	timer := logging.StartTimer(logging.CategoryMemory, "ProjectSave")
	defer timer.Stop()

	p.mu.RLock()
	doc := projectDocument{
		Version:       projectFileVersion,
		ProjectPath:   p.projectPath,
		SavedAt:       time.Now(),
		Facts:         append([]*UserFact(nil), p.facts...),
		Preferences:   append([]*UserPreference(nil), p.preferences...),
		Decisions:     append([]*Decision(nil), p.decisions...),
		Contexts:      append([]*ProjectContext(nil), p.contexts...),
		FeatureGroups: append([]*FeatureGroup(nil), p.featureGroups...),
		LastSession:   p.lastSession,
	}
	p.mu.RUnlock()

	path := ProjectFilePath(homeDir, doc.ProjectPath)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		logging.Get(logging.CategoryMemory).Error("Failed to create memory directory: %v", err)
		return fmt.Errorf("failed to create memory directory: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal project memory: %w", err)
	}

	// Write-then-rename so a crash mid-write never corrupts the file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		logging.Get(logging.CategoryMemory).Error("Failed to write project memory: %v", err)
		return fmt.Errorf("failed to write project memory: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		logging.Get(logging.CategoryMemory).Error("Failed to finalize project memory: %v", err)
		return fmt.Errorf("failed to finalize project memory: %w", err)
	}

	logging.MemoryDebug("Saved project memory to %s (facts=%d prefs=%d decisions=%d contexts=%d)",
		path, len(doc.Facts), len(doc.Preferences), len(doc.Decisions), len(doc.Contexts))
	return nil
}

// LoadProjectStore reads project memory from homeDir, migrating old formats
// and applying confidence decay for the elapsed downtime. A missing file
// yields a fresh store; a corrupt file is set aside and logged rather than
// aborting startup.
func LoadProjectStore(homeDir, projectPath string, sessionExpiry float64, decay *DecayConfig) *ProjectStore {
	timer := logging.StartTimer(logging.CategoryMemory, "ProjectLoad")
	defer timer.Stop()

	store := NewProjectStore(projectPath, sessionExpiry)
	path := ProjectFilePath(homeDir, projectPath)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Get(logging.CategoryMemory).Warn("Failed to read project memory: %v", err)
		}
		return store
	}

	var doc projectDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		corrupt := path + ".corrupt"
		os.Rename(path, corrupt)
		logging.Get(logging.CategoryMemory).Error("Project memory at %s is corrupt, moved to %s: %v", path, corrupt, err)
		return store
	}

	if doc.Version < projectFileVersion {
		migrateProjectDocument(&doc)
	}

	store.mu.Lock()
	store.facts = doc.Facts
	store.preferences = doc.Preferences
	store.decisions = doc.Decisions
	store.contexts = doc.Contexts
	store.featureGroups = doc.FeatureGroups
	store.lastSession = doc.LastSession
	store.mu.Unlock()

	if decay != nil {
		stats := store.ApplyConfidenceDecay(*decay)
		logging.MemoryDebug("Load-time decay: examined=%d decayed=%d floored=%d",
			stats.Examined, stats.Decayed, stats.Floored)
	}

	logging.Memory("Loaded project memory for %s (facts=%d prefs=%d decisions=%d contexts=%d groups=%d)",
		projectPath, len(doc.Facts), len(doc.Preferences), len(doc.Decisions), len(doc.Contexts), len(doc.FeatureGroups))
	return store
}

// migrateProjectDocument upgrades a version 1 document in place. Version 1
// records carried no lifespan, so everything defaults to project scope.
func migrateProjectDocument(doc *projectDocument) {
	logging.Memory("Migrating project memory from version %d to %d", doc.Version, projectFileVersion)
	for i := range doc.Facts {
		if doc.Facts[i].Lifespan == "" {
			doc.Facts[i].Lifespan = LifespanProject
		}
	}
	for i := range doc.Preferences {
		if doc.Preferences[i].Lifespan == "" {
			doc.Preferences[i].Lifespan = LifespanProject
		}
	}
	for i := range doc.Decisions {
		if doc.Decisions[i].Lifespan == "" {
			doc.Decisions[i].Lifespan = LifespanProject
		}
	}
	for i := range doc.Contexts {
		if doc.Contexts[i].Lifespan == "" {
			doc.Contexts[i].Lifespan = LifespanProject
		}
	}
	doc.Version = projectFileVersion
}
