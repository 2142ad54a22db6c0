// Package memory implements the dual-scope memory store: an ephemeral
// session scope (goals, tasks, tracking items, working state) and a
// persistent project scope (facts, preferences, decisions, context, feature
// groups) with confidence decay, supersession, and archive search.
package memory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Lifespan classifies how long a record should survive.
type Lifespan string

const (
	// LifespanSession records expire from default getters once their
	// confidence drops below the session expiry threshold.
	LifespanSession Lifespan = "session"

	// LifespanProject records persist with the project and decay normally.
	LifespanProject Lifespan = "project"

	// LifespanPermanent records never decay.
	LifespanPermanent Lifespan = "permanent"
)

// Importance grades archive entries and errors.
type Importance string

const (
	ImportanceCritical Importance = "critical"
	ImportanceHigh     Importance = "high"
	ImportanceMedium   Importance = "medium"
	ImportanceLow      Importance = "low"
)

// RecordMeta carries the fields shared by every project-scope record.
// SupersededBy is a weak reference: the id of the record that replaced this
// one, never an ownership edge. Superseded records are retained forever.
type RecordMeta struct {
	ID             string    `json:"id"`
	Confidence     float64   `json:"confidence"`
	Lifespan       Lifespan  `json:"lifespan"`
	Timestamp      time.Time `json:"timestamp"`
	LastReinforced time.Time `json:"last_reinforced,omitempty"`
	SupersededBy   string    `json:"superseded_by,omitempty"`
}

// Superseded reports whether a newer record replaces this one.
func (m *RecordMeta) Superseded() bool {
	return m.SupersededBy != ""
}

// reinforcedAt returns the anchor time for decay computation.
func (m *RecordMeta) reinforcedAt() time.Time {
	if !m.LastReinforced.IsZero() {
		return m.LastReinforced
	}
	return m.Timestamp
}

func newMeta(prefix string, confidence float64, lifespan Lifespan) RecordMeta {
	if confidence <= 0 || confidence > 1 {
		confidence = 0.8
	}
	if lifespan == "" {
		lifespan = LifespanProject
	}
	return RecordMeta{
		ID:         fmt.Sprintf("%s_%s", prefix, uuid.New().String()[:8]),
		Confidence: confidence,
		Lifespan:   lifespan,
		Timestamp:  time.Now(),
	}
}

// UserFact is something learned about the user or their environment.
type UserFact struct {
	RecordMeta
	Category string `json:"category"` // identity, environment, workflow, ...
	Content  string `json:"content"`
}

// NewUserFact creates a fact with a fresh id.
func NewUserFact(category, content string, confidence float64, lifespan Lifespan) *UserFact {
	return &UserFact{
		RecordMeta: newMeta("fact", confidence, lifespan),
		Category:   category,
		Content:    content,
	}
}

// UserPreference is a stated or inferred way the user wants things done.
type UserPreference struct {
	RecordMeta
	Category   string `json:"category"` // style, tooling, communication, ...
	Preference string `json:"preference"`
}

// NewUserPreference creates a preference with a fresh id.
func NewUserPreference(category, preference string, confidence float64, lifespan Lifespan) *UserPreference {
	return &UserPreference{
		RecordMeta: newMeta("pref", confidence, lifespan),
		Category:   category,
		Preference: preference,
	}
}

// Decision records a choice made during work on the project, with rationale.
type Decision struct {
	RecordMeta
	Decision     string   `json:"decision"`
	Rationale    string   `json:"rationale,omitempty"`
	RelatedFiles []string `json:"related_files,omitempty"`
}

// NewDecision creates a decision with a fresh id.
func NewDecision(decision, rationale string, confidence float64) *Decision {
	return &Decision{
		RecordMeta: newMeta("dec", confidence, LifespanProject),
		Decision:   decision,
		Rationale:  rationale,
	}
}

// ProjectContext is a structural or behavioral note about the codebase.
type ProjectContext struct {
	RecordMeta
	Category string `json:"category"` // architecture, build, convention, ...
	Content  string `json:"content"`
}

// NewProjectContext creates a context entry with a fresh id.
func NewProjectContext(category, content string, confidence float64) *ProjectContext {
	return &ProjectContext{
		RecordMeta: newMeta("ctx", confidence, LifespanProject),
		Category:   category,
		Content:    content,
	}
}

// FeatureGroup clusters related files and tasks under a feature name.
// Groups are organizational only and carry no confidence.
type FeatureGroup struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Files       []string  `json:"files,omitempty"`
	TaskIDs     []string  `json:"task_ids,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewFeatureGroup creates a feature group with a fresh id.
func NewFeatureGroup(name, description string) *FeatureGroup {
	now := time.Now()
	return &FeatureGroup{
		ID:          fmt.Sprintf("feat_%s", uuid.New().String()[:8]),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
