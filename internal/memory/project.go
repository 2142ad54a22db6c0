package memory

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"ratchet/internal/logging"
)

// ProjectStore holds the persistent project scope. Record collections are
// append-only: supersession marks the old record instead of removing it, so
// history is never destroyed.
type ProjectStore struct {
	mu          sync.RWMutex
	projectPath string

	facts         []*UserFact
	preferences   []*UserPreference
	decisions     []*Decision
	contexts      []*ProjectContext
	featureGroups []*FeatureGroup

	lastSession *SessionSummary

	// sessionExpiry is the confidence below which session-lifespan records
	// are hidden from default getters.
	sessionExpiry float64
}

// NewProjectStore creates an empty project scope for the given project path.
func NewProjectStore(projectPath string, sessionExpiry float64) *ProjectStore {
	if sessionExpiry <= 0 {
		sessionExpiry = 0.3
	}
	return &ProjectStore{
		projectPath:   projectPath,
		sessionExpiry: sessionExpiry,
	}
}

// ProjectPath returns the project this store belongs to.
func (p *ProjectStore) ProjectPath() string {
	return p.projectPath
}

// expired reports whether a record is hidden from default getters.
func (p *ProjectStore) expired(m *RecordMeta) bool {
	return m.Lifespan == LifespanSession && m.Confidence < p.sessionExpiry
}

// =============================================================================
// USER FACTS
// =============================================================================

// AddFact appends a user fact.
func (p *ProjectStore) AddFact(f *UserFact) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.facts = append(p.facts, f)
	logging.Memory("Fact added: %s [%s] %s", f.ID, f.Category, f.Content)
}

// GetFacts returns current facts: not superseded, not expired.
func (p *ProjectStore) GetFacts() []*UserFact {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*UserFact
	for _, f := range p.facts {
		if !f.Superseded() && !p.expired(&f.RecordMeta) {
			out = append(out, f)
		}
	}
	return out
}

// GetAllFacts returns every fact ever recorded, superseded included.
func (p *ProjectStore) GetAllFacts() []*UserFact {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*UserFact, len(p.facts))
	copy(out, p.facts)
	return out
}

// SupersedeFact replaces oldID with a new fact. The old record is kept and
// marked; a record can be superseded only once, which keeps chains singly
// linked and acyclic.
func (p *ProjectStore) SupersedeFact(oldID string, f *UserFact) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.findFact(oldID)
	if old == nil {
		return fmt.Errorf("fact %s not found", oldID)
	}
	if old.Superseded() {
		return fmt.Errorf("fact %s is already superseded by %s", oldID, old.SupersededBy)
	}
	old.SupersededBy = f.ID
	p.facts = append(p.facts, f)
	logging.Memory("Fact %s superseded by %s", oldID, f.ID)
	return nil
}

// ReinforceFact bumps a fact's confidence and resets its decay anchor.
func (p *ProjectStore) ReinforceFact(id string, delta float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := p.findFact(id)
	if m == nil {
		return fmt.Errorf("fact %s not found", id)
	}
	reinforce(m, delta)
	return nil
}

// =============================================================================
// USER PREFERENCES
// =============================================================================

// AddPreference appends a user preference.
func (p *ProjectStore) AddPreference(pref *UserPreference) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.preferences = append(p.preferences, pref)
	logging.Memory("Preference added: %s [%s] %s", pref.ID, pref.Category, pref.Preference)
}

// GetPreferences returns current preferences.
func (p *ProjectStore) GetPreferences() []*UserPreference {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*UserPreference
	for _, pref := range p.preferences {
		if !pref.Superseded() && !p.expired(&pref.RecordMeta) {
			out = append(out, pref)
		}
	}
	return out
}

// GetAllPreferences returns every preference ever recorded.
func (p *ProjectStore) GetAllPreferences() []*UserPreference {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*UserPreference, len(p.preferences))
	copy(out, p.preferences)
	return out
}

// SupersedePreference replaces oldID with a new preference.
func (p *ProjectStore) SupersedePreference(oldID string, pref *UserPreference) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.findPreference(oldID)
	if old == nil {
		return fmt.Errorf("preference %s not found", oldID)
	}
	if old.Superseded() {
		return fmt.Errorf("preference %s is already superseded by %s", oldID, old.SupersededBy)
	}
	old.SupersededBy = pref.ID
	p.preferences = append(p.preferences, pref)
	return nil
}

// ReinforcePreference bumps a preference's confidence.
func (p *ProjectStore) ReinforcePreference(id string, delta float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := p.findPreference(id)
	if m == nil {
		return fmt.Errorf("preference %s not found", id)
	}
	reinforce(m, delta)
	return nil
}

// =============================================================================
// DECISIONS
// =============================================================================

// AddDecision appends a decision.
func (p *ProjectStore) AddDecision(d *Decision) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decisions = append(p.decisions, d)
	logging.Memory("Decision added: %s %s", d.ID, d.Decision)
}

// GetDecisions returns current decisions.
func (p *ProjectStore) GetDecisions() []*Decision {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*Decision
	for _, d := range p.decisions {
		if !d.Superseded() && !p.expired(&d.RecordMeta) {
			out = append(out, d)
		}
	}
	return out
}

// GetAllDecisions returns every decision ever recorded.
func (p *ProjectStore) GetAllDecisions() []*Decision {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Decision, len(p.decisions))
	copy(out, p.decisions)
	return out
}

// SupersedeDecision replaces oldID with a new decision.
func (p *ProjectStore) SupersedeDecision(oldID string, d *Decision) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.findDecision(oldID)
	if old == nil {
		return fmt.Errorf("decision %s not found", oldID)
	}
	if old.Superseded() {
		return fmt.Errorf("decision %s is already superseded by %s", oldID, old.SupersededBy)
	}
	old.SupersededBy = d.ID
	p.decisions = append(p.decisions, d)
	return nil
}

// =============================================================================
// PROJECT CONTEXT
// =============================================================================

// AddContext appends a project context entry.
func (p *ProjectStore) AddContext(c *ProjectContext) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contexts = append(p.contexts, c)
	logging.Memory("Context added: %s [%s]", c.ID, c.Category)
}

// GetContexts returns current context entries.
func (p *ProjectStore) GetContexts() []*ProjectContext {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*ProjectContext
	for _, c := range p.contexts {
		if !c.Superseded() && !p.expired(&c.RecordMeta) {
			out = append(out, c)
		}
	}
	return out
}

// GetAllContexts returns every context entry ever recorded.
func (p *ProjectStore) GetAllContexts() []*ProjectContext {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*ProjectContext, len(p.contexts))
	copy(out, p.contexts)
	return out
}

// SupersedeContext replaces oldID with a new context entry.
func (p *ProjectStore) SupersedeContext(oldID string, c *ProjectContext) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.findContext(oldID)
	if old == nil {
		return fmt.Errorf("context %s not found", oldID)
	}
	if old.Superseded() {
		return fmt.Errorf("context %s is already superseded by %s", oldID, old.SupersededBy)
	}
	old.SupersededBy = c.ID
	p.contexts = append(p.contexts, c)
	return nil
}

// =============================================================================
// FEATURE GROUPS
// =============================================================================

// AddFeatureGroup appends a feature group.
func (p *ProjectStore) AddFeatureGroup(fg *FeatureGroup) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.featureGroups = append(p.featureGroups, fg)
}

// GetFeatureGroups returns all feature groups.
func (p *ProjectStore) GetFeatureGroups() []*FeatureGroup {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*FeatureGroup, len(p.featureGroups))
	copy(out, p.featureGroups)
	return out
}

// UpdateFeatureGroup merges files and task ids into an existing group.
func (p *ProjectStore) UpdateFeatureGroup(id string, files, taskIDs []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, fg := range p.featureGroups {
		if fg.ID != id {
			continue
		}
		fg.Files = mergeUnique(fg.Files, files)
		fg.TaskIDs = mergeUnique(fg.TaskIDs, taskIDs)
		fg.UpdatedAt = time.Now()
		return nil
	}
	return fmt.Errorf("feature group %s not found", id)
}

// =============================================================================
// LAST SESSION
// =============================================================================

// SetLastSession records the summary persisted for the next run.
func (p *ProjectStore) SetLastSession(s *SessionSummary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSession = s
}

// LastSession returns the previous run's summary, or nil.
func (p *ProjectStore) LastSession() *SessionSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSession
}

// ResumptionContext renders the previous session's summary as a short
// preamble the host may prepend to the first turn. Empty when no previous
// session exists.
func (p *ProjectStore) ResumptionContext() string {
	p.mu.RLock()
	last := p.lastSession
	p.mu.RUnlock()
	if last == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Previous session\n")
	fmt.Fprintf(&b, "Ended: %s\n", last.EndedAt.Format(time.RFC3339))
	if last.GoalDescription != "" {
		fmt.Fprintf(&b, "Goal: %s\n", last.GoalDescription)
	}
	fmt.Fprintf(&b, "Tasks: %d completed, %d still open\n", last.CompletedTasks, last.OpenTasks)
	if last.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", last.Summary)
	}
	if len(last.KeyFiles) > 0 {
		fmt.Fprintf(&b, "Key files: %s\n", strings.Join(last.KeyFiles, ", "))
	}
	return b.String()
}

// =============================================================================
// HELPERS
// =============================================================================

func (p *ProjectStore) findFact(id string) *RecordMeta {
	for _, f := range p.facts {
		if f.ID == id {
			return &f.RecordMeta
		}
	}
	return nil
}

func (p *ProjectStore) findPreference(id string) *RecordMeta {
	for _, pref := range p.preferences {
		if pref.ID == id {
			return &pref.RecordMeta
		}
	}
	return nil
}

func (p *ProjectStore) findDecision(id string) *RecordMeta {
	for _, d := range p.decisions {
		if d.ID == id {
			return &d.RecordMeta
		}
	}
	return nil
}

func (p *ProjectStore) findContext(id string) *RecordMeta {
	for _, c := range p.contexts {
		if c.ID == id {
			return &c.RecordMeta
		}
	}
	return nil
}

func reinforce(m *RecordMeta, delta float64) {
	if delta <= 0 {
		delta = 0.1
	}
	m.Confidence += delta
	if m.Confidence > 1 {
		m.Confidence = 1
	}
	m.LastReinforced = time.Now()
}

func mergeUnique(dst, src []string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range src {
		if !seen[s] {
			dst = append(dst, s)
			seen[s] = true
		}
	}
	return dst
}
