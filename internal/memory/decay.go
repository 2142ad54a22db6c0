package memory

import (
	"time"

	"ratchet/internal/logging"
)

// DecayConfig controls confidence decay across the project scope.
type DecayConfig struct {
	// Per-collection rates, in confidence units per hour.
	FactRatePerHour       float64
	PreferenceRatePerHour float64
	DecisionRatePerHour   float64
	ContextRatePerHour    float64

	// MinConfidence is the decay floor; confidence never drops below it.
	MinConfidence float64

	// StableCategories are exempt from decay entirely.
	StableCategories []string
}

// DefaultDecayConfig returns the standard decay rates.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		FactRatePerHour:       0.01,
		PreferenceRatePerHour: 0.005,
		DecisionRatePerHour:   0.005,
		ContextRatePerHour:    0.002,
		MinConfidence:         0.1,
		StableCategories:      []string{"identity", "environment"},
	}
}

func (c DecayConfig) stable(category string) bool {
	for _, s := range c.StableCategories {
		if s == category {
			return true
		}
	}
	return false
}

// DecayStats summarizes one decay application.
type DecayStats struct {
	Examined int
	Decayed  int
	Floored  int
}

// ApplyConfidenceDecay reduces confidence on every non-superseded,
// non-exempt record: hours since last reinforcement (or creation) times the
// per-collection rate, subtracted from confidence and floored at
// MinConfidence. Permanent-lifespan records and stable categories are
// exempt. Decay never raises confidence.
func (p *ProjectStore) ApplyConfidenceDecay(cfg DecayConfig) DecayStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	stats := DecayStats{}

	for _, f := range p.facts {
		decayRecord(&f.RecordMeta, f.Category, cfg.FactRatePerHour, cfg, now, &stats)
	}
	for _, pref := range p.preferences {
		decayRecord(&pref.RecordMeta, pref.Category, cfg.PreferenceRatePerHour, cfg, now, &stats)
	}
	for _, d := range p.decisions {
		decayRecord(&d.RecordMeta, "", cfg.DecisionRatePerHour, cfg, now, &stats)
	}
	for _, c := range p.contexts {
		decayRecord(&c.RecordMeta, c.Category, cfg.ContextRatePerHour, cfg, now, &stats)
	}

	logging.Memory("Decay applied: examined=%d decayed=%d floored=%d", stats.Examined, stats.Decayed, stats.Floored)
	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditMemoryDecay,
		Success:   true,
		Fields: map[string]interface{}{
			"examined": stats.Examined,
			"decayed":  stats.Decayed,
			"floored":  stats.Floored,
		},
	})
	return stats
}

func decayRecord(m *RecordMeta, category string, rate float64, cfg DecayConfig, now time.Time, stats *DecayStats) {
	stats.Examined++

	if m.Superseded() || m.Lifespan == LifespanPermanent || cfg.stable(category) {
		return
	}

	hours := now.Sub(m.reinforcedAt()).Hours()
	if hours <= 0 || rate <= 0 {
		return
	}

	next := m.Confidence - hours*rate
	if next < cfg.MinConfidence {
		next = cfg.MinConfidence
	}
	if next < m.Confidence {
		m.Confidence = next
		stats.Decayed++
		if next == cfg.MinConfidence {
			stats.Floored++
		}
	}
}
