package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"ratchet/internal/embedding"
	"ratchet/internal/logging"
)

// ArchiveEntry is one append-only archive record. Entries are searched but
// never mutated.
type ArchiveEntry struct {
	ID         string     `json:"id"`
	Content    string     `json:"content"`
	Summary    string     `json:"summary,omitempty"`
	Keywords   []string   `json:"keywords,omitempty"`
	Importance Importance `json:"importance,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`

	// Score is filled by Search.
	Score float64 `json:"-"`
}

// sqliteTimeLayout matches CURRENT_TIMESTAMP so datetime() comparisons work
// on values written from Go.
const sqliteTimeLayout = "2006-01-02 15:04:05"

// Archive is the sqlite-backed long-term archive. Keyword search is the
// primary path; when an embedding engine is configured entries are embedded
// on write and SearchSemantic becomes available.
type Archive struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	engine embedding.Engine
}

// NewArchive opens (or creates) the archive database at path. engine may be
// nil to disable semantic recall.
func NewArchive(path string, engine embedding.Engine) (*Archive, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewArchive")
	defer timer.Stop()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	a := &Archive{db: db, dbPath: path, engine: engine}
	if err := a.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("Archive opened at %s (semantic=%v)", path, engine != nil)
	return a, nil
}

// initialize creates the archive schema.
func (a *Archive) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS archive_entries (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		summary TEXT,
		keywords TEXT,
		importance TEXT DEFAULT 'medium',
		embedding TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_archive_importance ON archive_entries(importance);
	CREATE INDEX IF NOT EXISTS idx_archive_created ON archive_entries(created_at);
	`
	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create archive schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	logging.Store("Closing archive database")
	return a.db.Close()
}

// Add appends an entry to the archive, filling id and timestamp when unset.
// Embedding failures are logged and ignored; the entry is archived anyway.
func (a *Archive) Add(entry *ArchiveEntry) error {
	timer := logging.StartTimer(logging.CategoryStore, "ArchiveAdd")
	defer timer.Stop()

	a.mu.Lock()
	defer a.mu.Unlock()

	if entry.Content == "" {
		return fmt.Errorf("archive entry content is required")
	}
	if entry.ID == "" {
		entry.ID = fmt.Sprintf("arch_%d", time.Now().UnixNano())
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.Importance == "" {
		entry.Importance = ImportanceMedium
	}

	kwJSON, _ := json.Marshal(lowerAll(entry.Keywords))

	var embJSON string
	if a.engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		vec, err := a.engine.Embed(ctx, entry.Summary+" "+entry.Content)
		cancel()
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("Archive embedding failed, storing without: %v", err)
		} else if data, err := json.Marshal(vec); err == nil {
			embJSON = string(data)
		}
	}

	_, err := a.db.Exec(
		"INSERT INTO archive_entries (id, content, summary, keywords, importance, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		entry.ID, entry.Content, entry.Summary, string(kwJSON), string(entry.Importance), embJSON, entry.Timestamp.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to archive entry: %v", err)
		return fmt.Errorf("failed to archive entry: %w", err)
	}

	logging.StoreDebug("Archived %s (importance=%s, keywords=%d)", entry.ID, entry.Importance, len(entry.Keywords))
	return nil
}

// Search scores archive entries against the query by keyword overlap:
// exact keyword hits weigh 3, summary substring hits 2, content substring
// hits 1, per query term. Matching entries also earn a recency step bonus
// (within 1h, within 24h) and an importance bonus. Results come back sorted
// by score descending; ties keep insertion order.
func (a *Archive) Search(query string, limit int) ([]ArchiveEntry, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ArchiveSearch")
	defer timer.Stop()

	a.mu.RLock()
	defer a.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	// LIKE prefilter pulls candidates; exact scoring happens in Go.
	var conditions []string
	var args []interface{}
	for _, term := range terms {
		conditions = append(conditions, "(LOWER(content) LIKE ? OR LOWER(summary) LIKE ? OR LOWER(keywords) LIKE ?)")
		pat := "%" + term + "%"
		args = append(args, pat, pat, pat)
	}
	sqlQuery := fmt.Sprintf(
		"SELECT id, content, summary, keywords, importance, created_at FROM archive_entries WHERE %s ORDER BY rowid ASC",
		strings.Join(conditions, " OR "),
	)

	rows, err := a.db.Query(sqlQuery, args...)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Archive search query failed: %v", err)
		return nil, fmt.Errorf("archive search failed: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var results []ArchiveEntry
	for rows.Next() {
		entry, ok := scanEntry(rows)
		if !ok {
			continue
		}
		score := scoreEntry(&entry, terms)
		if score <= 0 {
			continue
		}
		score += recencyBonus(now.Sub(entry.Timestamp))
		score += importanceBonus(entry.Importance)
		entry.Score = score
		results = append(results, entry)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}

	logging.StoreDebug("Archive search %q returned %d results", query, len(results))
	return results, nil
}

// SearchSemantic ranks entries by embedding similarity to the query. It
// requires an embedding engine and only considers entries that were embedded
// at write time.
func (a *Archive) SearchSemantic(ctx context.Context, query string, limit int) ([]ArchiveEntry, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ArchiveSearchSemantic")
	defer timer.Stop()

	if a.engine == nil {
		return nil, fmt.Errorf("no embedding engine configured")
	}
	if limit <= 0 {
		limit = 10
	}

	queryVec, err := a.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	rows, err := a.db.Query("SELECT id, content, summary, keywords, importance, created_at, embedding FROM archive_entries WHERE embedding != '' ORDER BY rowid ASC")
	if err != nil {
		return nil, fmt.Errorf("archive semantic search failed: %w", err)
	}
	defer rows.Close()

	var entries []ArchiveEntry
	var corpus [][]float32
	for rows.Next() {
		var entry ArchiveEntry
		var kwJSON, importance, createdAt, embJSON string
		if err := rows.Scan(&entry.ID, &entry.Content, &entry.Summary, &kwJSON, &importance, &createdAt, &embJSON); err != nil {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(embJSON), &vec); err != nil || len(vec) == 0 {
			continue
		}
		json.Unmarshal([]byte(kwJSON), &entry.Keywords)
		entry.Importance = Importance(importance)
		entry.Timestamp, _ = time.Parse(sqliteTimeLayout, createdAt)
		entries = append(entries, entry)
		corpus = append(corpus, vec)
	}

	top := embedding.FindTopK(queryVec, corpus, limit)
	results := make([]ArchiveEntry, 0, len(top))
	for _, r := range top {
		entry := entries[r.Index]
		entry.Score = r.Similarity
		results = append(results, entry)
	}
	return results, nil
}

// Count returns the number of archived entries.
func (a *Archive) Count() (int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var n int64
	err := a.db.QueryRow("SELECT COUNT(*) FROM archive_entries").Scan(&n)
	return n, err
}

// CompactStats reports what a compaction removed.
type CompactStats struct {
	EntriesDeleted int
	Vacuumed       bool
}

// CompactArchive deletes low and medium importance entries older than the
// given age and reclaims disk space. Critical and high entries are never
// compacted away.
func (a *Archive) CompactArchive(olderThanDays int) (CompactStats, error) {
	timer := logging.StartTimer(logging.CategoryStore, "CompactArchive")
	defer timer.Stop()

	a.mu.Lock()
	defer a.mu.Unlock()

	stats := CompactStats{}
	if olderThanDays <= 0 {
		return stats, fmt.Errorf("olderThanDays must be positive")
	}

	logging.Get(logging.CategoryStore).Warn("Compacting archive entries older than %d days (IRREVERSIBLE)", olderThanDays)

	result, err := a.db.Exec(
		`DELETE FROM archive_entries
		 WHERE importance IN ('low', 'medium')
		   AND datetime(created_at) < datetime('now', '-' || ? || ' days')`,
		olderThanDays,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Archive compaction failed: %v", err)
		return stats, fmt.Errorf("archive compaction failed: %w", err)
	}
	deleted, _ := result.RowsAffected()
	stats.EntriesDeleted = int(deleted)

	if _, err := a.db.Exec("VACUUM"); err != nil {
		logging.Get(logging.CategoryStore).Error("VACUUM failed: %v", err)
		return stats, fmt.Errorf("vacuum failed: %w", err)
	}
	stats.Vacuumed = true

	logging.Store("Archive compacted: deleted=%d entries older than %d days", stats.EntriesDeleted, olderThanDays)
	return stats, nil
}

// =============================================================================
// SCORING
// =============================================================================

func scanEntry(rows *sql.Rows) (ArchiveEntry, bool) {
	var entry ArchiveEntry
	var kwJSON, importance, createdAt string
	if err := rows.Scan(&entry.ID, &entry.Content, &entry.Summary, &kwJSON, &importance, &createdAt); err != nil {
		return entry, false
	}
	json.Unmarshal([]byte(kwJSON), &entry.Keywords)
	entry.Importance = Importance(importance)
	entry.Timestamp, _ = time.Parse(sqliteTimeLayout, createdAt)
	return entry, true
}

// scoreEntry computes the keyword-overlap score: per query term, an exact
// keyword match is worth 3, a summary hit 2, a content hit 1.
func scoreEntry(entry *ArchiveEntry, terms []string) float64 {
	summary := strings.ToLower(entry.Summary)
	content := strings.ToLower(entry.Content)

	score := 0.0
	for _, term := range terms {
		for _, kw := range entry.Keywords {
			if kw == term {
				score += 3
				break
			}
		}
		if strings.Contains(summary, term) {
			score += 2
		}
		if strings.Contains(content, term) {
			score += 1
		}
	}
	return score
}

func recencyBonus(age time.Duration) float64 {
	switch {
	case age < time.Hour:
		return 2.0
	case age < 24*time.Hour:
		return 1.0
	default:
		return 0
	}
}

func importanceBonus(imp Importance) float64 {
	switch imp {
	case ImportanceCritical:
		return 3
	case ImportanceHigh:
		return 2
	case ImportanceMedium:
		return 1
	default:
		return 0
	}
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
