// SQLite-backed Storer using the ncruces/go-sqlite3 database/sql
// driver with the sqlite-vec extension registered.
package store

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/cepweb/gocep/pkg/cep"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
)

// SQLiteStore is the SQLite-backed data store. Thread-safe.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS t_units (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    curiosity REAL NOT NULL,
    certainty REAL NOT NULL,
    dissonance REAL NOT NULL,
    embedding BLOB,
    agent_id TEXT,
    parent_ids TEXT,
    child_ids TEXT,
    linkage TEXT,
    phase TEXT,
    ai_generated INTEGER DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_t_units_agent ON t_units(agent_id);
CREATE INDEX IF NOT EXISTS idx_t_units_created ON t_units(created_at);

CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    t_unit_id TEXT NOT NULL,
    metadata TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);
`

// NewSQLiteStore creates a new in-memory SQLite store.
func NewSQLiteStore() (*SQLiteStore, error) {
	return NewSQLiteStoreWithDSN(":memory:")
}

// NewSQLiteStoreWithDSN creates a store with a specific data source
// name. Use ":memory:" for in-memory or a file path for persistence.
func NewSQLiteStoreWithDSN(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Reset removes all units and events.
func (s *SQLiteStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM t_units`); err != nil {
		return fmt.Errorf("store: reset t_units: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM events`); err != nil {
		return fmt.Errorf("store: reset events: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertTUnit(u *cep.TUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parents, err := json.Marshal(u.ParentIDs)
	if err != nil {
		return fmt.Errorf("store: marshal parent ids: %w", err)
	}
	children, err := json.Marshal(u.ChildIDs)
	if err != nil {
		return fmt.Errorf("store: marshal child ids: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO t_units (id, content, curiosity, certainty, dissonance,
			embedding, agent_id, parent_ids, child_ids, linkage, phase,
			ai_generated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			curiosity = excluded.curiosity,
			certainty = excluded.certainty,
			dissonance = excluded.dissonance,
			embedding = excluded.embedding,
			agent_id = excluded.agent_id,
			parent_ids = excluded.parent_ids,
			child_ids = excluded.child_ids,
			linkage = excluded.linkage,
			phase = excluded.phase,
			ai_generated = excluded.ai_generated,
			created_at = excluded.created_at
	`, u.ID, u.Content, u.Valence.Curiosity, u.Valence.Certainty, u.Valence.Dissonance,
		encodeEmbedding(u.Embedding), u.AgentID, string(parents), string(children),
		u.Linkage, u.Phase, boolToInt(u.AIGenerated), u.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: upsert t_unit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTUnit(id string) (*cep.TUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, content, curiosity, certainty, dissonance, embedding,
			agent_id, parent_ids, child_ids, linkage, phase, ai_generated, created_at
		FROM t_units WHERE id = ?
	`, id)

	u, err := scanTUnit(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get t_unit: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) DeleteTUnit(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM t_units WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete t_unit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListTUnits(agentID string) ([]*cep.TUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, content, curiosity, certainty, dissonance, embedding,
			agent_id, parent_ids, child_ids, linkage, phase, ai_generated, created_at
		FROM t_units`
	args := []any{}
	if agentID != "" {
		if agentID == cep.DefaultAgent {
			query += ` WHERE agent_id = ? OR agent_id = '' OR agent_id IS NULL`
		} else {
			query += ` WHERE agent_id = ?`
		}
		args = append(args, agentID)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list t_units: %w", err)
	}
	defer rows.Close()

	var out []*cep.TUnit
	for rows.Next() {
		u, err := scanTUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan t_unit: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountTUnits() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM t_units`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count t_units: %w", err)
	}
	return n, nil
}

// LinkChild appends childID to the parent's raw child_ids. Unknown
// parents are ignored; duplicates are not added twice.
func (s *SQLiteStore) LinkChild(parentID, childID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw sql.NullString
	err := s.db.QueryRow(`SELECT child_ids FROM t_units WHERE id = ?`, parentID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: link child: %w", err)
	}

	children := decodeIDs(raw)
	for _, existing := range children {
		if existing == childID {
			return nil
		}
	}
	children = append(children, childID)

	encoded, err := json.Marshal(children)
	if err != nil {
		return fmt.Errorf("store: marshal child ids: %w", err)
	}
	if _, err := s.db.Exec(`UPDATE t_units SET child_ids = ? WHERE id = ?`, string(encoded), parentID); err != nil {
		return fmt.Errorf("store: link child: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetEmbedding(id string, embedding []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`UPDATE t_units SET embedding = ? WHERE id = ?`,
		encodeEmbedding(embedding), id); err != nil {
		return fmt.Errorf("store: set embedding: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendEvent(e *cep.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal event metadata: %w", err)
	}
	if _, err := s.db.Exec(`
		INSERT INTO events (id, type, t_unit_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, e.Type, e.TUnitID, string(metadata), e.CreatedAt); err != nil {
		return fmt.Errorf("store: append event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListEvents() ([]*cep.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, type, t_unit_id, metadata, created_at
		FROM events ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	var out []*cep.Event
	for rows.Next() {
		var e cep.Event
		var metadata sql.NullString
		if err := rows.Scan(&e.ID, &e.Type, &e.TUnitID, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		if metadata.Valid && metadata.String != "" && metadata.String != "null" {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("store: decode event metadata: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTUnit(row scanner) (*cep.TUnit, error) {
	var u cep.TUnit
	var embedding []byte
	var agentID, parents, children, linkage, phase sql.NullString
	var aiGenerated int

	err := row.Scan(&u.ID, &u.Content, &u.Valence.Curiosity, &u.Valence.Certainty,
		&u.Valence.Dissonance, &embedding, &agentID, &parents, &children,
		&linkage, &phase, &aiGenerated, &u.CreatedAt)
	if err != nil {
		return nil, err
	}

	u.Embedding = decodeEmbedding(embedding)
	u.AgentID = agentID.String
	u.ParentIDs = decodeIDs(parents)
	u.ChildIDs = decodeIDs(children)
	u.Linkage = linkage.String
	u.Phase = phase.String
	u.AIGenerated = aiGenerated != 0
	return &u, nil
}

func decodeIDs(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw.String), &ids); err != nil {
		return nil
	}
	return ids
}

// encodeEmbedding converts a []float64 to a binary BLOB, 8 bytes per
// component, little-endian. Empty input stays nil so the column is NULL.
func encodeEmbedding(vec []float64) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary BLOB back to []float64.
func decodeEmbedding(buf []byte) []float64 {
	if len(buf) == 0 {
		return nil
	}
	n := len(buf) / 8
	vec := make([]float64, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
