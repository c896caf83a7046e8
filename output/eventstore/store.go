package eventstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tanghyd/spiir-search/coincidence"
	"github.com/tanghyd/spiir-search/trigger"
)

// Store handles SQLite persistence for ranked events. Concrete type,
// safe for concurrent use via an internal mutex.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates a Store at the given database path, creating tables on
// first use. File-based databases run in WAL mode.
func Open(dbPath string) (*Store, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		// Shared cache so every pooled connection sees the same
		// in-memory database.
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		template_id INTEGER NOT NULL,
		network_snr REAL NOT NULL,
		ranking_stat REAL NOT NULL,
		single INTEGER NOT NULL DEFAULT 0,
		time_min REAL NOT NULL,
		time_max REAL NOT NULL,
		source_probs TEXT,
		archived_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS triggers (
		event_id TEXT NOT NULL REFERENCES events(id),
		detector TEXT NOT NULL,
		sample_index INTEGER NOT NULL,
		time REAL NOT NULL,
		snr_real REAL NOT NULL,
		snr_imag REAL NOT NULL,
		magnitude REAL NOT NULL,
		chisq REAL
	);

	CREATE INDEX IF NOT EXISTS idx_events_time ON events(time_min);
	CREATE INDEX IF NOT EXISTS idx_events_ranking ON events(ranking_stat DESC);
	CREATE INDEX IF NOT EXISTS idx_triggers_event ON triggers(event_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// SaveEvent stores one event with its member triggers. Returns false
// when the event id was already present, which makes redelivery a
// no-op.
func (s *Store) SaveEvent(ev *coincidence.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var probs any
	if len(ev.SourceProbabilities) > 0 {
		data, err := json.Marshal(ev.SourceProbabilities)
		if err != nil {
			return false, fmt.Errorf("encode source probabilities: %w", err)
		}
		probs = string(data)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT OR IGNORE INTO events (
			id, template_id, network_snr, ranking_stat, single,
			time_min, time_max, source_probs, archived_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.TemplateID, ev.NetworkSNR, ev.RankingStat, boolToInt(ev.Single),
		ev.TimeMin, ev.TimeMax, probs, time.Now().UTC())
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	stmt, err := tx.Prepare(`
		INSERT INTO triggers (
			event_id, detector, sample_index, time,
			snr_real, snr_imag, magnitude, chisq
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return false, err
	}
	defer stmt.Close()

	for _, t := range ev.Triggers {
		var chisq any
		if t.ChiSq != nil {
			chisq = *t.ChiSq
		}
		if _, err := stmt.Exec(ev.ID, t.Detector, t.SampleIndex, t.Time,
			t.SNRReal, t.SNRImag, t.Magnitude, chisq); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// GetEvent retrieves one event with its triggers. Returns sql.ErrNoRows
// wrapped when the id is unknown.
func (s *Store) GetEvent(id string) (*coincidence.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, template_id, network_snr, ranking_stat, single,
			time_min, time_max, source_probs
		FROM events WHERE id = ?
	`, id)

	ev, err := scanEvent(row)
	if err != nil {
		return nil, err
	}
	if err := s.attachTriggers(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// EventsInRange returns events whose earliest trigger time falls inside
// [tmin, tmax), newest first.
func (s *Store) EventsInRange(tmin, tmax float64, limit int) ([]*coincidence.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEvents(`
		SELECT id, template_id, network_snr, ranking_stat, single,
			time_min, time_max, source_probs
		FROM events
		WHERE time_min >= ? AND time_min < ?
		ORDER BY time_min DESC
		LIMIT ?
	`, tmin, tmax, limit)
}

// TopRanked returns the highest-ranked events.
func (s *Store) TopRanked(limit int) ([]*coincidence.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEvents(`
		SELECT id, template_id, network_snr, ranking_stat, single,
			time_min, time_max, source_probs
		FROM events
		ORDER BY ranking_stat DESC
		LIMIT ?
	`, limit)
}

// CountEvents returns the number of stored events.
func (s *Store) CountEvents() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*coincidence.Event, error) {
	var ev coincidence.Event
	var single int
	var probs sql.NullString
	err := row.Scan(&ev.ID, &ev.TemplateID, &ev.NetworkSNR, &ev.RankingStat,
		&single, &ev.TimeMin, &ev.TimeMax, &probs)
	if err != nil {
		return nil, err
	}
	ev.Single = single != 0
	if probs.Valid && probs.String != "" {
		if err := json.Unmarshal([]byte(probs.String), &ev.SourceProbabilities); err != nil {
			return nil, fmt.Errorf("decode source probabilities: %w", err)
		}
	}
	return &ev, nil
}

// queryEvents executes one event query and attaches triggers to each
// result. Caller holds s.mu.
func (s *Store) queryEvents(query string, args ...any) ([]*coincidence.Event, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*coincidence.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, ev := range events {
		if err := s.attachTriggers(ev); err != nil {
			return nil, err
		}
	}
	return events, nil
}

// attachTriggers loads the member triggers for one event. Caller holds
// s.mu.
func (s *Store) attachTriggers(ev *coincidence.Event) error {
	rows, err := s.db.Query(`
		SELECT detector, sample_index, time, snr_real, snr_imag, magnitude, chisq
		FROM triggers WHERE event_id = ? ORDER BY time
	`, ev.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		t := &trigger.Trigger{TemplateID: ev.TemplateID}
		var chisq sql.NullFloat64
		if err := rows.Scan(&t.Detector, &t.SampleIndex, &t.Time,
			&t.SNRReal, &t.SNRImag, &t.Magnitude, &chisq); err != nil {
			return err
		}
		if chisq.Valid {
			v := chisq.Float64
			t.ChiSq = &v
		}
		ev.Triggers = append(ev.Triggers, t)
	}
	return rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
