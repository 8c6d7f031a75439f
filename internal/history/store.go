// Package history persists sentinel's durable state: the structured history
// store (system of record on restart) and maintenance task timestamps.
//
// DESIGN: One sqlite database holds ordered records per category plus the
// last-run time of every maintenance task. Categories missing at open are
// initialized empty; categories the code doesn't know are tolerated. A
// corrupted or missing category never aborts startup - only an unwritable
// database does.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidwall/sjson"
	_ "modernc.org/sqlite"
)

// Built-in record categories. Appends to other categories are accepted too.
const (
	CategoryAlerts          = "alerts"
	CategoryHealthChecks    = "health_checks"
	CategoryServiceUptime   = "service_uptime"
	CategoryServiceDowntime = "service_downtime"
	CategoryStabilityChecks = "memory_stability_checks"
	CategoryLeakChecks      = "memory_leak_checks"
	CategoryRecoverySuccess = "recovery_success"
)

// Categories lists every built-in category, initialized empty at open.
var Categories = []string{
	CategoryAlerts,
	CategoryHealthChecks,
	CategoryServiceUptime,
	CategoryServiceDowntime,
	CategoryStabilityChecks,
	CategoryLeakChecks,
	CategoryRecoverySuccess,
}

// Store is the sqlite-backed history store.
type Store struct {
	db *sql.DB
	mu sync.Mutex

	now func() time.Time
}

// Open opens (or creates) the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db '%s': %w", path, err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS categories (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS records (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	category   TEXT NOT NULL,
	created_at TEXT NOT NULL,
	record     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_category ON records(category, id);
CREATE TABLE IF NOT EXISTS task_state (
	name     TEXT PRIMARY KEY,
	last_run TEXT NOT NULL
);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate history db: %w", err)
	}

	for _, cat := range Categories {
		if _, err := s.db.Exec(`INSERT OR IGNORE INTO categories(name) VALUES(?)`, cat); err != nil {
			return fmt.Errorf("failed to initialize category '%s': %w", cat, err)
		}
	}
	return nil
}

// Append serializes record and appends it to category.
func (s *Store) Append(category string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", category, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Unknown categories are registered on first use.
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO categories(name) VALUES(?)`, category); err != nil {
		return fmt.Errorf("failed to register category '%s': %w", category, err)
	}

	_, err = s.db.Exec(
		`INSERT INTO records(category, created_at, record) VALUES(?, ?, ?)`,
		category, s.now().UTC().Format(time.RFC3339Nano), string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to append %s record: %w", category, err)
	}
	return nil
}

// Records returns the ordered records of a category. A category with no
// records (known or unknown) yields an empty slice, never an error.
func (s *Store) Records(category string) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT record FROM records WHERE category = ? ORDER BY id`, category)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s records: %w", category, err)
	}
	defer rows.Close()

	out := []json.RawMessage{}
	for rows.Next() {
		var rec string
		if err := rows.Scan(&rec); err != nil {
			return nil, fmt.Errorf("failed to scan %s record: %w", category, err)
		}
		out = append(out, json.RawMessage(rec))
	}
	return out, rows.Err()
}

// Count returns the number of records in a category.
func (s *Store) Count(category string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM records WHERE category = ?`, category).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s records: %w", category, err)
	}
	return n, nil
}

// Snapshot renders the whole store as one JSON document mapping every
// category name to its ordered record list.
func (s *Store) Snapshot() (string, error) {
	s.mu.Lock()
	catRows, err := s.db.Query(`SELECT name FROM categories ORDER BY name`)
	if err != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("failed to list categories: %w", err)
	}
	var cats []string
	for catRows.Next() {
		var name string
		if err := catRows.Scan(&name); err != nil {
			catRows.Close()
			s.mu.Unlock()
			return "", err
		}
		cats = append(cats, name)
	}
	catRows.Close()
	s.mu.Unlock()

	doc := "{}"
	for _, cat := range cats {
		records, err := s.Records(cat)
		if err != nil {
			return "", err
		}
		doc, err = sjson.SetRaw(doc, cat, "[]")
		if err != nil {
			return "", fmt.Errorf("failed to build snapshot: %w", err)
		}
		for _, rec := range records {
			doc, err = sjson.SetRaw(doc, cat+".-1", string(rec))
			if err != nil {
				return "", fmt.Errorf("failed to build snapshot: %w", err)
			}
		}
	}
	return doc, nil
}

// LastRun returns the durable last-run time of a maintenance task.
func (s *Store) LastRun(task string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw string
	err := s.db.QueryRow(`SELECT last_run FROM task_state WHERE name = ?`, task).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read last run of '%s': %w", task, err)
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		// Unparseable state reads as "never ran" rather than wedging the task.
		return time.Time{}, false, nil
	}
	return t, true, nil
}

// SetLastRun persists the last-run time of a task. last_run only advances:
// an earlier timestamp than the stored one is ignored.
func (s *Store) SetLastRun(task string, t time.Time) error {
	prev, ok, err := s.LastRun(task)
	if err != nil {
		return err
	}
	if ok && !t.After(prev) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		`INSERT INTO task_state(name, last_run) VALUES(?, ?)
		 ON CONFLICT(name) DO UPDATE SET last_run = excluded.last_run`,
		task, t.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to persist last run of '%s': %w", task, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
