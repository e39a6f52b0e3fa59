package trigger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is the timestamp format used for all stored datetime values.
const timeFormat = time.RFC3339

const schemaDDL = `CREATE TABLE IF NOT EXISTS triggers (
	id            TEXT PRIMARY KEY,
	agent_id      TEXT NOT NULL,
	payload       TEXT NOT NULL,
	start_at      TEXT NOT NULL,
	recurrence    TEXT NOT NULL DEFAULT '',
	timezone      TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	next_fire_at  TEXT NOT NULL,
	last_fired_at TEXT,
	failure_count INTEGER NOT NULL DEFAULT 0,
	last_error    TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
)`

var indexDDL = []string{
	`CREATE INDEX IF NOT EXISTS idx_triggers_status ON triggers(status)`,
	`CREATE INDEX IF NOT EXISTS idx_triggers_next_fire ON triggers(next_fire_at)`,
	`CREATE INDEX IF NOT EXISTS idx_triggers_agent ON triggers(agent_id)`,
}

// SQLiteStore persists triggers in a WAL-mode SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// OpenStore creates or opens the trigger database at dataDir/triggers/triggers.db.
func OpenStore(dataDir string) (*SQLiteStore, error) {
	dir := filepath.Join(dataDir, "triggers")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("trigger: create store dir: %w", err)
	}

	dbPath := filepath.Join(dir, "triggers.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("trigger: open sqlite: %w", err)
	}

	// WAL keeps reads cheap while the scheduler writes fire-state updates.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("trigger: set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("trigger: set busy timeout: %w", err)
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("trigger: create schema: %w", err)
	}
	for _, ddl := range indexDDL {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("trigger: create index: %w", err)
		}
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, t *Trigger) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO triggers
		 (id, agent_id, payload, start_at, recurrence, timezone, status,
		  next_fire_at, last_fired_at, failure_count, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AgentID, t.Payload,
		t.StartAt.UTC().Format(timeFormat),
		t.Recurrence.String(), t.Timezone, string(t.Status),
		t.NextFireAt.UTC().Format(timeFormat),
		formatNullableTime(t.LastFiredAt),
		t.FailureCount, t.LastError,
		t.CreatedAt.UTC().Format(timeFormat),
		t.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("trigger: create %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Trigger, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	t, err := scanTrigger(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("trigger: get %s: %w", id, err)
	}
	return t, nil
}

func (s *SQLiteStore) Update(ctx context.Context, t *Trigger) error {
	t.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE triggers SET
		 agent_id = ?, payload = ?, start_at = ?, recurrence = ?, timezone = ?,
		 status = ?, next_fire_at = ?, last_fired_at = ?, failure_count = ?,
		 last_error = ?, updated_at = ?
		 WHERE id = ?`,
		t.AgentID, t.Payload,
		t.StartAt.UTC().Format(timeFormat),
		t.Recurrence.String(), t.Timezone, string(t.Status),
		t.NextFireAt.UTC().Format(timeFormat),
		formatNullableTime(t.LastFiredAt),
		t.FailureCount, t.LastError,
		t.UpdatedAt.Format(timeFormat),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("trigger: update %s: %w", t.ID, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("trigger: update %s: not found", t.ID)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM triggers WHERE id = ?`, id); err != nil {
		return fmt.Errorf("trigger: delete %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ListActive(ctx context.Context) ([]*Trigger, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE status IN (?, ?) ORDER BY next_fire_at ASC`,
		string(StatusScheduled), string(StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("trigger: list active: %w", err)
	}
	defer rows.Close()
	return collectTriggers(rows)
}

func (s *SQLiteStore) ListByAgent(ctx context.Context, agentID string) ([]*Trigger, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE agent_id = ? ORDER BY created_at DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("trigger: list by agent %s: %w", agentID, err)
	}
	defer rows.Close()
	return collectTriggers(rows)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectColumns = `SELECT id, agent_id, payload, start_at, recurrence, timezone,
	status, next_fire_at, last_fired_at, failure_count, last_error, created_at, updated_at
	FROM triggers`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrigger(row rowScanner) (*Trigger, error) {
	var (
		t          Trigger
		startAt    string
		recurrence string
		status     string
		nextFire   string
		lastFired  sql.NullString
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(&t.ID, &t.AgentID, &t.Payload, &startAt, &recurrence, &t.Timezone,
		&status, &nextFire, &lastFired, &t.FailureCount, &t.LastError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.Status = Status(status)
	if t.StartAt, err = time.Parse(timeFormat, startAt); err != nil {
		return nil, fmt.Errorf("trigger: parse start_at: %w", err)
	}
	if t.NextFireAt, err = time.Parse(timeFormat, nextFire); err != nil {
		return nil, fmt.Errorf("trigger: parse next_fire_at: %w", err)
	}
	if lastFired.Valid && lastFired.String != "" {
		parsed, err := time.Parse(timeFormat, lastFired.String)
		if err != nil {
			return nil, fmt.Errorf("trigger: parse last_fired_at: %w", err)
		}
		t.LastFiredAt = &parsed
	}
	if t.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, fmt.Errorf("trigger: parse created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return nil, fmt.Errorf("trigger: parse updated_at: %w", err)
	}

	rule, err := ParseRecurrence(recurrence)
	if err != nil {
		return nil, err
	}
	t.Recurrence = rule

	return &t, nil
}

func collectTriggers(rows *sql.Rows) ([]*Trigger, error) {
	var out []*Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func formatNullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeFormat)
}
