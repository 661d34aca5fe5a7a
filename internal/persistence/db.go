// Package persistence provides SQLite-based storage for run history.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/goal-arbiter/internal/engine"
	"github.com/talgya/goal-arbiter/internal/goals"
)

// timeLayout is fixed-width so stored timestamps sort chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrRunNotFound is returned by LoadRun for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// DB wraps a SQLite connection for run persistence.
type DB struct {
	conn *sqlx.DB
}

// RunSummary is one row of the run history, without steps.
type RunSummary struct {
	ID         string    `db:"id" json:"id"`
	Session    string    `db:"session" json:"session"`
	Policy     string    `db:"policy" json:"policy"`
	Status     string    `db:"status" json:"status"`
	Error      string    `db:"error" json:"error,omitempty"`
	StepCount  int       `db:"step_count" json:"step_count"`
	StartedAt  time.Time `db:"-" json:"started_at"`
	FinishedAt time.Time `db:"-" json:"finished_at"`
}

type runRow struct {
	RunSummary
	StartedAtRaw  string `db:"started_at"`
	FinishedAtRaw string `db:"finished_at"`
	InitialJSON   string `db:"initial_json"`
	FinalJSON     string `db:"final_json"`
}

type stepRow struct {
	Number     uint64  `db:"number"`
	Goal       string  `db:"goal"`
	Insistence float64 `db:"insistence"`
	Action     string  `db:"action"`
	Utility    float64 `db:"utility"`
	BeforeJSON string  `db:"before_json"`
	AfterJSON  string  `db:"after_json"`
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		session TEXT NOT NULL,
		policy TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		step_count INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		initial_json TEXT NOT NULL,
		final_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS steps (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		number INTEGER NOT NULL,
		goal TEXT NOT NULL,
		insistence REAL NOT NULL,
		action TEXT NOT NULL,
		utility REAL NOT NULL,
		before_json TEXT NOT NULL,
		after_json TEXT NOT NULL,
		PRIMARY KEY (run_id, number)
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveRun writes a run and all of its steps (full replace for that run ID).
func (db *DB) SaveRun(run *engine.Run) error {
	initialJSON, err := json.Marshal(run.Initial)
	if err != nil {
		return fmt.Errorf("marshal initial: %w", err)
	}
	finalJSON, err := json.Marshal(run.Final)
	if err != nil {
		return fmt.Errorf("marshal final: %w", err)
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM runs WHERE id = ?", run.ID); err != nil {
		return err
	}

	_, err = tx.Exec(`INSERT INTO runs
		(id, session, policy, status, error, step_count, started_at, finished_at, initial_json, final_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Session, run.Policy, string(run.Status), run.Error, len(run.Steps),
		run.StartedAt.UTC().Format(timeLayout), run.FinishedAt.UTC().Format(timeLayout),
		string(initialJSON), string(finalJSON),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	stmt, err := tx.Preparex(`INSERT INTO steps
		(run_id, number, goal, insistence, action, utility, before_json, after_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, st := range run.Steps {
		beforeJSON, err := json.Marshal(st.Before)
		if err != nil {
			return fmt.Errorf("marshal step %d: %w", st.Number, err)
		}
		afterJSON, err := json.Marshal(st.After)
		if err != nil {
			return fmt.Errorf("marshal step %d: %w", st.Number, err)
		}

		_, err = stmt.Exec(
			run.ID, st.Number, st.Goal, st.Insistence, st.Action, st.Utility,
			string(beforeJSON), string(afterJSON),
		)
		if err != nil {
			return fmt.Errorf("insert step %d: %w", st.Number, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Debug("run saved", "run", run.ID, "steps", len(run.Steps))
	return nil
}

// LoadRun reads a run and its steps.
func (db *DB) LoadRun(id string) (*engine.Run, error) {
	var row runRow
	err := db.conn.Get(&row, "SELECT * FROM runs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}

	run := &engine.Run{
		ID:      row.ID,
		Session: row.Session,
		Policy:  row.Policy,
		Status:  engine.Status(row.Status),
		Error:   row.Error,
	}
	if run.StartedAt, err = time.Parse(timeLayout, row.StartedAtRaw); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if run.FinishedAt, err = time.Parse(timeLayout, row.FinishedAtRaw); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}
	if err := json.Unmarshal([]byte(row.InitialJSON), &run.Initial); err != nil {
		return nil, fmt.Errorf("parse initial: %w", err)
	}
	if err := json.Unmarshal([]byte(row.FinalJSON), &run.Final); err != nil {
		return nil, fmt.Errorf("parse final: %w", err)
	}

	var steps []stepRow
	err = db.conn.Select(&steps,
		`SELECT number, goal, insistence, action, utility, before_json, after_json
		 FROM steps WHERE run_id = ? ORDER BY number`, id)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}

	run.Steps = make([]engine.Step, 0, len(steps))
	for _, sr := range steps {
		st := engine.Step{
			Number:     sr.Number,
			Goal:       sr.Goal,
			Insistence: sr.Insistence,
			Action:     sr.Action,
			Utility:    sr.Utility,
			Before:     goals.Snapshot{},
			After:      goals.Snapshot{},
		}
		if err := json.Unmarshal([]byte(sr.BeforeJSON), &st.Before); err != nil {
			return nil, fmt.Errorf("parse step %d: %w", sr.Number, err)
		}
		if err := json.Unmarshal([]byte(sr.AfterJSON), &st.After); err != nil {
			return nil, fmt.Errorf("parse step %d: %w", sr.Number, err)
		}
		run.Steps = append(run.Steps, st)
	}

	return run, nil
}

// RecentRuns returns the most recent N runs, newest first.
func (db *DB) RecentRuns(limit int) ([]RunSummary, error) {
	var rows []runRow
	err := db.conn.Select(&rows,
		"SELECT * FROM runs ORDER BY started_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}

	out := make([]RunSummary, 0, len(rows))
	for _, r := range rows {
		s := r.RunSummary
		if s.StartedAt, err = time.Parse(timeLayout, r.StartedAtRaw); err != nil {
			return nil, fmt.Errorf("run %s: parse started_at: %w", r.ID, err)
		}
		if s.FinishedAt, err = time.Parse(timeLayout, r.FinishedAtRaw); err != nil {
			return nil, fmt.Errorf("run %s: parse finished_at: %w", r.ID, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value. An unset key yields "".
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM meta WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}
