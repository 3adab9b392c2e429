// Package sqlite provides a SQLite implementation of the run store.
//
// It uses the pure Go modernc.org/sqlite driver, so no cgo is needed.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/goclaw/pumpcycle/pkg/storage"
)

// SQLiteStorage implements storage.RunStore on SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ storage.RunStore = (*SQLiteStorage)(nil)

// Open opens the database at path and prepares the schema. Use ":memory:"
// for a private in-memory database.
func Open(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &storage.StorageUnavailableError{Cause: err}
	}
	// Writers are serialized; an in-memory database also needs the single
	// connection to stay the same database.
	db.SetMaxOpenConns(1)
	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New prepares the schema in an existing database.
func New(db *sql.DB) (*SQLiteStorage, error) {
	s := &SQLiteStorage{db: db}
	if err := s.initSchema(); err != nil {
		return nil, &storage.StorageUnavailableError{Cause: err}
	}
	return s, nil
}

func (s *SQLiteStorage) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			line TEXT NOT NULL,
			outcome TEXT NOT NULL,
			last_stage TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			emergency_stop INTEGER NOT NULL DEFAULT 0,
			started_at INTEGER NOT NULL,
			ended_at INTEGER NOT NULL,
			stages BLOB,
			config BLOB
		);
		CREATE INDEX IF NOT EXISTS runs_outcome ON runs (outcome);
		CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at);`,
	)
	return err
}

// SaveRun inserts or replaces a run.
func (s *SQLiteStorage) SaveRun(ctx context.Context, run *storage.RunRecord) error {
	if err := run.Validate(); err != nil {
		return err
	}

	stages, err := json.Marshal(run.Stages)
	if err != nil {
		return &storage.SerializationError{Operation: "marshal", Cause: err}
	}
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return &storage.SerializationError{Operation: "marshal", Cause: err}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, line, outcome, last_stage, error, emergency_stop, started_at, ended_at, stages, config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			line = excluded.line,
			outcome = excluded.outcome,
			last_stage = excluded.last_stage,
			error = excluded.error,
			emergency_stop = excluded.emergency_stop,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			stages = excluded.stages,
			config = excluded.config`,
		run.ID,
		run.Line,
		run.Outcome,
		run.LastStage,
		run.Error,
		run.EmergencyStop,
		toUnixNano(run.StartedAt),
		toUnixNano(run.EndedAt),
		stages,
		cfg,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

const selectColumns = `SELECT id, line, outcome, last_stage, error, emergency_stop, started_at, ended_at, stages, config FROM runs`

// GetRun retrieves a run by ID.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*storage.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &storage.NotFoundError{EntityType: "run", ID: id}
		}
		return nil, err
	}
	return run, nil
}

// ListRuns lists runs newest first with optional filtering and pagination.
func (s *SQLiteStorage) ListRuns(ctx context.Context, filter *storage.RunFilter) ([]*storage.RunRecord, int, error) {
	var (
		where []string
		args  []any
	)
	if filter != nil {
		if len(filter.Outcome) > 0 {
			placeholders := make([]string, len(filter.Outcome))
			for i, o := range filter.Outcome {
				placeholders[i] = "?"
				args = append(args, o)
			}
			where = append(where, "outcome IN ("+strings.Join(placeholders, ", ")+")")
		}
		if filter.Line != "" {
			where = append(where, "line = ?")
			args = append(args, filter.Line)
		}
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	query := selectColumns + clause + ` ORDER BY started_at DESC, id DESC`
	if filter != nil && (filter.Limit > 0 || filter.Offset > 0) {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, max(filter.Offset, 0))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*storage.RunRecord, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*storage.RunRecord, error) {
	var (
		run            storage.RunRecord
		started, ended int64
		stages, cfg    []byte
	)
	if err := sc.Scan(
		&run.ID,
		&run.Line,
		&run.Outcome,
		&run.LastStage,
		&run.Error,
		&run.EmergencyStop,
		&started,
		&ended,
		&stages,
		&cfg,
	); err != nil {
		return nil, err
	}

	run.StartedAt = fromUnixNano(started)
	run.EndedAt = fromUnixNano(ended)
	if len(stages) > 0 {
		if err := json.Unmarshal(stages, &run.Stages); err != nil {
			return nil, &storage.SerializationError{Operation: "unmarshal", Cause: err}
		}
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &run.Config); err != nil {
			return nil, &storage.SerializationError{Operation: "unmarshal", Cause: err}
		}
	}
	return &run, nil
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
