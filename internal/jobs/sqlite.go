package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
	CREATE TABLE IF NOT EXISTS jobs (
		id          TEXT PRIMARY KEY,
		status      TEXT NOT NULL,
		created_at  INTEGER NOT NULL,
		finished_at INTEGER,
		body        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS jobs_created_at ON jobs (created_at DESC);
`

// SQLiteStore implements Store on a SQLite database so job history
// survives restarts.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the job database at path.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open job database: %w", err)
	}

	// A single writer avoids SQLITE_BUSY between the worker and API handlers.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize job database: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Create saves a new job.
func (s *SQLiteStore) Create(ctx context.Context, job *Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, status, created_at, finished_at, body) VALUES (?, ?, ?, ?, ?)`,
		job.ID, string(job.Status), job.CreatedAt.UnixNano(), unixOrNull(job.FinishedAt), string(body))
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// Get returns a job by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM jobs WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	return decodeJob(body)
}

// Update replaces a stored job.
func (s *SQLiteStore) Update(ctx context.Context, job *Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, finished_at = ?, body = ? WHERE id = ?`,
		string(job.Status), unixOrNull(job.FinishedAt), string(body), job.ID)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// List returns jobs newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*Job, error) {
	query := `SELECT body FROM jobs ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var list []*Job
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		job, err := decodeJob(body)
		if err != nil {
			return nil, err
		}
		list = append(list, job)
	}
	return list, rows.Err()
}

// Prune deletes finished jobs older than the cutoff.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE finished_at IS NOT NULL AND finished_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune jobs: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func decodeJob(body string) (*Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}

func unixOrNull(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
