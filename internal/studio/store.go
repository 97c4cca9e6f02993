package studio

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mark3labs/reelsmith/internal/tracker"
)

var (
	// ErrNotFound is returned when a job id has no row.
	ErrNotFound = errors.New("job not found")
	// ErrSettled is returned by UpdateActiveJob when the job already reached
	// a terminal status.
	ErrSettled = errors.New("job already settled")
)

// Job is a generation job row.
//
// Brief holds the production brief JSON exactly as submitted.
type Job struct {
	ID        string         `json:"id"`
	TargetID  string         `json:"targetId"`
	Kind      string         `json:"kind"`
	Title     string         `json:"title"`
	Slug      string         `json:"slug"`
	Brief     string         `json:"brief,omitempty"`
	Status    tracker.Status `json:"status"`
	Progress  float64        `json:"progress"`
	Completed int            `json:"completed"`
	Total     int            `json:"total"`
	ResultURL string         `json:"resultUrl,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// JobPatch is used for partial updates; nil fields are left alone.
type JobPatch struct {
	Status    *tracker.Status
	Progress  *float64
	Completed *int
	ResultURL *string
	Error     *string
}

// Store keeps job rows in SQLite.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  target_id TEXT NOT NULL,
  kind TEXT NOT NULL DEFAULT '',
  title TEXT NOT NULL DEFAULT '',
  slug TEXT NOT NULL DEFAULT '',
  brief TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  progress REAL NOT NULL DEFAULT 0,
  completed INTEGER NOT NULL DEFAULT 0,
  total INTEGER NOT NULL DEFAULT 0,
  result_url TEXT,
  error_message TEXT,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status, created_at);
`

// Open opens (or creates) the job database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening job store: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and ":memory:"
	// databases are per-connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating job schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, target_id, kind, title, slug, brief, status, progress, completed, total, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.TargetID,
		job.Kind,
		job.Title,
		job.Slug,
		job.Brief,
		string(job.Status),
		job.Progress,
		job.Completed,
		job.Total,
		job.CreatedAt.UnixMilli(),
		job.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting job %s: %w", job.ID, err)
	}
	return nil
}

const selectColumns = `SELECT id, target_id, kind, title, slug, brief, status, progress, completed, total,
       result_url, error_message, created_at, updated_at FROM jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var (
		job                  Job
		status               string
		resultURL, errorMsg  sql.NullString
		createdMs, updatedMs int64
	)
	if err := row.Scan(&job.ID, &job.TargetID, &job.Kind, &job.Title, &job.Slug, &job.Brief,
		&status, &job.Progress, &job.Completed, &job.Total,
		&resultURL, &errorMsg, &createdMs, &updatedMs); err != nil {
		return Job{}, err
	}
	job.Status = tracker.Status(status)
	job.ResultURL = resultURL.String
	job.Error = errorMsg.String
	job.CreatedAt = time.UnixMilli(createdMs).UTC()
	job.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return job, nil
}

// GetJob loads one job.
func (s *Store) GetJob(ctx context.Context, id string) (Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return job, err
}

// ListJobs returns jobs newest-updated first, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, status *tracker.Status, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 25
	}

	query := selectColumns
	args := []any{}
	if status != nil {
		query += " WHERE status = ?"
		args = append(args, string(*status))
	}
	query += " ORDER BY updated_at DESC, created_at DESC LIMIT ?"
	args = append(args, limit)

	return s.query(ctx, query, args...)
}

// ListActive returns queued and processing jobs, oldest first.
func (s *Store) ListActive(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.query(ctx, selectColumns+` WHERE status IN (?, ?) ORDER BY created_at ASC LIMIT ?`,
		string(tracker.StatusQueued), string(tracker.StatusProcessing), limit)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// UpdateJob applies patch to job id.
func (s *Store) UpdateJob(ctx context.Context, id string, patch JobPatch) error {
	n, err := s.update(ctx, id, patch, "")
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateActiveJob applies patch only while job id is queued or processing,
// so concurrent writers cannot move a settled job.
func (s *Store) UpdateActiveJob(ctx context.Context, id string, patch JobPatch) error {
	n, err := s.update(ctx, id, patch, ` AND status IN ('queued', 'processing')`)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetJob(ctx, id); err != nil {
		return err
	}
	return ErrSettled
}

func (s *Store) update(ctx context.Context, id string, patch JobPatch, cond string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs
         SET updated_at = ?,
             status = COALESCE(?, status),
             progress = COALESCE(?, progress),
             completed = COALESCE(?, completed),
             result_url = COALESCE(?, result_url),
             error_message = COALESCE(?, error_message)
         WHERE id = ?`+cond,
		time.Now().UnixMilli(),
		statusArg(patch.Status),
		nullable(patch.Progress),
		nullable(patch.Completed),
		nullable(patch.ResultURL),
		nullable(patch.Error),
		id,
	)
	if err != nil {
		return 0, fmt.Errorf("updating job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("updating job %s: %w", id, err)
	}
	return n, nil
}

func statusArg(s *tracker.Status) any {
	if s == nil {
		return nil
	}
	return string(*s)
}

func nullable[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}
