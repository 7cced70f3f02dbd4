package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/example/rul-predictor/client-go/internal/model"
)

type SQLite struct {
	db *sql.DB
}

const runColumns = `id, created_at, updated_at, filepath, job_id, phase, attempts, result_key, error_message`

func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  filepath TEXT NOT NULL,
  job_id TEXT,
  phase TEXT NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  result_key TEXT,
  error_message TEXT
);
CREATE INDEX IF NOT EXISTS runs_updated_at ON runs (updated_at);
`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) CreateRun(ctx context.Context, run model.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, updated_at, filepath, job_id, phase, attempts)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.CreatedAt.UnixMilli(),
		run.UpdatedAt.UnixMilli(),
		run.Filepath,
		nullIfEmpty(string(run.JobID)),
		string(run.Phase),
		run.Attempts,
	)
	return err
}

func (s *SQLite) GetRun(ctx context.Context, id string) (model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Run{}, model.ErrNotFound
	}
	return run, err
}

// ListRuns returns the most recently updated runs, optionally filtered by phase.
func (s *SQLite) ListRuns(ctx context.Context, phase *model.Phase, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 25
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	args := []any{}
	if phase != nil {
		query += " WHERE phase = ?"
		args = append(args, string(*phase))
	}
	query += " ORDER BY updated_at DESC, created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *SQLite) UpdateRun(ctx context.Context, id string, patch model.RunPatch) error {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs
         SET updated_at = ?,
             job_id = COALESCE(?, job_id),
             phase = COALESCE(?, phase),
             attempts = COALESCE(?, attempts),
             result_key = COALESCE(?, result_key),
             error_message = COALESCE(?, error_message)
         WHERE id = ?`,
		now,
		nullableString(patch.JobID),
		nullableString(patch.Phase),
		nullableInt(patch.Attempts),
		nullableString(patch.ResultKey),
		nullableString(patch.Error),
		id,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return model.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (model.Run, error) {
	var (
		id, fp, phase        string
		createdMs, updatedMs int64
		attempts             int
		jobID                sql.NullString
		resultKey            sql.NullString
		errorMsg             sql.NullString
	)
	if err := row.Scan(&id, &createdMs, &updatedMs, &fp, &jobID, &phase, &attempts, &resultKey, &errorMsg); err != nil {
		return model.Run{}, err
	}
	run := model.Run{
		ID:        id,
		CreatedAt: time.UnixMilli(createdMs),
		UpdatedAt: time.UnixMilli(updatedMs),
		Filepath:  fp,
		Phase:     model.Phase(phase),
		Attempts:  attempts,
	}
	if jobID.Valid {
		run.JobID = model.JobID(jobID.String)
	}
	if resultKey.Valid {
		run.ResultKey = resultKey.String
	}
	if errorMsg.Valid {
		run.Error = errorMsg.String
	}
	return run, nil
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
