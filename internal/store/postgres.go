// Package store archives finished batch runs to Postgres so run history
// outlives the per-date health logs.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"auction-batch/internal/models"
)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// RunRow is one archived run as listed by RecentRuns.
type RunRow struct {
	RunID     string    `json:"run_id"`
	RunDate   string    `json:"run_date"`
	DataDate  string    `json:"data_date"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Unhealthy int       `json:"unhealthy"`
	CreatedAt time.Time `json:"created_at"`
}

// Archive writes the summary, its task outcomes and its health records in a
// single transaction. Health should hold only the checks made by this run. A
// summary without a parseable run id gets a fresh one, which is returned.
func (s *Store) Archive(ctx context.Context, sum models.RunSummary) (string, error) {
	runID, err := archiveID(sum.RunID)
	if err != nil {
		return "", err
	}
	runDate, err := models.ParseDate(sum.RunDate)
	if err != nil {
		return "", fmt.Errorf("archive run: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // no-op after commit

	_, err = tx.Exec(ctx, `
		INSERT INTO batch_runs (run_id, run_date, data_date, succeeded, failed, unhealthy, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, runID, runDate, models.DataDate(runDate), len(sum.Succeeded), len(sum.Failed), len(sum.UnhealthyRecords()))
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	batch := &pgx.Batch{}
	for _, o := range sum.Outcomes {
		batch.Queue(`
			INSERT INTO task_outcomes (run_id, task, status, attempts, log_path, last_error, started_at, finished_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, runID, o.Task, o.Status, o.Attempts, o.LogPath, nullText(o.LastError), o.StartedAt, o.FinishedAt)
	}
	for _, h := range sum.Health {
		rd, err := models.ParseDate(h.RunDate)
		if err != nil {
			return "", fmt.Errorf("health record %s: %w", h.Service, err)
		}
		dd, err := models.ParseDate(h.DataDate)
		if err != nil {
			return "", fmt.Errorf("health record %s: %w", h.Service, err)
		}
		batch.Queue(`
			INSERT INTO health_records (run_id, service, run_date, data_date, status, bytes, location, note, checked_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, runID, h.Service, rd, dd, h.Status, h.Bytes, h.Location, nullText(h.Note), h.CheckedAt)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return "", fmt.Errorf("insert run details: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return runID, nil
}

// RecentRuns lists archived runs, newest run date first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 14
	}
	rows, err := s.pool.Query(ctx, `
		SELECT run_id::text, run_date, data_date, succeeded, failed, unhealthy, created_at
		FROM batch_runs ORDER BY run_date DESC, created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		var runDate, dataDate time.Time
		if err := rows.Scan(&r.RunID, &runDate, &dataDate, &r.Succeeded, &r.Failed, &r.Unhealthy, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.RunDate = models.FormatDate(runDate)
		r.DataDate = models.FormatDate(dataDate)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func archiveID(runID string) (string, error) {
	if runID == "" {
		return uuid.NewString(), nil
	}
	id, err := uuid.Parse(runID)
	if err != nil {
		return "", fmt.Errorf("run id %q is not a uuid: %w", runID, err)
	}
	return id.String(), nil
}

func nullText(v string) pgtype.Text {
	return pgtype.Text{String: v, Valid: v != ""}
}
