package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/content-collector/internal/store"
)

const (
	runsTable       = "collection_runs"
	runSourcesTable = "run_sources"
)

var (
	runColumns = []string{
		"id", "task_id", "started_at", "finished_at", "status", "error_message", "item_count",
	}
	runSourceColumns = []string{
		"run_id", "source_id", "source_name", "site", "status", "items", "duration_ms",
		"error_message", "finished_at",
	}
)

// RunStore implements store.RunRepository.
type RunStore struct {
	db *DB
}

// NewRunStore constructs a RunStore on db.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// StartRun inserts a running run; an existing row is left alone.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, taskID string, startedAt time.Time) error {
	_, err := execBuilt(ctx, s.db.pool, psql.Insert(runsTable).
		Columns("id", "task_id", "started_at", "status").
		Values(runID, taskID, startedAt.UTC(), string(store.RunRunning)).
		Suffix("ON CONFLICT (id) DO NOTHING"))
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// CompleteRun finalizes a run, creating it when the start was never
// recorded.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	itemCount int64,
	errMsg *string,
) error {
	finished := finishedAt.UTC()
	_, err := execBuilt(ctx, s.db.pool, psql.Insert(runsTable).
		Columns("id", "started_at", "finished_at", "status", "error_message", "item_count").
		Values(runID, finished, finished, string(status), errMsg, itemCount).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			item_count = EXCLUDED.item_count`))
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// RecordSource upserts the per-source row of a run.
func (s *RunStore) RecordSource(ctx context.Context, row store.RunSource) error {
	_, err := execBuilt(ctx, s.db.pool, psql.Insert(runSourcesTable).
		Columns(runSourceColumns...).
		Values(row.RunID, row.SourceID, row.SourceName, row.Site, row.Status, row.Items, row.DurationMS,
			row.ErrorMessage, row.FinishedAt.UTC()).
		Suffix(`ON CONFLICT (run_id, source_id) DO UPDATE SET
			source_name = EXCLUDED.source_name,
			site = EXCLUDED.site,
			status = EXCLUDED.status,
			items = EXCLUDED.items,
			duration_ms = EXCLUDED.duration_ms,
			error_message = EXCLUDED.error_message,
			finished_at = EXCLUDED.finished_at`))
	if err != nil {
		return fmt.Errorf("record run source: %w", err)
	}
	return nil
}

// GetRun loads one run.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query, args, err := psql.Select(runColumns...).From(runsTable).Where(sq.Eq{"id": runID}).ToSql()
	if err != nil {
		return store.Run{}, fmt.Errorf("build query: %w", err)
	}
	run, err := scanRun(s.db.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by status.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	b := psql.Select(runColumns...).From(runsTable).OrderBy("started_at DESC", "id DESC")
	if status != nil {
		b = b.Where(sq.Eq{"status": string(*status)})
	}
	rows, err := queryBuilt(ctx, s.db.pool, paged(b, limit, offset))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// ListRunSources returns a run's source rows, most recent first.
func (s *RunStore) ListRunSources(ctx context.Context, runID uuid.UUID, limit, offset int) ([]store.RunSource, error) {
	b := psql.Select(runSourceColumns...).
		From(runSourcesTable).
		Where(sq.Eq{"run_id": runID}).
		OrderBy("finished_at DESC", "source_id")
	rows, err := queryBuilt(ctx, s.db.pool, paged(b, limit, offset))
	if err != nil {
		return nil, fmt.Errorf("list run sources: %w", err)
	}
	defer rows.Close()

	out := []store.RunSource{}
	for rows.Next() {
		var row store.RunSource
		if err := rows.Scan(
			&row.RunID,
			&row.SourceID,
			&row.SourceName,
			&row.Site,
			&row.Status,
			&row.Items,
			&row.DurationMS,
			&row.ErrorMessage,
			&row.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run source row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list run sources: %w", err)
	}
	return out, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var run store.Run
	err := row.Scan(
		&run.ID,
		&run.TaskID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
		&run.ItemCount,
	)
	return run, err
}
