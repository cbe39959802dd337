package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/content-collector/internal/collector"
	"github.com/JakeFAU/content-collector/internal/store"
)

const sourcesTable = "sources"

var sourceColumns = []string{
	"id", "task_id", "name", "url", "kind", "selected", "collection_status", "last_collection_error",
}

// SourceStore implements store.SourceRepository.
type SourceStore struct {
	db *DB
}

// NewSourceStore constructs a SourceStore on db.
func NewSourceStore(db *DB) *SourceStore {
	return &SourceStore{db: db}
}

// ListByTask returns the task's sources ordered by name.
func (s *SourceStore) ListByTask(ctx context.Context, taskID string) ([]collector.Source, error) {
	rows, err := queryBuilt(ctx, s.db.pool, psql.Select(sourceColumns...).
		From(sourcesTable).
		Where(sq.Eq{"task_id": taskID}).
		OrderBy("name", "id"))
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	out := []collector.Source{}
	for rows.Next() {
		var src collector.Source
		if err := rows.Scan(
			&src.ID,
			&src.TaskID,
			&src.Name,
			&src.URL,
			&src.Kind,
			&src.Selected,
			&src.Status,
			&src.LastError,
		); err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return out, nil
}

// ReplaceForTask swaps the task's sources in one transaction.
func (s *SourceStore) ReplaceForTask(ctx context.Context, taskID string, sources []collector.Source) error {
	return s.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := execBuilt(ctx, tx, psql.Delete(sourcesTable).Where(sq.Eq{"task_id": taskID})); err != nil {
			return fmt.Errorf("delete sources: %w", err)
		}
		if len(sources) == 0 {
			return nil
		}
		b := psql.Insert(sourcesTable).Columns(sourceColumns...)
		for _, src := range sources {
			status := src.Status
			if status == "" {
				status = collector.StatusUnknown
			}
			b = b.Values(src.ID, taskID, src.Name, src.URL, string(src.Kind), src.Selected, string(status), src.LastError)
		}
		if _, err := execBuilt(ctx, tx, b); err != nil {
			return fmt.Errorf("insert sources: %w", err)
		}
		return nil
	})
}

// SetSelected toggles one source of a task.
func (s *SourceStore) SetSelected(ctx context.Context, taskID, sourceID string, selected bool) error {
	tag, err := execBuilt(ctx, s.db.pool, psql.Update(sourcesTable).
		Set("selected", selected).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"task_id": taskID}).
		Where(sq.Eq{"id": sourceID}))
	if err != nil {
		return fmt.Errorf("select source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpdateStatus records the last collection verdict for sourceID.
func (s *SourceStore) UpdateStatus(
	ctx context.Context,
	sourceID string,
	status collector.CollectionStatus,
	errText *string,
) error {
	tag, err := execBuilt(ctx, s.db.pool, psql.Update(sourcesTable).
		Set("collection_status", string(status)).
		Set("last_collection_error", errText).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": sourceID}))
	if err != nil {
		return fmt.Errorf("update source status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
