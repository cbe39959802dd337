package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/content-collector/internal/store"
)

const itemsTable = "collected_items"

// insertChunk keeps each multi-row insert under the bind parameter limit.
const insertChunk = 500

var itemColumns = []string{
	"id", "task_id", "source_id", "title", "body", "summary", "url",
	"image_url", "published_at", "origin", "selected", "created_at",
}

// ItemStore implements store.ItemRepository.
type ItemStore struct {
	db *DB
}

// NewItemStore constructs an ItemStore on db.
func NewItemStore(db *DB) *ItemStore {
	return &ItemStore{db: db}
}

// DeleteByTask removes the task's items.
func (s *ItemStore) DeleteByTask(ctx context.Context, taskID string) (int64, error) {
	tag, err := execBuilt(ctx, s.db.pool, psql.Delete(itemsTable).Where(sq.Eq{"task_id": taskID}))
	if err != nil {
		return 0, fmt.Errorf("delete items: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertBatch writes records in one transaction.
func (s *ItemStore) InsertBatch(ctx context.Context, taskID string, records []store.ItemRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.db.inTx(ctx, func(tx pgx.Tx) error {
		for start := 0; start < len(records); start += insertChunk {
			end := min(start+insertChunk, len(records))
			b := psql.Insert(itemsTable).Columns(itemColumns...)
			for _, rec := range records[start:end] {
				b = b.Values(
					rec.ID, taskID, rec.SourceID, rec.Title, rec.Body, rec.Summary, rec.URL,
					rec.ImageURL, rec.PublishedAt, originOrDefault(rec.Origin), rec.Selected, rec.CreatedAt.UTC(),
				)
			}
			if _, err := execBuilt(ctx, tx, b); err != nil {
				return fmt.Errorf("insert items: %w", err)
			}
		}
		return nil
	})
}

// ListByTask returns the task's items newest publication first, undated
// last, then newest insert first.
func (s *ItemStore) ListByTask(ctx context.Context, taskID string) ([]store.ItemRecord, error) {
	rows, err := queryBuilt(ctx, s.db.pool, psql.Select(itemColumns...).
		From(itemsTable).
		Where(sq.Eq{"task_id": taskID}).
		OrderBy("published_at DESC NULLS LAST", "created_at DESC"))
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	out := []store.ItemRecord{}
	for rows.Next() {
		var rec store.ItemRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.TaskID,
			&rec.SourceID,
			&rec.Title,
			&rec.Body,
			&rec.Summary,
			&rec.URL,
			&rec.ImageURL,
			&rec.PublishedAt,
			&rec.Origin,
			&rec.Selected,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan item row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return out, nil
}

func originOrDefault(origin string) string {
	if origin == "" {
		return store.OriginDatasource
	}
	return origin
}
