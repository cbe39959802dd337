package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/content-collector/internal/collector"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// OriginDatasource marks items produced by the collector, as opposed to items
// a user added by hand.
const OriginDatasource = "datasource"

// ItemRecord is one persisted collected item.
type ItemRecord struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	SourceID    *string    `json:"source_id,omitempty"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	Summary     string     `json:"summary"`
	URL         string     `json:"url"`
	ImageURL    string     `json:"image_url,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Origin      string     `json:"origin"`
	Selected    bool       `json:"selected"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ItemRepository persists the items collected for a task.
type ItemRepository interface {
	// DeleteByTask removes every item of the task and returns how many went.
	DeleteByTask(ctx context.Context, taskID string) (int64, error)
	// InsertBatch writes all records in a single transaction.
	InsertBatch(ctx context.Context, taskID string, records []ItemRecord) error
	// ListByTask returns the task's items, newest publication first with
	// undated items last, then newest insert first.
	ListByTask(ctx context.Context, taskID string) ([]ItemRecord, error)
}

// SourceRepository persists the sources configured for a task.
type SourceRepository interface {
	ListByTask(ctx context.Context, taskID string) ([]collector.Source, error)
	// ReplaceForTask swaps the task's source list for sources.
	ReplaceForTask(ctx context.Context, taskID string, sources []collector.Source) error
	// SetSelected toggles one source, returning ErrNotFound for unknown ids.
	SetSelected(ctx context.Context, taskID, sourceID string, selected bool) error
	// UpdateStatus records the last collection verdict for a source.
	UpdateStatus(ctx context.Context, sourceID string, status collector.CollectionStatus, errText *string) error
}

// RunStatus mirrors the collection_runs status column.
type RunStatus string

// Run statuses persisted in collection_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run models one row of collection_runs.
type Run struct {
	ID           uuid.UUID  `json:"id"`
	TaskID       string     `json:"task_id"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       RunStatus  `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	ItemCount    int64      `json:"item_count"`
}

// RunSource models one row of run_sources.
type RunSource struct {
	RunID        uuid.UUID `json:"run_id"`
	SourceID     string    `json:"source_id"`
	SourceName   string    `json:"source_name"`
	Site         string    `json:"site"`
	Status       string    `json:"status"`
	Items        int64     `json:"items"`
	DurationMS   int64     `json:"duration_ms"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	FinishedAt   time.Time `json:"finished_at"`
}

// RunRepository records run history for operators.
type RunRepository interface {
	// StartRun inserts (or idempotently updates) a running run.
	StartRun(ctx context.Context, runID uuid.UUID, taskID string, startedAt time.Time) error
	// CompleteRun marks the run finished.
	CompleteRun(
		ctx context.Context,
		runID uuid.UUID,
		finishedAt time.Time,
		status RunStatus,
		itemCount int64,
		errMsg *string,
	) error
	// RecordSource upserts the per-source row of a run.
	RecordSource(ctx context.Context, row RunSource) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status plus limit/offset.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListRunSources returns the per-source rows of one run.
	ListRunSources(ctx context.Context, runID uuid.UUID, limit, offset int) ([]RunSource, error)
}

// Pinger is implemented by repositories that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}
