package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/content-collector/internal/collector"
	"github.com/JakeFAU/content-collector/internal/store"
)

// ItemStore implements store.ItemRepository.
type ItemStore struct {
	mu    sync.RWMutex
	items map[string][]store.ItemRecord
	now   func() time.Time
}

// NewItemStore constructs an empty ItemStore.
func NewItemStore() *ItemStore {
	return &ItemStore{items: make(map[string][]store.ItemRecord), now: time.Now}
}

// DeleteByTask drops every item of the task.
func (s *ItemStore) DeleteByTask(_ context.Context, taskID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.items[taskID])
	delete(s.items, taskID)
	return int64(n), nil
}

// InsertBatch appends records atomically.
func (s *ItemStore) InsertBatch(_ context.Context, taskID string, records []store.ItemRecord) error {
	now := s.now().UTC()
	batch := make([]store.ItemRecord, len(records))
	for i, rec := range records {
		rec.TaskID = taskID
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		batch[i] = rec
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[taskID] = append(s.items[taskID], batch...)
	return nil
}

// ListByTask returns items newest publication first, undated last, then
// newest insert first.
func (s *ItemStore) ListByTask(_ context.Context, taskID string) ([]store.ItemRecord, error) {
	s.mu.RLock()
	out := append([]store.ItemRecord{}, s.items[taskID]...)
	s.mu.RUnlock()
	slices.SortStableFunc(out, compareItems)
	return out, nil
}

func compareItems(a, b store.ItemRecord) int {
	switch {
	case a.PublishedAt == nil && b.PublishedAt != nil:
		return 1
	case a.PublishedAt != nil && b.PublishedAt == nil:
		return -1
	case a.PublishedAt != nil && b.PublishedAt != nil && !a.PublishedAt.Equal(*b.PublishedAt):
		return b.PublishedAt.Compare(*a.PublishedAt)
	}
	return b.CreatedAt.Compare(a.CreatedAt)
}

// SourceStore implements store.SourceRepository.
type SourceStore struct {
	mu      sync.RWMutex
	sources map[string][]collector.Source
}

// NewSourceStore constructs an empty SourceStore.
func NewSourceStore() *SourceStore {
	return &SourceStore{sources: make(map[string][]collector.Source)}
}

// ListByTask returns the task's sources in insertion order.
func (s *SourceStore) ListByTask(_ context.Context, taskID string) ([]collector.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]collector.Source{}, s.sources[taskID]...), nil
}

// ReplaceForTask swaps the source list, resetting unknown statuses.
func (s *SourceStore) ReplaceForTask(_ context.Context, taskID string, sources []collector.Source) error {
	next := make([]collector.Source, len(sources))
	for i, src := range sources {
		src.TaskID = taskID
		if src.Status == "" {
			src.Status = collector.StatusUnknown
		}
		next[i] = src
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[taskID] = next
	return nil
}

// SetSelected toggles one source of a task.
func (s *SourceStore) SetSelected(_ context.Context, taskID, sourceID string, selected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.sources[taskID]
	for i := range list {
		if list[i].ID == sourceID {
			list[i].Selected = selected
			return nil
		}
	}
	return store.ErrNotFound
}

// UpdateStatus records the last verdict on every source with sourceID.
func (s *SourceStore) UpdateStatus(
	_ context.Context,
	sourceID string,
	status collector.CollectionStatus,
	errText *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for taskID, list := range s.sources {
		for i := range list {
			if list[i].ID != sourceID {
				continue
			}
			list[i].Status = status
			if errText != nil {
				msg := *errText
				list[i].LastError = &msg
			} else {
				list[i].LastError = nil
			}
			found = true
		}
		s.sources[taskID] = list
	}
	if !found {
		return store.ErrNotFound
	}
	return nil
}

// RunStore implements store.RunRepository.
type RunStore struct {
	mu      sync.RWMutex
	runs    map[uuid.UUID]store.Run
	sources map[uuid.UUID][]store.RunSource
}

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:    make(map[uuid.UUID]store.Run),
		sources: make(map[uuid.UUID][]store.RunSource),
	}
}

// StartRun inserts a running run, keeping an existing row untouched.
func (s *RunStore) StartRun(_ context.Context, runID uuid.UUID, taskID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; ok {
		return nil
	}
	s.runs[runID] = store.Run{ID: runID, TaskID: taskID, StartedAt: startedAt.UTC(), Status: store.RunRunning}
	return nil
}

// CompleteRun finalizes a run. Completing an unknown run creates it.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	itemCount int64,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		run = store.Run{ID: runID, StartedAt: finishedAt.UTC()}
	}
	finished := finishedAt.UTC()
	run.FinishedAt = &finished
	run.Status = status
	run.ItemCount = itemCount
	run.ErrorMessage = errMsg
	s.runs[runID] = run
	return nil
}

// RecordSource upserts by (run, source).
func (s *RunStore) RecordSource(_ context.Context, row store.RunSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.sources[row.RunID]
	for i := range rows {
		if rows[i].SourceID == row.SourceID {
			rows[i] = row
			return nil
		}
	}
	s.sources[row.RunID] = append(rows, row)
	return nil
}

// GetRun returns one run or store.ErrNotFound.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	out := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b store.Run) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID.String(), a.ID.String())
	})
	return page(out, limit, offset), nil
}

// ListRunSources returns a run's source rows in recording order.
func (s *RunStore) ListRunSources(_ context.Context, runID uuid.UUID, limit, offset int) ([]store.RunSource, error) {
	s.mu.RLock()
	out := slices.Clone(s.sources[runID])
	s.mu.RUnlock()
	return page(out, limit, offset), nil
}

func page[T any](rows []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return []T{}
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
