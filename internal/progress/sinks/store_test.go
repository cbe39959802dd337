package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/content-collector/internal/progress"
	"github.com/JakeFAU/content-collector/internal/store"
)

func TestStoreSinkPersistsRunHistory(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)
	now := time.Now()

	batch := []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: now, TaskID: "task-1"},
		{RunID: runID, Stage: progress.StageSourceStart, TS: now, SourceID: "a"},
		{
			RunID:      runID,
			Stage:      progress.StageSourceDone,
			TS:         now.Add(time.Second),
			SourceID:   "a",
			SourceName: "Blog A",
			Site:       "a.example.com",
			Status:     "failed",
			Dur:        1500 * time.Millisecond,
			Note:       "source timed out",
		},
		{RunID: runID, Stage: progress.StageRunDone, TS: now.Add(2 * time.Second), Items: 7},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []string{"task-1"}, repo.starts)
	require.Len(t, repo.sources, 1)
	row := repo.sources[0]
	require.Equal(t, runUUID, row.RunID)
	require.Equal(t, "Blog A", row.SourceName)
	require.EqualValues(t, 1500, row.DurationMS)
	require.NotNil(t, row.ErrorMessage)
	require.Equal(t, "source timed out", *row.ErrorMessage)

	require.Len(t, repo.completes, 1)
	require.Equal(t, store.RunSuccess, repo.completes[0].status)
	require.EqualValues(t, 7, repo.completes[0].items)
	require.Nil(t, repo.completes[0].errMsg)
}

func TestStoreSinkRecordsRunErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: progress.UUIDToBytes(uuid.New()), Stage: progress.StageRunError, TS: time.Now(), Note: "insert failed"},
	})
	require.NoError(t, err)
	require.Len(t, repo.completes, 1)
	require.Equal(t, store.RunError, repo.completes[0].status)
	require.Equal(t, "insert failed", *repo.completes[0].errMsg)
}

func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: progress.UUIDToBytes(uuid.New()), Stage: progress.StageRunStart, TS: time.Now()},
	})
	require.ErrorContains(t, err, "start run")

	var nilSink *StoreSink
	require.NoError(t, nilSink.Consume(context.Background(), nil))
}

type completeCall struct {
	runID  uuid.UUID
	status store.RunStatus
	items  int64
	errMsg *string
}

type fakeRunRepo struct {
	fail      bool
	starts    []string
	completes []completeCall
	sources   []store.RunSource
}

var errRepo = errors.New("repo down")

func (f *fakeRunRepo) StartRun(_ context.Context, _ uuid.UUID, taskID string, _ time.Time) error {
	if f.fail {
		return errRepo
	}
	f.starts = append(f.starts, taskID)
	return nil
}

func (f *fakeRunRepo) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	_ time.Time,
	status store.RunStatus,
	itemCount int64,
	errMsg *string,
) error {
	if f.fail {
		return errRepo
	}
	f.completes = append(f.completes, completeCall{runID: runID, status: status, items: itemCount, errMsg: errMsg})
	return nil
}

func (f *fakeRunRepo) RecordSource(_ context.Context, row store.RunSource) error {
	if f.fail {
		return errRepo
	}
	f.sources = append(f.sources, row)
	return nil
}

func (f *fakeRunRepo) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, store.ErrNotFound
}

func (f *fakeRunRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return nil, nil
}

func (f *fakeRunRepo) ListRunSources(context.Context, uuid.UUID, int, int) ([]store.RunSource, error) {
	return nil, nil
}
