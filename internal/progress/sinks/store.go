package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/content-collector/internal/progress"
	"github.com/JakeFAU/content-collector/internal/store"
)

// StoreSink persists run history through a store.RunRepository.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies the batch in order and stops at the first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.apply(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) apply(ctx context.Context, evt progress.Event) error {
	runID := evt.RunUUID()
	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.repo.StartRun(ctx, runID, evt.TaskID, evt.TS); err != nil {
			return fmt.Errorf("start run: %w", err)
		}
	case progress.StageRunDone:
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunSuccess, evt.Items, nil); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case progress.StageRunError:
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunError, evt.Items, notePtr(evt.Note)); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case progress.StageSourceDone:
		row := store.RunSource{
			RunID:        runID,
			SourceID:     evt.SourceID,
			SourceName:   evt.SourceName,
			Site:         evt.Site,
			Status:       evt.Status,
			Items:        evt.Items,
			DurationMS:   evt.Dur.Milliseconds(),
			ErrorMessage: notePtr(evt.Note),
			FinishedAt:   evt.TS,
		}
		if err := s.repo.RecordSource(ctx, row); err != nil {
			return fmt.Errorf("record run source: %w", err)
		}
	}
	return nil
}

func notePtr(note string) *string {
	if note == "" {
		return nil
	}
	return &note
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
