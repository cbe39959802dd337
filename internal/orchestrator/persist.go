package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/content-collector/internal/archive"
	"github.com/JakeFAU/content-collector/internal/collector"
	"github.com/JakeFAU/content-collector/internal/publisher"
	"github.com/JakeFAU/content-collector/internal/store"
)

// records converts the surviving items into rows for InsertBatch.
func (r *run) records() ([]store.ItemRecord, error) {
	now := r.o.clock.Now().UTC()
	out := make([]store.ItemRecord, 0, len(r.state.items))
	for _, item := range r.state.items {
		id, err := r.o.ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("item id: %w", err)
		}
		rec := store.ItemRecord{
			ID:          id,
			TaskID:      r.req.TaskID,
			Title:       item.Title,
			Body:        item.Body,
			Summary:     item.Summary,
			URL:         item.URL,
			ImageURL:    item.ImageURL,
			PublishedAt: item.PublishedAt,
			Origin:      store.OriginDatasource,
			Selected:    true,
			CreatedAt:   now,
		}
		if item.SourceID != "" {
			sourceID := item.SourceID
			rec.SourceID = &sourceID
		}
		out = append(out, rec)
	}
	return out, nil
}

// writeStatuses records the verdict of every folded outcome, once per run.
// After cancellation or a terminal failure the writes detach from the run
// context and get a short budget of their own.
func (r *run) writeStatuses(detached bool) {
	if r.statusWritten || r.o.sources == nil || r.state == nil {
		return
	}
	r.statusWritten = true

	ctx := r.ctx
	if detached {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(r.ctx), r.o.cfg.StatusWriteTimeout)
		defer cancel()
	}
	for _, out := range r.state.outcomes {
		err := r.o.sources.UpdateStatus(ctx, out.Source.ID, out.Status, out.ErrorText())
		if err != nil {
			r.logger.Warn("source status update failed",
				zap.String("source_id", out.Source.ID),
				zap.String("status", string(out.Status)),
				zap.Error(err))
		}
	}
}

// afterPersist runs the optional archive and notification hooks. Their
// failures never fail the run.
func (r *run) afterPersist(res *Result) {
	finished := r.o.clock.Now().UTC()
	if r.o.archiver != nil {
		ref, err := r.o.archiver.Write(r.ctx, archive.Snapshot{
			TaskID:     r.req.TaskID,
			RunID:      r.runUUID.String(),
			StartedAt:  r.start.UTC(),
			FinishedAt: finished,
			Sources:    sourceResults(r.state.outcomes),
			Items:      res.Items,
		})
		if err != nil {
			r.logger.Warn("run archive failed", zap.Error(err))
		} else {
			res.ArchiveURI, res.Checksum = ref.URI, ref.SHA256
		}
	}
	if r.o.publisher != nil {
		id, err := r.o.publisher.Publish(r.ctx, publisher.Notification{
			TaskID:     r.req.TaskID,
			RunID:      r.runUUID.String(),
			ItemCount:  len(res.Items),
			ArchiveURI: res.ArchiveURI,
			SHA256:     res.Checksum,
			FinishedAt: finished,
		})
		if err != nil {
			r.logger.Warn("run notification failed", zap.Error(err))
		} else {
			r.logger.Debug("run notification published", zap.String("message_id", id))
		}
	}
}

func sourceResults(outcomes []collector.Outcome) []archive.SourceResult {
	out := make([]archive.SourceResult, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, archive.SourceResult{
			ID:        o.Source.ID,
			Name:      o.Source.Name,
			URL:       o.Source.URL,
			Status:    string(o.Status),
			Items:     len(o.Items),
			ElapsedMS: o.Elapsed.Milliseconds(),
			Error:     o.ErrorText(),
		})
	}
	return out
}
