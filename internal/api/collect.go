package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-collector/internal/middleware"
	"github.com/JakeFAU/content-collector/internal/orchestrator"
	"github.com/JakeFAU/content-collector/internal/progress"
)

// collect handles POST /v1/tasks/{task_id}/collect. The optional body
// {"sources": [...]} replaces the stored source list for this run only. The
// response is a text/event-stream with one "data: <json>" event per message;
// it ends when the run's stream closes.
func (s *Server) collect(w http.ResponseWriter, r *http.Request) {
	if s.deps.Collector == nil {
		writeError(w, http.StatusServiceUnavailable, "collector unavailable")
		return
	}
	ctx := r.Context()
	taskID := chi.URLParam(r, "task_id")
	logger := s.logger.With(
		zap.String("task_id", taskID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	var body sourcesBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sources, err := toSources(taskID, body.Sources)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(sources) == 0 {
		sources, err = s.deps.Sources.ListByTask(ctx, taskID)
		if err != nil {
			logger.Error("load sources failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load sources")
			return
		}
	}
	if len(sources) == 0 {
		writeError(w, http.StatusNotFound, "task has no sources")
		return
	}

	rc := http.NewResponseController(w)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logger.Warn("response does not support flushing", zap.Error(err))
	}

	stream := progress.NewStream(s.opts.StreamBuffer)
	done := make(chan error, 1)
	go func() {
		_, err := s.deps.Collector.Run(ctx, orchestrator.Request{TaskID: taskID, Sources: sources}, stream)
		done <- err
	}()

	// Keep draining after a write failure so the run never blocks on us.
	var writeErr error
	for msg := range stream.Messages() {
		if writeErr != nil {
			continue
		}
		if writeErr = writeEvent(w, msg); writeErr == nil {
			writeErr = rc.Flush()
		}
		if writeErr != nil {
			logger.Warn("client stream write failed", zap.Error(writeErr))
		}
	}

	if err := <-done; err != nil && !errors.Is(err, ctx.Err()) {
		logger.Warn("collection ended with error", zap.Error(err))
	}
}

func writeEvent(w io.Writer, msg progress.Message) error {
	data, err := progress.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write %s message: %w", msg.Type, err)
	}
	return nil
}
