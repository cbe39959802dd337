package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-collector/internal/collector"
	"github.com/JakeFAU/content-collector/internal/store"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// sourceInput is a source as submitted by clients. Selected defaults to
// true when omitted.
type sourceInput struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Kind     string `json:"kind"`
	Selected *bool  `json:"selected"`
}

type sourcesBody struct {
	Sources []sourceInput `json:"sources"`
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	items, err := s.deps.Items.ListByTask(r.Context(), taskID)
	if err != nil {
		s.logger.Error("list items failed", zap.String("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	sources, err := s.deps.Sources.ListByTask(r.Context(), taskID)
	if err != nil {
		s.logger.Error("list sources failed", zap.String("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sources")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func (s *Server) replaceSources(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
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
	if err := s.deps.Sources.ReplaceForTask(r.Context(), taskID, sources); err != nil {
		s.logger.Error("replace sources failed", zap.String("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save sources")
		return
	}
	stored, err := s.deps.Sources.ListByTask(r.Context(), taskID)
	if err != nil {
		s.logger.Error("list sources failed", zap.String("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sources")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": stored})
}

func (s *Server) selectSource(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	sourceID := chi.URLParam(r, "source_id")
	var body struct {
		Selected *bool `json:"selected"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Selected == nil {
		writeError(w, http.StatusBadRequest, "selected is required")
		return
	}
	if err := s.deps.Sources.SetSelected(r.Context(), taskID, sourceID, *body.Selected); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "source not found")
			return
		}
		s.logger.Error("select source failed",
			zap.String("task_id", taskID),
			zap.String("source_id", sourceID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to update source")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": sourceID, "selected": *body.Selected})
}

// decodeBody decodes a JSON body into dst. An empty body leaves dst
// untouched.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.New("invalid JSON")
	}
	return nil
}

func toSources(taskID string, in []sourceInput) ([]collector.Source, error) {
	out := make([]collector.Source, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for i, src := range in {
		id := strings.TrimSpace(src.ID)
		if id == "" {
			return nil, fmt.Errorf("sources[%d]: id is required", i)
		}
		if strings.TrimSpace(src.URL) == "" {
			return nil, fmt.Errorf("sources[%d]: url is required", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("sources[%d]: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}
		selected := true
		if src.Selected != nil {
			selected = *src.Selected
		}
		out = append(out, collector.Source{
			ID:       id,
			TaskID:   taskID,
			Name:     src.Name,
			URL:      strings.TrimSpace(src.URL),
			Kind:     collector.ParseSourceKind(src.Kind),
			Selected: selected,
			Status:   collector.StatusUnknown,
		})
	}
	return out, nil
}
