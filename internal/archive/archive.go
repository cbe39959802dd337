// Package archive writes a JSON snapshot of each finished run to a blob store
// and fingerprints it with SHA-256.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/content-collector/internal/store"
)

// ContentType is recorded on every archive object.
const ContentType = "application/json"

// BlobStore persists opaque objects and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, key string, contentType string, data io.Reader) (string, error)
}

// Hasher fingerprints archive bytes.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// SourceResult summarizes one source of the run.
type SourceResult struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	URL       string  `json:"url"`
	Status    string  `json:"status"`
	Items     int     `json:"items"`
	ElapsedMS int64   `json:"elapsed_ms"`
	Error     *string `json:"error,omitempty"`
}

// Snapshot is the archived form of a run.
type Snapshot struct {
	TaskID     string             `json:"task_id"`
	RunID      string             `json:"run_id"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Sources    []SourceResult     `json:"sources"`
	Items      []store.ItemRecord `json:"items"`
}

// Ref locates a written snapshot.
type Ref struct {
	URI    string
	SHA256 string
	Bytes  int
}

// Writer stores snapshots under {prefix}/runs/{task}/{run}.json.
type Writer struct {
	blobs  BlobStore
	hasher Hasher
	prefix string
	logger *zap.Logger
}

// New constructs a Writer.
func New(blobs BlobStore, hasher Hasher, prefix string, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		blobs:  blobs,
		hasher: hasher,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.Named("archive"),
	}
}

// Key returns the object key for a run.
func (w *Writer) Key(taskID, runID string) string {
	return path.Join(w.prefix, "runs", taskID, runID+".json")
}

// Write encodes and uploads snap.
func (w *Writer) Write(ctx context.Context, snap Snapshot) (Ref, error) {
	if w == nil || w.blobs == nil {
		return Ref{}, errors.New("archive blob store is not configured")
	}
	if snap.TaskID == "" || snap.RunID == "" {
		return Ref{}, errors.New("archive needs task and run ids")
	}
	if snap.Items == nil {
		snap.Items = []store.ItemRecord{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return Ref{}, fmt.Errorf("encode snapshot: %w", err)
	}
	ref := Ref{Bytes: len(data)}
	if w.hasher != nil {
		if ref.SHA256, err = w.hasher.Hash(data); err != nil {
			return Ref{}, fmt.Errorf("hash snapshot: %w", err)
		}
	}
	key := w.Key(snap.TaskID, snap.RunID)
	if ref.URI, err = w.blobs.PutObject(ctx, key, ContentType, bytes.NewReader(data)); err != nil {
		return Ref{}, fmt.Errorf("store snapshot %s: %w", key, err)
	}
	w.logger.Debug("run archived",
		zap.String("task_id", snap.TaskID),
		zap.String("run_id", snap.RunID),
		zap.String("uri", ref.URI),
		zap.Int("bytes", ref.Bytes))
	return ref, nil
}
