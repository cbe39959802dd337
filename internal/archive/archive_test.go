package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	hasher "github.com/JakeFAU/content-collector/internal/hash/sha256"
	"github.com/JakeFAU/content-collector/internal/storage/memory"
	"github.com/JakeFAU/content-collector/internal/store"
)

func TestWriteStoresSnapshotWithChecksum(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	w := New(blobs, hasher.New(), "/archives/", nil)
	finished := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	snap := Snapshot{
		TaskID:     "task-1",
		RunID:      "run-1",
		StartedAt:  finished.Add(-time.Minute),
		FinishedAt: finished,
		Sources:    []SourceResult{{ID: "a", Status: "success", Items: 1}},
		Items:      []store.ItemRecord{{ID: "i1", TaskID: "task-1", URL: "https://example.com/a", Origin: store.OriginDatasource}},
	}

	ref, err := w.Write(context.Background(), snap)
	require.NoError(t, err)
	require.Equal(t, "memory://archives/runs/task-1/run-1.json", ref.URI)

	data, err := blobs.GetObject(context.Background(), "archives/runs/task-1/run-1.json")
	require.NoError(t, err)
	require.Equal(t, len(data), ref.Bytes)
	sum := sha256.Sum256(data)
	require.Equal(t, hex.EncodeToString(sum[:]), ref.SHA256)
	require.Equal(t, ContentType, blobs.ContentType("archives/runs/task-1/run-1.json"))

	var decoded Snapshot
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "run-1", decoded.RunID)
	require.Len(t, decoded.Items, 1)
}

func TestWriteEmptyRunEncodesEmptyItems(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	w := New(blobs, nil, "", nil)
	ref, err := w.Write(context.Background(), Snapshot{TaskID: "t", RunID: "r"})
	require.NoError(t, err)
	require.Empty(t, ref.SHA256)

	data, err := blobs.GetObject(context.Background(), "runs/t/r.json")
	require.NoError(t, err)
	require.Contains(t, string(data), `"items":[]`)
}

func TestWriteErrors(t *testing.T) {
	t.Parallel()

	var nilWriter *Writer
	_, err := nilWriter.Write(context.Background(), Snapshot{TaskID: "t", RunID: "r"})
	require.Error(t, err)

	w := New(memory.NewBlobStore(), nil, "", nil)
	_, err = w.Write(context.Background(), Snapshot{TaskID: "t"})
	require.ErrorContains(t, err, "task and run ids")

	failing := New(failingBlobs{}, nil, "", nil)
	_, err = failing.Write(context.Background(), Snapshot{TaskID: "t", RunID: "r"})
	require.ErrorContains(t, err, "store snapshot runs/t/r.json")
}

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket gone")
}
