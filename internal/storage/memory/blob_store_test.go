package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "runs/t/r.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://runs/t/r.json", uri)

	payload[0] = 'C'
	got, err := store.GetObject(context.Background(), "runs/t/r.json")
	require.NoError(t, err)
	require.Equal(t, "content", string(got))

	got[0] = 'X'
	again, err := store.GetObject(context.Background(), "runs/t/r.json")
	require.NoError(t, err)
	require.Equal(t, "content", string(again))

	require.Equal(t, "application/json", store.ContentType("runs/t/r.json"))
	require.Equal(t, []string{"runs/t/r.json"}, store.Keys())
}

func TestBlobStoreErrors(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.PutObject(context.Background(), "", "", bytes.NewReader(nil))
	require.Error(t, err)
	_, err = store.GetObject(context.Background(), "missing")
	require.ErrorContains(t, err, "not found")
}
