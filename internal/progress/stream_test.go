package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func drain(s *Stream) []Message {
	var out []Message
	for msg := range s.Messages() {
		out = append(out, msg)
	}
	return out
}

func TestStreamDeliversInOrder(t *testing.T) {
	t.Parallel()

	stream := NewStream(0)
	var got []Message
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		got = drain(stream)
	}()

	ctx := context.Background()
	require.NoError(t, stream.Send(ctx, StageMessage(StageInit, "init")))
	require.NoError(t, stream.Send(ctx, LogMessage("hello")))
	require.NoError(t, stream.Send(ctx, ProgressMessage(10)))
	require.NoError(t, stream.Send(ctx, ProgressMessage(10)))
	require.NoError(t, stream.Send(ctx, ErrorMessage("boom")))
	stream.Close()
	wg.Wait()

	require.Len(t, got, 5)
	require.Equal(t, TypeStage, got[0].Type)
	require.Equal(t, TypeError, got[4].Type)
}

func TestStreamRejectsReversedProgress(t *testing.T) {
	t.Parallel()

	stream := NewStream(4)
	ctx := context.Background()
	require.NoError(t, stream.Send(ctx, ProgressMessage(40)))
	require.ErrorIs(t, stream.Send(ctx, ProgressMessage(30)), ErrProgressReversed)
	require.NoError(t, stream.Send(ctx, ProgressMessage(100)))
}

func TestStreamRejectsMessagesAfterTerminal(t *testing.T) {
	t.Parallel()

	stream := NewStream(4)
	ctx := context.Background()
	require.NoError(t, stream.Send(ctx, CompleteMessage(CompleteData{Total: 1})))
	require.ErrorIs(t, stream.Send(ctx, LogMessage("late")), ErrStreamTerminated)
	require.ErrorIs(t, stream.Send(ctx, ErrorMessage("late")), ErrStreamTerminated)
}

func TestStreamCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	stream := NewStream(1)
	require.NoError(t, stream.Send(context.Background(), LogMessage("buffered")))
	stream.Close()
	stream.Close()

	require.ErrorIs(t, stream.Send(context.Background(), LogMessage("after")), ErrStreamClosed)
	got := drain(stream)
	require.Len(t, got, 1)
}

func TestStreamSendHonorsContext(t *testing.T) {
	t.Parallel()

	stream := NewStream(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := stream.Send(ctx, LogMessage("nobody listening"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStreamCloseUnblocksSender(t *testing.T) {
	t.Parallel()

	stream := NewStream(0)
	errCh := make(chan error, 1)
	go func() {
		errCh <- stream.Send(context.Background(), LogMessage("blocked"))
	}()

	time.Sleep(10 * time.Millisecond)
	stream.Close()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrStreamClosed)
	case <-time.After(time.Second):
		t.Fatal("send stayed blocked after close")
	}
}

func TestEncodeShape(t *testing.T) {
	t.Parallel()

	published := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	line, err := Encode(ItemMessage(ItemPreview{
		Title:       "CPI",
		Summary:     "Prices...",
		URL:         "https://example.com/cpi",
		SourceName:  "Example",
		PublishedAt: &published,
	}, 3))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"item","data":{"item":{
		"title":"CPI","summary":"Prices...","url":"https://example.com/cpi",
		"source_name":"Example","published_at":"2024-05-01T00:00:00Z"},"count":3}}`, string(line))
}
