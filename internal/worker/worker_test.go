package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-collector/internal/collector"
	"github.com/JakeFAU/content-collector/internal/progress"
)

func TestRunner_SuccessAttributesItems(t *testing.T) {
	t.Parallel()

	ext := extractorFunc(func(context.Context, string) ([]collector.Item, error) {
		return []collector.Item{
			{Title: "a", URL: "https://example.com/a"},
			{Title: "bad", URL: "not a url"},
			{Title: "empty"},
			{Title: "b", URL: "https://example.com/b"},
		}, nil
	})
	hub := &recordingEmitter{}
	r := New(staticSelector{ext: ext}, nil, hub, collector.DefaultThresholds(), zap.NewNop())

	runID := progress.UUIDToBytes(uuid.New())
	src := collector.Source{ID: "s1", Name: "Example", URL: "https://example.com/feed", Kind: collector.KindRSS}
	out := r.Run(progress.WithRunID(context.Background(), runID), src)

	require.NoError(t, out.Err)
	require.Equal(t, collector.StatusSuccess, out.Status)
	require.Len(t, out.Items, 2)
	for _, item := range out.Items {
		require.Equal(t, "s1", item.SourceID)
		require.Equal(t, "Example", item.SourceName)
	}
	require.Nil(t, out.ErrorText())

	events := hub.Events()
	require.Len(t, events, 2)
	require.Equal(t, progress.StageSourceStart, events[0].Stage)
	require.Equal(t, progress.StageSourceDone, events[1].Stage)
	require.Equal(t, runID, events[1].RunID)
	require.Equal(t, "success", events[1].Status)
	require.EqualValues(t, 2, events[1].Items)
	require.Equal(t, "example.com", events[1].Site)
}

func TestRunner_EmptyResultFails(t *testing.T) {
	t.Parallel()

	ext := extractorFunc(func(context.Context, string) ([]collector.Item, error) {
		return nil, nil
	})
	r := New(staticSelector{ext: ext}, nil, nil, collector.DefaultThresholds(), nil)

	out := r.Run(context.Background(), collector.Source{ID: "s1", URL: "https://example.com"})
	require.ErrorIs(t, out.Err, collector.ErrNoItems)
	require.Equal(t, collector.StatusFailed, out.Status)
	require.Equal(t, "no items extracted", *out.ErrorText())
}

func TestRunner_ExtractorErrorFails(t *testing.T) {
	t.Parallel()

	ext := extractorFunc(func(context.Context, string) ([]collector.Item, error) {
		return []collector.Item{{URL: "https://example.com/a"}}, collector.ErrFetch
	})
	r := New(staticSelector{ext: ext}, nil, nil, collector.DefaultThresholds(), nil)

	out := r.Run(context.Background(), collector.Source{ID: "s1", URL: "https://example.com"})
	require.ErrorIs(t, out.Err, collector.ErrFetch)
	require.Equal(t, collector.StatusFailed, out.Status)
	require.Empty(t, out.Items)
}

func TestRunner_TimeoutWinsOverHungExtractor(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)
	ext := extractorFunc(func(context.Context, string) ([]collector.Item, error) {
		<-release
		return []collector.Item{{URL: "https://example.com/late"}}, nil
	})
	th := collector.Thresholds{Slow: 10 * time.Millisecond, Timeout: 50 * time.Millisecond}
	r := New(staticSelector{ext: ext}, nil, nil, th, nil)

	start := time.Now()
	out := r.Run(context.Background(), collector.Source{ID: "hang", URL: "https://example.com"})

	require.Less(t, time.Since(start), time.Second)
	require.ErrorIs(t, out.Err, collector.ErrTimeout)
	require.Contains(t, out.Err.Error(), "source timed out after 50ms")
	require.Equal(t, collector.StatusFailed, out.Status)
	require.Empty(t, out.Items)
}

func TestRunner_RecoversPanics(t *testing.T) {
	t.Parallel()

	ext := extractorFunc(func(context.Context, string) ([]collector.Item, error) {
		panic("selector exploded")
	})
	r := New(staticSelector{ext: ext}, nil, nil, collector.DefaultThresholds(), nil)

	out := r.Run(context.Background(), collector.Source{ID: "p", URL: "https://example.com"})
	require.Error(t, out.Err)
	require.Contains(t, out.Err.Error(), "selector exploded")
	require.Equal(t, collector.StatusFailed, out.Status)
}

func TestRunner_ClassifiesSlowSources(t *testing.T) {
	t.Parallel()

	ext := extractorFunc(func(context.Context, string) ([]collector.Item, error) {
		return []collector.Item{{URL: "https://example.com/a"}}, nil
	})
	clock := &steppingClock{now: time.Unix(0, 0), step: 9 * time.Second}
	r := New(staticSelector{ext: ext}, clock, nil, collector.DefaultThresholds(), nil)

	out := r.Run(context.Background(), collector.Source{ID: "s", URL: "https://example.com"})
	require.NoError(t, out.Err)
	require.Equal(t, 9*time.Second, out.Elapsed)
	require.Equal(t, collector.StatusSlow, out.Status)
}

func TestRunner_ReportsClientRenderedPages(t *testing.T) {
	t.Parallel()

	ext := extractorFunc(func(ctx context.Context, _ string) ([]collector.Item, error) {
		collector.RenderFlagFrom(ctx).Mark()
		return []collector.Item{{URL: "https://example.com/a"}}, nil
	})
	r := New(staticSelector{ext: ext}, nil, nil, collector.DefaultThresholds(), nil)

	out := r.Run(context.Background(), collector.Source{ID: "s", URL: "https://example.com"})
	require.True(t, out.ClientRendered)
	require.Equal(t, collector.StatusSuccess, out.Status)
}

func TestRunner_ParentCancellation(t *testing.T) {
	t.Parallel()

	ext := extractorFunc(func(ctx context.Context, _ string) ([]collector.Item, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	r := New(staticSelector{ext: ext}, nil, nil, collector.DefaultThresholds(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := r.Run(ctx, collector.Source{ID: "s", URL: "https://example.com"})
	require.ErrorIs(t, out.Err, context.Canceled)
	require.Equal(t, collector.StatusFailed, out.Status)
}

func TestRunner_MissingExtractor(t *testing.T) {
	t.Parallel()

	r := New(nil, nil, nil, collector.Thresholds{}, nil)
	require.Equal(t, 15*time.Second, r.Timeout())

	out := r.Run(context.Background(), collector.Source{ID: "s", URL: "https://example.com"})
	require.Error(t, out.Err)
	require.Equal(t, collector.StatusFailed, out.Status)
}

func TestRunner_SkipsTelemetryWithoutRun(t *testing.T) {
	t.Parallel()

	hub := &recordingEmitter{}
	ext := extractorFunc(func(context.Context, string) ([]collector.Item, error) {
		return nil, errors.New("boom")
	})
	r := New(staticSelector{ext: ext}, nil, hub, collector.DefaultThresholds(), nil)
	r.Run(context.Background(), collector.Source{ID: "s", URL: "https://example.com"})
	require.Empty(t, hub.Events())
}

type extractorFunc func(ctx context.Context, sourceURL string) ([]collector.Item, error)

func (f extractorFunc) Extract(ctx context.Context, sourceURL string) ([]collector.Item, error) {
	return f(ctx, sourceURL)
}

type staticSelector struct {
	ext collector.Extractor
}

func (s staticSelector) Select(collector.SourceKind, string) collector.Extractor {
	return s.ext
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Events() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}
