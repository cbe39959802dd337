package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-collector/internal/collector"
	"github.com/JakeFAU/content-collector/internal/orchestrator"
	"github.com/JakeFAU/content-collector/internal/progress"
	"github.com/JakeFAU/content-collector/internal/storage/memory"
	"github.com/JakeFAU/content-collector/internal/store"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	h := newTestHarness(Options{})
	rec := h.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	h := newTestHarness(Options{})
	rec := h.do(http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	h = newTestHarness(Options{}, withPinger(pingerFunc(func(context.Context) error {
		return errors.New("db down")
	})))
	rec = h.do(http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "db down")
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	h := newTestHarness(Options{})
	rec := h.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_AuthGuardsV1Only(t *testing.T) {
	t.Parallel()

	h := newTestHarness(Options{AuthEnabled: true, APIKey: "secret"})

	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/healthz", "", nil).Code)
	require.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/v1/tasks/t/items", "", nil).Code)
	rec := h.do(http.MethodGet, "/v1/tasks/t/items", "", map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ReplaceAndListSources(t *testing.T) {
	t.Parallel()

	h := newTestHarness(Options{})
	body := `{"sources":[
		{"id":"a","name":"Alpha","url":"https://a.example.com/feed","kind":"RSS"},
		{"id":"b","name":"Beta","url":"https://b.example.com","selected":false}
	]}`
	rec := h.do(http.MethodPut, "/v1/tasks/t1/sources", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Sources []collector.Source `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Sources, 2)
	require.Equal(t, collector.KindRSS, payload.Sources[0].Kind)
	require.True(t, payload.Sources[0].Selected)
	require.Equal(t, collector.KindWebsite, payload.Sources[1].Kind)
	require.False(t, payload.Sources[1].Selected)
	require.Equal(t, collector.StatusUnknown, payload.Sources[1].Status)

	rec = h.do(http.MethodGet, "/v1/tasks/t1/sources", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"name":"Beta"`)
}

func TestServer_ReplaceSourcesRejectsBadInput(t *testing.T) {
	t.Parallel()

	h := newTestHarness(Options{})
	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{`, "invalid JSON"},
		{"unknown field", `{"sources":[],"extra":1}`, "invalid JSON"},
		{"missing id", `{"sources":[{"url":"https://a"}]}`, "id is required"},
		{"missing url", `{"sources":[{"id":"a"}]}`, "url is required"},
		{"duplicate", `{"sources":[{"id":"a","url":"https://a"},{"id":"a","url":"https://b"}]}`, "duplicate id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := h.do(http.MethodPut, "/v1/tasks/t/sources", tt.body, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestServer_SelectSource(t *testing.T) {
	t.Parallel()

	h := newTestHarness(Options{})
	h.seedSources(t, "t1", collector.Source{ID: "a", Name: "Alpha", URL: "https://a.example.com", Selected: true})

	rec := h.do(http.MethodPatch, "/v1/tasks/t1/sources/a", `{"selected":false}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"id":"a","selected":false}`, rec.Body.String())

	stored, err := h.sources.ListByTask(context.Background(), "t1")
	require.NoError(t, err)
	require.False(t, stored[0].Selected)

	require.Equal(t, http.StatusNotFound, h.do(http.MethodPatch, "/v1/tasks/t1/sources/zz", `{"selected":true}`, nil).Code)
	require.Equal(t, http.StatusBadRequest, h.do(http.MethodPatch, "/v1/tasks/t1/sources/a", `{}`, nil).Code)
}

func TestServer_ListItems(t *testing.T) {
	t.Parallel()

	h := newTestHarness(Options{})
	require.NoError(t, h.items.InsertBatch(context.Background(), "t1", []store.ItemRecord{{
		ID:        "i1",
		TaskID:    "t1",
		Title:     "Hello",
		URL:       "https://example.com/hello",
		Origin:    store.OriginDatasource,
		Selected:  true,
		CreatedAt: time.Unix(100, 0).UTC(),
	}}))

	rec := h.do(http.MethodGet, "/v1/tasks/t1/items", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Items []store.ItemRecord `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Items, 1)
	require.Equal(t, "Hello", payload.Items[0].Title)

	rec = h.do(http.MethodGet, "/v1/tasks/empty/items", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"items":[]}`, rec.Body.String())
}

func TestServer_CollectWithoutSourcesIs404(t *testing.T) {
	t.Parallel()

	h := newTestHarness(Options{})
	rec := h.do(http.MethodPost, "/v1/tasks/none/collect", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "task has no sources")
}

func TestServer_CollectStreamsServerSentEvents(t *testing.T) {
	t.Parallel()

	h := newTestHarness(Options{StreamBuffer: 4})
	h.seedSources(t, "t1",
		collector.Source{ID: "a", Name: "Alpha", URL: "https://a.example.com", Kind: collector.KindRSS, Selected: true},
		collector.Source{ID: "b", Name: "Beta", URL: "https://b.example.com", Kind: collector.KindBlog, Selected: true},
	)

	rec := h.do(http.MethodPost, "/v1/tasks/t1/collect", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.True(t, rec.Flushed)

	events := parseEvents(t, rec.Body.String())
	require.NotEmpty(t, events)
	require.Equal(t, "stage", events[0].Type)
	last := events[len(events)-1]
	require.Equal(t, "complete", last.Type)

	var done progress.CompleteData
	require.NoError(t, json.Unmarshal(last.Data, &done))
	require.Len(t, done.Items, 2)
	require.Equal(t, 2, done.Total)
	require.Equal(t, 2, done.Sources.Success)

	items, err := h.items.ListByTask(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	for i := range items {
		require.Equal(t, items[i].ID, done.Items[i].ID)
		require.Equal(t, items[i].URL, done.Items[i].URL)
	}
}

func TestServer_CollectBodyOverridesStoredSources(t *testing.T) {
	t.Parallel()

	h := newTestHarness(Options{})
	h.seedSources(t, "t1", collector.Source{ID: "stored", URL: "https://stored.example.com", Selected: true})

	body := `{"sources":[{"id":"adhoc","name":"Ad hoc","url":"https://adhoc.example.com"}]}`
	rec := h.do(http.MethodPost, "/v1/tasks/t1/collect", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	items, err := h.items.ListByTask(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "https://adhoc.example.com/post", items[0].URL)
}

func TestServer_CollectRejectsInvalidBody(t *testing.T) {
	t.Parallel()

	h := newTestHarness(Options{})
	rec := h.do(http.MethodPost, "/v1/tasks/t1/collect", `{"sources":[{"id":"x"}]}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RunHistory(t *testing.T) {
	t.Parallel()

	h := newTestHarness(Options{})
	ctx := context.Background()
	runID := uuid.MustParse("018f6b2a-0000-7000-8000-000000000001")
	started := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, h.runs.StartRun(ctx, runID, "t1", started))
	require.NoError(t, h.runs.RecordSource(ctx, store.RunSource{
		RunID:      runID,
		SourceID:   "a",
		SourceName: "Alpha",
		Site:       "a.example.com",
		Status:     "success",
		Items:      3,
		DurationMS: 120,
		FinishedAt: started.Add(time.Second),
	}))
	require.NoError(t, h.runs.CompleteRun(ctx, runID, started.Add(2*time.Second), store.RunSuccess, 3, nil))

	rec := h.do(http.MethodGet, "/v1/runs?status=success&limit=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Runs []runDTO `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	require.Equal(t, runID.String(), list.Runs[0].ID)
	require.EqualValues(t, 3, list.Runs[0].Items)

	rec = h.do(http.MethodGet, "/v1/runs/"+runID.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"success"`)

	rec = h.do(http.MethodGet, "/v1/runs/"+runID.String()+"/sources", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"site":"a.example.com"`)
}

func TestServer_RunHistoryErrors(t *testing.T) {
	t.Parallel()

	h := newTestHarness(Options{})
	tests := []struct {
		name string
		path string
		want int
	}{
		{"unknown run", "/v1/runs/" + uuid.NewString(), http.StatusNotFound},
		{"malformed id", "/v1/runs/not-a-uuid", http.StatusBadRequest},
		{"invalid status", "/v1/runs?status=paused", http.StatusBadRequest},
		{"invalid limit", "/v1/runs?limit=-1", http.StatusBadRequest},
		{"invalid offset", "/v1/runs/" + uuid.NewString() + "/sources?offset=x", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, h.do(http.MethodGet, tt.path, "", nil).Code)
		})
	}
}

func TestRunHandlerWithoutRepository(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(nil, zap.NewNop())
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestParseLimitOffsetClamps(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/?limit=100000&offset=5", nil)
	limit, offset, err := parseLimitOffset(req, 10, 500)
	require.NoError(t, err)
	require.Equal(t, 500, limit)
	require.Equal(t, 5, offset)
}

type testHarness struct {
	server  *Server
	items   *memory.ItemStore
	sources *memory.SourceStore
	runs    *memory.RunStore
}

type harnessOption func(*Deps)

func withPinger(p store.Pinger) harnessOption {
	return func(d *Deps) { d.Pingers = append(d.Pingers, p) }
}

func newTestHarness(opts Options, hopts ...harnessOption) *testHarness {
	h := &testHarness{
		items:   memory.NewItemStore(),
		sources: memory.NewSourceStore(),
		runs:    memory.NewRunStore(),
	}
	orch := orchestrator.New(h.items, h.sources, postRunner{}, orchestrator.DefaultConfig())
	deps := Deps{
		Items:     h.items,
		Sources:   h.sources,
		Runs:      h.runs,
		Collector: orch,
	}
	for _, o := range hopts {
		o(&deps)
	}
	h.server = NewServer(deps, opts, zap.NewNop())
	return h
}

func (h *testHarness) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *testHarness) seedSources(t *testing.T, taskID string, sources ...collector.Source) {
	t.Helper()
	require.NoError(t, h.sources.ReplaceForTask(context.Background(), taskID, sources))
}

// postRunner returns one item per source at <source url>/post.
type postRunner struct{}

func (postRunner) Run(_ context.Context, src collector.Source) collector.Outcome {
	return collector.Outcome{
		Source: src,
		Items: []collector.Item{{
			Title:      "Post from " + src.ID,
			Body:       "body of " + src.ID,
			URL:        strings.TrimSuffix(src.URL, "/") + "/post",
			SourceID:   src.ID,
			SourceName: src.Name,
		}},
		Status:  collector.StatusSuccess,
		Elapsed: 10 * time.Millisecond,
	}
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type sseEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func parseEvents(t *testing.T, body string) []sseEvent {
	t.Helper()
	var out []sseEvent
	for _, chunk := range strings.Split(body, "\n\n") {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		require.True(t, strings.HasPrefix(chunk, "data: "), "unexpected chunk %q", chunk)
		var evt sseEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(chunk, "data: ")), &evt))
		out = append(out, evt)
	}
	return out
}
