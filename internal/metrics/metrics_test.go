package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, fetchTotal)
	require.NotNil(t, httpRequestsTotal)
	require.NotNil(t, streamMessagesTotal)

	before := testutil.ToFloat64(fetchTotal.WithLabelValues("metrics-test.example", "ok"))
	ObserveFetch("https://metrics-test.example/a", "ok", 512)
	require.InDelta(t, before+1, testutil.ToFloat64(fetchTotal.WithLabelValues("metrics-test.example", "ok")), 0.001)
	require.InDelta(t, 512, testutil.ToFloat64(fetchBytesTotal.WithLabelValues("metrics-test.example")), 0.001)
}

func TestObserveHelpersDoNotPanicBeforeInit(t *testing.T) {
	require.NotPanics(t, func() {
		ObserveFetchRetry("https://retry.example")
		ObserveClientRendered("https://spa.example")
		ObserveStreamMessage("log")
		ObserveProbeTLSHandshakeTimeout()
		IncActiveJobs()
		DecActiveJobs()
	})
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
