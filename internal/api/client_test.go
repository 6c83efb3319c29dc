package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", WithTimeout(2*time.Second))
}

func TestFetchResourceReturnsPayload(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/traces", r.URL.Path)
		assert.Equal(t, "30", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[{"task":"ls","success":true,"outcome":"ok","timestamp":"2025-01-02T03:04:05.123456"}]`))
	})

	traces, err := client.Traces(context.Background(), 30)
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, "ls", traces[0].Task)
	assert.True(t, traces[0].Success)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 123456000, time.UTC), traces[0].Timestamp.Time)
}

func TestFetchResourceClassifiesStatusErrors(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("backend   warming\n up"))
	})

	_, err := client.Status(context.Background())
	require.Error(t, err)
	te, ok := AsTransportError(err)
	require.True(t, ok, "expected *TransportError, got %T", err)
	assert.Equal(t, ResourceStatus, te.Resource)
	assert.Equal(t, KindStatus, te.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
	assert.Equal(t, "backend warming up", te.Body)
	assert.Contains(t, te.Error(), "http 503")
}

func TestFetchResourceClassifiesNetworkErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := srv.URL
	srv.Close()

	client := NewClient(baseURL, WithTimeout(time.Second))
	_, err := client.Rules(context.Background())
	te, ok := AsTransportError(err)
	require.True(t, ok)
	assert.Equal(t, KindNetwork, te.Kind)
	assert.Equal(t, ResourceRules, te.Resource)
	assert.Zero(t, te.StatusCode)
}

func TestFetchResourceRejectsNonJSON(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	})

	_, err := client.FetchResource(context.Background(), ResourceDreamReports, nil)
	te, ok := AsTransportError(err)
	require.True(t, ok)
	assert.Equal(t, KindDecode, te.Kind)
}

func TestTypedDecodeFailureIsTransportError(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not":"a list"}`))
	})

	_, err := client.Incidents(context.Background(), 48)
	te, ok := AsTransportError(err)
	require.True(t, ok)
	assert.Equal(t, KindDecode, te.Kind)
	assert.Equal(t, ResourceIncidents, te.Resource)
}

func TestSubmitCommandPostsJSON(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/ask", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "summarise logs", body["task"])
		_, _ = w.Write([]byte(`{"response":"done","success":false,"confidence":0.87,"tokens_used":120,"latency_ms":340,"vigil_flags":["pii"]}`))
	})

	result, err := client.Ask(context.Background(), "summarise logs", nil)
	require.NoError(t, err)
	assert.Equal(t, "done", result.Response)
	assert.False(t, result.Succeeded())
	require.NotNil(t, result.Confidence)
	assert.InDelta(t, 0.87, *result.Confidence, 1e-9)
	assert.Equal(t, []string{"pii"}, result.VigilFlags)
}

func TestTaskResultSucceededDefaultsTrue(t *testing.T) {
	var result TaskResult
	require.NoError(t, json.Unmarshal([]byte(`{"response":"ok"}`), &result))
	assert.True(t, result.Succeeded())
}

func TestDreamDecodesInlineRules(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/dream", r.URL.Path)
		_, _ = w.Write([]byte(`{"summary":"slept","episodes_processed":4,"memories_pruned":2,
			"new_rules_extracted":[{"rule":"prefer dry runs","confidence":0.6,"last_validated":"2025-03-01T10:00:00"}]}`))
	})

	report, err := client.Dream(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.EpisodesProcessed)
	require.Len(t, report.NewRules, 1)
	assert.Equal(t, "prefer dry runs", report.NewRules[0].Rule)
}

func TestDreamReportDecodesStoredRows(t *testing.T) {
	var reports []DreamReport
	raw := `[
		{"id":"a","date":"2025-03-01T10:00:00","summary":"","episodes_processed":3,
		 "new_rules":"[{\"rule\":\"r1\",\"confidence\":0.5}]","memories_pruned":1},
		{"id":"b","date":"2025-03-02T10:00:00","new_rules":"[\"bare text\"]"},
		{"id":"c","date":"garbage","new_rules":"[]"}
	]`
	require.NoError(t, json.Unmarshal([]byte(raw), &reports))
	require.Len(t, reports, 3)
	require.Len(t, reports[0].NewRules, 1)
	assert.Equal(t, "r1", reports[0].NewRules[0].Rule)
	assert.Equal(t, "bare text", reports[1].NewRules[0].Rule)
	assert.Empty(t, reports[2].NewRules)
	assert.True(t, reports[2].Date.IsZero())
	assert.Equal(t, "garbage", reports[2].Date.Raw)
}

func TestIncidentBlockedAcceptsIntegers(t *testing.T) {
	var incidents []Incident
	raw := `[{"reason":"rm -rf","blocked":1,"timestamp":"2025-01-01T00:00:00Z"},{"reason":"x","blocked":false}]`
	require.NoError(t, json.Unmarshal([]byte(raw), &incidents))
	assert.True(t, bool(incidents[0].Blocked))
	assert.False(t, bool(incidents[1].Blocked))
	assert.True(t, incidents[1].Timestamp.IsZero())
}

func TestParseTimestamp(t *testing.T) {
	cases := map[string]time.Time{
		"2025-01-02T03:04:05Z":          time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		"2025-01-02T03:04:05.5+00:00":   time.Date(2025, 1, 2, 3, 4, 5, 500000000, time.UTC),
		"2025-01-02T03:04:05":           time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		"2025-01-02 03:04:05.000001":    time.Date(2025, 1, 2, 3, 4, 5, 1000, time.UTC),
		"2025-01-02":                    time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	for input, want := range cases {
		got, err := ParseTimestamp(input)
		require.NoError(t, err, input)
		assert.True(t, want.Equal(got), "%s: want %s got %s", input, want, got)
	}
	_, err := ParseTimestamp("  ")
	assert.Error(t, err)
	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestUnknownResourceIsTransportError(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")
	_, err := client.FetchResource(context.Background(), Resource("nope"), nil)
	te, ok := AsTransportError(err)
	require.True(t, ok)
	assert.Equal(t, KindNetwork, te.Kind)
}
