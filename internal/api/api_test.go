package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madello/paarvai/internal/api"
	"github.com/madello/paarvai/internal/camera"
	"github.com/madello/paarvai/internal/detection"
	"github.com/madello/paarvai/internal/feed"
	"github.com/madello/paarvai/internal/logger"
	"github.com/madello/paarvai/internal/observability"
	"github.com/madello/paarvai/internal/testutil"
)

type fixture struct {
	server  *api.Server
	feed    *feed.Service
	cameras *camera.Registry
	metrics *observability.Metrics
}

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

func newFixture(t *testing.T, cfg api.Config, opts ...api.Option) *fixture {
	t.Helper()

	storeOpts := feed.DefaultOptions()
	storeOpts.Location = time.UTC
	svc := feed.NewService(feed.NewStore(storeOpts), feed.WithLogger(quietLogger()))
	require.NoError(t, svc.Start(t.Context()))
	t.Cleanup(func() { require.NoError(t, svc.Stop(testutil.DefaultTestTimeout)) })

	require.NoError(t, svc.Initialize(t.Context(), []detection.Record{
		testutil.Record("C", testutil.Location("Delhi"), testutil.Stranger(),
			testutil.Priority(detection.PriorityHigh), testutil.At(testutil.BaseTime.Add(2*time.Minute))),
		testutil.Record("B", testutil.Location("Pune"), testutil.Subject("Arjun Rao"), testutil.At(testutil.BaseTime.Add(time.Minute))),
		testutil.Record("A", testutil.Location("Delhi")),
	}))

	m, err := observability.NewMetrics()
	require.NoError(t, err)
	cams := camera.NewRegistry(camera.DefaultCameras())

	cfg.Location = time.UTC
	opts = append([]api.Option{
		api.WithLogger(quietLogger()),
		api.WithCameras(cams),
		api.WithMetrics(m.HTTP),
		api.WithMetricsHandler(m.Handler(quietLogger())),
	}, opts...)
	s, err := api.New(svc, cfg, opts...)
	require.NoError(t, err)

	return &fixture{server: s, feed: svc, cameras: cams, metrics: m}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func recordIDs(records []detection.Record) []string {
	out := make([]string, 0, len(records))
	for i := range records {
		out = append(out, records[i].ID)
	}
	return out
}

func TestGetFeed(t *testing.T) {
	f := newFixture(t, api.Config{})

	rec := f.do(t, http.MethodGet, "/api/v1/feed", "")
	require.Equal(t, http.StatusOK, rec.Code)

	snap := decode[feed.Snapshot](t, rec)
	assert.Equal(t, []string{"C", "B", "A"}, recordIDs(snap.Visible))
	assert.Equal(t, "C", snap.SelectedID)
	require.NotNil(t, snap.Selected)
	assert.Equal(t, detection.Stranger, snap.Selected.Classification)
	assert.Equal(t, feed.DefaultCapacity, snap.Capacity)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, api.Config{AllowedOrigins: []string{"https://dash.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/filter", http.NoBody)
	req.Header.Set("Origin", "https://dash.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch)
}

func TestSelection(t *testing.T) {
	f := newFixture(t, api.Config{})

	rec := f.do(t, http.MethodPut, "/api/v1/selection", `{"id":"B"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	sel := decode[api.SelectionResponse](t, rec)
	assert.Equal(t, "B", sel.SelectedID)
	require.NotNil(t, sel.Record)
	assert.Equal(t, "Arjun Rao", sel.Record.SubjectName)

	rec = f.do(t, http.MethodPut, "/api/v1/selection", `{"id":"missing"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	errResp := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, http.StatusNotFound, errResp.Code)
	assert.Len(t, errResp.CorrelationID, 8)

	rec = f.do(t, http.MethodPut, "/api/v1/selection", `{"id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/selection", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/selection", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sel = decode[api.SelectionResponse](t, rec)
	assert.Empty(t, sel.SelectedID)
	assert.Nil(t, sel.Record)
}

func TestFilter(t *testing.T) {
	f := newFixture(t, api.Config{})

	rec := f.do(t, http.MethodPatch, "/api/v1/filter", `{"location":"Delhi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	fr := decode[api.FilterResponse](t, rec)
	assert.Equal(t, "Delhi", fr.Criteria.Location)
	assert.Equal(t, 2, fr.Visible)
	assert.Equal(t, 3, fr.Total)

	// the invalid date is rejected, the search still applies
	rec = f.do(t, http.MethodPatch, "/api/v1/filter", `{"date":"14/03/2025","search":"MAYA"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/filter", "")
	fr = decode[api.FilterResponse](t, rec)
	assert.Equal(t, "MAYA", fr.Criteria.Search)
	assert.True(t, fr.Criteria.Date.IsZero())
	assert.Equal(t, 1, fr.Visible)

	rec = f.do(t, http.MethodPatch, "/api/v1/filter", `{"date":"2025-03-14","search":""}`)
	require.Equal(t, http.StatusOK, rec.Code)
	fr = decode[api.FilterResponse](t, rec)
	assert.Equal(t, "2025-03-14", fr.Criteria.Date.String())
	assert.Equal(t, 2, fr.Visible)

	rec = f.do(t, http.MethodDelete, "/api/v1/filter", "")
	require.Equal(t, http.StatusOK, rec.Code)
	fr = decode[api.FilterResponse](t, rec)
	assert.Equal(t, feed.DefaultCriteria(), fr.Criteria)
	assert.Equal(t, 3, fr.Visible)
}

func TestRecords(t *testing.T) {
	f := newFixture(t, api.Config{})

	rec := f.do(t, http.MethodGet, "/api/v1/records?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rr := decode[api.RecordsResponse](t, rec)
	assert.Equal(t, []string{"C", "B"}, recordIDs(rr.Records))
	assert.Equal(t, 2, rr.Count)
	assert.Equal(t, 3, rr.Total)

	rec = f.do(t, http.MethodGet, "/api/v1/records?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/records/A", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "A", decode[detection.Record](t, rec).ID)

	rec = f.do(t, http.MethodGet, "/api/v1/records/Z", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInsights(t *testing.T) {
	f := newFixture(t, api.Config{})

	rec := f.do(t, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[feed.Summary](t, rec)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 1, sum.Stranger)
	assert.Equal(t, 2, sum.ByLocation["Delhi"])

	f.do(t, http.MethodPatch, "/api/v1/filter", `{"location":"Pune"}`)
	rec = f.do(t, http.MethodGet, "/api/v1/stats?scope=visible", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[feed.Summary](t, rec).Total)

	rec = f.do(t, http.MethodGet, "/api/v1/stats?scope=everything", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/trend?bucket=1m", "")
	require.Equal(t, http.StatusOK, rec.Code)
	trend := decode[api.TrendResponse](t, rec)
	assert.Equal(t, "1m0s", trend.Bucket)
	require.Len(t, trend.Buckets, 3)
	assert.Equal(t, 1, trend.Buckets[2].Stranger)

	rec = f.do(t, http.MethodGet, "/api/v1/trend?bucket=5s", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/alerts?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"C"}, recordIDs(decode[[]detection.Record](t, rec)))

	rec = f.do(t, http.MethodGet, "/api/v1/locations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"All", "Delhi", "Pune"}, decode[[]string](t, rec))
}

func TestCameras(t *testing.T) {
	f := newFixture(t, api.Config{})

	rec := f.do(t, http.MethodGet, "/api/v1/cameras", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cams := decode[[]camera.Camera](t, rec)
	require.Len(t, cams, 3)
	assert.Equal(t, detection.StatusOnline, cams[0].Status)

	rec = f.do(t, http.MethodPut, "/api/v1/cameras/CAM-2/status", `{"status":"offline"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, detection.StatusOffline, decode[camera.Camera](t, rec).Status)

	rec = f.do(t, http.MethodPut, "/api/v1/cameras/CAM-2/status", `{"status":"Detected"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/cameras/CAM-2/status", `{"status":"sleeping"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/cameras/CAM-404", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownRouteReturnsErrorResponse(t *testing.T) {
	f := newFixture(t, api.Config{})

	rec := f.do(t, http.MethodGet, "/api/v1/nothing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusNotFound, decode[api.ErrorResponse](t, rec).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, api.Config{})

	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]any](t, rec)["status"])

	f.do(t, http.MethodGet, "/api/v1/feed", "")
	f.do(t, http.MethodGet, "/api/v1/records/Z", "")

	rec = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `paarvai_http_requests_total{method="GET",path="/api/v1/feed",status_code="200"} 1`)
	assert.Contains(t, body, `paarvai_http_requests_total{method="GET",path="/api/v1/records/:id",status_code="404"} 1`)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, api.Config{RateLimit: 0.001, RateBurst: 2})

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/feed", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/feed", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodGet, "/api/v1/feed", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "").Code, "health is not limited")
}

func TestNewRequiresFeed(t *testing.T) {
	_, err := api.New(nil, api.Config{})
	require.Error(t, err)
}

func TestRequestLogsCarryRequestID(t *testing.T) {
	var buf bytes.Buffer
	f := newFixture(t, api.Config{}, api.WithLogger(logger.NewSlogLogger(&buf, logger.LogLevelDebug, time.UTC)))
	buf.Reset()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/records/Z", http.NoBody)
	req.Header.Set("X-Request-ID", "req-7f3a")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 2, "error and request lines: %s", buf.String())
	for _, line := range lines {
		assert.Contains(t, line, "trace_id=req-7f3a")
	}
}

func TestTrendSeriesIsBounded(t *testing.T) {
	f := newFixture(t, api.Config{})

	stale := testutil.Record("OLD", testutil.At(time.Date(2016, time.January, 1, 0, 0, 0, 0, time.UTC)))
	res, err := f.feed.Ingest(t.Context(), stale)
	require.NoError(t, err)
	require.True(t, res.Accepted)

	rec := f.do(t, http.MethodGet, "/api/v1/trend?bucket=1m", "")
	require.Equal(t, http.StatusOK, rec.Code)
	trend := decode[api.TrendResponse](t, rec)
	require.Len(t, trend.Buckets, feed.MaxTrendBuckets)
	assert.Equal(t, testutil.BaseTime.Add(2*time.Minute), trend.Buckets[len(trend.Buckets)-1].Start.UTC())
}
