package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openbizdata/dircrawler/internal/browser"
	"github.com/openbizdata/dircrawler/internal/crawler"
	"github.com/openbizdata/dircrawler/internal/health"
	"github.com/openbizdata/dircrawler/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

type fakeStore struct {
	stats crawler.StoreStats
	err   error
}

func (f *fakeStore) Stats(context.Context) (crawler.StoreStats, error) {
	return f.stats, f.err
}

type fakePool struct {
	stats browser.PoolStats
}

func (f *fakePool) Stats() browser.PoolStats { return f.stats }

type fakeMonitor struct {
	snap    health.Snapshot
	summary health.Summary
}

func (f *fakeMonitor) Check(context.Context) health.Snapshot { return f.snap }
func (f *fakeMonitor) Summary() health.Summary               { return f.summary }

func doRequest(t *testing.T, handler http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, nil, nil, nil)
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestStatsCombinesStoreAndPool(t *testing.T) {
	t.Parallel()

	store := &fakeStore{stats: crawler.StoreStats{DetailPages: 12, EmailsExtracted: 4}}
	pool := &fakePool{stats: browser.PoolStats{BrowserCount: 2, ContextCount: 5}}
	srv := NewServer(store, pool, nil, nil)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var body statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 12, body.Store.DetailPages)
	require.Equal(t, 4, body.Store.EmailsExtracted)
	require.Equal(t, 2, body.Pool.BrowserCount)
	require.Equal(t, 5, body.Pool.ContextCount)
}

func TestStatsStoreFailure(t *testing.T) {
	t.Parallel()

	store := &fakeStore{err: errors.New("connection refused")}
	srv := NewServer(store, nil, nil, nil)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/stats")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatsWithoutStore(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, nil, nil, nil)
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/stats")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthReflectsSnapshot(t *testing.T) {
	t.Parallel()

	monitor := &fakeMonitor{snap: health.Snapshot{
		Timestamp: time.Now(),
		MemoryMB:  512,
		Healthy:   true,
	}}
	srv := NewServer(nil, nil, monitor, nil)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap health.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.True(t, snap.Healthy)
	require.InDelta(t, 512, snap.MemoryMB, 0.1)
}

func TestHealthUnhealthyIs503(t *testing.T) {
	t.Parallel()

	monitor := &fakeMonitor{snap: health.Snapshot{
		Healthy: false,
		Issues:  []string{"memory 3000.0MB exceeds limit 2048.0MB"},
	}}
	srv := NewServer(nil, nil, monitor, nil)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var snap health.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Issues, 1)
}

func TestHealthSummary(t *testing.T) {
	t.Parallel()

	monitor := &fakeMonitor{summary: health.Summary{Samples: 7, Unhealthy: 1, AvgMemoryMB: 900}}
	srv := NewServer(nil, nil, monitor, nil)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/health/summary")
	require.Equal(t, http.StatusOK, rec.Code)

	var sum health.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	require.Equal(t, 7, sum.Samples)
	require.Equal(t, 1, sum.Unhealthy)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, nil, nil, nil)
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	monitor := &panicMonitor{}
	srv := NewServer(nil, nil, monitor, nil)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/health/summary")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

type panicMonitor struct{}

func (p *panicMonitor) Check(context.Context) health.Snapshot { panic("boom") }
func (p *panicMonitor) Summary() health.Summary               { panic("boom") }
