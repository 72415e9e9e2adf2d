package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/order-extractor/internal/database"
	"github.com/maltedev/order-extractor/internal/extraction"
	"github.com/maltedev/order-extractor/internal/jobs"
	"github.com/maltedev/order-extractor/internal/metrics"
	"github.com/maltedev/order-extractor/internal/models"
)

type stubOutbox struct {
	stats database.OutboxStats
	err   error
}

func (s stubOutbox) Stats(context.Context) (database.OutboxStats, error) {
	return s.stats, s.err
}

// blockingRun holds the run open until release is closed.
func blockingRun(release chan struct{}) jobs.RunFunc {
	return func(ctx context.Context, spec jobs.Spec, _ extraction.Observer) (*models.RunSummary, error) {
		summary := models.NewRunSummary(spec.ID, spec.Label, spec.Pages, spec.TargetRecords)
		select {
		case <-release:
		case <-ctx.Done():
			summary.Stopped = true
		}
		summary.Finalize(time.Now())
		return summary, nil
	}
}

func newTestServer(t *testing.T, outbox OutboxStats) (http.Handler, *jobs.Manager, chan struct{}) {
	t.Helper()
	release := make(chan struct{})
	manager := jobs.NewManager(blockingRun(release), slog.Default())
	defaults := jobs.Spec{Label: "june_2025", Pages: 12, TargetRecords: 23452}
	h := NewHandlers(context.Background(), manager, outbox, defaults, slog.Default())
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
		manager.Wait()
	})
	return NewRouter(h, metrics.New().Registry, []string{"http://localhost:*"}), manager, release
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	testCases := []struct {
		name       string
		outbox     OutboxStats
		wantStatus int
		wantHealth string
	}{
		{"no database", nil, http.StatusOK, "ok"},
		{"quiet outbox", stubOutbox{stats: database.OutboxStats{Pending: 3}}, http.StatusOK, "ok"},
		{"backlog", stubOutbox{stats: database.OutboxStats{Pending: 5000}}, http.StatusOK, "warning"},
		{"dead letters", stubOutbox{stats: database.OutboxStats{DeadLetter: 101}}, http.StatusServiceUnavailable, "error"},
		{"database down", stubOutbox{err: errors.New("conn refused")}, http.StatusServiceUnavailable, "error"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h, _, _ := newTestServer(t, tc.outbox)
			rec := do(t, h, http.MethodGet, "/health", "")

			assert.Equal(t, tc.wantStatus, rec.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.wantHealth, body["status"])
		})
	}
}

func TestRunLifecycle(t *testing.T) {
	h, manager, release := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/runs", `{"pages": 3}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var run jobs.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, 3, run.Pages)
	assert.Equal(t, "june_2025", run.Label)
	assert.Equal(t, 23452, run.TargetRecords)
	assert.Equal(t, jobs.StatusRunning, run.Status)

	rec = do(t, h, http.MethodPost, "/api/v1/runs", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/runs/current", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/runs/"+run.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	close(release)
	manager.Wait()

	rec = do(t, h, http.MethodGet, "/api/v1/runs/current", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []jobs.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, jobs.StatusPartial, runs[0].Status)

	rec = do(t, h, http.MethodGet, "/api/v1/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"partial_runs":1`)
}

func TestStopRun(t *testing.T) {
	h, manager, _ := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/runs", `{}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var run jobs.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))

	rec = do(t, h, http.MethodPost, "/api/v1/runs/"+run.ID+"/stop", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	manager.Wait()

	rec = do(t, h, http.MethodPost, "/api/v1/runs/"+run.ID+"/stop", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/runs/unknown/stop", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	stopped, err := manager.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusStopped, stopped.Status)
}

func TestCreateRun_BadRequests(t *testing.T) {
	h, _, _ := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/runs", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/runs", `{"start_page": 20}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h, _, _ := newTestServer(t, nil)

	rec := do(t, h, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "extractor_completion_ratio")
}
