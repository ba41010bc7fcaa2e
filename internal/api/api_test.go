package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/orchestrator"
)

type fakeRunner struct {
	store *orchestrator.MemoryStore
	err   error
	last  orchestrator.Request
}

func (f *fakeRunner) Start(ctx context.Context, req orchestrator.Request) (*domain.Run, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.last = req
	today := req.Today
	if today.IsZero() {
		today = time.Date(2025, 7, 5, 0, 0, 0, 0, time.UTC)
	}
	run := domain.NewRun(req.Trigger, today, req.DryRun)
	return run, f.store.Create(ctx, run)
}

func (f *fakeRunner) Store() orchestrator.RunStore { return f.store }

func newServer(t *testing.T, checks ...ReadinessCheck) (*httptest.Server, *fakeRunner) {
	t.Helper()
	runner := &fakeRunner{store: orchestrator.NewMemoryStore(0)}
	h := NewHandler(Config{Runner: runner, Checks: checks})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, runner
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

type runEnvelope struct {
	Data RunResponse `json:"data"`
}

type listEnvelope struct {
	Data  []RunResponse `json:"data"`
	Total int           `json:"total"`
}

func TestTriggerRun(t *testing.T) {
	srv, runner := newServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/runs", "application/json", strings.NewReader(`{"dry_run": true, "today": "2025-06-01"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))

	body := decode[runEnvelope](t, resp)
	assert.Equal(t, domain.RunStatusRunning, body.Data.Status)
	assert.Equal(t, "2025-06-01", body.Data.Today)
	assert.True(t, body.Data.DryRun)
	assert.Equal(t, TriggerRunAPI, runner.last.Trigger)
	assert.Equal(t, "/api/v1/runs/"+body.Data.ID.String(), resp.Header.Get("Location"))
}

func TestTriggerRun_EmptyBody(t *testing.T) {
	srv, runner := newServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/runs", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.False(t, runner.last.DryRun)
	assert.True(t, runner.last.Today.IsZero())
}

func TestTriggerRun_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		code   ErrorCode
	}{
		{"bad json", `{`, nil, http.StatusBadRequest, ErrCodeBadRequest},
		{"bad date", `{"today": "05.07.2025"}`, nil, http.StatusBadRequest, ErrCodeBadRequest},
		{"in progress", `{}`, orchestrator.ErrRunInProgress, http.StatusConflict, ErrCodeConflict},
		{"not leader", `{}`, orchestrator.ErrNotLeader, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"internal", `{}`, errors.New("boom"), http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, runner := newServer(t)
			runner.err = tt.err

			resp, err := http.Post(srv.URL+"/api/v1/runs", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decode[ErrorResponse](t, resp)
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}

func TestListAndGetRuns(t *testing.T) {
	srv, runner := newServer(t)
	ctx := context.Background()

	done := domain.NewRun("schedule", time.Date(2025, 7, 5, 0, 0, 0, 0, time.UTC), false)
	require.NoError(t, runner.store.Create(ctx, done))
	done.MarkSucceeded([]domain.TaskResult{{Rule: "ga", ReleaseKey: "rhel-10.1", State: domain.StateCompleted}})
	require.NoError(t, runner.store.Finish(ctx, done))
	require.NoError(t, runner.store.Create(ctx, domain.NewRun("api", time.Now(), true)))

	resp, err := http.Get(srv.URL + "/api/v1/runs")
	require.NoError(t, err)
	list := decode[listEnvelope](t, resp)
	require.Equal(t, 2, list.Total)
	assert.Equal(t, "api", list.Data[0].Trigger)
	assert.Empty(t, list.Data[1].Results)

	resp, err = http.Get(srv.URL + "/api/v1/runs?trigger=schedule&status=SUCCEEDED")
	require.NoError(t, err)
	list = decode[listEnvelope](t, resp)
	require.Len(t, list.Data, 1)
	assert.Equal(t, 1, list.Data[0].Summary[domain.StateCompleted])

	resp, err = http.Get(srv.URL + "/api/v1/runs/" + done.ID.String())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	one := decode[runEnvelope](t, resp)
	require.Len(t, one.Data.Results, 1)
	assert.Equal(t, "ga", one.Data.Results[0].Rule)
	assert.Equal(t, "2025-07-05", one.Data.Today)
}

func TestGetRun_Errors(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/runs/not-a-uuid")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/runs/00000000-0000-0000-0000-000000000001")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/runs?limit=abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndReadiness(t *testing.T) {
	var rulesErr error
	srv, _ := newServer(t,
		ReadinessCheck{Name: "rules", Check: func(context.Context) error { return rulesErr }},
		ReadinessCheck{Name: "database", Check: func(context.Context) error { return nil }},
	)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	ready := decode[HealthResponse](t, resp)
	assert.Equal(t, map[string]string{"rules": "ok", "database": "ok"}, ready.Checks)

	rulesErr = errors.New("rules are invalid")
	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	ready = decode[HealthResponse](t, resp)
	assert.Equal(t, "unavailable", ready.Status)
	assert.Equal(t, "rules are invalid", ready.Checks["rules"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/runs")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `retasc_http_request_duration_seconds_count{route="GET /api/v1/runs",status="200"}`)
}

func TestRecovery(t *testing.T) {
	h := Recovery(slog.New(slog.DiscardHandler))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
