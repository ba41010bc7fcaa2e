package openshift

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/fetch"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, "token", fetch.NewHTTPClient(fetch.Options{Retries: -1}), nil)
}

func TestFindByName(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /apis/tekton.dev/v1/namespaces/ns/pipelineruns/run-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"metadata": {"name": "run-1"},
			"status": {"conditions": [{"type": "Succeeded", "status": "True"}]}}`))
	})
	mux.HandleFunc("GET /apis/tekton.dev/v1/namespaces/ns/pipelineruns/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	c := newTestClient(t, mux)

	run, err := c.FindByName(t.Context(), "ns", "run-1")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "run-1", run.Name)
	assert.Equal(t, domain.PipelineSucceeded, c.Status(run))

	run, err = c.FindByName(t.Context(), "ns", "missing")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestStart(t *testing.T) {
	var got map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /apis/tekton.dev/v1/namespaces/ns/pipelineruns", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(got)
	})
	c := newTestClient(t, mux)

	spec := map[string]any{
		"apiVersion": "tekton.dev/v1",
		"kind":       "PipelineRun",
		"metadata":   map[string]any{"name": "retasc-ga", "namespace": "ns"},
	}
	run, err := c.Start(t.Context(), "ns", spec)
	require.NoError(t, err)
	assert.Equal(t, "retasc-ga", run.Name)
	assert.Equal(t, "ns", run.Namespace)
	assert.Equal(t, "PipelineRun", got["kind"])
	assert.Equal(t, domain.PipelineRunning, Status(run))
}

func TestStart_Error(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := c.Start(t.Context(), "ns", map[string]any{})
	assert.ErrorIs(t, err, domain.ErrHTTPStatus)
}

func TestGetResult(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/namespaces/ns/configmaps/retasc-ga", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"metadata": {"name": "retasc-ga", "labels": {"retasc.io/result": "true"}},
			"data": {"status": "Succeeded"}}`))
	})
	mux.HandleFunc("GET /api/v1/namespaces/ns/configmaps/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("GET /api/v1/namespaces/ns/configmaps/forbidden", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	c := newTestClient(t, mux)

	result, err := c.GetResult(t.Context(), "ns", "retasc-ga")
	require.NoError(t, err)
	assert.Equal(t, "Succeeded", result)

	result, err = c.GetResult(t.Context(), "ns", "missing")
	require.NoError(t, err)
	assert.Empty(t, result)

	_, err = c.GetResult(t.Context(), "ns", "forbidden")
	assert.ErrorIs(t, err, domain.ErrHTTPStatus)
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name   string
		status any
		want   domain.PipelineStatus
	}{
		{"succeeded", "True", domain.PipelineSucceeded},
		{"failed", "False", domain.PipelineFailed},
		{"unknown", "Unknown", domain.PipelineRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := &domain.PipelineRunObject{Object: map[string]any{
				"status": map[string]any{"conditions": []any{
					map[string]any{"type": "Other", "status": "False"},
					map[string]any{"type": "Succeeded", "status": tt.status},
				}},
			}}
			assert.Equal(t, tt.want, Status(run))
		})
	}

	assert.Equal(t, domain.PipelineRunning, Status(&domain.PipelineRunObject{}))
}
