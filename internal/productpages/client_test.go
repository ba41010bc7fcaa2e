package productpages

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/fetch"
)

func newServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/releases/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/releases/" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		assert.Equal(t, "rhel", r.URL.Query().Get("product__shortname"))
		_, _ = w.Write([]byte(`[
			{"shortname": "rhel-9.6", "phase": 600},
			{"shortname": "rhel-10.1", "phase": 300},
			{"shortname": "rhel-7.9", "phase": 1000}
		]`))
	})
	mux.HandleFunc("/releases/rhel-10.1/schedule-tasks", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[
			{"name": "GA Release", "slug": "ga", "date_start": "2025-07-17", "date_finish": "2025-07-18", "draft": false},
			{"name": "Beta Release", "slug": "beta", "date_start": "2025-05-01", "date_finish": "2025-05-01", "draft": true}
		]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newClient(url string, opts ...Option) *Client {
	return New(url, fetch.NewHTTPClient(fetch.Options{Retries: -1}), nil, opts...)
}

func TestListActiveReleases(t *testing.T) {
	srv, calls := newServer(t)
	c := newClient(srv.URL)

	releases, err := c.ListActiveReleases(t.Context(), "rhel")
	require.NoError(t, err)
	assert.Equal(t, []string{"rhel-9.6", "rhel-10.1"}, releases)

	_, err = c.ListActiveReleases(t.Context(), "rhel")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "releases are cached")
}

func TestListActiveReleases_Phases(t *testing.T) {
	srv, _ := newServer(t)
	c := newClient(srv.URL, WithPhases(PhaseDevelopment, PhaseTesting))

	releases, err := c.ListActiveReleases(t.Context(), "rhel")
	require.NoError(t, err)
	assert.Equal(t, []string{"rhel-10.1"}, releases)
}

func TestGetMilestone(t *testing.T) {
	srv, calls := newServer(t)
	c := newClient(srv.URL)

	m, err := c.GetMilestone(t.Context(), "rhel", "rhel-10.1", "GA Release")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 7, 17, 0, 0, 0, 0, time.UTC), m.StartDate)
	assert.Equal(t, time.Date(2025, 7, 18, 0, 0, 0, 0, time.UTC), m.EndDate)
	assert.False(t, m.IsDraft)

	m, err = c.GetMilestone(t.Context(), "rhel", "rhel-10.1", "beta")
	require.NoError(t, err)
	assert.Equal(t, "Beta Release", m.Name)
	assert.True(t, m.IsDraft)

	_, err = c.GetMilestone(t.Context(), "rhel", "rhel-10.1", "Missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Equal(t, int32(1), calls.Load())
}

func TestGetMilestone_UnknownRelease(t *testing.T) {
	srv, _ := newServer(t)
	c := newClient(srv.URL)

	_, err := c.GetMilestone(t.Context(), "rhel", "rhel-99", "GA Release")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).ListActiveReleases(t.Context(), "rhel")
	assert.ErrorIs(t, err, domain.ErrHTTPStatus)
}
