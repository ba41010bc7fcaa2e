package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// служебные маршруты не логируются: их опрашивают пробы
	mux.Handle("GET /healthz", Recovery(h.logger)(http.HandlerFunc(h.Healthz)))
	mux.Handle("GET /readyz", Recovery(h.logger)(http.HandlerFunc(h.Readyz)))
	mux.Handle("GET /metrics", promhttp.Handler())

	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("POST /api/v1/runs", chain(http.HandlerFunc(h.TriggerRun)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
}
