package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retasc_tasks_total",
		Help: "Evaluated tasks by rule and resulting state",
	}, []string{"rule", "state"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retasc_runs_total",
		Help: "Finished evaluation runs by status",
	}, []string{"status"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "retasc_run_duration_seconds",
		Help:    "Duration of evaluation runs",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	collaboratorCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retasc_collaborator_calls_total",
		Help: "Calls to external services by collaborator, operation and outcome",
	}, []string{"collaborator", "op", "outcome"})

	issueWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retasc_issue_writes_total",
		Help: "Tracker and pipeline writes by operation",
	}, []string{"op", "dry_run"})

	httpRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "retasc_http_request_duration_seconds",
		Help:    "API request duration by route and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})

	rulesLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "retasc_rules_loaded",
		Help: "Number of valid rules currently loaded",
	})
)

// ObserveTask учитывает вычисленную задачу.
func ObserveTask(rule, state string) {
	tasksTotal.WithLabelValues(rule, state).Inc()
}

// ObserveRun учитывает завершённый прогон.
func ObserveRun(status string, d time.Duration) {
	runsTotal.WithLabelValues(status).Inc()
	runDuration.Observe(d.Seconds())
}

// ObserveCall учитывает обращение к внешнему сервису.
func ObserveCall(collaborator, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	collaboratorCalls.WithLabelValues(collaborator, op, outcome).Inc()
}

// ObserveWrite учитывает запись в трекер или сервис pipeline.
func ObserveWrite(op string, dryRun bool) {
	label := "false"
	if dryRun {
		label = "true"
	}
	issueWrites.WithLabelValues(op, label).Inc()
}

// ObserveHTTP учитывает запрос к API.
func ObserveHTTP(route, status string, d time.Duration) {
	httpRequests.WithLabelValues(route, status).Observe(d.Seconds())
}

// SetRulesLoaded выставляет число загруженных правил.
func SetRulesLoaded(n int) {
	rulesLoaded.Set(float64(n))
}
