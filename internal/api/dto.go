package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/release-engineering/retasc/internal/domain"
)

// TriggerRunRequest — запрос на запуск прогона. Пустое тело допустимо.
type TriggerRunRequest struct {
	DryRun bool `json:"dry_run,omitempty"`

	// Today — дата прогона (YYYY-MM-DD), по умолчанию текущая.
	Today string `json:"today,omitempty"`
}

// RunResponse — ответ с прогоном.
type RunResponse struct {
	ID         uuid.UUID                `json:"id"`
	Status     domain.RunStatus         `json:"status"`
	Trigger    string                   `json:"trigger"`
	DryRun     bool                     `json:"dry_run"`
	Today      string                   `json:"today"`
	Summary    map[domain.TaskState]int `json:"summary,omitempty"`
	Error      string                   `json:"error,omitempty"`
	StartedAt  *time.Time               `json:"started_at,omitempty"`
	FinishedAt *time.Time               `json:"finished_at,omitempty"`
	DurationMs int64                    `json:"duration_ms,omitempty"`
	CreatedAt  time.Time                `json:"created_at"`
	Results    []domain.TaskResult      `json:"results,omitempty"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	return RunResponse{
		ID:         r.ID,
		Status:     r.Status,
		Trigger:    r.Trigger,
		DryRun:     r.DryRun,
		Today:      r.Today.Format(time.DateOnly),
		Summary:    r.Summary,
		Error:      r.Error,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		DurationMs: r.Duration().Milliseconds(),
		CreatedAt:  r.CreatedAt,
		Results:    r.Results,
	}
}

// HealthResponse — ответ /healthz и /readyz.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
