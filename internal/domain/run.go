package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — запись о пакетном прогоне вычисления правил.
//
// Run создаётся когда:
// - Пользователь запускает прогон (CLI или POST /api/v1/runs)
// - Scheduler запускает прогон по расписанию
// - Приходит сообщение run.requested из очереди
//
// История прогонов используется только для аудита: вычисление
// никогда не читает её обратно.
type Run struct {
	// ID — уникальный идентификатор прогона.
	ID uuid.UUID `json:"id"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Trigger — источник запуска: "cli", "api", "schedule", "mq".
	Trigger string `json:"trigger"`

	// DryRun — записи в трекер и pipeline runner только логировались.
	DryRun bool `json:"dry_run"`

	// Today — дата, от которой считались все выражения прогона.
	Today time.Time `json:"today"`

	// Summary — количество задач по состояниям.
	Summary map[TaskState]int `json:"summary,omitempty"`

	// Results — результаты задач (заполняется при чтении одного прогона).
	Results []TaskResult `json:"results,omitempty"`

	// StartedAt — время начала выполнения.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст фатальной ошибки, если прогон FAILED.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания записи.
	CreatedAt time.Time `json:"created_at"`
}

// NewRun создаёт прогон в статусе RUNNING.
func NewRun(trigger string, today time.Time, dryRun bool) *Run {
	now := time.Now()
	return &Run{
		ID:        uuid.New(),
		Status:    RunStatusRunning,
		Trigger:   trigger,
		DryRun:    dryRun,
		Today:     today,
		StartedAt: &now,
		CreatedAt: now,
	}
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если прогон ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если прогон завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkSucceeded переводит прогон в статус SUCCEEDED.
func (r *Run) MarkSucceeded(results []TaskResult) {
	now := time.Now()
	r.Status = RunStatusSucceeded
	r.FinishedAt = &now
	r.Summary = Summary(results)
	r.Results = results
}

// MarkFailed переводит прогон в статус FAILED с ошибкой.
func (r *Run) MarkFailed(err string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.Error = err
}
