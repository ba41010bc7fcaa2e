package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/release-engineering/retasc/internal/orchestrator"
)

// ErrInvalidSchedule — некорректное cron-выражение.
var ErrInvalidSchedule = errors.New("invalid schedule")

// TriggerSchedule — источник прогонов планировщика.
const TriggerSchedule = "schedule"

// Runner — выполнение прогона (orchestrator.Orchestrator).
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Report, error)
}

// Config — конфигурация Scheduler.
type Config struct {
	Schedule string
	Runner   Runner
	Logger   *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// Scheduler — планировщик прогонов.
type Scheduler struct {
	expr     string
	schedule cron.Schedule
	runner   Runner
	logger   *slog.Logger
	now      func() time.Time
}

// New создаёт Scheduler. Расписание проверяется сразу.
func New(cfg Config) (*Scheduler, error) {
	schedule, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		expr:     cfg.Schedule,
		schedule: schedule,
		runner:   cfg.Runner,
		logger:   cfg.Logger.With("component", "scheduler"),
		now:      cfg.Now,
	}, nil
}

// Next возвращает время следующего срабатывания.
func (s *Scheduler) Next() time.Time {
	return s.schedule.Next(s.now())
}

// Run срабатывает по расписанию до отмены ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next := s.Next()
		s.logger.Debug("next scheduled run", "schedule", s.expr, "at", next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		s.Tick(ctx)
	}
}

// Tick выполняет один прогон по расписанию.
//
// Ошибки не возвращаются: занятый Orchestrator или отсутствие
// лидерства означают, что срабатывание пропускается.
func (s *Scheduler) Tick(ctx context.Context) {
	report, err := s.runner.Run(ctx, orchestrator.Request{Trigger: TriggerSchedule})
	switch {
	case errors.Is(err, orchestrator.ErrRunInProgress):
		s.logger.Info("scheduled run skipped, previous run still in progress")
	case errors.Is(err, orchestrator.ErrNotLeader):
		s.logger.Debug("scheduled run skipped, not the leader")
	case err != nil:
		s.logger.Error("scheduled run failed", "error", err)
	default:
		s.logger.Info("scheduled run completed",
			"run_id", report.Run.ID,
			"tasks", len(report.Results),
		)
	}
}
