package api

import (
	"context"
	"log/slog"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/orchestrator"
)

// Runner — запуск и история прогонов (orchestrator.Orchestrator).
type Runner interface {
	Start(ctx context.Context, req orchestrator.Request) (*domain.Run, error)
	Store() orchestrator.RunStore
}

// ReadinessCheck — одна проверка готовности (правила, база, очередь).
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	runner Runner
	checks []ReadinessCheck
	logger *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Runner Runner
	Checks []ReadinessCheck
	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		runner: cfg.Runner,
		checks: cfg.Checks,
		logger: cfg.Logger,
	}
}
