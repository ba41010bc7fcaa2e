package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/engine"
	"github.com/release-engineering/retasc/internal/expr"
	"github.com/release-engineering/retasc/internal/reconcile"
	"github.com/release-engineering/retasc/internal/repo"
	"github.com/release-engineering/retasc/internal/rules"
	"github.com/release-engineering/retasc/internal/telemetry"
)

// RunStore — история прогонов (repo.RunRepo или MemoryStore).
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	Finish(ctx context.Context, run *domain.Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
}

// EventPublisher — публикация событий (mq.Publisher).
type EventPublisher interface {
	PublishTaskResult(ctx context.Context, run *domain.Run, result domain.TaskResult) error
	PublishRunFinished(ctx context.Context, run *domain.Run) error
}

// Leader — выбор единственного исполняющего экземпляра (repo.Leader).
type Leader interface {
	TryAcquire(ctx context.Context) (bool, error)
}

// Config — зависимости Orchestrator.
type Config struct {
	// Rules возвращает текущий набор правил.
	Rules func() *rules.Snapshot

	// Clients создаёт клиентов внешних сервисов на один прогон
	// (клиенты кэшируют ответы в пределах прогона).
	Clients func() domain.Collaborators

	Reconcile   reconcile.Config
	Engine      *expr.Engine
	Globals     map[string]expr.Value
	Concurrency int

	// Prune — закрывать брошенные управляемые issue.
	Prune bool

	// Store, Events, Leader необязательны.
	Store  RunStore
	Events EventPublisher
	Leader Leader

	Logger *slog.Logger

	// Now — часы для даты прогона по умолчанию (time.Now).
	Now func() time.Time
}

// Request — параметры прогона.
type Request struct {
	// Trigger — источник: cli, api, schedule, mq.
	Trigger string
	DryRun  bool

	// Today — дата прогона; нулевое значение — текущая дата в UTC.
	Today time.Time
}

// Report — итог прогона.
type Report struct {
	Run     *domain.Run            `json:"run"`
	Results []domain.TaskResult    `json:"results"`
	Prune   *reconcile.PruneReport `json:"prune,omitempty"`
}

// Orchestrator выполняет прогоны.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger

	running sync.Mutex
	wg      sync.WaitGroup
}

// New создаёт Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Engine == nil {
		cfg.Engine = expr.New(nil)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{cfg: cfg, logger: cfg.Logger}
}

// Store возвращает историю прогонов (может быть nil).
func (o *Orchestrator) Store() RunStore {
	return o.cfg.Store
}

// Run выполняет прогон синхронно.
//
// Ошибка возвращается для фатальных случаев (правила некорректны,
// цикл правил, нет лидерства); ошибки отдельных задач отражены в
// Report.Results.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Report, error) {
	if !o.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer o.running.Unlock()

	if err := o.checkLeader(ctx); err != nil {
		return nil, err
	}
	run := o.begin(ctx, req)
	return o.execute(ctx, run)
}

// Start запускает прогон в фоне и сразу возвращает его запись.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*domain.Run, error) {
	if !o.running.TryLock() {
		return nil, ErrRunInProgress
	}
	if err := o.checkLeader(ctx); err != nil {
		o.running.Unlock()
		return nil, err
	}

	run := o.begin(ctx, req)
	snapshot := *run

	// прогон не привязан к контексту HTTP-запроса
	bg := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.running.Unlock()
		if _, err := o.execute(bg, run); err != nil {
			o.logger.Error("background run failed", "run_id", run.ID, "error", err)
		}
	}()
	return &snapshot, nil
}

// Wait ждёт завершения фоновых прогонов.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) checkLeader(ctx context.Context) error {
	if o.cfg.Leader == nil {
		return nil
	}
	ok, err := o.cfg.Leader.TryAcquire(ctx)
	if err != nil {
		return fmt.Errorf("leader election: %w", err)
	}
	if !ok {
		return ErrNotLeader
	}
	return nil
}

func (o *Orchestrator) begin(ctx context.Context, req Request) *domain.Run {
	today := req.Today
	if today.IsZero() {
		today = o.cfg.Now().UTC()
	}
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	if req.Trigger == "" {
		req.Trigger = "cli"
	}

	run := domain.NewRun(req.Trigger, today, req.DryRun)
	if o.cfg.Store != nil {
		if err := o.cfg.Store.Create(ctx, run); err != nil {
			o.logger.Warn("failed to record run", "run_id", run.ID, "error", err)
		}
	}
	return run
}

func (o *Orchestrator) execute(ctx context.Context, run *domain.Run) (*Report, error) {
	logger := telemetry.WithRunID(o.logger, run.ID.String())
	ctx = telemetry.WithLogger(ctx, logger)
	logger.Info("run started", "trigger", run.Trigger, "dry_run", run.DryRun, "today", run.Today.Format(time.DateOnly))

	report := &Report{Run: run}
	results, prune, err := o.evaluate(ctx, run, logger)
	if err != nil {
		run.MarkFailed(err.Error())
	} else {
		run.MarkSucceeded(results)
		report.Results = results
		report.Prune = prune
	}
	telemetry.ObserveRun(string(run.Status), run.Duration())

	o.finish(ctx, run, logger)
	logger.Info("run finished", "status", run.Status, "duration", run.Duration(), "summary", run.Summary)
	return report, err
}

func (o *Orchestrator) evaluate(ctx context.Context, run *domain.Run, logger *slog.Logger) ([]domain.TaskResult, *reconcile.PruneReport, error) {
	snap := o.cfg.Rules()
	if !snap.Valid() {
		var errs []error
		if snap != nil {
			errs = snap.Errors
		}
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidRules, errors.Join(errs...))
	}

	collab := o.cfg.Clients()
	if run.DryRun {
		if collab.Tracker != nil {
			collab.Tracker = reconcile.NewDryRunTracker(collab.Tracker, logger)
		}
		if collab.Pipeline != nil {
			collab.Pipeline = reconcile.NewDryRunPipeline(collab.Pipeline, logger)
		}
	}

	planner := reconcile.New(o.cfg.Reconcile, collab.Tracker, collab.Pipeline, logger)
	results, err := engine.Evaluate(ctx, snap.Rules, collab, engine.Options{
		Today:       run.Today,
		Concurrency: o.cfg.Concurrency,
		Engine:      o.cfg.Engine,
		Globals:     o.cfg.Globals,
		Planner:     planner,
		Logger:      logger,
	})
	if err != nil {
		return nil, nil, err
	}

	if !o.cfg.Prune {
		return results, nil, nil
	}
	prune, err := planner.Prune(ctx, results)
	if err != nil {
		logger.Error("prune failed", "error", err)
	}
	return results, prune, nil
}

func (o *Orchestrator) finish(ctx context.Context, run *domain.Run, logger *slog.Logger) {
	if o.cfg.Store != nil {
		if err := o.cfg.Store.Finish(ctx, run); err != nil {
			logger.Warn("failed to record run result", "error", err)
		}
	}
	if o.cfg.Events == nil {
		return
	}
	for _, res := range run.Results {
		if err := o.cfg.Events.PublishTaskResult(ctx, run, res); err != nil {
			logger.Warn("failed to publish task result", "rule", res.Rule, "release_key", res.ReleaseKey, "error", err)
		}
	}
	if err := o.cfg.Events.PublishRunFinished(ctx, run); err != nil {
		logger.Warn("failed to publish run result", "error", err)
	}
}
