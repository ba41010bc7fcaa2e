package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/release-engineering/retasc/internal/api"
	"github.com/release-engineering/retasc/internal/mq"
	"github.com/release-engineering/retasc/internal/orchestrator"
	"github.com/release-engineering/retasc/internal/repo"
	"github.com/release-engineering/retasc/internal/rules"
	"github.com/release-engineering/retasc/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd создаёт команду serve.
func NewServeCmd(appFn func() (*App, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run rules on a schedule and serve the HTTP API",
		Long: `Run rules on a schedule and serve the HTTP API.

With database_url the run history is stored in PostgreSQL and only the
holder of the advisory lock executes runs. With rabbitmq_url task results
and run summaries are published and run.requested messages start runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFn()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return Serve(ctx, app)
		},
	}
}

// Serve запускает сервис до отмены ctx.
func Serve(ctx context.Context, app *App) error {
	cfg, logger := app.Config, app.Logger
	logger.Info("starting retasc serve", "addr", cfg.Serve.Addr, "schedule", cfg.Serve.Schedule)

	// Правила
	watcher, err := rules.NewWatcher(cfg.RulesPath, app.ValidateOptions(), logger)
	if err != nil {
		return fmt.Errorf("rules watcher: %w", err)
	}
	if cfg.WatchRules() {
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("rules watcher stopped", "error", err)
			}
		}()
	}

	checks := []api.ReadinessCheck{{Name: "rules", Check: rulesReady(watcher)}}
	orchCfg := app.OrchestratorConfig(func() *rules.Snapshot {
		if snap := watcher.Current(); snap != nil {
			return snap
		}
		return watcher.Last()
	})
	orchCfg.Store = orchestrator.NewMemoryStore(0)

	// PostgreSQL: история прогонов и лидерство
	if cfg.DatabaseURL != "" {
		pool, err := repo.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := repo.Migrate(ctx, pool); err != nil {
			return err
		}
		logger.Info("database connected")

		leader := repo.NewLeader(pool, repo.LeaderLockKey)
		defer func() {
			if err := leader.Release(context.Background()); err != nil {
				logger.Warn("failed to release leader lock", "error", err)
			}
		}()

		orchCfg.Store = repo.NewRunRepo(pool)
		orchCfg.Leader = leader
		checks = append(checks, api.ReadinessCheck{Name: "database", Check: pool.Ping})
	}

	// RabbitMQ: события и запросы прогонов
	var conn *mq.Connection
	if cfg.RabbitMQURL != "" {
		conn, err = mq.NewConnection(cfg.RabbitMQURL, logger)
		if err != nil {
			return fmt.Errorf("connect to rabbitmq: %w", err)
		}
		defer conn.Close()
		if err := mq.SetupTopology(conn); err != nil {
			return err
		}
		logger.Info("rabbitmq connected")

		orchCfg.Events = mq.NewPublisher(conn, logger)
		checks = append(checks, api.ReadinessCheck{Name: "rabbitmq", Check: func(context.Context) error {
			if !conn.IsConnected() {
				return mq.ErrNoChannel
			}
			return nil
		}})
	}

	orch := orchestrator.New(orchCfg)
	defer orch.Wait()

	if conn != nil {
		consumer := mq.NewConsumer(conn, mq.QueueRunRequests, orch.HandleRunRequested, 1, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("run request consumer stopped", "error", err)
			}
		}()
	}

	// Расписание
	if cfg.Serve.Schedule != "" {
		sched, err := scheduler.New(scheduler.Config{Schedule: cfg.Serve.Schedule, Runner: orch, Logger: logger})
		if err != nil {
			return err
		}
		go sched.Run(ctx)
	}

	// HTTP API
	handler := api.NewHandler(api.Config{Runner: orch, Checks: checks, Logger: logger})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.Serve.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Serve.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
	return nil
}

func rulesReady(w *rules.Watcher) func(context.Context) error {
	return func(context.Context) error {
		last := w.Last()
		if last.Valid() {
			return nil
		}
		if last == nil {
			return errors.New("rules not loaded")
		}
		return fmt.Errorf("%d rule error(s): %w", len(last.Errors), errors.Join(last.Errors...))
	}
}
