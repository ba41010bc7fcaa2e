package cli

import (
	"log/slog"

	"github.com/release-engineering/retasc/internal/config"
	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/expr"
	"github.com/release-engineering/retasc/internal/fetch"
	"github.com/release-engineering/retasc/internal/jira"
	"github.com/release-engineering/retasc/internal/openshift"
	"github.com/release-engineering/retasc/internal/orchestrator"
	"github.com/release-engineering/retasc/internal/productpages"
	"github.com/release-engineering/retasc/internal/reconcile"
	"github.com/release-engineering/retasc/internal/rules"
)

// App — конфигурация и общие зависимости команд.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Engine *expr.Engine
}

// NewApp создаёт App.
func NewApp(cfg *config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{Config: cfg, Logger: logger, Engine: expr.New(nil)}
}

// ValidateOptions — параметры проверки правил из конфигурации.
func (a *App) ValidateOptions() rules.ValidateOptions {
	return rules.ValidateOptions{
		Engine:                  a.Engine,
		JiraTemplatePath:        a.Config.JiraTemplatePath,
		PipelineRunTemplatePath: a.Config.PipelineRunTemplatePath,
		JiraLabelPrefix:         a.Config.JiraLabelPrefix,
	}
}

// Collaborators создаёт клиентов внешних сервисов на один прогон.
// Сервисы без URL в конфигурации не подключаются.
func (a *App) Collaborators() domain.Collaborators {
	cfg := a.Config
	httpClient := fetch.NewHTTPClient(fetch.Options{
		ConnectTimeout: config.Seconds(cfg.ConnectTimeout),
		ReadTimeout:    config.Seconds(cfg.ReadTimeout),
		Retries:        a.retries(),
		Logger:         a.Logger,
	})

	collab := domain.Collaborators{Fetcher: fetch.New(httpClient, a.Logger)}
	if cfg.ProductPagesURL != "" {
		collab.Schedule = productpages.New(cfg.ProductPagesURL, httpClient, a.Logger)
	}
	if cfg.JiraURL != "" {
		jiraHTTP := fetch.NewHTTPClient(fetch.Options{
			ConnectTimeout: config.Seconds(cfg.JiraConnectTimeout),
			ReadTimeout:    config.Seconds(cfg.JiraReadTimeout),
			Retries:        a.retries(),
			Logger:         a.Logger,
		})
		collab.Tracker = jira.New(cfg.JiraURL, cfg.JiraToken, jiraHTTP, a.Logger)
	}
	if cfg.OpenShiftAPIURL != "" {
		collab.Pipeline = openshift.New(cfg.OpenShiftAPIURL, cfg.OpenShiftToken, httpClient, a.Logger)
	}
	return collab
}

// retries переводит http_retries (0 — без повторов) в fetch.Options.Retries.
func (a *App) retries() int {
	if a.Config.HTTPRetries == 0 {
		return -1
	}
	return a.Config.HTTPRetries
}

// ReconcileConfig — параметры Planner из конфигурации.
func (a *App) ReconcileConfig() reconcile.Config {
	cfg := a.Config
	return reconcile.Config{
		LabelPrefix:             cfg.JiraLabelPrefix,
		ManagedLabel:            cfg.JiraManagedLabel,
		Fields:                  cfg.JiraFields,
		JiraTemplatePath:        cfg.JiraTemplatePath,
		PipelineRunTemplatePath: cfg.PipelineRunTemplatePath,
		PipelineRunNamePrefix:   cfg.PipelineRunNamePrefix,
		DefaultNamespace:        cfg.PipelineRunDefaultNamespace,
		ResultImage:             cfg.OpenShiftOCImage,
	}
}

// OrchestratorConfig собирает конфигурацию Orchestrator.
// Store, Events и Leader заполняет вызывающий.
func (a *App) OrchestratorConfig(snapshot func() *rules.Snapshot) orchestrator.Config {
	return orchestrator.Config{
		Rules:       snapshot,
		Clients:     a.Collaborators,
		Reconcile:   a.ReconcileConfig(),
		Engine:      a.Engine,
		Concurrency: a.Config.Concurrency,
		Prune:       a.Config.PruneEnabled(),
		Logger:      a.Logger,
	}
}
