package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/expr"
)

// DefaultConcurrency — число задач, вычисляемых параллельно по умолчанию.
const DefaultConcurrency = 4

// Options — параметры прогона.
type Options struct {
	// Today — текущая дата прогона. Нулевое значение — текущая дата UTC.
	Today time.Time

	// Concurrency — максимум параллельно вычисляемых задач.
	Concurrency int

	// Engine — движок выражений. nil — движок со стандартными функциями.
	Engine *expr.Engine

	// Globals — дополнительные глобальные имена (из конфигурации).
	Globals map[string]expr.Value

	// Planner — планировщик согласования для jira_issue и pipeline_run.
	Planner Planner

	// Logger — логгер прогона. nil — логгер из контекста.
	Logger *slog.Logger
}

// Planner согласует внешние объекты с задачей.
//
// Вызывается вычислителем при достижении пререквизита jira_issue или
// pipeline_run. Реализация: reconcile.Planner.
type Planner interface {
	Issue(ctx context.Context, task *Task, p *domain.JiraIssue) (*Outcome, error)
	PipelineRun(ctx context.Context, task *Task, p *domain.PipelineRun) (*Outcome, error)
}

// Outcome — результат согласования одного пререквизита.
type Outcome struct {
	// State — Completed, если объект в финальном состоянии, иначе InProgress.
	State domain.TaskState

	// Touched — ключи найденных или созданных issue.
	Touched []string

	// Bind — имена, которые нужно связать в области видимости задачи.
	Bind map[string]expr.Value

	// Details — данные для отчёта по шагу.
	Details map[string]any
}

// RunContext — состояние одного прогона: дата, движок, общий слой имён.
//
// Передаётся явно во все компоненты; параллельные прогоны (например,
// в тестах) не разделяют состояние.
type RunContext struct {
	Today  time.Time
	Engine *expr.Engine
	Logger *slog.Logger

	scope *expr.Scope
}

// NewRunContext создаёт контекст прогона.
func NewRunContext(opts Options) *RunContext {
	today := opts.Today
	if today.IsZero() {
		today = time.Now().UTC()
	}
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	engine := opts.Engine
	if engine == nil {
		engine = expr.New(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	scope := expr.NewScope()
	scope.Set(VarToday, expr.Date(today))
	scope.SetAll(expr.Weekdays())
	scope.SetAll(opts.Globals)

	return &RunContext{Today: today, Engine: engine, Logger: logger, scope: scope}
}

// Scope возвращает общий слой имён прогона (только для чтения).
func (rc *RunContext) Scope() *expr.Scope {
	return rc.scope
}
