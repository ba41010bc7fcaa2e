package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/expr"
	"github.com/release-engineering/retasc/internal/telemetry"
)

// Evaluator вычисляет цепочку пререквизитов задачи.
type Evaluator struct {
	rc       *RunContext
	collab   domain.Collaborators
	planner  Planner
	resolver *Resolver
}

// step — итог одного пререквизита.
type step struct {
	state   domain.TaskState // пусто — не блокирует
	stop    bool
	details map[string]any
	touched []string
}

// Evaluate вычисляет задачу.
//
// Состояние определяется первым блокирующим пререквизитом в порядке
// объявления. После Pending ничего не вычисляется, поэтому jira_issue
// и pipeline_run не выполняются для задач, которые ещё не "в окне".
// Ошибка выражения или внешнего сервиса делает задачу Errored.
//
// Возвращаемая ошибка фатальна для прогона (цикл правил).
func (ev *Evaluator) Evaluate(ctx context.Context, task *Task) (domain.TaskResult, error) {
	result := domain.TaskResult{Rule: task.Rule.Name, ReleaseKey: task.Key}
	logger := telemetry.WithRelease(telemetry.WithRule(telemetry.FromContext(ctx), task.Rule.Name), string(task.Key))

	var blocked domain.TaskState
	condition := expr.Null()

	for _, p := range task.Rule.Prerequisites {
		if blocked == domain.StatePending {
			break
		}

		st, err := ev.step(ctx, task, p, blocked)
		if err != nil {
			var cycle *CycleError
			if errors.As(err, &cycle) {
				return result, err
			}
			logger.Warn("prerequisite failed", "prerequisite", p.Label(), "error", err)
			blocked = domain.StateErrored
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", p.Label(), err))
			result.Steps = append(result.Steps, domain.StepReport{Prerequisite: p.Label(), State: domain.StateErrored})
			break
		}

		if _, ok := p.(*domain.Condition); ok {
			condition = expr.Bool(st.state == "")
		}
		blocked = blocked.Raise(st.state)
		result.IssuesTouched = append(result.IssuesTouched, st.touched...)

		stepState := st.state
		if stepState == "" {
			stepState = domain.StateCompleted
		}
		result.Steps = append(result.Steps, domain.StepReport{
			Prerequisite: p.Label(),
			State:        stepState,
			Details:      st.details,
		})

		running := blocked
		if running == "" {
			running = domain.StateCompleted
		}
		setReport(task.Scope, running, condition)

		if st.stop {
			break
		}
	}

	result.State = blocked
	if result.State == "" {
		result.State = domain.StateCompleted
	}
	logger.Debug("task evaluated", "state", result.State)
	telemetry.ObserveTask(task.Rule.Name, string(result.State))
	return result, nil
}

func (ev *Evaluator) step(ctx context.Context, task *Task, p domain.Prerequisite, blocked domain.TaskState) (step, error) {
	switch p := p.(type) {
	case *domain.Condition:
		ok, err := task.Engine.EvalBool(p.Expr, task.Scope)
		if err != nil {
			return step{}, err
		}
		if !ok {
			return step{state: domain.StatePending, stop: true, details: map[string]any{"result": false}}, nil
		}
		return step{details: map[string]any{"result": true}}, nil

	case *domain.ScheduleTask:
		return ev.scheduleTask(ctx, task, p)

	case *domain.TargetDate:
		return ev.targetDate(task, p)

	case *domain.Variable:
		v, err := task.Eval(p.Expr)
		if err != nil {
			return step{}, err
		}
		task.Scope.Set(p.Name, v)
		return step{}, nil

	case *domain.VariableString:
		s, err := task.Render(p.Template)
		if err != nil {
			return step{}, err
		}
		task.Scope.Set(p.Name, expr.String(s))
		return step{}, nil

	case *domain.RuleRef:
		return ev.ruleRef(ctx, task, p)

	case *domain.HTTPCall:
		return ev.httpCall(ctx, task, p)

	case *domain.JiraIssue:
		if ev.planner == nil {
			return step{}, domain.NewCollaboratorError("tracker", "reconcile", domain.ErrNotConfigured)
		}
		out, err := ev.planner.Issue(ctx, task, p)
		if err != nil {
			return step{}, err
		}
		return applyOutcome(task, out), nil

	case *domain.PipelineRun:
		if ev.planner == nil {
			return step{}, domain.NewCollaboratorError("pipeline", "reconcile", domain.ErrNotConfigured)
		}
		out, err := ev.planner.PipelineRun(ctx, task, p)
		if err != nil {
			return step{}, err
		}
		return applyOutcome(task, out), nil
	}
	return step{}, fmt.Errorf("unsupported prerequisite %q", p.Kind())
}

// applyOutcome связывает имена из результата согласования.
// Состояние согласования только повышает текущее; цепочка продолжается.
func applyOutcome(task *Task, out *Outcome) step {
	for _, k := range expr.MapOf(out.Bind).Keys() {
		task.Scope.Set(k, out.Bind[k])
	}
	state := out.State
	if state == domain.StateCompleted {
		state = ""
	}
	return step{state: state, details: out.Details, touched: out.Touched}
}

func (ev *Evaluator) scheduleTask(ctx context.Context, task *Task, p *domain.ScheduleTask) (step, error) {
	product, release, err := productRelease(task.Scope)
	if err != nil {
		return step{}, err
	}
	name, err := task.Render(p.Name)
	if err != nil {
		return step{}, err
	}
	if ev.collab.Schedule == nil {
		return step{}, domain.NewCollaboratorError("schedule", "get milestone", domain.ErrNotConfigured)
	}

	ms, err := ev.collab.Schedule.GetMilestone(ctx, product, release, name)
	telemetry.ObserveCall("schedule", "get milestone", err)
	if errors.Is(err, domain.ErrNotFound) {
		return step{
			state:   domain.StatePending,
			stop:    true,
			details: map[string]any{"schedule_task": name, "note": "milestone not found"},
		}, nil
	}
	if err != nil {
		return step{}, domain.NewCollaboratorError("schedule", "get milestone", err)
	}

	milestone := expr.NewMap()
	milestone.Set("name", expr.String(ms.Name))
	milestone.Set("slug", expr.String(ms.Slug))
	milestone.Set("start_date", expr.Date(ms.StartDate))
	milestone.Set("end_date", expr.Date(ms.EndDate))
	milestone.Set("is_draft", expr.Bool(ms.IsDraft))

	task.Scope.Set("schedule_task", expr.String(name))
	task.Scope.Set("start_date", expr.Date(ms.StartDate))
	task.Scope.Set("end_date", expr.Date(ms.EndDate))
	task.Scope.Set("schedule_task_is_draft", expr.Bool(ms.IsDraft))
	task.Scope.Set("milestone", expr.MapValue(milestone))

	details := map[string]any{
		"schedule_task": name,
		"start_date":    ms.StartDate.Format(expr.DateLayout),
		"end_date":      ms.EndDate.Format(expr.DateLayout),
	}
	if ms.IsDraft && !p.IgnoreDrafts {
		details["note"] = "milestone is a draft"
		return step{state: domain.StatePending, stop: true, details: details}, nil
	}
	return step{details: details}, nil
}

// productRelease возвращает product и release из области видимости задачи.
func productRelease(scope *expr.Scope) (string, string, error) {
	var out [2]string
	for i, name := range []string{"product", "release"} {
		v, ok := scope.Lookup(name)
		if !ok {
			return "", "", &expr.ExpressionError{
				Source: name,
				Msg:    fmt.Sprintf("%q is undefined: schedule_task requires a product input", name),
				Err:    expr.ErrUndefined,
			}
		}
		out[i] = v.String()
	}
	return out[0], out[1], nil
}

func (ev *Evaluator) targetDate(task *Task, p *domain.TargetDate) (step, error) {
	v, err := task.Eval(p.Expr)
	if err != nil {
		return step{}, err
	}
	target, ok := v.AsDate()
	if !ok {
		return step{}, &expr.ExpressionError{
			Source: p.Expr,
			Msg:    fmt.Sprintf("target date must be a date, got %s", v.Kind()),
			Err:    expr.ErrType,
		}
	}

	remaining := int(target.Sub(ev.rc.Today).Hours() / 24)
	task.Scope.Set("target_date", expr.Date(target))
	task.Scope.Set("days_remaining", expr.Int(remaining))

	details := map[string]any{"target_date": target.Format(expr.DateLayout), "days_remaining": remaining}
	if ev.rc.Today.Before(target) {
		return step{state: domain.StatePending, stop: true, details: details}, nil
	}
	return step{details: details}, nil
}

// ruleRef вычисляет зависимое правило для того же release key.
// Любое состояние, кроме Completed, останавливает цепочку.
func (ev *Evaluator) ruleRef(ctx context.Context, task *Task, p *domain.RuleRef) (step, error) {
	dep, err := ev.resolver.Resolve(ctx, p.Rule, task.Key)
	if err != nil {
		return step{}, err
	}
	details := map[string]any{"rule": p.Rule, "state": string(dep.State)}
	if len(dep.Errors) > 0 {
		details["errors"] = dep.Errors
	}

	switch dep.State {
	case domain.StateCompleted:
		return step{details: details}, nil
	case domain.StateErrored:
		return step{}, fmt.Errorf("dependent rule %q errored", p.Rule)
	default:
		return step{state: dep.State, stop: true, details: details}, nil
	}
}

func (ev *Evaluator) httpCall(ctx context.Context, task *Task, p *domain.HTTPCall) (step, error) {
	if ev.collab.Fetcher == nil {
		return step{}, domain.NewCollaboratorError("http", "fetch", domain.ErrNotConfigured)
	}
	req, err := renderRequest(task.Engine, task.Scope, p.Request)
	if err != nil {
		return step{}, err
	}
	resp, err := ev.collab.Fetcher.Fetch(ctx, req)
	telemetry.ObserveCall("http", "fetch", err)
	if err != nil {
		return step{}, domain.NewCollaboratorError("http", req.Method+" "+req.URL, err)
	}
	task.Scope.Set("http_response", responseValue(resp, true))
	return step{details: map[string]any{"url": req.URL, "status_code": resp.StatusCode}}, nil
}
