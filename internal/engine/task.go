package engine

import (
	"fmt"
	"sort"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/expr"
)

// Task — правило, применённое к одному экземпляру входа.
type Task struct {
	Rule  *domain.Rule
	Key   domain.ReleaseKey
	Scope *expr.Scope

	// Engine — движок выражений прогона.
	Engine *expr.Engine
}

// ID возвращает идентификатор задачи "<rule>@<release key>".
func (t *Task) ID() string {
	return t.Rule.Name + "@" + string(t.Key)
}

// Eval вычисляет выражение в области видимости задачи.
func (t *Task) Eval(src string) (expr.Value, error) {
	return t.Engine.Eval(src, t.Scope)
}

// Render рендерит шаблон в области видимости задачи.
func (t *Task) Render(src string) (string, error) {
	return t.Engine.Render(src, t.Scope)
}

// RenderAny рендерит все строки во вложенной структуре.
func (t *Task) RenderAny(x any) (any, error) {
	return RenderAny(t.Engine, t.Scope, x)
}

// newTask создаёт задачу с областью видимости поверх слоя прогона.
func newTask(rc *RunContext, rule *domain.Rule, in *TaskInput) *Task {
	scope := rc.Scope().Derive()
	scope.Set(VarRuleName, expr.String(rule.Name))
	scope.Set(VarRuleFile, expr.String(rule.File))
	scope.Set(VarReleaseKey, expr.String(string(in.Key)))
	scope.Set(VarIssues, expr.MapValue(expr.NewMap()))
	setReport(scope, domain.StateCompleted, expr.Null())
	if in.Vars != nil {
		for _, k := range in.Vars.Keys() {
			v, _ := in.Vars.Get(k)
			scope.Set(k, v)
		}
	}
	return &Task{Rule: rule, Key: in.Key, Scope: scope, Engine: rc.Engine}
}

// setReport обновляет переменную report: текущее состояние и результат
// последнего condition.
func setReport(scope *expr.Scope, state domain.TaskState, result expr.Value) {
	scope.Set(VarReport, expr.MapValue(expr.MapOf(map[string]expr.Value{
		"state":  expr.String(string(state)),
		"result": result,
	})))
}

// RenderAny рендерит строки во вложенной структуре (map/list) как шаблоны.
// Остальные значения возвращаются без изменений.
func RenderAny(e *expr.Engine, env expr.Env, x any) (any, error) {
	switch t := x.(type) {
	case string:
		return e.Render(t, env)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			v, err := RenderAny(e, env, item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, err := RenderAny(e, env, t[k])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = v
		}
		return out, nil
	}
	return x, nil
}

// renderRequest рендерит шаблон HTTP-запроса.
func renderRequest(e *expr.Engine, env expr.Env, req domain.HTTPRequest) (domain.FetchRequest, error) {
	out := domain.FetchRequest{Method: req.Method}
	if out.Method == "" {
		out.Method = "GET"
	}

	url, err := e.Render(req.URL, env)
	if err != nil {
		return out, err
	}
	out.URL = url

	if len(req.Params) > 0 {
		out.Params = make(map[string]string, len(req.Params))
		for k, v := range req.Params {
			rendered, err := RenderAny(e, env, v)
			if err != nil {
				return out, err
			}
			out.Params[k] = expr.FromGo(rendered).String()
		}
	}

	if len(req.Headers) > 0 {
		out.Headers = make(map[string]string, len(req.Headers))
		for k, v := range req.Headers {
			rendered, err := e.Render(v, env)
			if err != nil {
				return out, err
			}
			out.Headers[k] = rendered
		}
	}

	if req.Data != nil {
		body, err := RenderAny(e, env, req.Data)
		if err != nil {
			return out, err
		}
		out.Body = body
	}
	return out, nil
}

// responseValue преобразует HTTP-ответ в значение выражений.
func responseValue(resp *domain.FetchResponse, withBody bool) expr.Value {
	m := expr.NewMap()
	m.Set("status_code", expr.Int(resp.StatusCode))
	m.Set("headers", expr.FromGo(resp.Headers))
	if withBody {
		m.Set("body", bodyValue(resp))
	}
	return expr.MapValue(m)
}

func bodyValue(resp *domain.FetchResponse) expr.Value {
	if resp.Body != nil {
		return expr.FromGo(resp.Body)
	}
	return expr.String(string(resp.Raw))
}
