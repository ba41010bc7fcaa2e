package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/engine"
	"github.com/release-engineering/retasc/internal/expr"
	"github.com/release-engineering/retasc/internal/telemetry"
)

// Config — параметры согласования.
type Config struct {
	// LabelPrefix — префикс меток идентичности (jira_label_prefix).
	LabelPrefix string

	// ManagedLabel — метка всех issue, созданных системой.
	ManagedLabel string

	// Fields — отображение имён полей в поля Jira (jira_fields).
	// Пустое — имена передаются как есть.
	Fields map[string]string

	JiraTemplatePath        string
	PipelineRunTemplatePath string

	// PipelineRunNamePrefix добавляется к отрендеренному id pipeline run.
	PipelineRunNamePrefix string

	// DefaultNamespace — namespace pipeline run, если не задан в правиле.
	DefaultNamespace string

	// ResultImage — образ с oc для finally-задачи, сохраняющей итог run.
	ResultImage string
}

// Planner согласует issue и pipeline run задач с внешними сервисами.
//
// Реализует engine.Planner. Запись в объект одной идентичности
// сериализуется; все затронутые issue запоминаются для Prune.
type Planner struct {
	cfg      Config
	tracker  domain.Tracker
	pipeline domain.PipelineRunner
	logger   *slog.Logger

	locks *keyedMutex

	mu        sync.Mutex
	touched   map[string]bool
	templates map[string]string
}

// New создаёт Planner. tracker и pipeline могут быть nil, если
// соответствующие пререквизиты не используются.
func New(cfg Config, tracker domain.Tracker, pipeline domain.PipelineRunner, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		cfg:       cfg,
		tracker:   tracker,
		pipeline:  pipeline,
		logger:    logger,
		locks:     newKeyedMutex(),
		touched:   make(map[string]bool),
		templates: make(map[string]string),
	}
}

var _ engine.Planner = (*Planner)(nil)

// Touched возвращает ключи issue, затронутых в этом прогоне.
func (p *Planner) Touched() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.touched))
	for k := range p.touched {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p *Planner) touch(keys ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range keys {
		p.touched[k] = true
	}
}

// IdentityLabel возвращает метку идентичности для отрендеренного id.
func (p *Planner) IdentityLabel(id string) string {
	return p.cfg.LabelPrefix + id
}

// issueAction — что сделано с issue.
type issueAction string

const (
	actionCreated   issueAction = "created"
	actionUpdated   issueAction = "updated"
	actionUnchanged issueAction = "unchanged"
	actionResolved  issueAction = "resolved"
)

// syncResult — итог согласования одного issue.
type syncResult struct {
	issue   *domain.Issue
	action  issueAction
	changed []string
}

// Issue согласует issue пререквизита jira_issue и его подзадачи.
//
// Решённый issue даёт Completed, подзадачи не обрабатываются.
// Иначе поля рендерятся и сравниваются с текущими, записываются только
// изменённые; отсутствующий issue создаётся. Результат — InProgress.
func (p *Planner) Issue(ctx context.Context, task *engine.Task, spec *domain.JiraIssue) (*engine.Outcome, error) {
	if p.tracker == nil {
		return nil, domain.NewCollaboratorError("tracker", "reconcile", domain.ErrNotConfigured)
	}

	id, err := renderID(task, spec.ID)
	if err != nil {
		return nil, err
	}
	scopeLabels := scopeLabels(task)

	res, err := p.syncIssue(ctx, task, id, spec.Template, spec.Fields, scopeLabels, nil)
	if err != nil {
		return nil, err
	}

	resolved := res.action == actionResolved
	touched := []string{res.issue.Key}

	details := map[string]any{
		"id":     id,
		"key":    res.issue.Key,
		"action": string(res.action),
	}
	if len(res.changed) > 0 {
		details["changed"] = res.changed
	}

	// статус меняется и у решённого issue, комментарий только у открытого
	current, err := p.syncWorkflow(ctx, task, id, spec, res.issue, resolved, details)
	if err != nil {
		return nil, err
	}

	issues := currentIssues(task)
	issues.Set(id, issueValue(current, resolved))

	state := domain.StateInProgress
	if resolved {
		state = domain.StateCompleted
	} else {
		var subtasks []map[string]any
		for _, st := range spec.Subtasks {
			subID, err := renderID(task, st.ID)
			if err != nil {
				return nil, fmt.Errorf("subtask: %w", err)
			}
			sub, err := p.syncIssue(ctx, task, subID, st.Template, st.Fields, scopeLabels, res.issue)
			if err != nil {
				return nil, fmt.Errorf("subtask %q of %s: %w", subID, res.issue.Key, err)
			}
			issues.Set(subID, issueValue(sub.issue, sub.action == actionResolved))
			touched = append(touched, sub.issue.Key)
			subtasks = append(subtasks, map[string]any{"id": subID, "key": sub.issue.Key, "action": string(sub.action)})
		}
		if len(subtasks) > 0 {
			details["subtasks"] = subtasks
		}
	}

	p.touch(touched...)
	return &engine.Outcome{
		State:   state,
		Touched: touched,
		Bind:    map[string]expr.Value{engine.VarIssues: expr.MapValue(issues)},
		Details: details,
	}, nil
}

// syncWorkflow применяет status и comment пререквизита к issue и
// возвращает issue с новым статусом.
func (p *Planner) syncWorkflow(
	ctx context.Context,
	task *engine.Task,
	id string,
	spec *domain.JiraIssue,
	issue *domain.Issue,
	resolved bool,
	details map[string]any,
) (*domain.Issue, error) {
	if spec.Status == "" && (spec.Comment == "" || resolved) {
		return issue, nil
	}
	unlock := p.locks.Lock(p.IdentityLabel(id))
	defer unlock()

	if spec.Status != "" {
		desired, err := task.Render(spec.Status)
		if err != nil {
			return nil, err
		}
		desired = strings.TrimSpace(desired)
		moved, err := p.syncStatus(ctx, issue, desired, spec.Transitions)
		if err != nil {
			return nil, err
		}
		if moved {
			details["status_transition"] = desired
			issue = &domain.Issue{Key: issue.Key, Fields: withField(issue.Fields, "status", map[string]any{"name": desired})}
		}
	}

	if spec.Comment != "" && !resolved {
		body, err := task.Render(spec.Comment)
		if err != nil {
			return nil, err
		}
		if body = strings.TrimSpace(body); body != "" {
			status, err := p.syncComment(ctx, task, issue, body)
			if err != nil {
				return nil, err
			}
			details["comment_status"] = status
		}
	}
	return issue, nil
}

// withField возвращает копию fields с полем key.
func withField(fields map[string]any, key string, v any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, val := range fields {
		out[k] = val
	}
	out[key] = v
	return out
}

// syncIssue находит issue по метке идентичности и приводит его поля
// к желаемым. parent != nil — подзадача.
func (p *Planner) syncIssue(
	ctx context.Context,
	task *engine.Task,
	id, template string,
	inline map[string]any,
	scopeLabels []string,
	parent *domain.Issue,
) (*syncResult, error) {
	identity := p.IdentityLabel(id)
	unlock := p.locks.Lock(identity)
	defer unlock()

	lookup := append([]string{identity}, scopeLabels...)
	existing, err := p.tracker.FindByLabels(ctx, lookup...)
	telemetry.ObserveCall("tracker", "find", err)
	if err != nil {
		return nil, domain.NewCollaboratorError("tracker", "find "+identity, err)
	}
	if existing != nil && p.tracker.IsResolved(existing) {
		return &syncResult{issue: existing, action: actionResolved}, nil
	}

	fields, labels, err := p.renderFields(task, template, inline)
	if err != nil {
		return nil, err
	}
	if parent != nil {
		fields["parent"] = map[string]any{"key": parent.Key}
	}
	desiredLabels := unionLabels([]string{p.cfg.ManagedLabel, identity}, scopeLabels, labels)

	if existing == nil {
		fields["labels"] = desiredLabels
		created, err := p.tracker.Create(ctx, fields)
		telemetry.ObserveCall("tracker", "create", err)
		if err != nil {
			return nil, domain.NewCollaboratorError("tracker", "create "+identity, err)
		}
		p.logger.Info("issue created", "key", created.Key, "label", identity, "rule", task.Rule.Name)
		return &syncResult{issue: created, action: actionCreated}, nil
	}

	changed := diffFields(fields, existing.Fields)
	if !sameLabels(desiredLabels, existing.Labels()) {
		changed["labels"] = desiredLabels
	}
	if len(changed) == 0 {
		return &syncResult{issue: existing, action: actionUnchanged}, nil
	}

	if err := p.tracker.Update(ctx, existing.Key, changed); err != nil {
		telemetry.ObserveCall("tracker", "update", err)
		return nil, domain.NewCollaboratorError("tracker", "update "+existing.Key, err)
	}
	telemetry.ObserveCall("tracker", "update", nil)
	names := sortedKeys(changed)
	p.logger.Info("issue updated", "key", existing.Key, "fields", names, "rule", task.Rule.Name)

	updated := &domain.Issue{Key: existing.Key, Fields: make(map[string]any, len(existing.Fields))}
	for k, v := range existing.Fields {
		updated.Fields[k] = v
	}
	for k, v := range changed {
		updated.Fields[k] = v
	}
	return &syncResult{issue: updated, action: actionUpdated, changed: names}, nil
}

// renderID рендерит шаблон id.
func renderID(task *engine.Task, tmpl string) (string, error) {
	id, err := task.Render(tmpl)
	if err != nil {
		return "", err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: %q", ErrEmptyID, tmpl)
	}
	return id, nil
}

// scopeLabels возвращает jira_labels задачи (product-вход).
func scopeLabels(task *engine.Task) []string {
	v, ok := task.Scope.Lookup("jira_labels")
	if !ok {
		return nil
	}
	return toStrings(v.ToGo())
}

// currentIssues возвращает копию переменной issues задачи.
func currentIssues(task *engine.Task) *expr.Map {
	if v, ok := task.Scope.Lookup(engine.VarIssues); ok {
		if m, ok := v.AsMap(); ok {
			return m.Clone()
		}
	}
	return expr.NewMap()
}

func issueValue(issue *domain.Issue, resolved bool) expr.Value {
	m := expr.NewMap()
	m.Set("key", expr.String(issue.Key))
	m.Set("fields", expr.FromGo(issue.Fields))
	m.Set("resolved", expr.Bool(resolved))
	return expr.MapValue(m)
}
