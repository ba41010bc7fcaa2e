package rules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/engine"
	"github.com/release-engineering/retasc/internal/expr"
)

// ValidateOptions — параметры статической проверки.
type ValidateOptions struct {
	// Engine — движок выражений (реестр функций). nil — стандартный.
	Engine *expr.Engine

	// JiraTemplatePath — каталог шаблонов issue. Пусто — файлы не проверяются.
	JiraTemplatePath string

	// PipelineRunTemplatePath — каталог шаблонов pipeline run.
	PipelineRunTemplatePath string

	// JiraLabelPrefix — зарезервированный префикс меток.
	JiraLabelPrefix string
}

// Validate проверяет правила без обращения к внешним сервисам.
//
// Проверяются: синтаксис и имена всех выражений и шаблонов (включая
// файлы шаблонов), существование правил из rule:, отсутствие циклов,
// совместимость release key при rule:, уникальность jira_issue id.
// Возвращаются все найденные ошибки.
func Validate(rules []*domain.Rule, opts ValidateOptions) []error {
	if opts.Engine == nil {
		opts.Engine = expr.New(nil)
	}
	v := &validator{opts: opts, byName: make(map[string]*domain.Rule, len(rules))}
	for _, r := range rules {
		v.byName[r.Name] = r
	}

	if _, err := engine.BuildRuleGraph(rules); err != nil {
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			v.errs = append(v.errs, joined.Unwrap()...)
		} else {
			v.errs = append(v.errs, err)
		}
	}

	issueIDs := make(map[string]string)
	for _, r := range rules {
		v.validateRule(r)
		v.checkIssueIDs(r, issueIDs)
	}
	return v.errs
}

type validator struct {
	opts   ValidateOptions
	byName map[string]*domain.Rule
	errs   []error
}

func (v *validator) fail(r *domain.Rule, where string, err error) {
	msg := err.Error()
	if where != "" {
		msg = where + ": " + msg
	}
	v.errs = append(v.errs, &RuleLoadError{File: r.File, Rule: r.Name, Msg: msg, Err: err})
}

// names — множество имён, видимых в точке цепочки.
type names map[string]bool

func (n names) clone() names {
	c := make(names, len(n))
	for k := range n {
		c[k] = true
	}
	return c
}

func (n names) add(list ...string) {
	for _, k := range list {
		n[k] = true
	}
}

// runNames — имена, доступные до развёртывания входов.
func runNames() names {
	n := names{}
	n.add(engine.RunNames()...)
	return n
}

func (v *validator) checkRefs(refs expr.Refs, src string, known names) error {
	var errs []error
	for _, name := range refs.Names {
		if !known[name] {
			errs = append(errs, &expr.ExpressionError{
				Source: src, Path: name, Msg: fmt.Sprintf("%q is undefined", name), Err: expr.ErrUndefined,
			})
		}
	}
	for _, fn := range refs.Funcs {
		if !v.opts.Engine.Funcs().Has(fn) {
			errs = append(errs, &expr.ExpressionError{
				Source: src, Path: fn, Msg: fmt.Sprintf("unknown function %q", fn), Err: expr.ErrUndefined,
			})
		}
	}
	return errors.Join(errs...)
}

func (v *validator) checkExpr(src string, known names) error {
	refs, err := v.opts.Engine.Refs(src)
	if err != nil {
		return err
	}
	return v.checkRefs(refs, src, known)
}

func (v *validator) checkTemplate(src string, known names) error {
	refs, err := v.opts.Engine.TemplateRefs(src)
	if err != nil {
		return err
	}
	return v.checkRefs(refs, src, known)
}

// checkAny проверяет все строки во вложенной структуре как шаблоны.
func (v *validator) checkAny(x any, known names) error {
	switch t := x.(type) {
	case string:
		return v.checkTemplate(t, known)
	case []any:
		var errs []error
		for _, item := range t {
			errs = append(errs, v.checkAny(item, known))
		}
		return errors.Join(errs...)
	case map[string]any:
		var errs []error
		for _, k := range sortedKeys(t) {
			errs = append(errs, v.checkAny(t[k], known))
		}
		return errors.Join(errs...)
	case map[string]string:
		var errs []error
		for _, val := range t {
			errs = append(errs, v.checkTemplate(val, known))
		}
		return errors.Join(errs...)
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (v *validator) checkRequest(req domain.HTTPRequest, known names) error {
	return errors.Join(
		v.checkTemplate(req.URL, known),
		v.checkAny(req.Params, known),
		v.checkAny(req.Headers, known),
		v.checkAny(req.Data, known),
	)
}

// inputNames возвращает имена, общие для всех входов правила:
// задача получает имена только одного входа.
func (v *validator) inputNames(r *domain.Rule) names {
	var common names
	for _, in := range r.Inputs {
		cur := names{}
		cur.add(engine.InputNames(in)...)
		if common == nil {
			common = cur
			continue
		}
		for k := range common {
			if !cur[k] {
				delete(common, k)
			}
		}
	}
	return common
}

func (v *validator) validateRule(r *domain.Rule) {
	run := runNames()

	for i, in := range r.Inputs {
		where := fmt.Sprintf("inputs[%d]", i)
		var err error
		switch in := in.(type) {
		case *domain.ProductInput:
			known := run.clone()
			known.add("product", "release", "major", "minor")
			for _, tmpl := range in.JiraLabelTemplates {
				err = errors.Join(err, v.checkTemplate(tmpl, known))
			}
		case *domain.HTTPInput:
			err = v.checkRequest(in.Request, run)
			known := run.clone()
			known.add("http_data")
			err = errors.Join(err, v.checkExpr(in.Extract, known))
		case *domain.JiraIssuesInput:
			err = v.checkTemplate(in.JQL, run)
		}
		if err != nil {
			v.fail(r, where, err)
		}
	}

	known := run.clone()
	for k := range v.inputNames(r) {
		known[k] = true
	}

	for _, p := range r.Prerequisites {
		if err := v.validatePrerequisite(r, p, known); err != nil {
			v.fail(r, p.Label(), err)
		}
		known.add(engine.PrerequisiteNames(p)...)
	}
}

func (v *validator) validatePrerequisite(r *domain.Rule, p domain.Prerequisite, known names) error {
	switch p := p.(type) {
	case *domain.Condition:
		return v.checkExpr(p.Expr, known)

	case *domain.ScheduleTask:
		return v.checkTemplate(p.Name, known)

	case *domain.TargetDate:
		return v.checkExpr(p.Expr, known)

	case *domain.Variable:
		return v.checkExpr(p.Expr, known)

	case *domain.VariableString:
		return v.checkTemplate(p.Template, known)

	case *domain.RuleRef:
		return v.checkShape(r, p.Rule)

	case *domain.HTTPCall:
		return v.checkRequest(p.Request, known)

	case *domain.JiraIssue:
		err := errors.Join(
			v.checkTemplate(p.ID, known),
			v.checkIssueBody(p.Template, p.Fields, known),
			v.checkTemplate(p.Status, known),
			v.checkTemplate(p.Comment, known),
		)
		for _, st := range p.Subtasks {
			err = errors.Join(err,
				v.checkTemplate(st.ID, known),
				v.checkIssueBody(st.Template, st.Fields, known),
			)
		}
		return err

	case *domain.PipelineRun:
		err := errors.Join(
			v.checkTemplate(p.ID, known),
			v.checkTemplate(p.Namespace, known),
		)
		withRun := known.clone()
		withRun.add("pipeline_run_name", "pipeline_run_namespace")
		return errors.Join(err, v.checkTemplateFile(v.opts.PipelineRunTemplatePath, p.Template, withRun))
	}
	return nil
}

func (v *validator) checkIssueBody(template string, fields map[string]any, known names) error {
	err := v.checkAny(fields, known)
	if labels, ok := fields["labels"].([]any); ok && v.opts.JiraLabelPrefix != "" {
		for _, l := range labels {
			if s, ok := l.(string); ok && strings.HasPrefix(s, v.opts.JiraLabelPrefix) {
				err = errors.Join(err, fmt.Errorf("label %q uses reserved prefix %q", s, v.opts.JiraLabelPrefix))
			}
		}
	}
	if template != "" {
		err = errors.Join(err, v.checkTemplateFile(v.opts.JiraTemplatePath, template, known))
	}
	return err
}

// checkTemplateFile проверяет, что файл шаблона существует, и его имена.
func (v *validator) checkTemplateFile(dir, name string, known names) error {
	if dir == "" || name == "" {
		return nil
	}
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrMissingTemplate, path)
	}
	if err := v.checkTemplate(string(data), known); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// checkShape проверяет, что правило target может породить release key
// каждой задачи правила r: у target должен быть вход того же вида, а
// для product, variables и http ещё и с тем же содержимым.
func (v *validator) checkShape(r *domain.Rule, target string) error {
	t, ok := v.byName[target]
	if !ok {
		// отсутствующее правило уже отмечено при построении графа
		return nil
	}
	var missing []string
	for _, in := range r.Inputs {
		if !slices.ContainsFunc(t.Inputs, func(tin domain.Input) bool { return engine.InputsMatch(in, tin) }) {
			missing = append(missing, describeInput(in))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: rule %q has no input matching %s", ErrReleaseShape, target, strings.Join(missing, ", "))
	}
	return nil
}

// describeInput — краткое описание входа для сообщений об ошибках.
func describeInput(in domain.Input) string {
	switch in := in.(type) {
	case *domain.ProductInput:
		return fmt.Sprintf("product %q", in.Product)
	case *domain.VariablesInput:
		if in.Variables == nil || in.Variables.Len() == 0 {
			return "variables {}"
		}
		return "variables {" + strings.Join(in.Variables.Keys(), ", ") + "}"
	case *domain.HTTPInput:
		return fmt.Sprintf("http %q", in.Request.URL)
	}
	return engine.InputShape(in)
}

// checkIssueIDs отмечает jira_issue id, уже использованные в других местах.
func (v *validator) checkIssueIDs(r *domain.Rule, seen map[string]string) {
	for _, p := range r.Prerequisites {
		issue, ok := p.(*domain.JiraIssue)
		if !ok {
			continue
		}
		ids := []string{issue.ID}
		for _, st := range issue.Subtasks {
			ids = append(ids, st.ID)
		}
		for _, id := range ids {
			if owner, dup := seen[id]; dup {
				v.fail(r, issue.Label(), fmt.Errorf("%w: %q (also in rule %q)", ErrDuplicateIssueID, id, owner))
				continue
			}
			seen[id] = r.Name
		}
	}
}
