package reconcile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/release-engineering/retasc/internal/engine"
	"github.com/release-engineering/retasc/internal/expr"
)

// loadTemplate читает файл шаблона (с кэшем на время жизни Planner).
func (p *Planner) loadTemplate(dir, name string) (string, error) {
	path := filepath.Join(dir, name)

	p.mu.Lock()
	src, ok := p.templates[path]
	p.mu.Unlock()
	if ok {
		return src, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTemplate, err)
	}
	p.mu.Lock()
	p.templates[path] = string(data)
	p.mu.Unlock()
	return string(data), nil
}

// renderYAML рендерит шаблон-файл и разбирает результат как YAML-объект.
func (p *Planner) renderYAML(task *engine.Task, env expr.Env, dir, name string) (map[string]any, error) {
	src, err := p.loadTemplate(dir, name)
	if err != nil {
		return nil, err
	}
	rendered, err := task.Engine.Render(src, env)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	out := map[string]any{}
	if err := yaml.Unmarshal([]byte(rendered), &out); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTemplate, name, err)
	}
	return out, nil
}

// renderFields собирает поля issue: шаблон-файл, поверх него fields.
// Метки возвращаются отдельно.
func (p *Planner) renderFields(task *engine.Task, template string, inline map[string]any) (map[string]any, []string, error) {
	fields := map[string]any{}
	if template != "" {
		tmpl, err := p.renderYAML(task, task.Scope, p.cfg.JiraTemplatePath, template)
		if err != nil {
			return nil, nil, err
		}
		for k, v := range tmpl {
			fields[k] = v
		}
	}
	if len(inline) > 0 {
		rendered, err := task.RenderAny(inline)
		if err != nil {
			return nil, nil, err
		}
		for k, v := range rendered.(map[string]any) {
			fields[k] = v
		}
	}

	var labels []string
	if raw, ok := fields["labels"]; ok {
		delete(fields, "labels")
		for _, l := range toStrings(raw) {
			if p.cfg.LabelPrefix != "" && strings.HasPrefix(l, p.cfg.LabelPrefix) {
				return nil, nil, fmt.Errorf("%w: %q (prefix %q)", ErrReservedLabel, l, p.cfg.LabelPrefix)
			}
			labels = append(labels, l)
		}
	}

	mapped, err := p.mapFields(fields)
	if err != nil {
		return nil, nil, err
	}
	return mapped, labels, nil
}

// mapFields переводит имена полей через jira_fields.
// Без отображения имена передаются как есть.
func (p *Planner) mapFields(fields map[string]any) (map[string]any, error) {
	if len(p.cfg.Fields) == 0 {
		return fields, nil
	}
	out := make(map[string]any, len(fields))
	var unsupported []string
	for name, v := range fields {
		id, ok := p.cfg.Fields[name]
		if !ok {
			unsupported = append(unsupported, name)
			continue
		}
		out[id] = v
	}
	if len(unsupported) > 0 {
		sort.Strings(unsupported)
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedField, strings.Join(unsupported, ", "))
	}
	return out, nil
}

func toStrings(x any) []string {
	var out []string
	switch t := x.(type) {
	case []string:
		out = append(out, t...)
	case []any:
		for _, item := range t {
			if item != nil {
				out = append(out, fmt.Sprint(item))
			}
		}
	case string:
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// unionLabels возвращает отсортированное объединение меток без повторов.
func unionLabels(sets ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, set := range sets {
		for _, l := range set {
			if l != "" && !seen[l] {
				seen[l] = true
				out = append(out, l)
			}
		}
	}
	sort.Strings(out)
	return out
}

func sameLabels(a, b []string) bool {
	a, b = unionLabels(a), unionLabels(b)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// diffFields возвращает поля desired, отличающиеся от current.
func diffFields(desired, current map[string]any) map[string]any {
	changed := make(map[string]any)
	for k, v := range desired {
		if !matches(v, current[k]) {
			changed[k] = v
		}
	}
	return changed
}

// matches сообщает, совпадает ли желаемое значение с текущим.
// Для объектов сравниваются только ключи желаемого значения: трекер
// возвращает поля с дополнительными атрибутами (id, self).
func matches(desired, current any) bool {
	switch d := desired.(type) {
	case map[string]any:
		c, ok := current.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range d {
			if !matches(v, c[k]) {
				return false
			}
		}
		return true
	case []any:
		c, ok := current.([]any)
		if !ok || len(c) != len(d) {
			return false
		}
		for i := range d {
			if !matches(d[i], c[i]) {
				return false
			}
		}
		return true
	}
	return expr.Equal(expr.FromGo(desired), expr.FromGo(current))
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
