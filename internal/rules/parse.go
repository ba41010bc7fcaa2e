package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/expr"
)

// Parse разбирает YAML-документы с правилами.
//
// Документ содержит одно правило (mapping) или список правил.
// Несколько документов разделяются "---". Ошибочное правило
// пропускается, остальные возвращаются.
func Parse(data []byte, file string) ([]*domain.Rule, []error) {
	var (
		rules []*domain.Rule
		errs  []error
	)

	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			errs = append(errs, &RuleLoadError{File: file, Msg: err.Error(), Err: ErrInvalidRule})
			break
		}
		if len(doc.Content) == 0 {
			continue
		}

		root := doc.Content[0]
		var nodes []*yaml.Node
		switch root.Kind {
		case yaml.SequenceNode:
			nodes = root.Content
		case yaml.MappingNode:
			nodes = []*yaml.Node{root}
		default:
			errs = append(errs, loadErr(file, "", root, "expected a rule or a list of rules"))
			continue
		}

		for _, n := range nodes {
			r, err := parseRule(n, file)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			rules = append(rules, r)
		}
	}
	return rules, errs
}

func loadErr(file, rule string, n *yaml.Node, format string, args ...any) *RuleLoadError {
	line := 0
	if n != nil {
		line = n.Line
	}
	return &RuleLoadError{File: file, Rule: rule, Line: line, Msg: fmt.Sprintf(format, args...), Err: ErrInvalidRule}
}

// mapping — YAML mapping с доступом по ключу.
type mapping struct {
	node *yaml.Node
	keys []string
	vals map[string]*yaml.Node
}

func asMapping(n *yaml.Node) (*mapping, error) {
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping", n.Line)
	}
	m := &mapping{node: n, vals: make(map[string]*yaml.Node)}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k := n.Content[i].Value
		m.keys = append(m.keys, k)
		m.vals[k] = n.Content[i+1]
	}
	return m, nil
}

func (m *mapping) has(key string) bool {
	_, ok := m.vals[key]
	return ok
}

// first возвращает первый присутствующий ключ из списка синонимов.
func (m *mapping) first(keys ...string) (string, bool) {
	for _, k := range keys {
		if m.has(k) {
			return k, true
		}
	}
	return "", false
}

// checkKeys отклоняет ключи, которых нет в allowed.
func (m *mapping) checkKeys(allowed ...string) error {
	ok := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		ok[k] = true
	}
	var unknown []string
	for _, k := range m.keys {
		if !ok[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("line %d: unknown field(s): %s", m.node.Line, strings.Join(unknown, ", "))
	}
	return nil
}

func (m *mapping) str(key string, required bool) (string, error) {
	n, ok := m.vals[key]
	if !ok {
		if required {
			return "", fmt.Errorf("line %d: missing required field %q", m.node.Line, key)
		}
		return "", nil
	}
	if n.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("line %d: field %q must be a string", n.Line, key)
	}
	return n.Value, nil
}

func (m *mapping) boolean(key string) (bool, error) {
	n, ok := m.vals[key]
	if !ok {
		return false, nil
	}
	var b bool
	if err := n.Decode(&b); err != nil {
		return false, fmt.Errorf("line %d: field %q must be a bool", n.Line, key)
	}
	return b, nil
}

func (m *mapping) strList(key string) ([]string, error) {
	n, ok := m.vals[key]
	if !ok {
		return nil, nil
	}
	var out []string
	if err := n.Decode(&out); err != nil {
		return nil, fmt.Errorf("line %d: field %q must be a list of strings", n.Line, key)
	}
	return out, nil
}

func (m *mapping) strMap(key string) (map[string]string, error) {
	n, ok := m.vals[key]
	if !ok {
		return nil, nil
	}
	var out map[string]string
	if err := n.Decode(&out); err != nil {
		return nil, fmt.Errorf("line %d: field %q must be a mapping of strings", n.Line, key)
	}
	return out, nil
}

func (m *mapping) anyMap(key string) (map[string]any, error) {
	n, ok := m.vals[key]
	if !ok {
		return nil, nil
	}
	var out map[string]any
	if err := n.Decode(&out); err != nil {
		return nil, fmt.Errorf("line %d: field %q must be a mapping", n.Line, key)
	}
	return out, nil
}

func (m *mapping) anyValue(key string) (any, error) {
	n, ok := m.vals[key]
	if !ok {
		return nil, nil
	}
	var out any
	if err := n.Decode(&out); err != nil {
		return nil, fmt.Errorf("line %d: field %q: %w", n.Line, key, err)
	}
	return out, nil
}

func parseRule(n *yaml.Node, file string) (*domain.Rule, error) {
	m, err := asMapping(n)
	if err != nil {
		return nil, loadErr(file, "", n, "%v", err)
	}

	name, _ := m.str("name", false)
	fail := func(err error) error {
		return &RuleLoadError{File: file, Rule: name, Line: n.Line, Msg: err.Error(), Err: ErrInvalidRule}
	}

	if err := m.checkKeys("version", "name", "inputs", "prerequisites"); err != nil {
		return nil, fail(err)
	}
	if name == "" {
		return nil, fail(fmt.Errorf("missing required field %q", "name"))
	}

	var version int
	vn, ok := m.vals["version"]
	if !ok {
		return nil, fail(fmt.Errorf("missing required field %q", "version"))
	}
	if err := vn.Decode(&version); err != nil {
		return nil, fail(fmt.Errorf("line %d: version must be an integer", vn.Line))
	}
	if version != domain.SchemaVersion {
		return nil, &RuleLoadError{
			File: file, Rule: name, Line: vn.Line,
			Msg: fmt.Sprintf("unsupported version %d, latest is %d", version, domain.SchemaVersion),
			Err: ErrUnsupportedVersion,
		}
	}

	r := &domain.Rule{Version: version, Name: name, File: file}

	if in, ok := m.vals["inputs"]; ok {
		if in.Kind != yaml.SequenceNode {
			return nil, fail(fmt.Errorf("line %d: inputs must be a list", in.Line))
		}
		for _, item := range in.Content {
			input, err := parseInput(item)
			if err != nil {
				return nil, fail(err)
			}
			r.Inputs = append(r.Inputs, input)
		}
	}
	if len(r.Inputs) == 0 {
		r.Inputs = []domain.Input{&domain.VariablesInput{Variables: expr.NewMap()}}
	}

	pn, ok := m.vals["prerequisites"]
	if !ok {
		return nil, fail(fmt.Errorf("missing required field %q", "prerequisites"))
	}
	if pn.Kind != yaml.SequenceNode {
		return nil, fail(fmt.Errorf("line %d: prerequisites must be a list", pn.Line))
	}
	for _, item := range pn.Content {
		p, err := parsePrerequisite(item)
		if err != nil {
			return nil, fail(err)
		}
		r.Prerequisites = append(r.Prerequisites, p)
	}

	return r, nil
}

var httpFields = []string{"method", "params", "headers", "data"}

func parseHTTPRequest(m *mapping, urlKey string) (domain.HTTPRequest, error) {
	var req domain.HTTPRequest
	var err error
	if req.URL, err = m.str(urlKey, true); err != nil {
		return req, err
	}
	if req.Method, err = m.str("method", false); err != nil {
		return req, err
	}
	if req.Method == "" {
		req.Method = "GET"
	}
	req.Method = strings.ToUpper(req.Method)
	if req.Params, err = m.anyMap("params"); err != nil {
		return req, err
	}
	if req.Headers, err = m.strMap("headers"); err != nil {
		return req, err
	}
	if req.Data, err = m.anyValue("data"); err != nil {
		return req, err
	}
	return req, nil
}

func parseInput(n *yaml.Node) (domain.Input, error) {
	m, err := asMapping(n)
	if err != nil {
		return nil, err
	}

	switch {
	case m.has("product"):
		if err := m.checkKeys("product", "jira_label_templates"); err != nil {
			return nil, err
		}
		in := &domain.ProductInput{}
		if in.Product, err = m.str("product", true); err != nil {
			return nil, err
		}
		if in.JiraLabelTemplates, err = m.strList("jira_label_templates"); err != nil {
			return nil, err
		}
		return in, nil

	case m.has("variables"):
		if err := m.checkKeys("variables"); err != nil {
			return nil, err
		}
		vn := m.vals["variables"]
		if vn.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("line %d: variables must be a mapping", vn.Line)
		}
		v, err := NodeValue(vn)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", vn.Line, err)
		}
		vars, _ := v.AsMap()
		return &domain.VariablesInput{Variables: vars}, nil

	case m.has("http") || m.has("url"):
		urlKey, _ := m.first("http", "url")
		if err := m.checkKeys(append([]string{urlKey, "extract_path", "inputs"}, httpFields...)...); err != nil {
			return nil, err
		}
		req, err := parseHTTPRequest(m, urlKey)
		if err != nil {
			return nil, err
		}
		in := &domain.HTTPInput{Request: req, Extract: "http_data"}
		if key, ok := m.first("extract_path", "inputs"); ok {
			if in.Extract, err = m.str(key, true); err != nil {
				return nil, err
			}
		}
		return in, nil

	case m.has("jira_issues") || m.has("jql"):
		jqlKey, _ := m.first("jira_issues", "jql")
		if err := m.checkKeys(jqlKey, "fields"); err != nil {
			return nil, err
		}
		in := &domain.JiraIssuesInput{}
		if in.JQL, err = m.str(jqlKey, true); err != nil {
			return nil, err
		}
		if in.Fields, err = m.strList("fields"); err != nil {
			return nil, err
		}
		return in, nil
	}

	return nil, fmt.Errorf("line %d: unknown input, expected one of: product, variables, http, jira_issues", n.Line)
}

func parsePrerequisite(n *yaml.Node) (domain.Prerequisite, error) {
	m, err := asMapping(n)
	if err != nil {
		return nil, err
	}

	switch {
	case m.has("condition"):
		if err := m.checkKeys("condition"); err != nil {
			return nil, err
		}
		p := &domain.Condition{}
		p.Expr, err = m.str("condition", true)
		return p, err

	case m.has("schedule_task"):
		if err := m.checkKeys("schedule_task", "ignore_drafts"); err != nil {
			return nil, err
		}
		p := &domain.ScheduleTask{}
		if p.Name, err = m.str("schedule_task", true); err != nil {
			return nil, err
		}
		p.IgnoreDrafts, err = m.boolean("ignore_drafts")
		return p, err

	case m.has("target_date"):
		if err := m.checkKeys("target_date"); err != nil {
			return nil, err
		}
		p := &domain.TargetDate{}
		p.Expr, err = m.str("target_date", true)
		return p, err

	case m.has("variable"):
		name, err := m.str("variable", true)
		if err != nil {
			return nil, err
		}
		if m.has("string") {
			if err := m.checkKeys("variable", "string"); err != nil {
				return nil, err
			}
			tmpl, err := m.str("string", true)
			return &domain.VariableString{Name: name, Template: tmpl}, err
		}
		if err := m.checkKeys("variable", "value"); err != nil {
			return nil, err
		}
		value, err := m.str("value", true)
		return &domain.Variable{Name: name, Expr: value}, err

	case m.has("rule"):
		if err := m.checkKeys("rule"); err != nil {
			return nil, err
		}
		p := &domain.RuleRef{}
		p.Rule, err = m.str("rule", true)
		return p, err

	case m.has("jira_issue") || m.has("jira_issue_id"):
		idKey, _ := m.first("jira_issue", "jira_issue_id")
		if err := m.checkKeys(idKey, "template", "fields", "subtasks", "status", "transitions", "comment"); err != nil {
			return nil, err
		}
		return parseJiraIssue(m, idKey)

	case m.has("pipeline_run"):
		if err := m.checkKeys("pipeline_run", "namespace", "template"); err != nil {
			return nil, err
		}
		p := &domain.PipelineRun{}
		if p.ID, err = m.str("pipeline_run", true); err != nil {
			return nil, err
		}
		if p.Namespace, err = m.str("namespace", false); err != nil {
			return nil, err
		}
		p.Template, err = m.str("template", true)
		return p, err

	case m.has("http") || m.has("url"):
		urlKey, _ := m.first("http", "url")
		if err := m.checkKeys(append([]string{urlKey}, httpFields...)...); err != nil {
			return nil, err
		}
		req, err := parseHTTPRequest(m, urlKey)
		return &domain.HTTPCall{Request: req}, err
	}

	return nil, fmt.Errorf("line %d: unknown prerequisite, expected one of: "+
		"condition, schedule_task, target_date, variable, rule, jira_issue, pipeline_run, http", n.Line)
}

func parseJiraIssue(m *mapping, idKey string) (*domain.JiraIssue, error) {
	var err error
	p := &domain.JiraIssue{}
	if p.ID, err = m.str(idKey, true); err != nil {
		return nil, err
	}
	if p.Template, err = m.str("template", false); err != nil {
		return nil, err
	}
	if p.Fields, err = m.anyMap("fields"); err != nil {
		return nil, err
	}
	if p.Status, err = m.str("status", false); err != nil {
		return nil, err
	}
	if p.Transitions, err = m.strList("transitions"); err != nil {
		return nil, err
	}
	if len(p.Transitions) > 0 && p.Status == "" {
		return nil, fmt.Errorf("line %d: transitions require status", m.vals["transitions"].Line)
	}
	if p.Comment, err = m.str("comment", false); err != nil {
		return nil, err
	}

	sn, ok := m.vals["subtasks"]
	if !ok {
		return p, nil
	}
	if sn.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: subtasks must be a list", sn.Line)
	}
	for _, item := range sn.Content {
		sm, err := asMapping(item)
		if err != nil {
			return nil, err
		}
		if err := sm.checkKeys("id", "template", "fields"); err != nil {
			return nil, err
		}
		var st domain.JiraSubtask
		if st.ID, err = sm.str("id", true); err != nil {
			return nil, err
		}
		if st.Template, err = sm.str("template", false); err != nil {
			return nil, err
		}
		if st.Fields, err = sm.anyMap("fields"); err != nil {
			return nil, err
		}
		p.Subtasks = append(p.Subtasks, st)
	}
	return p, nil
}
