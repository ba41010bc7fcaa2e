package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/expr"
	"github.com/release-engineering/retasc/internal/telemetry"
)

// TaskInput — один экземпляр входа: release key и связываемые имена.
type TaskInput struct {
	Key  domain.ReleaseKey
	Vars *expr.Map
}

// releaseVersion разбирает короткое имя релиза: rhel-10.1, rhel-9-2.
var releaseVersion = regexp.MustCompile(`^\w+-(\d+)(?:[-.](\d+))?`)

// Expander разворачивает входы правил в экземпляры задач.
//
// Развёртывания кэшируются на время прогона по идентичности входа:
// одинаковые входы разных правил запрашивают внешние сервисы один раз.
type Expander struct {
	rc     *RunContext
	collab domain.Collaborators

	group singleflight.Group
	mu    sync.Mutex
	cache map[string][]TaskInput
}

// NewExpander создаёт Expander для прогона.
func NewExpander(rc *RunContext, collab domain.Collaborators) *Expander {
	return &Expander{rc: rc, collab: collab, cache: make(map[string][]TaskInput)}
}

// Expand возвращает экземпляры задач входа.
//
// Ошибка запроса, разбора или извлечения делает ошибочным весь вход:
// пустой результат означает только "нечего делать".
func (x *Expander) Expand(ctx context.Context, in domain.Input) ([]TaskInput, error) {
	id, err := inputIdentity(in)
	if err != nil {
		return nil, err
	}

	x.mu.Lock()
	cached, ok := x.cache[id]
	x.mu.Unlock()
	if ok {
		return cached, nil
	}

	v, err, _ := x.group.Do(id, func() (any, error) {
		x.mu.Lock()
		cached, ok := x.cache[id]
		x.mu.Unlock()
		if ok {
			return cached, nil
		}

		tasks, err := x.expand(ctx, in)
		if err != nil {
			return nil, err
		}
		x.mu.Lock()
		x.cache[id] = tasks
		x.mu.Unlock()
		return tasks, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]TaskInput), nil
}

func (x *Expander) expand(ctx context.Context, in domain.Input) ([]TaskInput, error) {
	switch in := in.(type) {
	case *domain.ProductInput:
		return x.expandProduct(ctx, in)
	case *domain.VariablesInput:
		return x.expandVariables(in)
	case *domain.HTTPInput:
		return x.expandHTTP(ctx, in)
	case *domain.JiraIssuesInput:
		return x.expandJiraIssues(ctx, in)
	}
	return nil, fmt.Errorf("unsupported input kind %q", in.Kind())
}

func (x *Expander) expandProduct(ctx context.Context, in *domain.ProductInput) ([]TaskInput, error) {
	if x.collab.Schedule == nil {
		return nil, domain.NewCollaboratorError("schedule", "list releases", domain.ErrNotConfigured)
	}
	releases, err := x.collab.Schedule.ListActiveReleases(ctx, in.Product)
	if err != nil {
		return nil, domain.NewCollaboratorError("schedule", "list releases", err)
	}

	tasks := make([]TaskInput, 0, len(releases))
	for _, release := range releases {
		major, minor := parseRelease(release)
		vars := expr.NewMap()
		vars.Set("product", expr.String(in.Product))
		vars.Set("release", expr.String(release))
		vars.Set("major", expr.Int(major))
		vars.Set("minor", expr.Int(minor))

		labels, err := x.renderLabels(in.JiraLabelTemplates, vars)
		if err != nil {
			return nil, err
		}
		vars.Set("jira_labels", expr.FromGo(labels))

		issues, err := x.scopeIssues(ctx, labels)
		if err != nil {
			return nil, err
		}
		vars.Set("jira_issues", issues)

		tasks = append(tasks, TaskInput{
			Key:  domain.ReleaseKey("product:" + in.Product + "/" + release),
			Vars: vars,
		})
	}
	return tasks, nil
}

// parseRelease извлекает major/minor из имени релиза; отсутствующие части — 0.
func parseRelease(release string) (major, minor int) {
	m := releaseVersion.FindStringSubmatch(release)
	if m == nil {
		return 0, 0
	}
	major, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		minor, _ = strconv.Atoi(m[2])
	}
	return major, minor
}

// renderLabels рендерит шаблоны меток, пустые результаты отбрасываются.
func (x *Expander) renderLabels(templates []string, vars *expr.Map) ([]string, error) {
	scope := x.rc.Scope().Derive()
	for _, k := range vars.Keys() {
		v, _ := vars.Get(k)
		scope.Set(k, v)
	}
	labels := []string{}
	for _, tmpl := range templates {
		label, err := x.rc.Engine.Render(tmpl, scope)
		if err != nil {
			return nil, err
		}
		if label = strings.TrimSpace(label); label != "" {
			labels = append(labels, label)
		}
	}
	return labels, nil
}

// scopeIssues возвращает issue, несущие все метки, по ключу issue.
func (x *Expander) scopeIssues(ctx context.Context, labels []string) (expr.Value, error) {
	if len(labels) == 0 {
		return expr.MapValue(expr.NewMap()), nil
	}
	if x.collab.Tracker == nil {
		return expr.Null(), domain.NewCollaboratorError("tracker", "search", domain.ErrNotConfigured)
	}
	issues, err := x.collab.Tracker.Search(ctx, LabelsJQL(labels), nil)
	telemetry.ObserveCall("tracker", "search", err)
	if err != nil {
		return expr.Null(), domain.NewCollaboratorError("tracker", "search", err)
	}
	m := expr.NewMap()
	for i := range issues {
		m.Set(issues[i].Key, IssueValue(&issues[i]))
	}
	return expr.MapValue(m), nil
}

// LabelsJQL строит JQL-запрос issue, несущих все метки.
func LabelsJQL(labels []string) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = "labels=" + strconv.Quote(l)
	}
	return strings.Join(parts, " AND ")
}

// IssueValue преобразует issue в значение {key, fields}.
func IssueValue(issue *domain.Issue) expr.Value {
	m := expr.NewMap()
	m.Set("key", expr.String(issue.Key))
	m.Set("fields", expr.FromGo(issue.Fields))
	return expr.MapValue(m)
}

func (x *Expander) expandVariables(in *domain.VariablesInput) ([]TaskInput, error) {
	hash, err := variablesHash(in)
	if err != nil {
		return nil, err
	}
	vars := expr.NewMap()
	if in.Variables != nil {
		vars = in.Variables.Clone()
	}
	return []TaskInput{{Key: domain.ReleaseKey("variables:" + hash), Vars: vars}}, nil
}

func (x *Expander) expandHTTP(ctx context.Context, in *domain.HTTPInput) ([]TaskInput, error) {
	if x.collab.Fetcher == nil {
		return nil, domain.NewCollaboratorError("http", "fetch", domain.ErrNotConfigured)
	}
	req, err := renderRequest(x.rc.Engine, x.rc.Scope(), in.Request)
	if err != nil {
		return nil, err
	}
	resp, err := x.collab.Fetcher.Fetch(ctx, req)
	telemetry.ObserveCall("http", "fetch", err)
	if err != nil {
		return nil, domain.NewCollaboratorError("http", req.Method+" "+req.URL, err)
	}
	if resp.StatusCode >= 400 {
		return nil, domain.NewCollaboratorError("http", req.Method+" "+req.URL,
			fmt.Errorf("%w: %d", domain.ErrHTTPStatus, resp.StatusCode))
	}

	data := bodyValue(resp)
	scope := x.rc.Scope().Derive()
	scope.Set("http_data", data)

	extract := in.Extract
	if extract == "" {
		extract = "http_data"
	}
	extracted, err := x.rc.Engine.Eval(extract, scope)
	if err != nil {
		return nil, err
	}
	items, ok := extracted.AsList()
	if !ok {
		return nil, &expr.ExpressionError{
			Source: extract,
			Msg:    fmt.Sprintf("extracted value must be a sequence, got %s", extracted.Kind()),
			Err:    expr.ErrType,
		}
	}

	response := responseValue(resp, false)
	tasks := make([]TaskInput, 0, len(items))
	for i, item := range items {
		hash, err := contentHash(item)
		if err != nil {
			return nil, err
		}
		vars := expr.NewMap()
		vars.Set("http_item", item)
		vars.Set("http_item_index", expr.Int(i))
		vars.Set("http_response", response)
		vars.Set("http_data", data)
		tasks = append(tasks, TaskInput{Key: domain.ReleaseKey("http:" + hash), Vars: vars})
	}
	return tasks, nil
}

func (x *Expander) expandJiraIssues(ctx context.Context, in *domain.JiraIssuesInput) ([]TaskInput, error) {
	if x.collab.Tracker == nil {
		return nil, domain.NewCollaboratorError("tracker", "search", domain.ErrNotConfigured)
	}
	jql, err := x.rc.Engine.Render(in.JQL, x.rc.Scope())
	if err != nil {
		return nil, err
	}
	issues, err := x.collab.Tracker.Search(ctx, jql, in.Fields)
	telemetry.ObserveCall("tracker", "search", err)
	if err != nil {
		return nil, domain.NewCollaboratorError("tracker", "search", err)
	}

	all := expr.NewMap()
	for i := range issues {
		all.Set(issues[i].Key, IssueValue(&issues[i]))
	}
	tasks := make([]TaskInput, 0, len(issues))
	for i := range issues {
		vars := expr.NewMap()
		vars.Set("jira_issue", IssueValue(&issues[i]))
		vars.Set("jira_issues", expr.MapValue(all))
		tasks = append(tasks, TaskInput{Key: domain.ReleaseKey("jira:" + issues[i].Key), Vars: vars})
	}
	return tasks, nil
}

// contentHash возвращает первые 16 hex-символов sha256 канонического JSON.
// encoding/json сортирует ключи map, поэтому представление стабильно.
func contentHash(v expr.Value) (string, error) {
	data, err := json.Marshal(v.ToGo())
	if err != nil {
		return "", fmt.Errorf("hash input: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16], nil
}

// inputIdentity возвращает ключ кэша развёртывания входа.
func inputIdentity(in domain.Input) (string, error) {
	switch in := in.(type) {
	case *domain.ProductInput:
		return "product\x00" + in.Product + "\x00" + strings.Join(in.JiraLabelTemplates, "\x00"), nil
	case *domain.VariablesInput:
		hash, err := variablesHash(in)
		return "variables\x00" + hash, err
	case *domain.HTTPInput:
		data, err := json.Marshal(in)
		return "http\x00" + string(data), err
	case *domain.JiraIssuesInput:
		fields := append([]string(nil), in.Fields...)
		sort.Strings(fields)
		return "jira\x00" + in.JQL + "\x00" + strings.Join(fields, ","), nil
	}
	return "", fmt.Errorf("unsupported input kind %q", in.Kind())
}
