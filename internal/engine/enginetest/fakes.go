// Package enginetest содержит фейковые внешние сервисы для тестов.
package enginetest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/release-engineering/retasc/internal/domain"
)

// Schedule — расписание в памяти. Считает обращения.
type Schedule struct {
	mu         sync.Mutex
	releases   map[string][]string
	milestones map[string]domain.Milestone

	ReleaseCalls   int
	MilestoneCalls int
	Err            error
}

// NewSchedule создаёт пустое расписание.
func NewSchedule() *Schedule {
	return &Schedule{releases: make(map[string][]string), milestones: make(map[string]domain.Milestone)}
}

// AddRelease добавляет активный релиз продукта.
func (s *Schedule) AddRelease(product, release string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases[product] = append(s.releases[product], release)
}

// AddMilestone добавляет веху релиза.
func (s *Schedule) AddMilestone(product, release string, m domain.Milestone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.milestones[product+"/"+release+"/"+m.Name] = m
}

func (s *Schedule) ListActiveReleases(_ context.Context, product string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReleaseCalls++
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]string(nil), s.releases[product]...), nil
}

func (s *Schedule) GetMilestone(_ context.Context, product, release, name string) (*domain.Milestone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MilestoneCalls++
	if s.Err != nil {
		return nil, s.Err
	}
	m, ok := s.milestones[product+"/"+release+"/"+name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &m, nil
}

func (s *Schedule) ListMilestones(_ context.Context, product, release string) ([]domain.Milestone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := product + "/" + release + "/"
	var out []domain.Milestone
	for k, m := range s.milestones {
		if strings.HasPrefix(k, prefix) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Tracker — трекер в памяти. Считает запись.
type Tracker struct {
	mu       sync.Mutex
	issues   map[string]*domain.Issue
	resolved map[string]bool
	seq      int

	// workflow — статусы, достижимые из статуса (ключ — имя статуса).
	workflow map[string][]string
	comments map[string][]string

	Creates     int
	Updates     int
	Closes      int
	Searches    int
	Finds       int
	Moves       []string // "KEY:статус" на каждый выполненный переход
	NewComments int
	Err         error
}

// NewTracker создаёт пустой трекер.
func NewTracker() *Tracker {
	return &Tracker{
		issues:   make(map[string]*domain.Issue),
		resolved: make(map[string]bool),
		workflow: make(map[string][]string),
		comments: make(map[string][]string),
	}
}

// SetWorkflow задаёт переходы из статуса from. Пустой from —
// статус только что созданного issue.
func (t *Tracker) SetWorkflow(from string, to ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.workflow[from] = to
}

// CommentsOf возвращает комментарии issue.
func (t *Tracker) CommentsOf(key string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.comments[key]...)
}

// Writes возвращает общее число операций записи.
func (t *Tracker) Writes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Creates + t.Updates + t.Closes + len(t.Moves) + t.NewComments
}

// Calls возвращает общее число обращений.
func (t *Tracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Creates + t.Updates + t.Closes + len(t.Moves) + t.NewComments + t.Searches + t.Finds
}

// Get возвращает issue по ключу.
func (t *Tracker) Get(key string) *domain.Issue {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.issues[key]
}

// All возвращает все issue, отсортированные по ключу.
func (t *Tracker) All() []*domain.Issue {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*domain.Issue, 0, len(t.issues))
	for _, i := range t.issues {
		out = append(out, i)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Resolve помечает issue решённым.
func (t *Tracker) Resolve(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resolved[key] = true
}

// Put добавляет issue напрямую (без учёта в счётчиках).
func (t *Tracker) Put(issue *domain.Issue) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.issues[issue.Key] = issue
}

func (t *Tracker) FindByLabels(_ context.Context, labels ...string) (*domain.Issue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Finds++
	if t.Err != nil {
		return nil, t.Err
	}
	for _, key := range t.sortedKeys() {
		if hasAll(t.issues[key], labels) {
			return t.issues[key], nil
		}
	}
	return nil, nil
}

func (t *Tracker) Search(_ context.Context, jql string, _ []string) ([]domain.Issue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Searches++
	if t.Err != nil {
		return nil, t.Err
	}
	// поддерживается только форма labels="a" AND labels="b"
	var labels []string
	for _, part := range strings.Split(jql, " AND ") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(part), "labels="); ok {
			labels = append(labels, strings.Trim(v, `"`))
		}
	}
	var out []domain.Issue
	for _, key := range t.sortedKeys() {
		if hasAll(t.issues[key], labels) {
			out = append(out, *t.issues[key])
		}
	}
	return out, nil
}

func (t *Tracker) Create(_ context.Context, fields map[string]any) (*domain.Issue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Creates++
	if t.Err != nil {
		return nil, t.Err
	}
	t.seq++
	issue := &domain.Issue{Key: fmt.Sprintf("TEST-%d", t.seq), Fields: copyFields(fields)}
	t.issues[issue.Key] = issue
	return issue, nil
}

func (t *Tracker) Update(_ context.Context, key string, fields map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Updates++
	if t.Err != nil {
		return t.Err
	}
	issue, ok := t.issues[key]
	if !ok {
		return domain.ErrNotFound
	}
	for k, v := range fields {
		issue.Fields[k] = v
	}
	return nil
}

func (t *Tracker) IsResolved(issue *domain.Issue) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resolved[issue.Key]
}

func (t *Tracker) ListOpenByLabelPrefix(_ context.Context, managed, prefix string) ([]domain.Issue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []domain.Issue
	for _, key := range t.sortedKeys() {
		issue := t.issues[key]
		if t.resolved[key] || !issue.HasLabel(managed) {
			continue
		}
		for _, l := range issue.Labels() {
			if strings.HasPrefix(l, prefix) {
				out = append(out, *issue)
				break
			}
		}
	}
	return out, nil
}

func (t *Tracker) Close(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closes++
	t.resolved[key] = true
	return nil
}

// Transitions нумерует переходы по порядку SetWorkflow, начиная с 1.
func (t *Tracker) Transitions(_ context.Context, key string) ([]domain.Transition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	issue, ok := t.issues[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	to := t.workflow[domain.IssueStatus(issue)]
	out := make([]domain.Transition, len(to))
	for i, status := range to {
		out[i] = domain.Transition{ID: strconv.Itoa(i + 1), Name: "To " + status, To: status}
	}
	return out, nil
}

func (t *Tracker) Transition(_ context.Context, key, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	issue, ok := t.issues[key]
	if !ok {
		return domain.ErrNotFound
	}
	to := t.workflow[domain.IssueStatus(issue)]
	i, err := strconv.Atoi(id)
	if err != nil || i < 1 || i > len(to) {
		return fmt.Errorf("transition %q is not available for %s", id, key)
	}
	issue.Fields["status"] = map[string]any{"name": to[i-1]}
	t.Moves = append(t.Moves, key+":"+to[i-1])
	return nil
}

func (t *Tracker) Comments(_ context.Context, key string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.comments[key]...), nil
}

func (t *Tracker) AddComment(_ context.Context, key, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.NewComments++
	t.comments[key] = append(t.comments[key], body)
	return nil
}

func (t *Tracker) sortedKeys() []string {
	keys := make([]string, 0, len(t.issues))
	for k := range t.issues {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func hasAll(issue *domain.Issue, labels []string) bool {
	for _, l := range labels {
		if !issue.HasLabel(l) {
			return false
		}
	}
	return true
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// Pipeline — сервис pipeline в памяти.
type Pipeline struct {
	mu     sync.Mutex
	runs    map[string]*domain.PipelineRunObject
	status  map[string]domain.PipelineStatus
	results map[string]string

	Starts int
	Err    error
}

// NewPipeline создаёт пустой сервис pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		runs:    make(map[string]*domain.PipelineRunObject),
		status:  make(map[string]domain.PipelineStatus),
		results: make(map[string]string),
	}
}

// SetResult сохраняет итог run, как это делает его finally-задача.
func (p *Pipeline) SetResult(namespace, name, result string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[namespace+"/"+name] = result
}

// Delete удаляет run (сборка мусора в кластере); итог остаётся.
func (p *Pipeline) Delete(namespace, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.runs, namespace+"/"+name)
}

// Run возвращает созданный run.
func (p *Pipeline) Run(namespace, name string) *domain.PipelineRunObject {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs[namespace+"/"+name]
}

// SetStatus задаёт статус run.
func (p *Pipeline) SetStatus(namespace, name string, st domain.PipelineStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status[namespace+"/"+name] = st
}

func (p *Pipeline) FindByName(_ context.Context, namespace, name string) (*domain.PipelineRunObject, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs[namespace+"/"+name], nil
}

func (p *Pipeline) Start(_ context.Context, namespace string, spec map[string]any) (*domain.PipelineRunObject, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Starts++
	md, _ := spec["metadata"].(map[string]any)
	name, _ := md["name"].(string)
	run := &domain.PipelineRunObject{Name: name, Namespace: namespace, Object: spec}
	p.runs[namespace+"/"+name] = run
	return run, nil
}

func (p *Pipeline) GetResult(_ context.Context, namespace, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	return p.results[namespace+"/"+name], nil
}

func (p *Pipeline) Status(run *domain.PipelineRunObject) domain.PipelineStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.status[run.Namespace+"/"+run.Name]; ok {
		return st
	}
	return domain.PipelineRunning
}

// Fetcher отвечает заранее заданными телами по URL.
type Fetcher struct {
	mu        sync.Mutex
	responses map[string]any

	Requests []domain.FetchRequest
	Err      error
}

// NewFetcher создаёт Fetcher без ответов.
func NewFetcher() *Fetcher {
	return &Fetcher{responses: make(map[string]any)}
}

// Respond задаёт JSON-тело для URL.
func (f *Fetcher) Respond(url string, body any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = body
}

func (f *Fetcher) Fetch(_ context.Context, req domain.FetchRequest) (*domain.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Requests = append(f.Requests, req)
	if f.Err != nil {
		return nil, f.Err
	}
	body, ok := f.responses[req.URL]
	if !ok {
		return nil, fmt.Errorf("GET %s: status 404", req.URL)
	}
	return &domain.FetchResponse{StatusCode: 200, Headers: map[string]string{"Content-Type": "application/json"}, Body: body}, nil
}
