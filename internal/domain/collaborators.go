package domain

import (
	"context"
	"sort"
)

// Issue — issue во внешнем трекере.
type Issue struct {
	Key    string         `json:"key"`
	Fields map[string]any `json:"fields"`
}

// Labels возвращает метки issue.
func (i *Issue) Labels() []string {
	var out []string
	switch labels := i.Fields["labels"].(type) {
	case []string:
		out = append(out, labels...)
	case []any:
		for _, l := range labels {
			if s, ok := l.(string); ok {
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}

// HasLabel сообщает, есть ли у issue метка.
func (i *Issue) HasLabel(label string) bool {
	for _, l := range i.Labels() {
		if l == label {
			return true
		}
	}
	return false
}

// Tracker — трекер issue (Jira).
type Tracker interface {
	// FindByLabels возвращает issue, несущий все метки, или nil.
	FindByLabels(ctx context.Context, labels ...string) (*Issue, error)

	// Search ищет issue по JQL.
	Search(ctx context.Context, jql string, fields []string) ([]Issue, error)

	// Create создаёт issue. Метки передаются в fields["labels"].
	Create(ctx context.Context, fields map[string]any) (*Issue, error)

	// Update изменяет поля issue.
	Update(ctx context.Context, key string, fields map[string]any) error

	// IsResolved сообщает, достиг ли issue финального состояния.
	IsResolved(issue *Issue) bool

	// ListOpenByLabelPrefix возвращает нерешённые issue с меткой managed
	// и хотя бы одной меткой с префиксом prefix.
	ListOpenByLabelPrefix(ctx context.Context, managed, prefix string) ([]Issue, error)

	// Close закрывает issue.
	Close(ctx context.Context, key string) error

	// Transitions возвращает переходы, доступные из текущего статуса.
	Transitions(ctx context.Context, key string) ([]Transition, error)

	// Transition выполняет переход с идентификатором id.
	Transition(ctx context.Context, key, id string) error

	// Comments возвращает тексты комментариев issue.
	Comments(ctx context.Context, key string) ([]string, error)

	// AddComment добавляет комментарий.
	AddComment(ctx context.Context, key, body string) error
}

// Transition — переход рабочего процесса трекера.
type Transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// To — имя статуса, в который ведёт переход.
	To string `json:"to"`
}

// IssueStatus возвращает имя статуса issue (fields.status.name).
func IssueStatus(issue *Issue) string {
	if issue == nil {
		return ""
	}
	status, _ := issue.Fields["status"].(map[string]any)
	name, _ := status["name"].(string)
	return name
}

// PipelineRunObject — pipeline run во внешней системе.
type PipelineRunObject struct {
	Name      string         `json:"name"`
	Namespace string         `json:"namespace"`
	Object    map[string]any `json:"object,omitempty"`
}

// PipelineRunner — сервис выполнения pipeline (Tekton).
type PipelineRunner interface {
	// FindByName возвращает pipeline run или nil.
	FindByName(ctx context.Context, namespace, name string) (*PipelineRunObject, error)

	// Start создаёт pipeline run из спецификации (metadata.name уже задан).
	Start(ctx context.Context, namespace string, spec map[string]any) (*PipelineRunObject, error)

	// Status возвращает статус pipeline run.
	Status(run *PipelineRunObject) PipelineStatus

	// GetResult возвращает сохранённый итог pipeline run (data.status
	// ConfigMap с тем же именем) или "", если его нет.
	GetResult(ctx context.Context, namespace, name string) (string, error)
}

// FetchRequest — отрендеренный HTTP-запрос.
type FetchRequest struct {
	URL     string
	Method  string
	Params  map[string]string
	Headers map[string]string
	Body    any
}

// FetchResponse — ответ на HTTP-запрос.
type FetchResponse struct {
	StatusCode int
	Headers    map[string]string

	// Body — разобранный JSON или nil, если тело не JSON.
	Body any

	Raw []byte
}

// Fetcher — HTTP-клиент для входов и пререквизитов http.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*FetchResponse, error)
}

// Collaborators — внешние сервисы, доступные вычислителю.
// Любое поле может быть nil: пререквизит, которому нужен отсутствующий
// сервис, завершается ошибкой.
type Collaborators struct {
	Schedule Schedule
	Tracker  Tracker
	Pipeline PipelineRunner
	Fetcher  Fetcher
}
