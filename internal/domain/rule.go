package domain

import (
	"fmt"

	"github.com/release-engineering/retasc/internal/expr"
)

// SchemaVersion — последняя поддерживаемая версия формата правил.
const SchemaVersion = 1

// Rule — именованное правило: входы и упорядоченная цепочка пререквизитов.
//
// После загрузки правило не изменяется. Правила образуют граф через
// пререквизиты RuleRef.
type Rule struct {
	Version       int            `json:"version"`
	Name          string         `json:"name"`
	Inputs        []Input        `json:"-"`
	Prerequisites []Prerequisite `json:"-"`

	// File — путь к файлу, из которого загружено правило.
	File string `json:"file,omitempty"`
}

// RuleRefs возвращает имена правил, на которые ссылается правило.
func (r *Rule) RuleRefs() []string {
	var refs []string
	for _, p := range r.Prerequisites {
		if ref, ok := p.(*RuleRef); ok {
			refs = append(refs, ref.Rule)
		}
	}
	return refs
}

// InputKind — вид входа правила.
type InputKind string

const (
	InputProduct    InputKind = "product"
	InputVariables  InputKind = "variables"
	InputHTTP       InputKind = "http"
	InputJiraIssues InputKind = "jira_issues"
)

// Input — объявление входа правила (tagged variant).
type Input interface {
	Kind() InputKind
}

// ProductInput — одна задача на каждый активный релиз продукта.
type ProductInput struct {
	Product string

	// JiraLabelTemplates — шаблоны меток, общих для всех issue задачи.
	JiraLabelTemplates []string
}

// VariablesInput — одна задача с литеральными переменными.
type VariablesInput struct {
	Variables *expr.Map
}

// HTTPInput — один запрос, одна задача на элемент извлечённого списка.
type HTTPInput struct {
	Request HTTPRequest

	// Extract — выражение над http_data, возвращающее список.
	Extract string
}

// JiraIssuesInput — одна задача на каждый issue из JQL-поиска.
type JiraIssuesInput struct {
	JQL    string
	Fields []string
}

func (*ProductInput) Kind() InputKind    { return InputProduct }
func (*VariablesInput) Kind() InputKind  { return InputVariables }
func (*HTTPInput) Kind() InputKind       { return InputHTTP }
func (*JiraIssuesInput) Kind() InputKind { return InputJiraIssues }

// HTTPRequest — шаблон HTTP-запроса: строки в URL, Params, Headers и Data
// рендерятся перед отправкой.
type HTTPRequest struct {
	URL     string
	Method  string
	Params  map[string]any
	Headers map[string]string
	Data    any
}

// PrerequisiteKind — вид пререквизита.
type PrerequisiteKind string

const (
	PrereqCondition      PrerequisiteKind = "condition"
	PrereqScheduleTask   PrerequisiteKind = "schedule_task"
	PrereqTargetDate     PrerequisiteKind = "target_date"
	PrereqVariable       PrerequisiteKind = "variable"
	PrereqVariableString PrerequisiteKind = "variable_string"
	PrereqRule           PrerequisiteKind = "rule"
	PrereqJiraIssue      PrerequisiteKind = "jira_issue"
	PrereqPipelineRun    PrerequisiteKind = "pipeline_run"
	PrereqHTTP           PrerequisiteKind = "http"
)

// Prerequisite — шаг цепочки правила (tagged variant).
type Prerequisite interface {
	Kind() PrerequisiteKind

	// Label — краткое описание для отчёта, например Condition('major >= 10').
	Label() string
}

// Condition — логическое выражение; false останавливает цепочку в Pending.
type Condition struct {
	Expr string
}

// ScheduleTask — веха расписания текущего релиза.
type ScheduleTask struct {
	// Name — шаблон имени вехи.
	Name string

	// IgnoreDrafts — продолжать, даже если веха в черновике.
	IgnoreDrafts bool
}

// TargetDate — выражение-дата; до её наступления задача в Pending.
type TargetDate struct {
	Expr string
}

// Variable — вычисляет выражение и связывает имя.
type Variable struct {
	Name string
	Expr string
}

// VariableString — рендерит шаблон и связывает имя со строкой.
type VariableString struct {
	Name     string
	Template string
}

// RuleRef — зависимость от другого правила для того же release key.
type RuleRef struct {
	Rule string
}

// JiraIssue — желаемый issue в трекере и его подзадачи.
type JiraIssue struct {
	// ID — шаблон стабильного идентификатора (из него строится метка).
	ID string

	// Template — путь к YAML-шаблону полей относительно jira_template_path.
	Template string

	// Fields — поля поверх шаблона; строковые значения рендерятся.
	Fields map[string]any

	// Status — шаблон желаемого статуса. Пусто — статус не меняется.
	Status string

	// Transitions — промежуточные статусы по порядку, через которые
	// можно пройти, если Status недоступен напрямую.
	Transitions []string

	// Comment — шаблон комментария; добавляется к нерешённому issue,
	// если такого комментария ещё нет.
	Comment string

	Subtasks []JiraSubtask
}

// JiraSubtask — подзадача JiraIssue.
type JiraSubtask struct {
	ID       string
	Template string
	Fields   map[string]any
}

// PipelineRun — желаемый pipeline run.
type PipelineRun struct {
	ID        string
	Namespace string
	Template  string
}

// HTTPCall — HTTP-запрос, результат доступен как http_response.
type HTTPCall struct {
	Request HTTPRequest
}

func (*Condition) Kind() PrerequisiteKind      { return PrereqCondition }
func (*ScheduleTask) Kind() PrerequisiteKind   { return PrereqScheduleTask }
func (*TargetDate) Kind() PrerequisiteKind     { return PrereqTargetDate }
func (*Variable) Kind() PrerequisiteKind       { return PrereqVariable }
func (*VariableString) Kind() PrerequisiteKind { return PrereqVariableString }
func (*RuleRef) Kind() PrerequisiteKind        { return PrereqRule }
func (*JiraIssue) Kind() PrerequisiteKind      { return PrereqJiraIssue }
func (*PipelineRun) Kind() PrerequisiteKind    { return PrereqPipelineRun }
func (*HTTPCall) Kind() PrerequisiteKind       { return PrereqHTTP }

func (p *Condition) Label() string      { return fmt.Sprintf("Condition(%q)", p.Expr) }
func (p *ScheduleTask) Label() string   { return fmt.Sprintf("Schedule(%q)", p.Name) }
func (p *TargetDate) Label() string     { return fmt.Sprintf("TargetDate(%q)", p.Expr) }
func (p *Variable) Label() string       { return fmt.Sprintf("Variable(%q)", p.Name) }
func (p *VariableString) Label() string { return fmt.Sprintf("Variable(%q)", p.Name) }
func (p *RuleRef) Label() string        { return fmt.Sprintf("Rule(%q)", p.Rule) }
func (p *JiraIssue) Label() string      { return fmt.Sprintf("Jira(%q)", p.ID) }
func (p *PipelineRun) Label() string    { return fmt.Sprintf("PipelineRun(%q)", p.ID) }
func (p *HTTPCall) Label() string       { return fmt.Sprintf("Http(%q)", p.Request.URL) }
