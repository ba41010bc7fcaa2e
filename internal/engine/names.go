package engine

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/expr"
)

// Зарезервированные имена области видимости задачи.
const (
	VarToday      = "today"
	VarRuleName   = "rule_name"
	VarRuleFile   = "rule_file"
	VarReleaseKey = "release_key"
	VarReport     = "report"
	VarIssues     = "issues"
)

// RunNames возвращает имена, видимые в каждой задаче до развёртывания
// входов: зарезервированные имена и дни недели.
func RunNames() []string {
	names := []string{VarToday, VarRuleName, VarRuleFile, VarReleaseKey, VarReport, VarIssues}
	for name := range expr.Weekdays() {
		names = append(names, name)
	}
	sort.Strings(names[6:])
	return names
}

// InputNames возвращает имена, которые вход связывает в задаче.
func InputNames(in domain.Input) []string {
	switch in := in.(type) {
	case *domain.ProductInput:
		return []string{"product", "release", "major", "minor", "jira_labels", "jira_issues"}
	case *domain.VariablesInput:
		if in.Variables == nil {
			return nil
		}
		return in.Variables.Keys()
	case *domain.HTTPInput:
		return []string{"http_item", "http_item_index", "http_response", "http_data"}
	case *domain.JiraIssuesInput:
		return []string{"jira_issue", "jira_issues"}
	}
	return nil
}

// PrerequisiteNames возвращает имена, которые пререквизит связывает
// для следующих за ним шагов.
func PrerequisiteNames(p domain.Prerequisite) []string {
	switch p := p.(type) {
	case *domain.ScheduleTask:
		return []string{"schedule_task", "start_date", "end_date", "schedule_task_is_draft", "milestone"}
	case *domain.TargetDate:
		return []string{"target_date", "days_remaining"}
	case *domain.Variable:
		return []string{p.Name}
	case *domain.VariableString:
		return []string{p.Name}
	case *domain.HTTPCall:
		return []string{"http_response"}
	case *domain.PipelineRun:
		return []string{"pipeline_run"}
	}
	return nil
}

// InputShape возвращает вид release key, который порождает вход.
func InputShape(in domain.Input) string {
	switch in.(type) {
	case *domain.ProductInput:
		return "product"
	case *domain.VariablesInput:
		return "variables"
	case *domain.HTTPInput:
		return "http"
	case *domain.JiraIssuesInput:
		return "jira"
	}
	return string(in.Kind())
}

// InputsMatch сообщает, может ли вход target породить release key
// задачи, порождённой входом ref.
//
// Ключи product содержат имя продукта, ключи variables и http зависят
// от содержимого, поэтому для них вход target должен совпадать с ref.
// Ключи jira зависят от результата поиска, и для них достаточно вида.
func InputsMatch(ref, target domain.Input) bool {
	if InputShape(ref) != InputShape(target) {
		return false
	}
	switch ref := ref.(type) {
	case *domain.ProductInput:
		return ref.Product == target.(*domain.ProductInput).Product
	case *domain.VariablesInput:
		a, errA := variablesHash(ref)
		b, errB := variablesHash(target.(*domain.VariablesInput))
		return errA == nil && errB == nil && a == b
	case *domain.HTTPInput:
		a, errA := json.Marshal(ref.Request)
		b, errB := json.Marshal(target.(*domain.HTTPInput).Request)
		return errA == nil && errB == nil && bytes.Equal(a, b)
	}
	return true
}

func variablesHash(in *domain.VariablesInput) (string, error) {
	vars := in.Variables
	if vars == nil {
		vars = expr.NewMap()
	}
	return contentHash(expr.MapValue(vars))
}
