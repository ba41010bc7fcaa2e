package domain

import "strings"

// ReleaseKey — стабильный идентификатор экземпляра входа задачи.
//
// Форматы:
//
//	product:<product>/<release>
//	variables:<sha256 канонического JSON, 16 hex>
//	http:<sha256 элемента, 16 hex>
//	jira:<issue key>
type ReleaseKey string

// Shape возвращает вид ключа (product, variables, http, jira).
// Ключи разного вида несовместимы при разрешении RuleRef.
func (k ReleaseKey) Shape() string {
	shape, _, _ := strings.Cut(string(k), ":")
	return shape
}

// TaskResult — итог вычисления одной задачи.
type TaskResult struct {
	Rule       string     `json:"rule"`
	ReleaseKey ReleaseKey `json:"release_key"`
	State      TaskState  `json:"state"`

	// IssuesTouched — ключи issue, найденных или созданных задачей.
	IssuesTouched []string `json:"issues_touched,omitempty"`

	// Errors — ошибки выражений и внешних сервисов.
	Errors []string `json:"errors,omitempty"`

	// Steps — отчёт по каждому достигнутому пререквизиту.
	Steps []StepReport `json:"steps,omitempty"`
}

// StepReport — отчёт по одному пререквизиту.
type StepReport struct {
	Prerequisite string         `json:"prerequisite"`
	State        TaskState      `json:"state"`
	Details      map[string]any `json:"details,omitempty"`
}

// Summary считает задачи по состояниям.
func Summary(results []TaskResult) map[TaskState]int {
	out := make(map[TaskState]int)
	for _, r := range results {
		out[r.State]++
	}
	return out
}

// HasErrors сообщает, есть ли среди результатов Errored.
func HasErrors(results []TaskResult) bool {
	for _, r := range results {
		if r.State == StateErrored {
			return true
		}
	}
	return false
}
