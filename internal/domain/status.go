package domain

import "fmt"

// TaskState — состояние задачи (правило × release key).
//
// Порядок по "блокирующей силе":
//
//	Errored > Pending > InProgress > Completed
//
// Первый блокирующий пререквизит в порядке объявления определяет
// состояние задачи; Errored — отдельный исход, а не разновидность Pending.
type TaskState string

const (
	// StateCompleted — все пререквизиты выполнены.
	StateCompleted TaskState = "Completed"

	// StateInProgress — задача в окне, ожидается закрытие issue или pipeline run.
	StateInProgress TaskState = "InProgress"

	// StatePending — задача ещё не в окне (дата, условие, зависимость).
	StatePending TaskState = "Pending"

	// StateErrored — ошибка выражения или внешнего сервиса.
	StateErrored TaskState = "Errored"
)

// Severity возвращает блокирующую силу состояния (больше — сильнее).
func (s TaskState) Severity() int {
	switch s {
	case StateCompleted:
		return 0
	case StateInProgress:
		return 1
	case StatePending:
		return 2
	case StateErrored:
		return 3
	default:
		return -1
	}
}

// Raise возвращает более блокирующее из двух состояний.
// Пустое состояние означает "ещё не задано".
func (s TaskState) Raise(other TaskState) TaskState {
	if s == "" || other.Severity() > s.Severity() {
		return other
	}
	return s
}

// IsBlocking возвращает true для Pending и Errored: цепочка останавливается.
func (s TaskState) IsBlocking() bool {
	return s == StatePending || s == StateErrored
}

// String возвращает строковое представление TaskState.
func (s TaskState) String() string {
	return string(s)
}

// ParseTaskState парсит строку в TaskState.
func ParseTaskState(s string) (TaskState, error) {
	switch TaskState(s) {
	case StateCompleted, StateInProgress, StatePending, StateErrored:
		return TaskState(s), nil
	}
	return "", fmt.Errorf("unknown task state %q", s)
}

// RunStatus — статус пакетного прогона.
//
// Жизненный цикл:
//
//	RUNNING → SUCCEEDED
//	        ↘ FAILED
type RunStatus string

const (
	// RunStatusRunning — прогон выполняется.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — прогон завершён (отдельные задачи могут быть Errored).
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — прогон прерван фатальной ошибкой (цикл правил, загрузка).
	RunStatusFailed RunStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// PipelineStatus — статус pipeline run во внешней системе.
type PipelineStatus string

const (
	PipelineRunning   PipelineStatus = "Running"
	PipelineSucceeded PipelineStatus = "Succeeded"
	PipelineFailed    PipelineStatus = "Failed"
)
