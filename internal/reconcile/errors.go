package reconcile

import "errors"

var (
	// ErrEmptyID — id issue или pipeline run отрендерился в пустую строку.
	ErrEmptyID = errors.New("rendered id is empty")

	// ErrUnsupportedField — поле отсутствует в отображении jira_fields.
	ErrUnsupportedField = errors.New("unsupported jira field")

	// ErrReservedLabel — метка использует зарезервированный префикс.
	ErrReservedLabel = errors.New("label uses reserved prefix")

	// ErrTemplate — шаблон не найден или не является YAML-объектом.
	ErrTemplate = errors.New("invalid template")
)

var (
	// ErrNoTransition — желаемый статус недостижим из текущего.
	ErrNoTransition = errors.New("status is unreachable")

	// ErrSimulatedState — состояние issue известно только в режиме --dry-run.
	ErrSimulatedState = errors.New("issue state is simulated by dry run")
)
