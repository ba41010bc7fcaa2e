package engine

import (
	"errors"
	"strings"
)

// Ошибки графа правил.
var (
	// ErrMissingRule — пререквизит ссылается на несуществующее правило.
	ErrMissingRule = errors.New("rule depends on unknown rule")

	// ErrDuplicateRule — несколько правил с одинаковым именем.
	ErrDuplicateRule = errors.New("duplicate rule name")

	// ErrCyclicDependency — обнаружен цикл в ссылках между правилами.
	ErrCyclicDependency = errors.New("cyclic rule dependency detected")
)

// Ошибки вычисления задач.
var (
	// ErrReleaseKeyNotFound — зависимое правило не порождает задачу
	// с тем же release key.
	ErrReleaseKeyNotFound = errors.New("release key not produced by rule")

	// ErrInputFailed — вход правила не удалось развернуть.
	ErrInputFailed = errors.New("input expansion failed")
)

// CycleError — цикл в ссылках между правилами. Фатальна для всего прогона.
type CycleError struct {
	// Path — цепочка правил, замыкающаяся на первом элементе.
	Path []string

	// ReleaseKey — ключ, на котором цикл найден при вычислении
	// (пусто для статической проверки графа).
	ReleaseKey string
}

// Error реализует интерфейс error.
func (e *CycleError) Error() string {
	msg := "rule dependency cycle: " + strings.Join(e.Path, " -> ")
	if e.ReleaseKey != "" {
		msg += " (release " + e.ReleaseKey + ")"
	}
	return msg
}

// Unwrap возвращает ErrCyclicDependency.
func (e *CycleError) Unwrap() error {
	return ErrCyclicDependency
}

// GraphError — ошибка построения графа правил с контекстом.
type GraphError struct {
	Rule    string // правило, где произошла ошибка
	Message string
	Err     error
}

// Error реализует интерфейс error.
func (e *GraphError) Error() string {
	if e.Rule != "" {
		return "rule " + e.Rule + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *GraphError) Unwrap() error {
	return e.Err
}
