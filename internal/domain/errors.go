package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound — объект не найден во внешнем сервисе.
	ErrNotFound = errors.New("not found")

	// ErrNotConfigured — нужный внешний сервис не настроен.
	ErrNotConfigured = errors.New("collaborator not configured")

	// ErrHTTPStatus — внешний сервис ответил кодом 4xx/5xx.
	ErrHTTPStatus = errors.New("unexpected http status")
)

// CollaboratorError — ошибка внешнего сервиса (сеть, API).
// Делает задачу Errored, не затрагивая соседние задачи.
type CollaboratorError struct {
	Collaborator string // schedule, tracker, pipeline, http
	Op           string
	Err          error
}

// Error реализует интерфейс error.
func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Collaborator, e.Op, e.Err)
}

// Unwrap возвращает базовую ошибку.
func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// NewCollaboratorError оборачивает ошибку внешнего сервиса.
// Уже обёрнутая ошибка возвращается как есть.
func NewCollaboratorError(collaborator, op string, err error) error {
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return err
	}
	return &CollaboratorError{Collaborator: collaborator, Op: op, Err: err}
}
