package rules

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRule — правило не соответствует формату.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrUnsupportedVersion — неподдерживаемая версия формата.
	ErrUnsupportedVersion = errors.New("unsupported rule version")

	// ErrReleaseShape — RuleRef между правилами с несовместимыми входами.
	ErrReleaseShape = errors.New("incompatible release shape")

	// ErrMissingTemplate — файл шаблона не найден.
	ErrMissingTemplate = errors.New("template file not found")

	// ErrDuplicateIssueID — один и тот же jira_issue id в нескольких местах.
	ErrDuplicateIssueID = errors.New("jira issue id already used")
)

// RuleLoadError — ошибка загрузки или проверки правила.
// Фатальна для файла (или правила), остальные файлы обрабатываются.
type RuleLoadError struct {
	File string
	Rule string
	Line int
	Msg  string
	Err  error
}

// Error реализует интерфейс error.
func (e *RuleLoadError) Error() string {
	loc := e.File
	if loc == "" {
		loc = "<input>"
	}
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, e.Line)
	}
	if e.Rule != "" {
		loc += fmt.Sprintf(": rule %q", e.Rule)
	}
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return loc + ": " + msg
}

// Unwrap возвращает базовую ошибку.
func (e *RuleLoadError) Unwrap() error {
	return e.Err
}
