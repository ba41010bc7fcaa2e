package expr

import (
	"errors"
	"fmt"
)

// Причины ошибок вычисления.
var (
	// ErrSyntax — некорректный синтаксис выражения или шаблона.
	ErrSyntax = errors.New("syntax error")

	// ErrUndefined — неизвестное имя, атрибут, ключ или функция.
	ErrUndefined = errors.New("undefined")

	// ErrType — операция над несовместимыми типами.
	ErrType = errors.New("type mismatch")

	// ErrCall — ошибка внутри функции или фильтра.
	ErrCall = errors.New("call failed")

	// ErrZeroDivision — деление на ноль.
	ErrZeroDivision = errors.New("division by zero")
)

// ExpressionError — ошибка разбора или вычисления выражения.
type ExpressionError struct {
	Source string // исходный текст выражения или шаблона
	Path   string // подвыражение, вызвавшее ошибку
	Offset int    // смещение подвыражения в Source
	Msg    string
	Err    error // одна из ErrSyntax, ErrUndefined, ErrType, ErrCall, ErrZeroDivision
}

// Error реализует интерфейс error.
func (e *ExpressionError) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Path != "" && e.Path != e.Source {
		return fmt.Sprintf("expression %q: at %q: %s", e.Source, e.Path, msg)
	}
	return fmt.Sprintf("expression %q: %s", e.Source, msg)
}

// Unwrap возвращает причину ошибки.
func (e *ExpressionError) Unwrap() error {
	return e.Err
}

// errorf создаёт ExpressionError без привязки к исходному тексту.
// Source и Path заполняются выше по стеку (см. annotate).
func errorf(cause error, format string, args ...any) *ExpressionError {
	return &ExpressionError{Msg: fmt.Sprintf(format, args...), Err: cause}
}

// annotate заполняет Source и Path, если они ещё не установлены.
func annotate(err error, src string, n Node) error {
	var ee *ExpressionError
	if !errors.As(err, &ee) {
		return &ExpressionError{Source: src, Msg: err.Error(), Err: fmt.Errorf("%w: %w", ErrCall, err)}
	}
	if ee.Source == "" {
		ee.Source = src
	}
	if ee.Path == "" && n != nil {
		start, end := n.Span()
		if start >= 0 && end <= len(src) && start < end {
			ee.Path = src[start:end]
			ee.Offset = start
		}
	}
	return ee
}
