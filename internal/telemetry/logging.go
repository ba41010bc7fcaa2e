package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Переменные окружения логгера.
const (
	EnvLogLevel  = "LOG_LEVEL"  // DEBUG, INFO, WARN, ERROR
	EnvLogFormat = "LOG_FORMAT" // json или text
)

// ParseLevel разбирает уровень без учёта регистра.
// Неизвестное значение даёт INFO.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if strings.EqualFold(s, "warning") {
		s = "warn"
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// NewLogger создаёт логгер поверх w. Формат "text" читается глазами,
// любой другой даёт JSON. На уровне DEBUG в записи добавляется
// место вызова.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level, AddSource: level <= slog.LevelDebug}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// SetupLogger настраивает логгер процесса по LOG_LEVEL и LOG_FORMAT
// и делает его логгером по умолчанию. Пишет в stderr: stdout
// отдан под отчёты команд.
func SetupLogger() *slog.Logger {
	logger := NewLogger(os.Stderr, ParseLevel(os.Getenv(EnvLogLevel)), os.Getenv(EnvLogFormat))
	slog.SetDefault(logger)
	return logger
}

type loggerKey struct{}

// WithLogger кладёт логгер в контекст.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext достаёт логгер из контекста, иначе slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithRunID добавляет run_id.
func WithRunID(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With("run_id", runID)
}

// WithRule добавляет имя правила.
func WithRule(logger *slog.Logger, rule string) *slog.Logger {
	return logger.With("rule", rule)
}

// WithRelease добавляет release_key.
func WithRelease(logger *slog.Logger, key string) *slog.Logger {
	return logger.With("release_key", key)
}
