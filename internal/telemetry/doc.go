// Package telemetry — логирование и метрики retasc.
//
// logging.go настраивает slog (LOG_LEVEL, LOG_FORMAT) и переносит логгер
// через context вместе с полями run_id, rule и release.
//
// metrics.go регистрирует счётчики Prometheus: задачи по состояниям,
// прогоны, вызовы внешних сервисов, записи в трекер и pipeline runner.
// В режиме serve они отдаются на /metrics.
package telemetry
