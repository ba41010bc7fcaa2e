// Package api содержит HTTP API режима serve.
//
// Структура:
//   - handler.go        — Handler с зависимостями (orchestrator, проверки готовности)
//   - routes.go         — регистрация маршрутов
//   - middleware.go     — middleware (logging, recovery)
//   - response.go       — унифицированные JSON-ответы и обработка ошибок
//   - dto.go            — запросы и ответы
//   - run_handler.go    — обработчики для /api/v1/runs
//   - health_handler.go — /healthz и /readyz
//
// Маршруты:
//
//	GET  /healthz
//	GET  /readyz
//	GET  /metrics
//	GET  /api/v1/runs?status=...&trigger=...&limit=...&offset=...
//	POST /api/v1/runs
//	GET  /api/v1/runs/{id}
package api
