// Package mq предоставляет инфраструктуру RabbitMQ для режима serve.
//
// Структура:
//   - connection.go — соединение с переподключением (backoff)
//   - topology.go   — exchanges, queues, bindings
//   - publisher.go  — события прогонов и задач
//   - consumer.go   — запросы на прогон
//
// Типы сообщений:
//   - task.result   — итог задачи (правило × release key)
//   - run.finished  — прогон завершён
//   - run.requested — внешний запрос на прогон
//
// Exchanges:
//   - retasc.events — события (topic), потребители вне retasc
//   - retasc.runs   — запросы прогонов (direct)
//   - retasc.dlq    — dead letter
package mq
