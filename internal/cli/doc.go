// Package cli реализует команды retasc.
//
// # Обзор
//
// Локальные команды работают напрямую с правилами и внешними сервисами:
//   - run [PATH...]       — прогон правил с записью в Jira и OpenShift
//   - dry-run [PATH...]   — то же без записи (изменения только логируются)
//   - validate [PATH...]  — статическая проверка правил
//   - serve               — сервис: расписание, HTTP API, события RabbitMQ
//   - request             — запрос прогона через очередь run.requested
//
// Команды группы runs обращаются к HTTP API запущенного serve:
//   - runs list, runs show ID, runs trigger
//
// # Ключевые компоненты
//
// ## App
//
// Загруженная конфигурация и логгер. Создаёт клиентов внешних сервисов
// на каждый прогон и конфигурацию Orchestrator.
//
// ## Client
//
// HTTP-клиент для API serve. Парсит DataResponse, ListResponse и
// ErrorResponse.
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) и логи — в stderr.
// Это позволяет использовать pipe: retasc dry-run --json | jq .
package cli
