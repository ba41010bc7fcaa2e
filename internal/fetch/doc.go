// Package fetch — HTTP-клиент для внешних сервисов.
//
// Содержит:
//   - NewHTTPClient: http.Client с таймаутами подключения/чтения и повтором
//     запросов (экспоненциальная задержка, cenkalti/backoff)
//   - Client: реализация domain.Fetcher для входов и пререквизитов http
//
// NewHTTPClient используется также клиентами Product Pages, Jira и OpenShift.
package fetch
