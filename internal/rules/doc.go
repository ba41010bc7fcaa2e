// Package rules загружает и проверяет файлы правил.
//
// Включает:
//   - parse.go    — разбор YAML-документа в domain.Rule
//   - values.go   — преобразование YAML-узлов в значения выражений
//   - load.go     — рекурсивный поиск **/*.yaml, **/*.yml
//   - validate.go — статическая проверка правил без обращения к сервисам
//   - watch.go    — отслеживание изменений файлов правил (serve)
//
// Ошибки отдельных файлов не прерывают загрузку остальных:
// все они собираются и возвращаются вместе.
package rules
