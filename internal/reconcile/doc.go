// Package reconcile согласует внешние issue и pipeline run с задачами.
//
// Идентичность объекта выводится, а не хранится: id пререквизита
// рендерится в области видимости задачи и превращается в метку
// (jira_label_prefix + id). По этой метке issue ищется при каждом
// прогоне, поэтому повторный прогон без изменений не пишет ничего.
//
// Включает:
//   - planner.go  — issue и подзадачи (create / update / resolved)
//   - pipeline.go — pipeline run
//   - prune.go    — закрытие issue, на которые больше не ссылаются задачи
//   - dryrun.go   — декораторы, которые только логируют запись
package reconcile
