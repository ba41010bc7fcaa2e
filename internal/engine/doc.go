// Package engine вычисляет правила.
//
// Включает:
//   - dag.go       — граф ссылок rule: и проверка на циклы
//   - expander.go  — развёртывание входов в экземпляры задач
//   - evaluator.go — цепочка пререквизитов задачи
//   - resolver.go  — однократное вычисление (правило, release key) за прогон
//   - evaluate.go  — параллельное вычисление всех задач
//
// Согласование issue и pipeline run выполняет Planner (пакет reconcile),
// которого вычислитель вызывает по мере достижения пререквизитов.
package engine
