// Package orchestrator выполняет пакетные прогоны правил.
//
// Один прогон:
//  1. берёт текущий набор правил (загрузка и проверка)
//  2. создаёт клиентов внешних сервисов (в dry-run запись только логируется)
//  3. вычисляет все задачи (engine.Evaluate)
//  4. закрывает брошенные управляемые issue (prune)
//  5. сохраняет историю и публикует события
//
// Прогоны одного процесса не пересекаются; при заданном Leader прогон
// выполняет только держатель блокировки.
package orchestrator
