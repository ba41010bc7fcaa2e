// Package expr — язык выражений и шаблонов для правил.
//
// Включает:
//   - lexer.go, parser.go — разбор выражений в AST
//   - eval.go             — вычисление выражений над Value
//   - template.go         — шаблоны {{ }}, {% if %}, {% for %}
//   - funcs.go            — реестр функций и фильтров (days, weeks, date, ...)
//   - scope.go            — слоистое пространство имён задачи (Scope)
//
// Синтаксис совместим с подмножеством Jinja:
//
//	today >= start_date - 2|weeks and not (release is none)
//	{{ product }}-{{ major }}.{{ minor }}
//
// Вычисление чистое: без I/O и без изменения пространства имён.
package expr
