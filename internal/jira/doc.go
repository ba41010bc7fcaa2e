// Package jira — клиент Jira REST API (v2), реализация domain.Tracker.
//
// Issue, которыми управляет retasc, несут метку managed (по умолчанию
// "retasc-managed") и метку идентичности с префиксом (по умолчанию
// "retasc-id-"). Issue считается решённым, если поле resolution задано.
package jira
