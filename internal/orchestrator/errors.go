package orchestrator

import "errors"

var (
	// ErrRunInProgress — другой прогон ещё выполняется.
	ErrRunInProgress = errors.New("run already in progress")

	// ErrInvalidRules — нет корректного набора правил.
	ErrInvalidRules = errors.New("invalid rules")

	// ErrNotLeader — прогон выполняет другой экземпляр.
	ErrNotLeader = errors.New("not the leader instance")
)
