package jira

import "errors"

// ErrNoCloseTransition — у issue нет перехода в состояние "done".
var ErrNoCloseTransition = errors.New("no close transition available")
