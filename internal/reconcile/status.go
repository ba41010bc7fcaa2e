package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/engine"
	"github.com/release-engineering/retasc/internal/telemetry"
)

// Итоги добавления комментария.
const (
	commentAdded     = "added"
	commentDuplicate = "skipped_duplicate"
)

// syncStatus переводит issue в статус desired.
//
// На каждом шаге сначала ищется прямой переход в desired, затем самый
// поздний из оставшихся промежуточных статусов transitions. Статусы до
// текущего включительно пропускаются. Возвращает false, если issue уже
// в нужном статусе.
func (p *Planner) syncStatus(ctx context.Context, issue *domain.Issue, desired string, transitions []string) (bool, error) {
	current := domain.IssueStatus(issue)
	if current == desired {
		return false, nil
	}
	remaining := statusesAfter(transitions, current)

	for {
		available, err := p.tracker.Transitions(ctx, issue.Key)
		telemetry.ObserveCall("tracker", "transitions", err)
		if errors.Is(err, ErrSimulatedState) {
			return true, nil
		}
		if err != nil {
			return false, domain.NewCollaboratorError("tracker", "transitions "+issue.Key, err)
		}

		next := nextTransition(available, desired, remaining)
		if next == nil {
			names := make([]string, len(available))
			for i, t := range available {
				names[i] = t.To
			}
			return false, fmt.Errorf("%w: cannot transition %s to %q, available: [%s]",
				ErrNoTransition, issue.Key, desired, strings.Join(names, ", "))
		}

		err = p.tracker.Transition(ctx, issue.Key, next.ID)
		telemetry.ObserveCall("tracker", "transition", err)
		if err != nil {
			return false, domain.NewCollaboratorError("tracker", "transition "+issue.Key, err)
		}
		p.logger.Info("issue transitioned", "key", issue.Key, "to", next.To, "via", next.Name)

		if next.To == desired {
			return true, nil
		}
		remaining = statusesAfter(remaining, next.To)
	}
}

// statusesAfter возвращает статусы после current; если current нет
// в списке, возвращается весь список.
func statusesAfter(statuses []string, current string) []string {
	if i := slices.Index(statuses, current); i >= 0 {
		return statuses[i+1:]
	}
	return statuses
}

func nextTransition(available []domain.Transition, desired string, remaining []string) *domain.Transition {
	find := func(status string) *domain.Transition {
		for i := range available {
			if available[i].To == status {
				return &available[i]
			}
		}
		return nil
	}
	if t := find(desired); t != nil {
		return t
	}
	for i := len(remaining) - 1; i >= 0; i-- {
		if t := find(remaining[i]); t != nil {
			return t
		}
	}
	return nil
}

// syncComment добавляет комментарий body, если у issue ещё нет такого.
// body уже без пробелов по краям.
func (p *Planner) syncComment(ctx context.Context, task *engine.Task, issue *domain.Issue, body string) (string, error) {
	existing, err := p.tracker.Comments(ctx, issue.Key)
	telemetry.ObserveCall("tracker", "comments", err)
	if err != nil {
		return "", domain.NewCollaboratorError("tracker", "comments "+issue.Key, err)
	}
	// Jira может дописать перевод строки в конце
	if slices.ContainsFunc(existing, func(c string) bool { return strings.TrimSpace(c) == body }) {
		return commentDuplicate, nil
	}

	err = p.tracker.AddComment(ctx, issue.Key, body)
	telemetry.ObserveCall("tracker", "comment", err)
	if err != nil {
		return "", domain.NewCollaboratorError("tracker", "comment "+issue.Key, err)
	}
	p.logger.Info("issue commented", "key", issue.Key, "rule", task.Rule.Name)
	return commentAdded, nil
}
