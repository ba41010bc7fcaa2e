package reconcile

import (
	"context"
	"errors"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/telemetry"
)

// PruneReport — итог прохода закрытия.
type PruneReport struct {
	// Skipped — проход пропущен, потому что часть задач завершилась ошибкой.
	Skipped bool     `json:"skipped"`
	Closed  []string `json:"closed,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// Prune закрывает открытые управляемые issue, которых не коснулась ни одна
// задача прогона (правило удалено или условие больше не выполняется).
//
// Вызывается один раз после вычисления всех правил. Если хотя бы одна
// задача Errored, проход пропускается: её issue не были посещены и
// выглядели бы брошенными.
func (p *Planner) Prune(ctx context.Context, results []domain.TaskResult) (*PruneReport, error) {
	report := &PruneReport{}
	if domain.HasErrors(results) {
		p.logger.Warn("prune skipped: some tasks errored")
		report.Skipped = true
		return report, nil
	}
	if p.tracker == nil || p.cfg.LabelPrefix == "" {
		return report, nil
	}

	touched := make(map[string]bool)
	for _, key := range p.Touched() {
		touched[key] = true
	}
	for _, r := range results {
		for _, key := range r.IssuesTouched {
			touched[key] = true
		}
	}

	open, err := p.tracker.ListOpenByLabelPrefix(ctx, p.cfg.ManagedLabel, p.cfg.LabelPrefix)
	telemetry.ObserveCall("tracker", "list open", err)
	if err != nil {
		return report, domain.NewCollaboratorError("tracker", "list open", err)
	}

	var errs []error
	for i := range open {
		issue := &open[i]
		if touched[issue.Key] || p.tracker.IsResolved(issue) {
			continue
		}
		err := p.tracker.Close(ctx, issue.Key)
		telemetry.ObserveCall("tracker", "close", err)
		if err != nil {
			err = domain.NewCollaboratorError("tracker", "close "+issue.Key, err)
			errs = append(errs, err)
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		p.logger.Info("issue closed", "key", issue.Key)
		report.Closed = append(report.Closed, issue.Key)
	}
	return report, errors.Join(errs...)
}
