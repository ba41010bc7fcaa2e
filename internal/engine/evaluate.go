package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/telemetry"
)

// Evaluate вычисляет все задачи всех правил.
//
// Порядок работы:
//  1. Граф ссылок rule: проверяется на циклы (цикл фатален для прогона).
//  2. Входы всех правил разворачиваются параллельно; ошибка входа
//     становится задачей Errored с ключом input:<kind>#<index>.
//  3. Задачи вычисляются параллельно (не более opts.Concurrency)
//     через Resolver, поэтому каждая (правило, release key) вычисляется
//     один раз, даже если на неё ссылаются другие правила.
//
// Результаты возвращаются в порядке правил, входов и экземпляров.
func Evaluate(ctx context.Context, rules []*domain.Rule, collab domain.Collaborators, opts Options) ([]domain.TaskResult, error) {
	if _, err := BuildRuleGraph(rules); err != nil {
		return nil, err
	}

	rc := NewRunContext(opts)
	ctx = telemetry.WithLogger(ctx, rc.Logger)
	resolver := NewResolver(rc, rules, collab, opts.Planner)

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	// Этап 1: развёртывание входов.
	type expansion struct {
		rule   *domain.Rule
		index  int
		input  domain.Input
		inputs []TaskInput
		err    error
	}
	var expansions []*expansion
	for _, rule := range rules {
		for i, in := range rule.Inputs {
			expansions = append(expansions, &expansion{rule: rule, index: i, input: in})
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for _, e := range expansions {
		eg.Go(func() error {
			e.inputs, e.err = resolver.Expander().Expand(egCtx, e.input)
			return nil
		})
	}
	_ = eg.Wait()

	// Этап 2: вычисление задач.
	type slot struct {
		rule   *domain.Rule
		input  *TaskInput
		result domain.TaskResult
	}
	var slots []*slot
	seen := make(map[string]bool)
	for _, e := range expansions {
		if e.err != nil {
			rc.Logger.Warn("input expansion failed", "rule", e.rule.Name, "input", e.index, "error", e.err)
			slots = append(slots, &slot{result: domain.TaskResult{
				Rule:       e.rule.Name,
				ReleaseKey: domain.ReleaseKey(fmt.Sprintf("input:%s#%d", e.input.Kind(), e.index)),
				State:      domain.StateErrored,
				Errors:     []string{fmt.Sprintf("%v: %v", ErrInputFailed, e.err)},
			}})
			telemetry.ObserveTask(e.rule.Name, string(domain.StateErrored))
			continue
		}
		for i := range e.inputs {
			// входы одного правила могут дать один и тот же ключ
			id := e.rule.Name + "@" + string(e.inputs[i].Key)
			if seen[id] {
				continue
			}
			seen[id] = true
			slots = append(slots, &slot{rule: e.rule, input: &e.inputs[i]})
		}
	}

	eg, egCtx = errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for _, s := range slots {
		if s.rule == nil {
			continue
		}
		eg.Go(func() error {
			res, err := resolver.ResolveTask(egCtx, s.rule, s.input)
			if err != nil {
				return err
			}
			s.result = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	results := make([]domain.TaskResult, len(slots))
	for i, s := range slots {
		results[i] = s.result
	}
	return results, nil
}
