package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/release-engineering/retasc/internal/domain"
)

// Resolver вычисляет задачи (правило, release key) не более одного раза
// за прогон.
//
// Результаты запоминаются; параллельные запросы одной задачи ждут
// единственного вычисления (singleflight). Цепочка разрешения передаётся
// через context, поэтому повторный вход в задачу обнаруживается до
// ожидания и возвращается как *CycleError.
type Resolver struct {
	rules     map[string]*domain.Rule
	expander  *Expander
	evaluator *Evaluator
	rc        *RunContext

	group singleflight.Group
	mu    sync.Mutex
	memo  map[string]domain.TaskResult
}

// NewResolver создаёт Resolver и связанный с ним Evaluator.
func NewResolver(rc *RunContext, rules []*domain.Rule, collab domain.Collaborators, planner Planner) *Resolver {
	r := &Resolver{
		rules:    make(map[string]*domain.Rule, len(rules)),
		expander: NewExpander(rc, collab),
		rc:       rc,
		memo:     make(map[string]domain.TaskResult),
	}
	for _, rule := range rules {
		r.rules[rule.Name] = rule
	}
	r.evaluator = &Evaluator{rc: rc, collab: collab, planner: planner, resolver: r}
	return r
}

// Expander возвращает развёртыватель входов прогона.
func (r *Resolver) Expander() *Expander {
	return r.expander
}

type chainKey struct{}

// chainFrom возвращает цепочку задач, разрешаемых в этом контексте.
func chainFrom(ctx context.Context) []string {
	chain, _ := ctx.Value(chainKey{}).([]string)
	return chain
}

func withChain(ctx context.Context, id string) context.Context {
	chain := chainFrom(ctx)
	next := make([]string, len(chain), len(chain)+1)
	copy(next, chain)
	return context.WithValue(ctx, chainKey{}, append(next, id))
}

// Resolve возвращает результат правила name для release key.
//
// Если правило не порождает задачу с этим ключом, результат — Pending
// с пояснением. Ошибка возвращается только для цикла.
func (r *Resolver) Resolve(ctx context.Context, name string, key domain.ReleaseKey) (domain.TaskResult, error) {
	rule, ok := r.rules[name]
	if !ok {
		return domain.TaskResult{}, fmt.Errorf("%w: %q", ErrMissingRule, name)
	}
	return r.resolve(ctx, rule, key, func(ctx context.Context) (domain.TaskResult, error) {
		task, err := r.findTask(ctx, rule, key)
		if err != nil {
			return domain.TaskResult{
				Rule:       rule.Name,
				ReleaseKey: key,
				State:      domain.StateErrored,
				Errors:     []string{err.Error()},
			}, nil
		}
		if task == nil {
			return domain.TaskResult{
				Rule:       rule.Name,
				ReleaseKey: key,
				State:      domain.StatePending,
				Steps: []domain.StepReport{{
					Prerequisite: "Rule(" + rule.Name + ")",
					State:        domain.StatePending,
					Details:      map[string]any{"note": ErrReleaseKeyNotFound.Error()},
				}},
			}, nil
		}
		return r.evaluator.Evaluate(ctx, task)
	})
}

// ResolveTask возвращает результат уже развёрнутой задачи.
func (r *Resolver) ResolveTask(ctx context.Context, rule *domain.Rule, in *TaskInput) (domain.TaskResult, error) {
	return r.resolve(ctx, rule, in.Key, func(ctx context.Context) (domain.TaskResult, error) {
		return r.evaluator.Evaluate(ctx, newTask(r.rc, rule, in))
	})
}

func (r *Resolver) resolve(
	ctx context.Context,
	rule *domain.Rule,
	key domain.ReleaseKey,
	eval func(context.Context) (domain.TaskResult, error),
) (domain.TaskResult, error) {
	id := rule.Name + "@" + string(key)

	chain := chainFrom(ctx)
	if slices.Contains(chain, id) {
		path := make([]string, 0, len(chain)+1)
		for _, item := range chain[slices.Index(chain, id):] {
			path = append(path, ruleOf(item))
		}
		return domain.TaskResult{}, &CycleError{Path: append(path, rule.Name), ReleaseKey: string(key)}
	}

	if res, ok := r.cached(id); ok {
		return res, nil
	}

	v, err, _ := r.group.Do(id, func() (any, error) {
		if res, ok := r.cached(id); ok {
			return res, nil
		}
		res, err := eval(withChain(ctx, id))
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.memo[id] = res
		r.mu.Unlock()
		return res, nil
	})
	if err != nil {
		return domain.TaskResult{}, err
	}
	return v.(domain.TaskResult), nil
}

func (r *Resolver) cached(id string) (domain.TaskResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.memo[id]
	return res, ok
}

// findTask разворачивает входы правила и ищет экземпляр с ключом key.
func (r *Resolver) findTask(ctx context.Context, rule *domain.Rule, key domain.ReleaseKey) (*Task, error) {
	for _, in := range rule.Inputs {
		if InputShape(in) != key.Shape() {
			continue
		}
		inputs, err := r.expander.Expand(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInputFailed, err)
		}
		for i := range inputs {
			if inputs[i].Key == key {
				return newTask(r.rc, rule, &inputs[i]), nil
			}
		}
	}
	return nil, nil
}

func ruleOf(id string) string {
	name, _, _ := strings.Cut(id, "@")
	return name
}
