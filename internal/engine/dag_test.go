package engine

import (
	"errors"
	"testing"

	"github.com/release-engineering/retasc/internal/domain"
)

func ruleWithRefs(name string, refs ...string) *domain.Rule {
	r := &domain.Rule{Version: 1, Name: name}
	for _, ref := range refs {
		r.Prerequisites = append(r.Prerequisites, &domain.RuleRef{Rule: ref})
	}
	return r
}

func TestBuildRuleGraph_SimpleChain(t *testing.T) {
	rules := []*domain.Rule{
		ruleWithRefs("C", "B"),
		ruleWithRefs("B", "A"),
		ruleWithRefs("A"),
	}

	g, err := BuildRuleGraph(rules)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.Size() != 3 {
		t.Errorf("expected 3 nodes, got %d", g.Size())
	}

	var order []string
	for _, n := range g.Order {
		order = append(order, n.ID)
	}
	if len(order) != 3 || order[0] != "A" || order[1] != "B" || order[2] != "C" {
		t.Errorf("expected order [A B C], got %v", order)
	}

	nodeB := g.GetNode("B")
	if len(nodeB.DependsOn) != 1 || nodeB.DependsOn[0].ID != "A" {
		t.Error("node B should depend on A")
	}

	deps := g.Dependencies("C")
	if len(deps) != 2 || deps[0] != "B" || deps[1] != "A" {
		t.Errorf("expected transitive deps [B A], got %v", deps)
	}
}

func TestBuildRuleGraph_Diamond(t *testing.T) {
	// A ← B ← D
	// A ← C ← D
	rules := []*domain.Rule{
		ruleWithRefs("A"),
		ruleWithRefs("B", "A"),
		ruleWithRefs("C", "A", "A"),
		ruleWithRefs("D", "B", "C"),
	}

	g, err := BuildRuleGraph(rules)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.GetNode("D").InDegree != 2 {
		t.Errorf("D should have inDegree 2, got %d", g.GetNode("D").InDegree)
	}
	// повторная ссылка не дублирует ребро
	if g.GetNode("C").InDegree != 1 {
		t.Errorf("C should have inDegree 1, got %d", g.GetNode("C").InDegree)
	}
	if g.Order[len(g.Order)-1].ID != "D" {
		t.Errorf("D should be last, got %s", g.Order[len(g.Order)-1].ID)
	}
}

func TestBuildRuleGraph_Cycle(t *testing.T) {
	rules := []*domain.Rule{
		ruleWithRefs("A", "B"),
		ruleWithRefs("B", "A"),
		ruleWithRefs("C"),
	}

	_, err := BuildRuleGraph(rules)
	if err == nil {
		t.Fatal("expected cycle error")
	}

	var cycle *CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected CycleError, got %T: %v", err, err)
	}
	if !errors.Is(err, ErrCyclicDependency) {
		t.Error("CycleError should unwrap to ErrCyclicDependency")
	}
	if len(cycle.Path) != 3 || cycle.Path[0] != cycle.Path[2] {
		t.Errorf("expected closed path of length 3, got %v", cycle.Path)
	}
}

func TestBuildRuleGraph_SelfReference(t *testing.T) {
	_, err := BuildRuleGraph([]*domain.Rule{ruleWithRefs("A", "A")})

	var cycle *CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if len(cycle.Path) != 2 || cycle.Path[0] != "A" || cycle.Path[1] != "A" {
		t.Errorf("expected [A A], got %v", cycle.Path)
	}
}

func TestBuildRuleGraph_MissingRules(t *testing.T) {
	rules := []*domain.Rule{
		ruleWithRefs("A", "X"),
		ruleWithRefs("B", "Y"),
	}

	_, err := BuildRuleGraph(rules)
	if !errors.Is(err, ErrMissingRule) {
		t.Fatalf("expected ErrMissingRule, got %v", err)
	}

	// обе ошибки собраны
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok || len(joined.Unwrap()) != 2 {
		t.Errorf("expected 2 aggregated errors, got %v", err)
	}
}

func TestBuildRuleGraph_Duplicate(t *testing.T) {
	_, err := BuildRuleGraph([]*domain.Rule{ruleWithRefs("A"), ruleWithRefs("A")})
	if !errors.Is(err, ErrDuplicateRule) {
		t.Fatalf("expected ErrDuplicateRule, got %v", err)
	}
}
