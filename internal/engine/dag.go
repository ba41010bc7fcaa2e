package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/release-engineering/retasc/internal/domain"
)

// Node — правило в графе зависимостей.
type Node struct {
	// Rule — определение правила.
	Rule *domain.Rule

	// ID — имя правила.
	ID string

	// InDegree — количество правил, от которых зависит это правило.
	InDegree int

	// DependsOn — правила, на которые ссылается это правило.
	DependsOn []*Node

	// Dependents — правила, которые ссылаются на это правило.
	Dependents []*Node
}

// RuleGraph — граф ссылок rule: между правилами.
type RuleGraph struct {
	// Nodes — все узлы графа (имя → Node).
	Nodes map[string]*Node

	// Order — правила в порядке, где зависимости идут раньше зависящих.
	Order []*Node
}

// BuildRuleGraph строит граф правил и проверяет его на циклы.
//
// Ошибки ссылок на неизвестные правила собираются все сразу
// (errors.Join); цикл возвращается как *CycleError.
func BuildRuleGraph(rules []*domain.Rule) (*RuleGraph, error) {
	g := &RuleGraph{Nodes: make(map[string]*Node, len(rules))}

	// Первый проход: создаём все узлы
	for _, r := range rules {
		if _, exists := g.Nodes[r.Name]; exists {
			return nil, &GraphError{Rule: r.Name, Message: "duplicate rule name", Err: ErrDuplicateRule}
		}
		g.Nodes[r.Name] = &Node{Rule: r, ID: r.Name}
	}

	// Второй проход: связываем узлы по ссылкам
	var missing []error
	for _, r := range rules {
		node := g.Nodes[r.Name]
		for _, ref := range r.RuleRefs() {
			dep, ok := g.Nodes[ref]
			if !ok {
				missing = append(missing, &GraphError{
					Rule:    r.Name,
					Message: fmt.Sprintf("dependent rule does not exist: %q", ref),
					Err:     ErrMissingRule,
				})
				continue
			}
			g.addEdge(dep, node)
		}
	}
	if len(missing) > 0 {
		return nil, errors.Join(missing...)
	}

	order, err := g.topologicalSort()
	if err != nil {
		return nil, err
	}
	g.Order = order
	return g, nil
}

// addEdge добавляет ребро from → to (to зависит от from).
// Повторные ссылки не увеличивают InDegree.
func (g *RuleGraph) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.ID == from.ID {
			return
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Узлы с одинаковым уровнем упорядочены по имени.
func (g *RuleGraph) topologicalSort() ([]*Node, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	var queue []*Node
	for id, node := range g.Nodes {
		inDegree[id] = node.InDegree
		if node.InDegree == 0 {
			queue = append(queue, node)
		}
	}
	sortNodes(queue)

	order := make([]*Node, 0, len(g.Nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		var ready []*Node
		for _, dependent := range node.Dependents {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				ready = append(ready, dependent)
			}
		}
		sortNodes(ready)
		queue = append(queue, ready...)
	}

	// Если не все узлы обработаны — есть цикл
	if len(order) != len(g.Nodes) {
		return nil, &CycleError{Path: g.findCycle(inDegree)}
	}
	return order, nil
}

// findCycle восстанавливает один цикл среди необработанных узлов
// для понятного сообщения об ошибке.
func (g *RuleGraph) findCycle(inDegree map[string]int) []string {
	var names []string
	for id := range inDegree {
		if inDegree[id] > 0 {
			names = append(names, id)
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil
	}
	start := g.Nodes[names[0]]

	// Идём по зависимостям, оставаясь среди необработанных узлов,
	// пока не встретим уже посещённый узел.
	visited := make(map[string]int)
	var path []string
	cur := start
	for {
		if idx, seen := visited[cur.ID]; seen {
			cycle := append([]string(nil), path[idx:]...)
			return append(cycle, cur.ID)
		}
		visited[cur.ID] = len(path)
		path = append(path, cur.ID)

		var next *Node
		for _, dep := range cur.DependsOn {
			if inDegree[dep.ID] > 0 {
				next = dep
				break
			}
		}
		if next == nil {
			return path
		}
		cur = next
	}
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
}

// GetNode возвращает узел по имени правила.
func (g *RuleGraph) GetNode(id string) *Node {
	return g.Nodes[id]
}

// Size возвращает количество правил в графе.
func (g *RuleGraph) Size() int {
	return len(g.Nodes)
}

// Dependencies возвращает имена всех правил, от которых (транзитивно)
// зависит правило name, в порядке обхода.
func (g *RuleGraph) Dependencies(name string) []string {
	node, ok := g.Nodes[name]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	var walk func(n *Node)
	walk = func(n *Node) {
		for _, dep := range n.DependsOn {
			if seen[dep.ID] {
				continue
			}
			seen[dep.ID] = true
			out = append(out, dep.ID)
			walk(dep)
		}
	}
	walk(node)
	return out
}
