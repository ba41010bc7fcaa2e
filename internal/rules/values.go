package rules

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/release-engineering/retasc/internal/expr"
)

// NodeValue преобразует YAML-узел в значение выражений.
//
// В отличие от декодирования в any, даты (!!timestamp) становятся
// датами, а не строками: variables: {date: 2025-07-17}.
func NodeValue(n *yaml.Node) (expr.Value, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return expr.Null(), nil
		}
		return NodeValue(n.Content[0])

	case yaml.AliasNode:
		return NodeValue(n.Alias)

	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!null":
			return expr.Null(), nil
		case "!!bool":
			var b bool
			if err := n.Decode(&b); err != nil {
				return expr.Value{}, err
			}
			return expr.Bool(b), nil
		case "!!int", "!!float":
			var f float64
			if err := n.Decode(&f); err != nil {
				return expr.Value{}, err
			}
			return expr.Number(f), nil
		case "!!timestamp":
			var t time.Time
			if err := n.Decode(&t); err != nil {
				return expr.Value{}, err
			}
			return expr.Date(t), nil
		default:
			return expr.String(n.Value), nil
		}

	case yaml.SequenceNode:
		items := make([]expr.Value, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := NodeValue(c)
			if err != nil {
				return expr.Value{}, err
			}
			items = append(items, v)
		}
		return expr.List(items...), nil

	case yaml.MappingNode:
		m := expr.NewMap()
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := NodeValue(n.Content[i+1])
			if err != nil {
				return expr.Value{}, err
			}
			m.Set(n.Content[i].Value, v)
		}
		return expr.MapValue(m), nil
	}
	return expr.Value{}, fmt.Errorf("unsupported YAML node kind %d", n.Kind)
}
