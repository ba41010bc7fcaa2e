package expr

import (
	"errors"
	"math"
	"strings"
)

// Env — пространство имён для вычисления.
type Env interface {
	Lookup(name string) (Value, bool)
}

// MapEnv — Env поверх обычного map, удобен в тестах и для подстановок.
type MapEnv map[string]Value

// Lookup реализует Env.
func (m MapEnv) Lookup(name string) (Value, bool) {
	v, ok := m[name]
	return v, ok
}

// evaluator вычисляет AST одного выражения.
type evaluator struct {
	src   string
	funcs *Registry
	env   Env
}

func (e *evaluator) eval(n Node) (Value, error) {
	v, err := e.evalNode(n)
	if err != nil {
		return Value{}, annotate(err, e.src, n)
	}
	return v, nil
}

func (e *evaluator) evalNode(n Node) (Value, error) {
	switch n := n.(type) {
	case *Literal:
		return n.Value, nil

	case *Name:
		if v, ok := e.env.Lookup(n.Name); ok {
			return v, nil
		}
		return Value{}, errorf(ErrUndefined, "%q is undefined", n.Name)

	case *Attr:
		x, err := e.eval(n.X)
		if err != nil {
			return Value{}, err
		}
		return getAttr(x, n.Name)

	case *Index:
		x, err := e.eval(n.X)
		if err != nil {
			return Value{}, err
		}
		idx, err := e.eval(n.Index)
		if err != nil {
			return Value{}, err
		}
		return getIndex(x, idx)

	case *Call:
		fn, err := e.funcs.Get(n.Func)
		if err != nil {
			return Value{}, err
		}
		args, err := e.evalAll(n.Args)
		if err != nil {
			return Value{}, err
		}
		return fn(args)

	case *Method:
		x, err := e.eval(n.X)
		if err != nil {
			return Value{}, err
		}
		args, err := e.evalAll(n.Args)
		if err != nil {
			return Value{}, err
		}
		return callMethod(x, n.Name, args)

	case *Filter:
		return e.evalFilter(n)

	case *Unary:
		x, err := e.eval(n.X)
		if err != nil {
			return Value{}, err
		}
		if n.Op == "not" {
			return Bool(!x.Truthy()), nil
		}
		switch x.Kind() {
		case KindNumber:
			return Number(-x.n), nil
		case KindDuration:
			return Days(-x.days), nil
		}
		return Value{}, errorf(ErrType, "cannot negate %s", x.Kind())

	case *Binary:
		return e.evalBinary(n)

	case *Cond:
		test, err := e.eval(n.Test)
		if err != nil {
			return Value{}, err
		}
		if test.Truthy() {
			return e.eval(n.Then)
		}
		if n.Else == nil {
			return Null(), nil
		}
		return e.eval(n.Else)

	case *Test:
		return e.evalTest(n)

	case *ListLit:
		items, err := e.evalAll(n.Items)
		if err != nil {
			return Value{}, err
		}
		return List(items...), nil

	case *MapLit:
		m := NewMap()
		for i := range n.Keys {
			k, err := e.eval(n.Keys[i])
			if err != nil {
				return Value{}, err
			}
			if k.Kind() != KindString && k.Kind() != KindNumber {
				return Value{}, errorf(ErrType, "mapping key must be a string, got %s", k.Kind())
			}
			v, err := e.eval(n.Values[i])
			if err != nil {
				return Value{}, err
			}
			m.Set(k.String(), v)
		}
		return MapValue(m), nil
	}
	return Value{}, errorf(ErrSyntax, "unknown node %T", n)
}

func (e *evaluator) evalAll(nodes []Node) ([]Value, error) {
	out := make([]Value, len(nodes))
	for i, n := range nodes {
		v, err := e.eval(n)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *evaluator) evalFilter(n *Filter) (Value, error) {
	fn, err := e.funcs.Get(n.Name)
	if err != nil {
		return Value{}, err
	}
	x, err := e.eval(n.X)
	if err != nil {
		if (n.Name != "default" && n.Name != "d") || !errors.Is(err, ErrUndefined) {
			return Value{}, err
		}
		x = Null()
	}
	args, err := e.evalAll(n.Args)
	if err != nil {
		return Value{}, err
	}
	return fn(append([]Value{x}, args...))
}

func (e *evaluator) evalTest(n *Test) (Value, error) {
	x, err := e.eval(n.X)
	defined := true
	if err != nil {
		if !errors.Is(err, ErrUndefined) || (n.Name != "defined" && n.Name != "undefined") {
			return Value{}, err
		}
		defined = false
	}
	var result bool
	switch n.Name {
	case "defined":
		result = defined
	case "undefined":
		result = !defined
	case "none":
		result = x.IsNull()
	case "string":
		result = x.Kind() == KindString
	case "number":
		result = x.Kind() == KindNumber
	case "mapping":
		result = x.Kind() == KindMap
	case "sequence":
		result = x.Kind() == KindList || x.Kind() == KindString
	case "date":
		result = x.Kind() == KindDate
	default:
		return Value{}, errorf(ErrUndefined, "unknown test %q", n.Name)
	}
	if n.Negate {
		result = !result
	}
	return Bool(result), nil
}

func (e *evaluator) evalBinary(n *Binary) (Value, error) {
	l, err := e.eval(n.L)
	if err != nil {
		return Value{}, err
	}
	// and/or возвращают решающий операнд и не вычисляют правый без нужды
	switch n.Op {
	case "and":
		if !l.Truthy() {
			return l, nil
		}
		return e.eval(n.R)
	case "or":
		if l.Truthy() {
			return l, nil
		}
		return e.eval(n.R)
	}
	r, err := e.eval(n.R)
	if err != nil {
		return Value{}, err
	}
	return BinaryOp(n.Op, l, r)
}

// BinaryOp применяет бинарный оператор к двум значениям.
func BinaryOp(op string, l, r Value) (Value, error) {
	switch op {
	case "==":
		return Bool(Equal(l, r)), nil
	case "!=":
		return Bool(!Equal(l, r)), nil
	case "<", "<=", ">", ">=":
		c, err := Compare(l, r)
		if err != nil {
			return Value{}, err
		}
		switch op {
		case "<":
			return Bool(c < 0), nil
		case "<=":
			return Bool(c <= 0), nil
		case ">":
			return Bool(c > 0), nil
		default:
			return Bool(c >= 0), nil
		}
	case "in", "not in":
		found, err := contains(r, l)
		if err != nil {
			return Value{}, err
		}
		return Bool(found == (op == "in")), nil
	case "~":
		return String(l.String() + r.String()), nil
	case "+":
		return add(l, r)
	case "-":
		return sub(l, r)
	case "*":
		return mul(l, r)
	case "/", "//", "%":
		return div(op, l, r)
	}
	return Value{}, errorf(ErrSyntax, "unknown operator %q", op)
}

func mismatch(op string, l, r Value) error {
	return errorf(ErrType, "unsupported operand types for %s: %s and %s", op, l.Kind(), r.Kind())
}

func add(l, r Value) (Value, error) {
	switch {
	case l.kind == KindNumber && r.kind == KindNumber:
		return Number(l.n + r.n), nil
	case l.kind == KindString && r.kind == KindString:
		return String(l.s + r.s), nil
	case l.kind == KindList && r.kind == KindList:
		out := make([]Value, 0, len(l.list)+len(r.list))
		return List(append(append(out, l.list...), r.list...)...), nil
	case l.kind == KindDate && r.kind == KindDuration:
		return Date(l.t.AddDate(0, 0, r.days)), nil
	case l.kind == KindDuration && r.kind == KindDate:
		return Date(r.t.AddDate(0, 0, l.days)), nil
	case l.kind == KindDuration && r.kind == KindDuration:
		return Days(l.days + r.days), nil
	}
	return Value{}, mismatch("+", l, r)
}

func sub(l, r Value) (Value, error) {
	switch {
	case l.kind == KindNumber && r.kind == KindNumber:
		return Number(l.n - r.n), nil
	case l.kind == KindDate && r.kind == KindDuration:
		return Date(l.t.AddDate(0, 0, -r.days)), nil
	case l.kind == KindDate && r.kind == KindDate:
		return Days(int(math.Round(l.t.Sub(r.t).Hours() / 24))), nil
	case l.kind == KindDuration && r.kind == KindDuration:
		return Days(l.days - r.days), nil
	}
	return Value{}, mismatch("-", l, r)
}

func mul(l, r Value) (Value, error) {
	switch {
	case l.kind == KindNumber && r.kind == KindNumber:
		return Number(l.n * r.n), nil
	case l.kind == KindDuration && r.kind == KindNumber:
		return scaleDuration(l.days, r.n)
	case l.kind == KindNumber && r.kind == KindDuration:
		return scaleDuration(r.days, l.n)
	case l.kind == KindString && r.kind == KindNumber:
		if n, ok := r.AsInt(); ok && n >= 0 {
			return String(strings.Repeat(l.s, n)), nil
		}
	}
	return Value{}, mismatch("*", l, r)
}

func scaleDuration(days int, k float64) (Value, error) {
	d := float64(days) * k
	if d != math.Trunc(d) {
		return Value{}, errorf(ErrType, "duration must be a whole number of days, got %v", d)
	}
	return Days(int(d)), nil
}

func div(op string, l, r Value) (Value, error) {
	if l.kind != KindNumber || r.kind != KindNumber {
		return Value{}, mismatch(op, l, r)
	}
	if r.n == 0 {
		return Value{}, errorf(ErrZeroDivision, "division by zero")
	}
	switch op {
	case "/":
		return Number(l.n / r.n), nil
	case "//":
		return Number(math.Floor(l.n / r.n)), nil
	default:
		m := math.Mod(l.n, r.n)
		if m != 0 && (m < 0) != (r.n < 0) {
			m += r.n
		}
		return Number(m), nil
	}
}

func contains(container, item Value) (bool, error) {
	switch container.kind {
	case KindList:
		for _, v := range container.list {
			if Equal(v, item) {
				return true, nil
			}
		}
		return false, nil
	case KindString:
		s, ok := item.AsString()
		if !ok {
			return false, errorf(ErrType, "'in <string>' requires string as left operand, got %s", item.Kind())
		}
		return strings.Contains(container.s, s), nil
	case KindMap:
		if item.kind != KindString && item.kind != KindNumber {
			return false, nil
		}
		_, ok := container.m.Get(item.String())
		return ok, nil
	}
	return false, errorf(ErrType, "%s is not a container", container.Kind())
}

func getAttr(x Value, name string) (Value, error) {
	switch x.kind {
	case KindMap:
		if v, ok := x.m.Get(name); ok {
			return v, nil
		}
		return Value{}, errorf(ErrUndefined, "mapping has no key %q", name)
	case KindDate:
		switch name {
		case "year":
			return Int(x.t.Year()), nil
		case "month":
			return Int(int(x.t.Month())), nil
		case "day":
			return Int(x.t.Day()), nil
		}
	case KindDuration:
		if name == "days" {
			return Int(x.days), nil
		}
	case KindList:
		if n, ok := parseIndex(name); ok {
			return getIndex(x, Int(n))
		}
	}
	return Value{}, errorf(ErrUndefined, "%s has no attribute %q", x.Kind(), name)
}

func parseIndex(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

func getIndex(x, idx Value) (Value, error) {
	switch x.kind {
	case KindMap:
		if idx.kind != KindString && idx.kind != KindNumber {
			return Value{}, errorf(ErrType, "mapping index must be a string, got %s", idx.Kind())
		}
		if v, ok := x.m.Get(idx.String()); ok {
			return v, nil
		}
		return Value{}, errorf(ErrUndefined, "mapping has no key %q", idx.String())
	case KindList, KindString:
		i, ok := idx.AsInt()
		if !ok {
			return Value{}, errorf(ErrType, "%s index must be an integer, got %s", x.Kind(), idx.Kind())
		}
		items, _ := sequence(x)
		if i < 0 {
			i += len(items)
		}
		if i < 0 || i >= len(items) {
			return Value{}, errorf(ErrUndefined, "index %d out of range", i)
		}
		return items[i], nil
	}
	return Value{}, errorf(ErrType, "%s is not indexable", x.Kind())
}

func callMethod(x Value, name string, args []Value) (Value, error) {
	switch x.kind {
	case KindDate:
		switch name {
		case "weekday":
			return Int((int(x.t.Weekday()) + 6) % 7), nil
		case "isoweekday":
			return Int((int(x.t.Weekday())+6)%7 + 1), nil
		case "isoformat":
			return String(x.t.Format(DateLayout)), nil
		}
	case KindString:
		switch name {
		case "lower":
			return String(strings.ToLower(x.s)), nil
		case "upper":
			return String(strings.ToUpper(x.s)), nil
		case "strip":
			return String(strings.TrimSpace(x.s)), nil
		case "startswith", "endswith":
			if err := arity(args, 1, 1); err != nil {
				return Value{}, err
			}
			if name == "startswith" {
				return Bool(strings.HasPrefix(x.s, args[0].String())), nil
			}
			return Bool(strings.HasSuffix(x.s, args[0].String())), nil
		case "split":
			var parts []string
			if len(args) == 0 {
				parts = strings.Fields(x.s)
			} else {
				parts = strings.Split(x.s, args[0].String())
			}
			return FromGo(parts), nil
		case "replace":
			return fnReplace(append([]Value{x}, args...))
		}
	case KindMap:
		switch name {
		case "get":
			if err := arity(args, 1, 2); err != nil {
				return Value{}, err
			}
			if v, ok := x.m.Get(args[0].String()); ok {
				return v, nil
			}
			if len(args) == 2 {
				return args[1], nil
			}
			return Null(), nil
		case "keys":
			return fnKeys([]Value{x})
		case "values":
			out := make([]Value, 0, x.m.Len())
			for _, k := range x.m.Keys() {
				v, _ := x.m.Get(k)
				out = append(out, v)
			}
			return List(out...), nil
		case "items":
			out := make([]Value, 0, x.m.Len())
			for _, k := range x.m.Keys() {
				v, _ := x.m.Get(k)
				out = append(out, List(String(k), v))
			}
			return List(out...), nil
		}
	}
	return Value{}, errorf(ErrUndefined, "%s has no method %q", x.Kind(), name)
}
