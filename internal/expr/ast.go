package expr

// Node — узел AST выражения.
type Node interface {
	// Span возвращает смещения начала и конца узла в исходном тексте.
	Span() (int, int)
}

type span struct{ start, end int }

func (s span) Span() (int, int) { return s.start, s.end }

// Literal — константа.
type Literal struct {
	span
	Value Value
}

// Name — обращение к переменной.
type Name struct {
	span
	Name string
}

// Attr — a.b
type Attr struct {
	span
	X    Node
	Name string
}

// Index — a[b]
type Index struct {
	span
	X     Node
	Index Node
}

// Call — вызов функции из реестра: f(x, y).
type Call struct {
	span
	Func string
	Args []Node
}

// Method — вызов метода значения: d.weekday().
type Method struct {
	span
	X    Node
	Name string
	Args []Node
}

// Filter — x | name(args).
type Filter struct {
	span
	X    Node
	Name string
	Args []Node
}

// Unary — -x, not x.
type Unary struct {
	span
	Op string
	X  Node
}

// Binary — бинарный оператор, включая and, or, in, not in.
type Binary struct {
	span
	Op   string
	L, R Node
}

// Cond — a if cond else b.
type Cond struct {
	span
	Then, Test, Else Node
}

// Test — x is [not] defined / none.
type Test struct {
	span
	X      Node
	Name   string
	Negate bool
}

// ListLit — [a, b].
type ListLit struct {
	span
	Items []Node
}

// MapLit — {'k': v}.
type MapLit struct {
	span
	Keys   []Node
	Values []Node
}
