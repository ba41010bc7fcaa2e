package expr

import (
	"strings"
	"sync"
)

// Engine — точка входа для вычисления выражений и шаблонов.
//
// Разобранные выражения и шаблоны кэшируются; Engine безопасен
// для использования из нескольких горутин.
type Engine struct {
	funcs *Registry

	mu    sync.RWMutex
	exprs map[string]Node
	tmpls map[string]*Template
}

// New создаёт Engine с заданным реестром функций.
// nil означает DefaultRegistry().
func New(funcs *Registry) *Engine {
	if funcs == nil {
		funcs = DefaultRegistry()
	}
	return &Engine{
		funcs: funcs,
		exprs: make(map[string]Node),
		tmpls: make(map[string]*Template),
	}
}

// Funcs возвращает реестр функций.
func (e *Engine) Funcs() *Registry { return e.funcs }

// Compile разбирает выражение (с кэшированием).
func (e *Engine) Compile(src string) (Node, error) {
	e.mu.RLock()
	n, ok := e.exprs[src]
	e.mu.RUnlock()
	if ok {
		return n, nil
	}

	n, err := Parse(src)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.exprs[src] = n
	e.mu.Unlock()
	return n, nil
}

// CompileTemplate разбирает шаблон (с кэшированием).
func (e *Engine) CompileTemplate(src string) (*Template, error) {
	e.mu.RLock()
	t, ok := e.tmpls[src]
	e.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := ParseTemplate(src)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.tmpls[src] = t
	e.mu.Unlock()
	return t, nil
}

// Eval вычисляет выражение.
func (e *Engine) Eval(src string, env Env) (Value, error) {
	n, err := e.Compile(src)
	if err != nil {
		return Value{}, err
	}
	ev := &evaluator{src: src, funcs: e.funcs, env: env}
	return ev.eval(n)
}

// EvalBool вычисляет условие. Результат обязан быть bool.
func (e *Engine) EvalBool(src string, env Env) (bool, error) {
	v, err := e.Eval(src, env)
	if err != nil {
		return false, err
	}
	b, ok := v.AsBool()
	if !ok {
		return false, &ExpressionError{Source: src, Msg: "condition must be a bool, got " + v.Kind().String(), Err: ErrType}
	}
	return b, nil
}

// Render подставляет значения в шаблон.
func (e *Engine) Render(src string, env Env) (string, error) {
	// строки без разметки не разбираются
	if !strings.Contains(src, "{{") && !strings.Contains(src, "{%") && !strings.Contains(src, "{#") {
		return src, nil
	}
	t, err := e.CompileTemplate(src)
	if err != nil {
		return "", err
	}
	return t.Render(e.funcs, env)
}

// Refs — имена, на которые ссылается выражение или шаблон.
type Refs struct {
	Names []string // свободные переменные (без переменных циклов)
	Funcs []string // функции и фильтры
}

// Refs возвращает ссылки выражения без его вычисления.
func (e *Engine) Refs(src string) (Refs, error) {
	n, err := e.Compile(src)
	if err != nil {
		return Refs{}, err
	}
	c := newCollector()
	c.walk(n, nil)
	return c.refs, nil
}

// TemplateRefs возвращает ссылки шаблона без его рендеринга.
func (e *Engine) TemplateRefs(src string) (Refs, error) {
	t, err := e.CompileTemplate(src)
	if err != nil {
		return Refs{}, err
	}
	c := newCollector()
	c.walkNodes(t.nodes, nil)
	return c.refs, nil
}

// collector собирает свободные имена AST в порядке появления.
type collector struct {
	refs      Refs
	seenNames map[string]bool
	seenFuncs map[string]bool
}

func newCollector() *collector {
	return &collector{seenNames: map[string]bool{}, seenFuncs: map[string]bool{}}
}

func (c *collector) addName(name string, bound map[string]bool) {
	if bound[name] || c.seenNames[name] {
		return
	}
	c.seenNames[name] = true
	c.refs.Names = append(c.refs.Names, name)
}

func (c *collector) addFunc(name string) {
	if c.seenFuncs[name] {
		return
	}
	c.seenFuncs[name] = true
	c.refs.Funcs = append(c.refs.Funcs, name)
}

func (c *collector) walkNodes(nodes []tnode, bound map[string]bool) {
	for _, n := range nodes {
		switch n := n.(type) {
		case outputNode:
			c.walk(n.expr, bound)
		case *ifNode:
			for _, br := range n.branches {
				c.walk(br.cond, bound)
				c.walkNodes(br.body, bound)
			}
			c.walkNodes(n.els, bound)
		case *forNode:
			c.walk(n.iter, bound)
			inner := map[string]bool{"loop": true}
			for k := range bound {
				inner[k] = true
			}
			for _, v := range n.vars {
				inner[v] = true
			}
			c.walkNodes(n.body, inner)
			c.walkNodes(n.els, bound)
		}
	}
}

func (c *collector) walk(n Node, bound map[string]bool) {
	switch n := n.(type) {
	case *Name:
		c.addName(n.Name, bound)
	case *Attr:
		c.walk(n.X, bound)
	case *Index:
		c.walk(n.X, bound)
		c.walk(n.Index, bound)
	case *Call:
		c.addFunc(n.Func)
		c.walkAll(n.Args, bound)
	case *Method:
		c.walk(n.X, bound)
		c.walkAll(n.Args, bound)
	case *Filter:
		c.addFunc(n.Name)
		// x | default(...) допустимо для неопределённого x
		if _, bare := n.X.(*Name); !bare || (n.Name != "default" && n.Name != "d") {
			c.walk(n.X, bound)
		}
		c.walkAll(n.Args, bound)
	case *Unary:
		c.walk(n.X, bound)
	case *Binary:
		c.walk(n.L, bound)
		c.walk(n.R, bound)
	case *Cond:
		c.walk(n.Then, bound)
		c.walk(n.Test, bound)
		if n.Else != nil {
			c.walk(n.Else, bound)
		}
	case *Test:
		// "x is defined" допустимо для неопределённых имён
		if n.Name != "defined" && n.Name != "undefined" {
			c.walk(n.X, bound)
		}
	case *ListLit:
		c.walkAll(n.Items, bound)
	case *MapLit:
		c.walkAll(n.Keys, bound)
		c.walkAll(n.Values, bound)
	}
}

func (c *collector) walkAll(nodes []Node, bound map[string]bool) {
	for _, n := range nodes {
		c.walk(n, bound)
	}
}
