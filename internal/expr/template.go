package expr

import (
	"fmt"
	"strings"
	"unicode"
)

// Template — разобранный шаблон.
//
// Поддерживаются:
//
//	{{ expr }}                          — подстановка
//	{% if c %}…{% elif d %}…{% else %}…{% endif %}
//	{% for x in xs %}…{% else %}…{% endfor %}
//	{% for k, v in m.items() %}…{% endfor %}
//	{# комментарий #}
//
// Маркер "-" у границы тега ({{- x -}}) удаляет соседние пробелы.
type Template struct {
	src   string
	nodes []tnode
}

type tnode interface{}

type textNode struct{ text string }

type outputNode struct {
	src  string
	expr Node
}

type ifBranch struct {
	src  string
	cond Node
	body []tnode
}

type ifNode struct {
	branches []ifBranch
	els      []tnode
}

type forNode struct {
	src  string
	vars []string
	iter Node
	body []tnode
	els  []tnode
}

type segKind int

const (
	segText segKind = iota
	segOutput
	segStmt
)

type segment struct {
	kind segKind
	text string
	pos  int
}

// ParseTemplate разбирает шаблон.
func ParseTemplate(src string) (*Template, error) {
	segs, err := scanTemplate(src)
	if err != nil {
		return nil, err
	}
	p := &tmplParser{src: src, segs: segs}
	nodes, end, err := p.parseBody()
	if err != nil {
		return nil, err
	}
	if end != nil {
		return nil, p.errAt(*end, "unexpected {%% %s %%}", end.text)
	}
	return &Template{src: src, nodes: nodes}, nil
}

// Source возвращает исходный текст шаблона.
func (t *Template) Source() string { return t.src }

// scanTemplate разбивает шаблон на текст, подстановки и теги.
func scanTemplate(src string) ([]segment, error) {
	var segs []segment
	trimNext := false
	i := 0
	for i < len(src) {
		open := nextTag(src, i)
		if open < 0 {
			segs = appendText(segs, src[i:], i, trimNext, false)
			break
		}
		kind := src[open+1]
		inner := open + 2
		trimPrev := inner < len(src) && src[inner] == '-'
		if trimPrev {
			inner++
		}
		segs = appendText(segs, src[i:open], i, trimNext, trimPrev)

		var closeAt int
		var closer string
		switch kind {
		case '#':
			closer = "#}"
			closeAt = strings.Index(src[inner:], closer)
			if closeAt >= 0 {
				closeAt += inner
			}
		case '{':
			closer = "}}"
			closeAt = findClose(src, inner, closer)
		default:
			closer = "%}"
			closeAt = findClose(src, inner, closer)
		}
		if closeAt < 0 {
			return nil, &ExpressionError{
				Source: src, Path: src[open:], Offset: open,
				Msg: "unclosed tag, expected " + closer, Err: ErrSyntax,
			}
		}
		content := src[inner:closeAt]
		trimNext = strings.HasSuffix(content, "-")
		if trimNext {
			content = content[:len(content)-1]
		}
		switch kind {
		case '{':
			segs = append(segs, segment{kind: segOutput, text: strings.TrimSpace(content), pos: inner})
		case '%':
			segs = append(segs, segment{kind: segStmt, text: strings.TrimSpace(content), pos: inner})
		}
		i = closeAt + len(closer)
	}
	return segs, nil
}

func nextTag(src string, from int) int {
	for i := from; i+1 < len(src); i++ {
		if src[i] == '{' && (src[i+1] == '{' || src[i+1] == '%' || src[i+1] == '#') {
			return i
		}
	}
	return -1
}

// findClose ищет закрывающий маркер вне строковых литералов и вложенных скобок.
func findClose(src string, from int, closer string) int {
	depth := 0
	var quote byte
	for i := from; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
			continue
		case '{':
			depth++
			continue
		}
		if depth == 0 && strings.HasPrefix(src[i:], closer) {
			return i
		}
		if c == '}' && depth > 0 {
			depth--
		}
	}
	return -1
}

func appendText(segs []segment, text string, pos int, trimLeft, trimRight bool) []segment {
	if trimLeft {
		trimmed := strings.TrimLeftFunc(text, unicode.IsSpace)
		pos += len(text) - len(trimmed)
		text = trimmed
	}
	if trimRight {
		text = strings.TrimRightFunc(text, unicode.IsSpace)
	}
	if text == "" {
		return segs
	}
	return append(segs, segment{kind: segText, text: text, pos: pos})
}

type tmplParser struct {
	src  string
	segs []segment
	pos  int
}

func (p *tmplParser) errAt(s segment, format string, args ...any) error {
	return &ExpressionError{
		Source: p.src, Path: s.text, Offset: s.pos,
		Msg: fmt.Sprintf(format, args...), Err: ErrSyntax,
	}
}

func keyword(s segment) (string, string) {
	kw, rest, _ := strings.Cut(s.text, " ")
	return kw, strings.TrimSpace(rest)
}

// parseBody разбирает узлы до закрывающего тега (endif, elif, else, endfor)
// и возвращает этот тег, не потребляя его смысл.
func (p *tmplParser) parseBody() ([]tnode, *segment, error) {
	var nodes []tnode
	for p.pos < len(p.segs) {
		s := p.segs[p.pos]
		p.pos++
		switch s.kind {
		case segText:
			nodes = append(nodes, textNode{text: s.text})
		case segOutput:
			n, err := Parse(s.text)
			if err != nil {
				return nil, nil, err
			}
			nodes = append(nodes, outputNode{src: s.text, expr: n})
		case segStmt:
			kw, rest := keyword(s)
			switch kw {
			case "if":
				n, err := p.parseIf(s, rest)
				if err != nil {
					return nil, nil, err
				}
				nodes = append(nodes, n)
			case "for":
				n, err := p.parseFor(s, rest)
				if err != nil {
					return nil, nil, err
				}
				nodes = append(nodes, n)
			case "elif", "else", "endif", "endfor":
				return nodes, &s, nil
			default:
				return nil, nil, p.errAt(s, "unknown tag %q", kw)
			}
		}
	}
	return nodes, nil, nil
}

func (p *tmplParser) parseIf(start segment, cond string) (tnode, error) {
	n := &ifNode{}
	src := cond
	for {
		c, err := Parse(src)
		if err != nil {
			return nil, err
		}
		body, end, err := p.parseBody()
		if err != nil {
			return nil, err
		}
		n.branches = append(n.branches, ifBranch{src: src, cond: c, body: body})
		if end == nil {
			return nil, p.errAt(start, "missing {%% endif %%}")
		}
		kw, rest := keyword(*end)
		switch kw {
		case "elif":
			src = rest
			continue
		case "else":
			els, end, err := p.parseBody()
			if err != nil {
				return nil, err
			}
			if end == nil || end.text != "endif" {
				return nil, p.errAt(start, "missing {%% endif %%}")
			}
			n.els = els
			return n, nil
		case "endif":
			return n, nil
		default:
			return nil, p.errAt(*end, "unexpected {%% %s %%} inside if", kw)
		}
	}
}

func (p *tmplParser) parseFor(start segment, header string) (tnode, error) {
	toks, err := lex(header)
	if err != nil {
		return nil, err
	}
	n := &forNode{}
	i := 0
	for {
		if toks[i].kind != tokName {
			return nil, p.errAt(start, "expected loop variable")
		}
		n.vars = append(n.vars, toks[i].text)
		i++
		if toks[i].kind == tokOp && toks[i].text == "," {
			i++
			continue
		}
		break
	}
	if toks[i].kind != tokName || toks[i].text != "in" {
		return nil, p.errAt(start, "expected 'in' in for loop")
	}
	n.src = strings.TrimSpace(header[toks[i].end:])
	if n.iter, err = Parse(n.src); err != nil {
		return nil, err
	}
	body, end, err := p.parseBody()
	if err != nil {
		return nil, err
	}
	n.body = body
	if end != nil && end.text == "else" {
		if n.els, end, err = p.parseBody(); err != nil {
			return nil, err
		}
	}
	if end == nil || end.text != "endfor" {
		return nil, p.errAt(start, "missing {%% endfor %%}")
	}
	return n, nil
}

// frame — слой переменных цикла поверх внешнего окружения.
type frame struct {
	parent Env
	vars   map[string]Value
}

func (f *frame) Lookup(name string) (Value, bool) {
	if v, ok := f.vars[name]; ok {
		return v, true
	}
	return f.parent.Lookup(name)
}

type renderer struct {
	funcs *Registry
	b     strings.Builder
}

// Render подставляет значения в шаблон.
func (t *Template) Render(funcs *Registry, env Env) (string, error) {
	r := &renderer{funcs: funcs}
	if err := r.render(t.nodes, env); err != nil {
		return "", err
	}
	return r.b.String(), nil
}

func (r *renderer) eval(src string, n Node, env Env) (Value, error) {
	e := &evaluator{src: src, funcs: r.funcs, env: env}
	return e.eval(n)
}

func (r *renderer) render(nodes []tnode, env Env) error {
	for _, n := range nodes {
		switch n := n.(type) {
		case textNode:
			r.b.WriteString(n.text)

		case outputNode:
			v, err := r.eval(n.src, n.expr, env)
			if err != nil {
				return err
			}
			r.b.WriteString(v.String())

		case *ifNode:
			done := false
			for _, br := range n.branches {
				c, err := r.eval(br.src, br.cond, env)
				if err != nil {
					return err
				}
				if c.Truthy() {
					if err := r.render(br.body, env); err != nil {
						return err
					}
					done = true
					break
				}
			}
			if !done {
				if err := r.render(n.els, env); err != nil {
					return err
				}
			}

		case *forNode:
			if err := r.renderFor(n, env); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *renderer) renderFor(n *forNode, env Env) error {
	iter, err := r.eval(n.src, n.iter, env)
	if err != nil {
		return err
	}
	items, err := sequence(iter)
	if err != nil {
		return annotate(err, n.src, n.iter)
	}
	if len(items) == 0 {
		return r.render(n.els, env)
	}
	for i, item := range items {
		f := &frame{parent: env, vars: make(map[string]Value, len(n.vars)+1)}
		if len(n.vars) == 1 {
			f.vars[n.vars[0]] = item
		} else {
			parts, ok := item.AsList()
			if !ok || len(parts) != len(n.vars) {
				return annotate(errorf(ErrType, "cannot unpack %s into %d variables", item.Kind(), len(n.vars)), n.src, n.iter)
			}
			for j, name := range n.vars {
				f.vars[name] = parts[j]
			}
		}
		f.vars["loop"] = MapValue(MapOf(map[string]Value{
			"index":  Int(i + 1),
			"index0": Int(i),
			"first":  Bool(i == 0),
			"last":   Bool(i == len(items)-1),
			"length": Int(len(items)),
		}))
		if err := r.render(n.body, f); err != nil {
			return err
		}
	}
	return nil
}
