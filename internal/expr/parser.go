package expr

import (
	"fmt"
	"strconv"
)

// Parse разбирает выражение в AST.
func Parse(src string) (Node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	n, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errAt(t, "unexpected %q", t.text)
	}
	return n, nil
}

type parser struct {
	src  string
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// isOp проверяет, что следующая лексема — оператор op.
func (p *parser) isOp(op string) bool {
	t := p.peek()
	return t.kind == tokOp && t.text == op
}

// isKeyword проверяет, что следующая лексема — ключевое слово kw.
func (p *parser) isKeyword(kw string) bool {
	t := p.peek()
	return t.kind == tokName && t.text == kw
}

func (p *parser) expectOp(op string) (token, error) {
	t := p.next()
	if t.kind != tokOp || t.text != op {
		return t, p.errAt(t, "expected %q", op)
	}
	return t, nil
}

func (p *parser) errAt(t token, format string, args ...any) error {
	path := t.text
	if t.kind == tokEOF {
		path = ""
		format = "unexpected end of expression, " + format
	}
	return &ExpressionError{
		Source: p.src, Path: path, Offset: t.pos,
		Msg: fmt.Sprintf(format, args...), Err: ErrSyntax,
	}
}

func startOf(n Node) int {
	s, _ := n.Span()
	return s
}

func endOf(n Node) int {
	_, e := n.Span()
	return e
}

// Приоритеты (от низкого к высокому):
//
//	a if c else b
//	or
//	and
//	not
//	== != < <= > >= in, not in, is
//	~
//	+ -
//	* / // %
//	унарный -
//	| фильтр
//	.attr [index] (call)
func (p *parser) parseExpr() (Node, error) {
	then, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.isKeyword("if") {
		return then, nil
	}
	p.next()
	test, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	var els Node
	if p.isKeyword("else") {
		p.next()
		if els, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	end := endOf(test)
	if els != nil {
		end = endOf(els)
	}
	return &Cond{span: span{startOf(then), end}, Then: then, Test: test, Else: els}, nil
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Binary{span: span{startOf(left), endOf(right)}, Op: "or", L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Binary{span: span{startOf(left), endOf(right)}, Op: "and", L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Node, error) {
	if p.isKeyword("not") {
		t := p.next()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Unary{span: span{t.pos, endOf(x)}, Op: "not", X: x}, nil
	}
	return p.parseCompare()
}

var compareOps = map[string]bool{"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}

func (p *parser) parseCompare() (Node, error) {
	left, err := p.parseConcat()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		var op string
		switch {
		case t.kind == tokOp && compareOps[t.text]:
			op = t.text
			p.next()
		case p.isKeyword("in"):
			op = "in"
			p.next()
		case p.isKeyword("not") && p.toks[p.pos+1].kind == tokName && p.toks[p.pos+1].text == "in":
			op = "not in"
			p.pos += 2
		case p.isKeyword("is"):
			p.next()
			negate := false
			if p.isKeyword("not") {
				p.next()
				negate = true
			}
			name := p.next()
			if name.kind != tokName {
				return nil, p.errAt(name, "expected test name after 'is'")
			}
			left = &Test{span: span{startOf(left), name.end}, X: left, Name: name.text, Negate: negate}
			continue
		default:
			return left, nil
		}
		right, err := p.parseConcat()
		if err != nil {
			return nil, err
		}
		left = &Binary{span: span{startOf(left), endOf(right)}, Op: op, L: left, R: right}
	}
}

func (p *parser) parseConcat() (Node, error) {
	left, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	for p.isOp("~") {
		p.next()
		right, err := p.parseAdd()
		if err != nil {
			return nil, err
		}
		left = &Binary{span: span{startOf(left), endOf(right)}, Op: "~", L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseAdd() (Node, error) {
	left, err := p.parseMul()
	if err != nil {
		return nil, err
	}
	for p.isOp("+") || p.isOp("-") {
		op := p.next().text
		right, err := p.parseMul()
		if err != nil {
			return nil, err
		}
		left = &Binary{span: span{startOf(left), endOf(right)}, Op: op, L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseMul() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*") || p.isOp("/") || p.isOp("//") || p.isOp("%") {
		op := p.next().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{span: span{startOf(left), endOf(right)}, Op: op, L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.isOp("-") || p.isOp("+") {
		t := p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if t.text == "+" {
			return x, nil
		}
		return &Unary{span: span{t.pos, endOf(x)}, Op: "-", X: x}, nil
	}
	return p.parseFilter()
}

// parseFilter разбирает цепочку фильтров. Фильтр связывает сильнее любого
// бинарного оператора: start_date - 2|weeks == start_date - (2|weeks).
func (p *parser) parseFilter() (Node, error) {
	x, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	for p.isOp("|") {
		p.next()
		name := p.next()
		if name.kind != tokName {
			return nil, p.errAt(name, "expected filter name after '|'")
		}
		f := &Filter{span: span{startOf(x), name.end}, X: x, Name: name.text}
		if p.isOp("(") {
			args, end, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			f.Args = args
			f.end = end
		}
		x = f
	}
	return x, nil
}

func (p *parser) parsePostfix() (Node, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.isOp("."):
			p.next()
			name := p.next()
			if name.kind != tokName && name.kind != tokNumber {
				return nil, p.errAt(name, "expected attribute name after '.'")
			}
			if p.isOp("(") {
				args, end, err := p.parseArgs()
				if err != nil {
					return nil, err
				}
				x = &Method{span: span{startOf(x), end}, X: x, Name: name.text, Args: args}
				continue
			}
			x = &Attr{span: span{startOf(x), name.end}, X: x, Name: name.text}

		case p.isOp("["):
			p.next()
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			closing, err := p.expectOp("]")
			if err != nil {
				return nil, err
			}
			x = &Index{span: span{startOf(x), closing.end}, X: x, Index: idx}

		case p.isOp("("):
			name, ok := x.(*Name)
			if !ok {
				return nil, p.errAt(p.peek(), "only named functions can be called")
			}
			args, end, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			x = &Call{span: span{name.start, end}, Func: name.Name, Args: args}

		default:
			return x, nil
		}
	}
}

// parseArgs разбирает список аргументов в скобках.
func (p *parser) parseArgs() ([]Node, int, error) {
	if _, err := p.expectOp("("); err != nil {
		return nil, 0, err
	}
	var args []Node
	for !p.isOp(")") {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, 0, err
		}
		args = append(args, arg)
		if !p.isOp(",") {
			break
		}
		p.next()
	}
	closing, err := p.expectOp(")")
	if err != nil {
		return nil, 0, err
	}
	return args, closing.end, nil
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		n, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errAt(t, "bad number %q", t.text)
		}
		return &Literal{span: span{t.pos, t.end}, Value: Number(n)}, nil

	case tokString:
		return &Literal{span: span{t.pos, t.end}, Value: String(t.text)}, nil

	case tokName:
		switch t.text {
		case "true", "True":
			return &Literal{span: span{t.pos, t.end}, Value: Bool(true)}, nil
		case "false", "False":
			return &Literal{span: span{t.pos, t.end}, Value: Bool(false)}, nil
		case "none", "None", "null":
			return &Literal{span: span{t.pos, t.end}, Value: Null()}, nil
		case "and", "or", "not", "in", "is", "if", "else":
			return nil, p.errAt(t, "unexpected keyword %q", t.text)
		}
		return &Name{span: span{t.pos, t.end}, Name: t.text}, nil

	case tokOp:
		switch t.text {
		case "(":
			x, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expectOp(")"); err != nil {
				return nil, err
			}
			return x, nil
		case "[":
			return p.parseList(t)
		case "{":
			return p.parseMap(t)
		}
	}
	return nil, p.errAt(t, "unexpected %q", t.text)
}

func (p *parser) parseList(open token) (Node, error) {
	l := &ListLit{}
	for !p.isOp("]") {
		item, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		l.Items = append(l.Items, item)
		if !p.isOp(",") {
			break
		}
		p.next()
	}
	closing, err := p.expectOp("]")
	if err != nil {
		return nil, err
	}
	l.span = span{open.pos, closing.end}
	return l, nil
}

func (p *parser) parseMap(open token) (Node, error) {
	m := &MapLit{}
	for !p.isOp("}") {
		key, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectOp(":"); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		m.Keys = append(m.Keys, key)
		m.Values = append(m.Values, val)
		if !p.isOp(",") {
			break
		}
		p.next()
	}
	closing, err := p.expectOp("}")
	if err != nil {
		return nil, err
	}
	m.span = span{open.pos, closing.end}
	return m, nil
}
