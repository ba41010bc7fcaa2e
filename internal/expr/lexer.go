package expr

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokName
	tokNumber
	tokString
	tokOp
)

// token — лексема выражения. Pos и End — смещения в исходном тексте.
type token struct {
	kind tokenKind
	text string // для tokString — уже раскодированное значение
	pos  int
	end  int
}

// twoCharOps проверяются раньше односимвольных.
var twoCharOps = []string{"//", "==", "!=", "<=", ">="}

const oneCharOps = "()[]{},:.|~+-*/%<>"

// lex разбивает выражение на лексемы.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += size

		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(src) {
				r, size = utf8.DecodeRuneInString(src[i:])
				if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				i += size
			}
			toks = append(toks, token{kind: tokName, text: src[start:i], pos: start, end: i})

		case r >= '0' && r <= '9':
			start := i
			for i < len(src) && isDigit(src[i]) {
				i++
			}
			// "1.5" — дробное число, "x.1" сюда не попадает
			if i+1 < len(src) && src[i] == '.' && isDigit(src[i+1]) {
				i++
				for i < len(src) && isDigit(src[i]) {
					i++
				}
			}
			toks = append(toks, token{kind: tokNumber, text: src[start:i], pos: start, end: i})

		case r == '\'' || r == '"':
			text, end, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: text, pos: i, end: end})
			i = end

		default:
			op := ""
			for _, two := range twoCharOps {
				if strings.HasPrefix(src[i:], two) {
					op = two
					break
				}
			}
			if op == "" && strings.ContainsRune(oneCharOps, r) {
				op = string(r)
			}
			if op == "" {
				return nil, &ExpressionError{
					Source: src, Path: string(r), Offset: i,
					Msg: "unexpected character " + string(r), Err: ErrSyntax,
				}
			}
			toks = append(toks, token{kind: tokOp, text: op, pos: i, end: i + len(op)})
			i += len(op)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src), end: len(src)})
	return toks, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// lexString читает строковый литерал, начинающийся с кавычки в позиции start.
func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == quote:
			return b.String(), i + 1, nil
		case c == '\\' && i+1 < len(src):
			i++
			switch src[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(src[i])
			}
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, &ExpressionError{
		Source: src, Path: src[start:], Offset: start,
		Msg: "unterminated string literal", Err: ErrSyntax,
	}
}
