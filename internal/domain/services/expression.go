package services

import (
	"fmt"
	"strings"
)

// ExpressionContext maps dotted names such as "github.repository" or
// "matrix.language" to their values. Unknown names evaluate to the empty string.
type ExpressionContext map[string]string

// EvaluateCondition evaluates an `if:` expression to a boolean.
//
// Supported: dotted names, 'single quoted' strings, true/false/null,
// == != && || ! and parentheses. String equality ignores case.
func EvaluateCondition(expr string, ctx ExpressionContext) (bool, error) {
	v, err := evaluate(unwrapExpression(expr), ctx)
	if err != nil {
		return false, err
	}
	return v.truthy(), nil
}

// Interpolate replaces every ${{ expr }} in s with the value of expr
func Interpolate(s string, ctx ExpressionContext) (string, error) {
	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${{")
		if start < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		body := rest[start+3:]
		end := closingBraces(body)
		if end < 0 {
			return "", fmt.Errorf("%w: unterminated ${{ in %q", ErrInvalidExpression, s)
		}
		b.WriteString(rest[:start])
		v, err := evaluate(body[:end], ctx)
		if err != nil {
			return "", err
		}
		b.WriteString(v.String())
		rest = body[end+2:]
	}
}

// closingBraces finds the }} ending an expression, ignoring any inside
// quoted strings. A doubled quote toggles twice and stays quoted.
func closingBraces(s string) int {
	quoted := false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\'':
			quoted = !quoted
		case !quoted && strings.HasPrefix(s[i:], "}}"):
			return i
		}
	}
	return -1
}

func unwrapExpression(expr string) string {
	e := strings.TrimSpace(expr)
	if strings.HasPrefix(e, "${{") && strings.HasSuffix(e, "}}") {
		e = e[3 : len(e)-2]
	}
	return e
}

func evaluate(expr string, ctx ExpressionContext) (value, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return value{}, err
	}
	p := &exprParser{toks: toks, ctx: ctx}
	v, err := p.parseOr()
	if err != nil {
		return value{}, err
	}
	if p.peek().kind != tokEOF {
		return value{}, fmt.Errorf("%w: unexpected %q in %q", ErrInvalidExpression, p.peek().text, expr)
	}
	return v, nil
}

type value struct {
	str     string
	boolean bool
	isBool  bool
}

func (v value) truthy() bool {
	if v.isBool {
		return v.boolean
	}
	return v.str != ""
}

func (v value) String() string {
	if v.isBool {
		if v.boolean {
			return "true"
		}
		return "false"
	}
	return v.str
}

func (v value) equals(o value) bool {
	if v.isBool && o.isBool {
		return v.boolean == o.boolean
	}
	return strings.EqualFold(v.String(), o.String())
}

func boolValue(b bool) value {
	return value{boolean: b, isBool: true}
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == '\'':
			var b strings.Builder
			j := i + 1
			for {
				if j >= len(s) {
					return nil, fmt.Errorf("%w: unterminated string in %q", ErrInvalidExpression, s)
				}
				if s[j] == '\'' {
					// '' is an escaped quote
					if j+1 < len(s) && s[j+1] == '\'' {
						b.WriteByte('\'')
						j += 2
						continue
					}
					break
				}
				b.WriteByte(s[j])
				j++
			}
			toks = append(toks, token{tokString, b.String()})
			i = j + 1
		case strings.HasPrefix(s[i:], "=="), strings.HasPrefix(s[i:], "!="),
			strings.HasPrefix(s[i:], "&&"), strings.HasPrefix(s[i:], "||"):
			toks = append(toks, token{tokOp, s[i : i+2]})
			i += 2
		case c == '!':
			toks = append(toks, token{tokOp, "!"})
			i++
		case isIdentByte(c):
			j := i
			for j < len(s) && isIdentByte(s[j]) {
				j++
			}
			toks = append(toks, token{tokIdent, s[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("%w: unexpected character %q in %q", ErrInvalidExpression, c, s)
		}
	}
	return append(toks, token{kind: tokEOF}), nil
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '-' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

type exprParser struct {
	toks []token
	pos  int
	ctx  ExpressionContext
}

func (p *exprParser) peek() token {
	return p.toks[p.pos]
}

func (p *exprParser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *exprParser) parseOr() (value, error) {
	left, err := p.parseAnd()
	if err != nil {
		return value{}, err
	}
	for p.peek().kind == tokOp && p.peek().text == "||" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return value{}, err
		}
		if !left.truthy() {
			left = right
		}
	}
	return left, nil
}

func (p *exprParser) parseAnd() (value, error) {
	left, err := p.parseComparison()
	if err != nil {
		return value{}, err
	}
	for p.peek().kind == tokOp && p.peek().text == "&&" {
		p.next()
		right, err := p.parseComparison()
		if err != nil {
			return value{}, err
		}
		if left.truthy() {
			left = right
		}
	}
	return left, nil
}

func (p *exprParser) parseComparison() (value, error) {
	left, err := p.parseUnary()
	if err != nil {
		return value{}, err
	}
	for p.peek().kind == tokOp && (p.peek().text == "==" || p.peek().text == "!=") {
		op := p.next().text
		right, err := p.parseUnary()
		if err != nil {
			return value{}, err
		}
		eq := left.equals(right)
		if op == "!=" {
			eq = !eq
		}
		left = boolValue(eq)
	}
	return left, nil
}

func (p *exprParser) parseUnary() (value, error) {
	if p.peek().kind == tokOp && p.peek().text == "!" {
		p.next()
		v, err := p.parseUnary()
		if err != nil {
			return value{}, err
		}
		return boolValue(!v.truthy()), nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (value, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return value{str: t.text}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return boolValue(true), nil
		case "false":
			return boolValue(false), nil
		case "null":
			return value{}, nil
		}
		return value{str: p.ctx[t.text]}, nil
	case tokLParen:
		v, err := p.parseOr()
		if err != nil {
			return value{}, err
		}
		if p.next().kind != tokRParen {
			return value{}, fmt.Errorf("%w: missing closing parenthesis", ErrInvalidExpression)
		}
		return v, nil
	case tokEOF:
		return value{}, fmt.Errorf("%w: unexpected end of expression", ErrInvalidExpression)
	default:
		return value{}, fmt.Errorf("%w: unexpected %q", ErrInvalidExpression, t.text)
	}
}
