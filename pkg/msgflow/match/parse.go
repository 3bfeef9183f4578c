package match

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex splits src into tokens.
func lex(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(c):
			i += size
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == '\'' || c == '"':
			end := strings.IndexByte(src[i+1:], src[i])
			if end < 0 {
				return nil, fmt.Errorf("unterminated string at %d", i)
			}
			tokens = append(tokens, token{kind: tokString, text: src[i+1 : i+1+end], pos: i})
			i += end + 2
		case strings.ContainsRune("=!<>", c):
			op := string(c)
			if i+1 < len(src) && src[i+1] == '=' {
				op += "="
			}
			if op == "=" {
				return nil, fmt.Errorf("unexpected '=' at %d, use '=='", i)
			}
			tokens = append(tokens, token{kind: tokOp, text: op, pos: i})
			i += len(op)
		case c == '-' || c == '.' || unicode.IsDigit(c):
			start := i
			i += size
			for i < len(src) {
				r, n := utf8.DecodeRuneInString(src[i:])
				if !unicode.IsDigit(r) && !strings.ContainsRune(".eE+-", r) {
					break
				}
				i += n
			}
			tokens = append(tokens, token{kind: tokNumber, text: src[start:i], pos: start})
		case c == '_' || unicode.IsLetter(c):
			start := i
			for i < len(src) {
				r, n := utf8.DecodeRuneInString(src[i:])
				if r != '_' && r != '.' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				i += n
			}
			tokens = append(tokens, token{kind: tokIdent, text: src[start:i], pos: start})
		default:
			return nil, fmt.Errorf("unexpected %q at %d", c, i)
		}
	}
	return append(tokens, token{kind: tokEOF, pos: len(src)}), nil
}

// node is a parsed expression.
type node interface {
	eval(f *fields) bool
}

type orNode struct{ left, right node }

func (n orNode) eval(f *fields) bool { return n.left.eval(f) || n.right.eval(f) }

type andNode struct{ left, right node }

func (n andNode) eval(f *fields) bool { return n.left.eval(f) && n.right.eval(f) }

type notNode struct{ inner node }

func (n notNode) eval(f *fields) bool { return !n.inner.eval(f) }

type truthyNode struct{ operand operand }

func (n truthyNode) eval(f *fields) bool { return isTruthy(n.operand.value(f)) }

type compareNode struct {
	op          string
	left, right operand
	re          *regexp.Regexp
}

func (n compareNode) eval(f *fields) bool {
	l, r := n.left.value(f), n.right.value(f)
	switch n.op {
	case "==", "!=":
		var equal bool
		lf, lok := toFloat64(l)
		rf, rok := toFloat64(r)
		if l == nil || r == nil {
			equal = l == nil && r == nil
		} else if lok && rok {
			equal = lf == rf
		} else {
			equal = text(l) == text(r)
		}
		return equal == (n.op == "==")
	case "contains":
		return l != nil && r != nil && strings.Contains(text(l), text(r))
	case "matches":
		return l != nil && n.re.MatchString(text(l))
	}

	lf, lok := toFloat64(l)
	rf, rok := toFloat64(r)
	if !lok || !rok {
		return false
	}
	switch n.op {
	case "<":
		return lf < rf
	case ">":
		return lf > rf
	case "<=":
		return lf <= rf
	default:
		return lf >= rf
	}
}

// operand is a literal or a field reference.
type operand struct {
	literal any
	field   string
}

func (o operand) value(f *fields) any {
	if o.field != "" {
		return f.lookup(o.field)
	}
	return o.literal
}

// parser is a recursive-descent parser over lexed tokens.
type parser struct {
	tokens []token
	pos    int
}

func parse(src string) (node, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	if p.peek().kind == tokEOF {
		return nil, fmt.Errorf("empty expression")
	}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at %d", t.text, t.pos)
	}
	return n, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(word string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.keyword("and") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.keyword("not") {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{inner: inner}, nil
	}
	if t := p.peek(); t.kind == tokOp && t.text == "!" {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	if p.peek().kind == tokLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tokRParen {
			return nil, fmt.Errorf("expected ')' at %d", t.pos)
		}
		return inner, nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	op, ok := p.comparison()
	if !ok {
		return truthyNode{operand: left}, nil
	}

	rightTok := p.peek()
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	n := compareNode{op: op, left: left, right: right}
	if op == "matches" {
		pattern, ok := right.literal.(string)
		if !ok || right.field != "" || rightTok.kind != tokString {
			return nil, fmt.Errorf("matches needs a string pattern at %d", rightTok.pos)
		}
		if n.re, err = regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("compile pattern at %d: %w", rightTok.pos, err)
		}
	}
	return n, nil
}

// comparison consumes a comparison operator if one is next.
func (p *parser) comparison() (string, bool) {
	t := p.peek()
	if t.kind == tokOp && t.text != "!" {
		p.next()
		return t.text, true
	}
	for _, word := range []string{"contains", "matches"} {
		if p.keyword(word) {
			return word, true
		}
	}
	return "", false
}

func (p *parser) parseOperand() (operand, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return operand{literal: t.text}, nil
	case tokNumber:
		if i, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return operand{literal: i}, nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return operand{}, fmt.Errorf("invalid number %q at %d", t.text, t.pos)
		}
		return operand{literal: f}, nil
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return operand{literal: true}, nil
		case "false":
			return operand{literal: false}, nil
		case "null", "nil":
			return operand{literal: nil}, nil
		case "and", "or", "not", "contains", "matches":
			return operand{}, fmt.Errorf("unexpected %q at %d", t.text, t.pos)
		}
		return operand{field: t.text}, nil
	case tokEOF:
		return operand{}, fmt.Errorf("unexpected end of expression")
	default:
		return operand{}, fmt.Errorf("unexpected %q at %d", t.text, t.pos)
	}
}
