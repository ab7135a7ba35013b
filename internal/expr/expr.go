// Package expr evaluates the restricted condition grammar used by workflow
// condition steps: comparisons, boolean combinators, and arithmetic over a
// variable bag. No function calls, no side effects.
package expr

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

var (
	ErrParse   = errors.New("expression parse error")
	ErrEval    = errors.New("expression eval error")
	ErrTypeMix = errors.New("mismatched operand types")
)

// Eval parses and evaluates source against vars. Unknown identifiers
// evaluate to nil, which compares equal only to nil and is falsy.
func Eval(source string, vars map[string]interface{}) (interface{}, error) {
	n, err := Parse(source)
	if err != nil {
		return nil, err
	}
	return n.Eval(vars)
}

// EvalBool evaluates source and coerces the result to a boolean using
// truthiness: false, nil, 0, and "" are falsy, everything else truthy.
func EvalBool(source string, vars map[string]interface{}) (bool, error) {
	v, err := Eval(source, vars)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// Node is a parsed expression.
type Node interface {
	Eval(vars map[string]interface{}) (interface{}, error)
}

// Parse compiles source into an evaluatable tree.
func Parse(source string) (Node, error) {
	toks, err := lex(source)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.toks) {
		return nil, fmt.Errorf("%w: unexpected %q", ErrParse, p.toks[p.pos].text)
	}
	return n, nil
}

// --- lexer ---

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokOp
)

type token struct {
	kind tokenKind
	text string
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case unicode.IsDigit(rune(c)) || (c == '.' && i+1 < len(src) && unicode.IsDigit(rune(src[i+1]))):
			j := i
			for j < len(src) && (unicode.IsDigit(rune(src[j])) || src[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, src[i:j]})
			i = j
		case unicode.IsLetter(rune(c)) || c == '_':
			j := i
			for j < len(src) && (unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j])) || src[j] == '_' || src[j] == '.') {
				j++
			}
			toks = append(toks, token{tokIdent, src[i:j]})
			i = j
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			var b strings.Builder
			for j < len(src) && src[j] != quote {
				if src[j] == '\\' && j+1 < len(src) {
					j++
				}
				b.WriteByte(src[j])
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("%w: unterminated string", ErrParse)
			}
			toks = append(toks, token{tokString, b.String()})
			i = j + 1
		default:
			matched := false
			for _, op := range []string{"&&", "||", "==", "!=", "<=", ">="} {
				if strings.HasPrefix(src[i:], op) {
					toks = append(toks, token{tokOp, op})
					i += 2
					matched = true
					break
				}
			}
			if matched {
				continue
			}
			if strings.ContainsRune("!<>+-*/%()", rune(c)) {
				toks = append(toks, token{tokOp, string(c)})
				i++
				continue
			}
			return nil, fmt.Errorf("%w: unexpected character %q", ErrParse, c)
		}
	}
	return toks, nil
}

// --- parser (precedence climbing) ---

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) acceptOp(ops ...string) (string, bool) {
	t, ok := p.peek()
	if !ok || t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("||"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "||", left: left, right: right}
	}
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("&&"); !ok {
			return left, nil
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "&&", left: left, right: right}
	}
}

func (p *parser) parseComparison() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if op, ok := p.acceptOp("==", "!=", "<=", ">=", "<", ">"); ok {
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseAdditive() (Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseMultiplicative() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("*", "/", "%")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (Node, error) {
	if _, ok := p.acceptOp("!"); ok {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: "!", inner: inner}, nil
	}
	if _, ok := p.acceptOp("-"); ok {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: "-", inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("%w: unexpected end of expression", ErrParse)
	}
	switch t.kind {
	case tokNumber:
		p.pos++
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrParse, t.text)
		}
		return &literalNode{value: f}, nil
	case tokString:
		p.pos++
		return &literalNode{value: t.text}, nil
	case tokIdent:
		p.pos++
		switch t.text {
		case "true":
			return &literalNode{value: true}, nil
		case "false":
			return &literalNode{value: false}, nil
		case "null", "nil":
			return &literalNode{value: nil}, nil
		}
		return &identNode{path: t.text}, nil
	case tokOp:
		if t.text == "(" {
			p.pos++
			inner, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if _, ok := p.acceptOp(")"); !ok {
				return nil, fmt.Errorf("%w: missing closing parenthesis", ErrParse)
			}
			return inner, nil
		}
	}
	return nil, fmt.Errorf("%w: unexpected %q", ErrParse, t.text)
}

// --- nodes ---

type literalNode struct{ value interface{} }

func (n *literalNode) Eval(map[string]interface{}) (interface{}, error) { return n.value, nil }

type identNode struct{ path string }

func (n *identNode) Eval(vars map[string]interface{}) (interface{}, error) {
	return Lookup(vars, n.path), nil
}

type unaryNode struct {
	op    string
	inner Node
}

func (n *unaryNode) Eval(vars map[string]interface{}) (interface{}, error) {
	v, err := n.inner.Eval(vars)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "!":
		return !truthy(v), nil
	case "-":
		f, ok := asNumber(v)
		if !ok {
			return nil, fmt.Errorf("%w: cannot negate %T", ErrEval, v)
		}
		return -f, nil
	}
	return nil, fmt.Errorf("%w: unknown unary %q", ErrEval, n.op)
}

type binaryNode struct {
	op          string
	left, right Node
}

func (n *binaryNode) Eval(vars map[string]interface{}) (interface{}, error) {
	// short-circuit booleans
	if n.op == "&&" || n.op == "||" {
		l, err := n.left.Eval(vars)
		if err != nil {
			return nil, err
		}
		if n.op == "&&" && !truthy(l) {
			return false, nil
		}
		if n.op == "||" && truthy(l) {
			return true, nil
		}
		r, err := n.right.Eval(vars)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	}

	l, err := n.left.Eval(vars)
	if err != nil {
		return nil, err
	}
	r, err := n.right.Eval(vars)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return looseEqual(l, r), nil
	case "!=":
		return !looseEqual(l, r), nil
	case "<", "<=", ">", ">=":
		return compare(n.op, l, r)
	case "+":
		// string concatenation when either side is a string
		if ls, ok := l.(string); ok {
			return ls + render(r), nil
		}
		if rs, ok := r.(string); ok {
			return render(l) + rs, nil
		}
		return arith(n.op, l, r)
	case "-", "*", "/", "%":
		return arith(n.op, l, r)
	}
	return nil, fmt.Errorf("%w: unknown operator %q", ErrEval, n.op)
}

// Lookup resolves a dotted path in a nested map bag. Missing segments
// resolve to nil.
func Lookup(vars map[string]interface{}, path string) interface{} {
	if vars == nil {
		return nil
	}
	if v, ok := vars[path]; ok {
		return v
	}
	parts := strings.Split(path, ".")
	var cur interface{} = vars
	for _, part := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	default:
		if f, ok := asNumber(v); ok {
			return f != 0
		}
		return true
	}
}

func asNumber(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func looseEqual(l, r interface{}) bool {
	if l == nil || r == nil {
		return l == nil && r == nil
	}
	if lf, ok := asNumber(l); ok {
		if rf, ok := asNumber(r); ok {
			return lf == rf
		}
	}
	if lb, ok := l.(bool); ok {
		if rb, ok := r.(bool); ok {
			return lb == rb
		}
	}
	return render(l) == render(r)
}

func compare(op string, l, r interface{}) (interface{}, error) {
	lf, lok := asNumber(l)
	rf, rok := asNumber(r)
	if lok && rok {
		switch op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}
	ls, lok := l.(string)
	rs, rok := r.(string)
	if lok && rok {
		switch op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}
	return nil, fmt.Errorf("%w: %T %s %T", ErrTypeMix, l, op, r)
}

func arith(op string, l, r interface{}) (interface{}, error) {
	lf, lok := asNumber(l)
	rf, rok := asNumber(r)
	if !lok || !rok {
		return nil, fmt.Errorf("%w: %T %s %T", ErrTypeMix, l, op, r)
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, fmt.Errorf("%w: division by zero", ErrEval)
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, fmt.Errorf("%w: modulo by zero", ErrEval)
		}
		return math.Mod(lf, rf), nil
	}
	return nil, fmt.Errorf("%w: unknown operator %q", ErrEval, op)
}

func render(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
