package indicator

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/newthinker/tradesim/internal/core"
)

// Composite indicators are arithmetic expressions over indicator values,
// candle fields and literal constants, e.g. "rsi + 50" or
// "(close - bollinger_lower) / (bollinger_upper - bollinger_lower)".
//
// Null semantics: any nil operand yields nil, and division by zero yields
// nil rather than an error. Cyclic or forward references between composites
// are rejected at compile time.

var candleFields = map[string]bool{
	"open":   true,
	"high":   true,
	"low":    true,
	"close":  true,
	"volume": true,
}

type evalCtx struct {
	set    core.IndicatorSet
	candle core.Candle
}

type exprNode interface {
	eval(ctx evalCtx) *float64
	refs(out map[string]bool)
}

type literalNode struct{ value float64 }

func (n literalNode) eval(ctx evalCtx) *float64 { v := n.value; return &v }
func (n literalNode) refs(out map[string]bool)  {}

type fieldNode struct{ field string }

func (n fieldNode) eval(ctx evalCtx) *float64 {
	var v float64
	switch n.field {
	case "open":
		v = ctx.candle.Open
	case "high":
		v = ctx.candle.High
	case "low":
		v = ctx.candle.Low
	case "close":
		v = ctx.candle.Close
	case "volume":
		v = ctx.candle.Volume
	}
	return &v
}
func (n fieldNode) refs(out map[string]bool) {}

type refNode struct{ key string }

func (n refNode) eval(ctx evalCtx) *float64 {
	return ctx.set[n.key]
}
func (n refNode) refs(out map[string]bool) { out[n.key] = true }

type binaryNode struct {
	op          byte
	left, right exprNode
}

func (n binaryNode) eval(ctx evalCtx) *float64 {
	l := n.left.eval(ctx)
	r := n.right.eval(ctx)
	if l == nil || r == nil {
		return nil
	}

	var v float64
	switch n.op {
	case '+':
		v = *l + *r
	case '-':
		v = *l - *r
	case '*':
		v = *l * *r
	case '/':
		if *r == 0 {
			return nil
		}
		v = *l / *r
	}
	return &v
}

func (n binaryNode) refs(out map[string]bool) {
	n.left.refs(out)
	n.right.refs(out)
}

type compiledCustom struct {
	name string
	expr exprNode
}

// compileCustoms parses and validates composite definitions. builtinKeys is
// the set of output keys already produced by built-in indicators.
func compileCustoms(specs []CustomSpec, builtinKeys map[string]bool) ([]compiledCustom, error) {
	byName := make(map[string]int, len(specs))
	for i, s := range specs {
		if s.Name == "" {
			return nil, core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("custom indicator at position %d has no name", i))
		}
		if builtinKeys[s.Name] {
			return nil, core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("custom indicator %q shadows a built-in indicator", s.Name))
		}
		if _, dup := byName[s.Name]; dup {
			return nil, core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("duplicate custom indicator %q", s.Name))
		}
		byName[s.Name] = i
	}

	parsed := make([]exprNode, len(specs))
	deps := make(map[string][]string, len(specs))
	for i, s := range specs {
		node, err := parseExpr(s.Expr)
		if err != nil {
			return nil, core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("custom indicator %q: %w", s.Name, err))
		}
		parsed[i] = node

		refSet := make(map[string]bool)
		node.refs(refSet)
		for ref := range refSet {
			if builtinKeys[ref] || candleFields[ref] {
				continue
			}
			j, ok := byName[ref]
			if !ok {
				return nil, core.WrapError(core.ErrConfigInvalid,
					fmt.Errorf("custom indicator %q references unknown indicator %q", s.Name, ref))
			}
			deps[s.Name] = append(deps[s.Name], specs[j].Name)
		}
	}

	if cycle := findCycle(deps); cycle != "" {
		return nil, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("cyclic composite indicator reference involving %q", cycle))
	}

	// Single-pass resolution: a composite may only use composites defined
	// before it.
	for i, s := range specs {
		for _, dep := range deps[s.Name] {
			if byName[dep] >= i {
				return nil, core.WrapError(core.ErrConfigInvalid,
					fmt.Errorf("custom indicator %q references %q which is defined later", s.Name, dep))
			}
		}
	}

	out := make([]compiledCustom, len(specs))
	for i, s := range specs {
		out[i] = compiledCustom{name: s.Name, expr: parsed[i]}
	}
	return out, nil
}

// findCycle returns the name of a node on a dependency cycle, or ""
func findCycle(deps map[string][]string) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)

	var visit func(name string) string
	visit = func(name string) string {
		color[name] = gray
		for _, dep := range deps[name] {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if c := visit(dep); c != "" {
					return c
				}
			}
		}
		color[name] = black
		return ""
	}

	for name := range deps {
		if color[name] == white {
			if c := visit(name); c != "" {
				return c
			}
		}
	}
	return ""
}

// parseExpr parses an arithmetic expression with the usual precedence:
//
//	expr   := term (('+'|'-') term)*
//	term   := factor (('*'|'/') factor)*
//	factor := number | identifier | '(' expr ')' | '-' factor
func parseExpr(input string) (exprNode, error) {
	p := &parser{input: input}
	node, err := p.expr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return nil, fmt.Errorf("unexpected %q at position %d", p.input[p.pos], p.pos)
	}
	return node, nil
}

type parser struct {
	input string
	pos   int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *parser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) expr() (exprNode, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek()
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) term() (exprNode, error) {
	left, err := p.factor()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek()
		if op != '*' && op != '/' {
			return left, nil
		}
		p.pos++
		right, err := p.factor()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) factor() (exprNode, error) {
	c := p.peek()
	switch {
	case c == '(':
		p.pos++
		node, err := p.expr()
		if err != nil {
			return nil, err
		}
		if p.peek() != ')' {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return node, nil

	case c == '-':
		p.pos++
		inner, err := p.factor()
		if err != nil {
			return nil, err
		}
		return binaryNode{op: '-', left: literalNode{0}, right: inner}, nil

	case c >= '0' && c <= '9' || c == '.':
		return p.number()

	case unicode.IsLetter(rune(c)) || c == '_':
		return p.identifier(), nil

	case c == 0:
		return nil, fmt.Errorf("unexpected end of expression")

	default:
		return nil, fmt.Errorf("unexpected %q at position %d", c, p.pos)
	}
}

func (p *parser) number() (exprNode, error) {
	start := p.pos
	for p.pos < len(p.input) && (p.input[p.pos] >= '0' && p.input[p.pos] <= '9' || p.input[p.pos] == '.') {
		p.pos++
	}
	v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", p.input[start:p.pos])
	}
	return literalNode{value: v}, nil
}

func (p *parser) identifier() exprNode {
	start := p.pos
	for p.pos < len(p.input) {
		c := rune(p.input[p.pos])
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '_' {
			break
		}
		p.pos++
	}
	name := strings.ToLower(p.input[start:p.pos])
	if candleFields[name] {
		return fieldNode{field: name}
	}
	return refNode{key: name}
}
