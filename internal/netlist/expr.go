package netlist

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// constEval folds an integer constant expression such as a bus bound.
// Identifiers resolve through params.
type constEval struct {
	tokens []token
	pos    int
	params map[string]int
}

func evalConst(tokens []token, params map[string]int) (int, error) {
	if len(tokens) == 0 {
		return 0, fmt.Errorf("empty constant expression")
	}
	e := &constEval{tokens: tokens, params: params}
	v, err := e.shift()
	if err != nil {
		return 0, err
	}
	if e.pos != len(tokens) {
		return 0, fmt.Errorf("unexpected %q in constant expression", tokens[e.pos].Text)
	}
	return v, nil
}

func (e *constEval) peek() (token, bool) {
	if e.pos >= len(e.tokens) {
		return token{}, false
	}
	return e.tokens[e.pos], true
}

func (e *constEval) accept(ops ...string) (string, bool) {
	t, ok := e.peek()
	if !ok || t.Kind != kindOperator {
		return "", false
	}
	for _, op := range ops {
		if t.Text == op {
			e.pos++
			return op, true
		}
	}
	return "", false
}

func (e *constEval) shift() (int, error) {
	v, err := e.additive()
	if err != nil {
		return 0, err
	}
	for {
		op, ok := e.accept("<<", ">>", "<<<", ">>>")
		if !ok {
			return v, nil
		}
		r, err := e.additive()
		if err != nil {
			return 0, err
		}
		if r < 0 {
			return 0, fmt.Errorf("negative shift amount %d", r)
		}
		if op == "<<" || op == "<<<" {
			v <<= r
		} else {
			v >>= r
		}
	}
}

func (e *constEval) additive() (int, error) {
	v, err := e.multiplicative()
	if err != nil {
		return 0, err
	}
	for {
		op, ok := e.accept("+", "-")
		if !ok {
			return v, nil
		}
		r, err := e.multiplicative()
		if err != nil {
			return 0, err
		}
		if op == "+" {
			v += r
		} else {
			v -= r
		}
	}
}

func (e *constEval) multiplicative() (int, error) {
	v, err := e.power()
	if err != nil {
		return 0, err
	}
	for {
		op, ok := e.accept("*", "/", "%")
		if !ok {
			return v, nil
		}
		r, err := e.power()
		if err != nil {
			return 0, err
		}
		switch op {
		case "*":
			v *= r
		case "/", "%":
			if r == 0 {
				return 0, fmt.Errorf("division by zero in constant expression")
			}
			if op == "/" {
				v /= r
			} else {
				v %= r
			}
		}
	}
}

// power is right associative: 2**3**2 == 2**9.
func (e *constEval) power() (int, error) {
	base, err := e.unary()
	if err != nil {
		return 0, err
	}
	if _, ok := e.accept("**"); !ok {
		return base, nil
	}
	exp, err := e.power()
	if err != nil {
		return 0, err
	}
	if exp < 0 {
		return 0, fmt.Errorf("negative exponent %d", exp)
	}
	return intPow(base, exp)
}

// intPow squares its way to base**exp and fails on overflow.
func intPow(base, exp int) (int, error) {
	switch base {
	case 0:
		if exp == 0 {
			return 1, nil
		}
		return 0, nil
	case 1:
		return 1, nil
	case -1:
		if exp%2 == 0 {
			return 1, nil
		}
		return -1, nil
	}
	result, b, e := 1, base, exp
	var ok bool
	for e > 0 {
		if e&1 == 1 {
			if result, ok = mulChecked(result, b); !ok {
				return 0, fmt.Errorf("%d**%d overflows", base, exp)
			}
		}
		e >>= 1
		if e > 0 {
			if b, ok = mulChecked(b, b); !ok {
				return 0, fmt.Errorf("%d**%d overflows", base, exp)
			}
		}
	}
	return result, nil
}

func mulChecked(a, b int) (int, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	c := a * b
	if c/b != a || (a == -1 && b == math.MinInt) || (b == -1 && a == math.MinInt) {
		return 0, false
	}
	return c, true
}

func (e *constEval) unary() (int, error) {
	if op, ok := e.accept("-", "+"); ok {
		v, err := e.unary()
		if op == "-" {
			v = -v
		}
		return v, err
	}
	return e.primary()
}

func (e *constEval) primary() (int, error) {
	t, ok := e.peek()
	if !ok {
		return 0, fmt.Errorf("truncated constant expression")
	}
	e.pos++
	switch {
	case t.is("("):
		v, err := e.shift()
		if err != nil {
			return 0, err
		}
		if _, ok := e.accept(")"); !ok {
			return 0, fmt.Errorf("missing ) in constant expression")
		}
		return v, nil
	case t.Kind == kindNumber:
		return parseIntLiteral(t.Text)
	case t.isName():
		if v, ok := e.params[t.Text]; ok {
			return v, nil
		}
		return 0, fmt.Errorf("unknown constant %s", t.Text)
	}
	return 0, fmt.Errorf("unexpected %q in constant expression", t.Text)
}

// parseIntLiteral accepts decimal and based literals without x/z digits.
func parseIntLiteral(text string) (int, error) {
	text = strings.ReplaceAll(text, "_", "")
	_, based, ok := strings.Cut(text, "'")
	if !ok {
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid integer literal %s", text)
		}
		return int(v), nil
	}
	based = strings.TrimLeft(based, "sS")
	if based == "" {
		return 0, fmt.Errorf("invalid integer literal %s", text)
	}
	var base int
	switch based[0] {
	case 'b', 'B':
		base = 2
	case 'o', 'O':
		base = 8
	case 'h', 'H':
		base = 16
	case 'd', 'D':
		base = 10
	default:
		return 0, fmt.Errorf("invalid integer literal %s", text)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(based[1:]), base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer literal %s", text)
	}
	return int(v), nil
}
