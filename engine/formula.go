package engine

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// formulaCostLimit bounds CEL evaluation cost. Rule files are
// configuration data that may be edited outside the codebase, so a
// runaway expression must not exhaust the decision path.
const formulaCostLimit = 1_000_000

// Evaluator evaluates arithmetic formula expressions against a named
// variable scope. Expressions are restricted to numbers, + - * / ^,
// parentheses and variable names: the formula is parsed against that
// grammar first (rejecting function calls and any other construct),
// then compiled and run through a CEL environment that declares only
// the scope's variables, so there is no path to host identifiers,
// functions or side effects.
//
// Compiled programs are cached by expression and scope shape, so
// repeated executions of the same rule skip recompilation. The
// evaluator is safe for concurrent use.
type Evaluator struct {
	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewEvaluator creates an empty evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{programs: make(map[string]cel.Program)}
}

// Evaluate computes a formula against the scope and returns the
// numeric result. Malformed expressions return a descriptive error,
// never a silent zero.
func (ev *Evaluator) Evaluate(expression string, scope map[string]any) (float64, error) {
	activation := normalizeMap(scope)

	keys := make([]string, 0, len(activation))
	for k := range activation {
		if isIdentifier(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	cacheKey := expression + "\x00" + strings.Join(keys, ",")

	ev.mu.RLock()
	prog, ok := ev.programs[cacheKey]
	ev.mu.RUnlock()

	if !ok {
		var err error
		prog, err = ev.compile(expression, keys)
		if err != nil {
			return 0, err
		}
		ev.mu.Lock()
		ev.programs[cacheKey] = prog
		ev.mu.Unlock()
	}

	out, _, err := prog.Eval(activation)
	if err != nil {
		return 0, fmt.Errorf("formula %q: %w", expression, err)
	}

	result, ok := toFloat64(out.Value())
	if !ok {
		return 0, fmt.Errorf("formula %q: result is %T, not a number", expression, out.Value())
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, fmt.Errorf("formula %q: result is not a finite number", expression)
	}
	return result, nil
}

func (ev *Evaluator) compile(expression string, variables []string) (cel.Program, error) {
	rewritten, err := rewriteFormula(expression)
	if err != nil {
		return nil, fmt.Errorf("formula %q: %w", expression, err)
	}

	opts := []cel.EnvOption{
		cel.Function("pow",
			cel.Overload("pow_double_double",
				[]*cel.Type{cel.DoubleType, cel.DoubleType},
				cel.DoubleType,
				cel.BinaryBinding(powImpl))),
	}
	for _, name := range variables {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create formula environment: %w", err)
	}

	ast, issues := env.Compile(rewritten)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("formula %q: %w", expression, issues.Err())
	}

	prog, err := env.Program(ast, cel.CostLimit(formulaCostLimit))
	if err != nil {
		return nil, fmt.Errorf("formula %q: %w", expression, err)
	}
	return prog, nil
}

func powImpl(lhs, rhs ref.Val) ref.Val {
	base, ok := toFloat64(lhs.Value())
	if !ok {
		return types.NewErr("pow: base is not a number")
	}
	exp, ok := toFloat64(rhs.Value())
	if !ok {
		return types.NewErr("pow: exponent is not a number")
	}
	return types.Double(math.Pow(base, exp))
}

// --- formula grammar ---
//
// expr   := term (('+' | '-') term)*
// term   := unary (('*' | '/') unary)*
// unary  := '-' unary | power
// power  := primary ('^' unary)?          right-associative
// primary := number | variable | '(' expr ')'
//
// rewriteFormula validates an expression against this grammar and
// renders it into CEL: integer literals are widened to doubles (CEL
// has no implicit numeric coercion) and '^' becomes a pow() call.
// Anything outside the grammar, including function calls, is rejected
// before CEL ever sees it.

type formulaToken struct {
	kind string // "number", "ident", "op"
	text string
	pos  int
}

type formulaParser struct {
	tokens []formulaToken
	pos    int
}

func rewriteFormula(expression string) (string, error) {
	tokens, err := tokenizeFormula(expression)
	if err != nil {
		return "", err
	}
	if len(tokens) == 0 {
		return "", fmt.Errorf("empty expression")
	}

	p := &formulaParser{tokens: tokens}
	out, err := p.parseExpr()
	if err != nil {
		return "", err
	}
	if p.pos < len(p.tokens) {
		t := p.tokens[p.pos]
		return "", fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
	}
	return out, nil
}

func tokenizeFormula(expr string) ([]formulaToken, error) {
	var tokens []formulaToken
	runes := []rune(expr)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case r >= '0' && r <= '9' || r == '.':
			start := i
			seenDot := false
			for i < len(runes) && (runes[i] >= '0' && runes[i] <= '9' || runes[i] == '.') {
				if runes[i] == '.' {
					if seenDot {
						return nil, fmt.Errorf("malformed number at position %d", start)
					}
					seenDot = true
				}
				i++
			}
			tokens = append(tokens, formulaToken{kind: "number", text: string(runes[start:i]), pos: start})

		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_' || runes[i] == '.') {
				i++
			}
			tokens = append(tokens, formulaToken{kind: "ident", text: string(runes[start:i]), pos: start})

		case strings.ContainsRune("+-*/^()", r):
			tokens = append(tokens, formulaToken{kind: "op", text: string(r), pos: i})
			i++

		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", r, i)
		}
	}
	return tokens, nil
}

func (p *formulaParser) peek() (formulaToken, bool) {
	if p.pos >= len(p.tokens) {
		return formulaToken{}, false
	}
	return p.tokens[p.pos], true
}

func (p *formulaParser) acceptOp(ops string) (string, bool) {
	t, ok := p.peek()
	if !ok || t.kind != "op" || !strings.Contains(ops, t.text) {
		return "", false
	}
	p.pos++
	return t.text, true
}

func (p *formulaParser) parseExpr() (string, error) {
	out, err := p.parseTerm()
	if err != nil {
		return "", err
	}
	for {
		op, ok := p.acceptOp("+-")
		if !ok {
			return out, nil
		}
		rhs, err := p.parseTerm()
		if err != nil {
			return "", err
		}
		out = "(" + out + " " + op + " " + rhs + ")"
	}
}

func (p *formulaParser) parseTerm() (string, error) {
	out, err := p.parseUnary()
	if err != nil {
		return "", err
	}
	for {
		op, ok := p.acceptOp("*/")
		if !ok {
			return out, nil
		}
		rhs, err := p.parseUnary()
		if err != nil {
			return "", err
		}
		out = "(" + out + " " + op + " " + rhs + ")"
	}
}

func (p *formulaParser) parseUnary() (string, error) {
	if _, ok := p.acceptOp("-"); ok {
		operand, err := p.parseUnary()
		if err != nil {
			return "", err
		}
		return "(-" + operand + ")", nil
	}
	return p.parsePower()
}

func (p *formulaParser) parsePower() (string, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return "", err
	}
	if _, ok := p.acceptOp("^"); ok {
		// Right-associative: 2^3^2 is 2^(3^2).
		exp, err := p.parseUnary()
		if err != nil {
			return "", err
		}
		return "pow(" + base + ", " + exp + ")", nil
	}
	return base, nil
}

func (p *formulaParser) parsePrimary() (string, error) {
	t, ok := p.peek()
	if !ok {
		return "", fmt.Errorf("unexpected end of expression")
	}

	switch t.kind {
	case "number":
		p.pos++
		// CEL has no implicit int/double coercion and no bare ".5"
		// literals, so render every number as a well-formed double.
		text := t.text
		if !strings.Contains(text, ".") {
			text += ".0"
		}
		if strings.HasPrefix(text, ".") {
			text = "0" + text
		}
		if strings.HasSuffix(text, ".") {
			text += "0"
		}
		return text, nil

	case "ident":
		p.pos++
		if next, ok := p.peek(); ok && next.kind == "op" && next.text == "(" {
			return "", fmt.Errorf("function calls are not allowed in formulas (found %q at position %d)", t.text, t.pos)
		}
		return t.text, nil

	case "op":
		if t.text == "(" {
			p.pos++
			inner, err := p.parseExpr()
			if err != nil {
				return "", err
			}
			if _, ok := p.acceptOp(")"); !ok {
				return "", fmt.Errorf("missing closing parenthesis for group at position %d", t.pos)
			}
			return "(" + inner + ")", nil
		}
	}
	return "", fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
}

// isIdentifier reports whether a scope key can be declared as a CEL
// variable. Keys that are not identifiers cannot be referenced from a
// formula and are skipped.
func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if unicode.IsLetter(r) || r == '_' {
			continue
		}
		if i > 0 && unicode.IsDigit(r) {
			continue
		}
		return false
	}
	return !celReservedWords[name]
}

// CEL reserved words cannot be declared as variables.
var celReservedWords = map[string]bool{
	"true": true, "false": true, "null": true,
	"in": true, "as": true, "break": true, "const": true,
	"continue": true, "else": true, "for": true, "function": true,
	"if": true, "import": true, "let": true, "loop": true,
	"package": true, "namespace": true, "return": true,
	"var": true, "void": true, "while": true,
}

// normalizeMap deep-copies a scope, widening every numeric value to
// float64 so CEL arithmetic never mixes int and double, and converting
// nested structures to the map[string]any / []any shapes CEL selects
// into.
func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return normalizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		if f, ok := toFloat64(v); ok {
			return f
		}
		return v
	}
}
