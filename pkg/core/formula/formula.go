// Package formula compiles and evaluates the user-supplied scoring
// expression. The expression language is a restricted arithmetic/boolean
// subset parsed with go/parser: literals, the fixed variable set,
// parentheses, unary +/-/!, binary + - * / %, comparisons and && / ||.
// Booleans coerce to 0/1 when used arithmetically, so expressions like
// (nation != country) + cv work the way graders expect.
package formula

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"strconv"
)

// ScoreRange is the discrete range reviewers grade motivation and CV
// statements on. It doubles as the bounds-search domain for both variables.
var ScoreRange = []float64{-1, 0, 1}

// Vars is the fixed variable contract a formula is evaluated against.
// Every field is visible to the formula under the snake_case name noted
// in the struct tag position below; nothing else is in scope.
type Vars struct {
	Born        int     // born
	Gender      string  // gender
	Female      float64 // female: 0 or 1
	Nation      string  // nation
	Country     string  // country
	Motivation  float64 // motivation: mean of reviewer grades, NaN if none
	CV          float64 // cv: mean of reviewer grades, NaN if none
	Programming float64 // programming
	OpenSource  float64 // open_source
	Python      float64 // python
	Applied     float64 // applied: 0 or 1
}

func (v Vars) lookup(name string) (value, bool) {
	switch name {
	case "born":
		return numberValue(float64(v.Born)), true
	case "gender":
		return stringValue(v.Gender), true
	case "female":
		return numberValue(v.Female), true
	case "nation":
		return stringValue(v.Nation), true
	case "country":
		return stringValue(v.Country), true
	case "motivation":
		return numberValue(v.Motivation), true
	case "cv":
		return numberValue(v.CV), true
	case "programming":
		return numberValue(v.Programming), true
	case "open_source":
		return numberValue(v.OpenSource), true
	case "python":
		return numberValue(v.Python), true
	case "applied":
		return numberValue(v.Applied), true
	}
	return value{}, false
}

// String renders the full variable snapshot for error reports.
func (v Vars) String() string {
	return fmt.Sprintf("born=%d gender=%q female=%g nation=%q country=%q "+
		"motivation=%g cv=%g programming=%g open_source=%g python=%g applied=%g",
		v.Born, v.Gender, v.Female, v.Nation, v.Country,
		v.Motivation, v.CV, v.Programming, v.OpenSource, v.Python, v.Applied)
}

// UndefinedVariableError reports a formula referencing a name outside the
// variable contract.
type UndefinedVariableError struct {
	Name    string
	Formula string
	Vars    Vars
}

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("formula failed: undefined variable %q\n[%s]\n[%s]",
		e.Name, e.Formula, e.Vars)
}

// EvalError reports a type mismatch or other evaluation failure. It carries
// the formula text and the full variable snapshot for diagnosis.
type EvalError struct {
	Reason  string
	Formula string
	Vars    Vars
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("formula failed: %s\n[%s]\n[%s]",
		e.Reason, e.Formula, e.Vars)
}

// Formula is a compiled scoring expression. Compile once, evaluate many
// times; evaluation never mutates the formula or any external state.
type Formula struct {
	src  string
	root ast.Expr
}

// Source returns the original expression text.
func (f *Formula) Source() string {
	return f.src
}

// Compile parses and syntax-checks src. Only the restricted node and
// operator set is accepted; anything else (calls, indexing, selectors,
// assignments) fails here so a bad formula is rejected before it replaces
// a working one.
func Compile(src string) (*Formula, error) {
	root, err := parser.ParseExpr(src)
	if err != nil {
		return nil, fmt.Errorf("invalid formula %q: %w", src, err)
	}
	if err := checkExpr(root); err != nil {
		return nil, fmt.Errorf("invalid formula %q: %w", src, err)
	}
	return &Formula{src: src, root: root}, nil
}

func checkExpr(node ast.Expr) error {
	switch n := node.(type) {
	case *ast.BasicLit:
		switch n.Kind {
		case token.INT, token.FLOAT, token.STRING:
			return nil
		}
		return fmt.Errorf("unsupported literal %s", n.Value)
	case *ast.Ident:
		return nil
	case *ast.ParenExpr:
		return checkExpr(n.X)
	case *ast.UnaryExpr:
		switch n.Op {
		case token.ADD, token.SUB, token.NOT:
			return checkExpr(n.X)
		}
		return fmt.Errorf("unsupported unary operator %s", n.Op)
	case *ast.BinaryExpr:
		switch n.Op {
		case token.ADD, token.SUB, token.MUL, token.QUO, token.REM,
			token.EQL, token.NEQ, token.LSS, token.LEQ, token.GTR, token.GEQ,
			token.LAND, token.LOR:
			if err := checkExpr(n.X); err != nil {
				return err
			}
			return checkExpr(n.Y)
		}
		return fmt.Errorf("unsupported operator %s", n.Op)
	default:
		return fmt.Errorf("unsupported expression node %T", node)
	}
}

// value is the evaluator's runtime representation: a number, a string or
// a boolean. Booleans convert to 0/1 on demand; strings never convert.
type value struct {
	kind valueKind
	num  float64
	str  string
	b    bool
}

type valueKind int

const (
	kindNumber valueKind = iota
	kindString
	kindBool
)

func numberValue(n float64) value { return value{kind: kindNumber, num: n} }
func stringValue(s string) value  { return value{kind: kindString, str: s} }
func boolValue(b bool) value      { return value{kind: kindBool, b: b} }

// asNumber coerces numbers and booleans to float64; strings do not coerce.
func (v value) asNumber() (float64, bool) {
	switch v.kind {
	case kindNumber:
		return v.num, true
	case kindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// asBool treats a nonzero number as true. NaN is true here, matching the
// usual "NaN is not zero" reading; formulas guarding on NaN should compare
// grades explicitly instead.
func (v value) asBool() (bool, bool) {
	switch v.kind {
	case kindBool:
		return v.b, true
	case kindNumber:
		return v.num != 0, true
	}
	return false, false
}

func (v value) typeName() string {
	switch v.kind {
	case kindNumber:
		return "number"
	case kindString:
		return "string"
	default:
		return "bool"
	}
}

// Eval evaluates the formula against vars and returns the numeric score.
// A formula whose result is a string is a type error; a boolean result
// coerces to 0/1.
func (f *Formula) Eval(vars Vars) (float64, error) {
	result, err := f.eval(f.root, vars)
	if err != nil {
		return 0, err
	}
	score, ok := result.asNumber()
	if !ok {
		return 0, f.evalErr(vars, "formula yielded a %s, not a number", result.typeName())
	}
	return score, nil
}

func (f *Formula) evalErr(vars Vars, format string, args ...any) error {
	return &EvalError{Reason: fmt.Sprintf(format, args...), Formula: f.src, Vars: vars}
}

func (f *Formula) eval(node ast.Expr, vars Vars) (value, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		return f.evalLit(n, vars)
	case *ast.Ident:
		v, ok := vars.lookup(n.Name)
		if !ok {
			return value{}, &UndefinedVariableError{Name: n.Name, Formula: f.src, Vars: vars}
		}
		return v, nil
	case *ast.ParenExpr:
		return f.eval(n.X, vars)
	case *ast.UnaryExpr:
		return f.evalUnary(n, vars)
	case *ast.BinaryExpr:
		return f.evalBinary(n, vars)
	}
	// Unreachable for compiled formulas; Compile rejects anything else.
	return value{}, f.evalErr(vars, "unsupported expression node %T", node)
}

func (f *Formula) evalLit(lit *ast.BasicLit, vars Vars) (value, error) {
	switch lit.Kind {
	case token.INT, token.FLOAT:
		n, err := strconv.ParseFloat(lit.Value, 64)
		if err != nil {
			return value{}, f.evalErr(vars, "bad numeric literal %s", lit.Value)
		}
		return numberValue(n), nil
	case token.STRING:
		s, err := strconv.Unquote(lit.Value)
		if err != nil {
			return value{}, f.evalErr(vars, "bad string literal %s", lit.Value)
		}
		return stringValue(s), nil
	}
	return value{}, f.evalErr(vars, "unsupported literal %s", lit.Value)
}

func (f *Formula) evalUnary(expr *ast.UnaryExpr, vars Vars) (value, error) {
	operand, err := f.eval(expr.X, vars)
	if err != nil {
		return value{}, err
	}
	switch expr.Op {
	case token.SUB:
		n, ok := operand.asNumber()
		if !ok {
			return value{}, f.evalErr(vars, "cannot negate a %s", operand.typeName())
		}
		return numberValue(-n), nil
	case token.ADD:
		n, ok := operand.asNumber()
		if !ok {
			return value{}, f.evalErr(vars, "unary + needs a number, got %s", operand.typeName())
		}
		return numberValue(n), nil
	case token.NOT:
		b, ok := operand.asBool()
		if !ok {
			return value{}, f.evalErr(vars, "cannot apply ! to a %s", operand.typeName())
		}
		return boolValue(!b), nil
	}
	return value{}, f.evalErr(vars, "unsupported unary operator %s", expr.Op)
}

func (f *Formula) evalBinary(expr *ast.BinaryExpr, vars Vars) (value, error) {
	left, err := f.eval(expr.X, vars)
	if err != nil {
		return value{}, err
	}

	// Short-circuit logical operators before evaluating the right side.
	switch expr.Op {
	case token.LAND, token.LOR:
		lb, ok := left.asBool()
		if !ok {
			return value{}, f.evalErr(vars, "%s needs bool or number operands, got %s",
				expr.Op, left.typeName())
		}
		if expr.Op == token.LAND && !lb {
			return boolValue(false), nil
		}
		if expr.Op == token.LOR && lb {
			return boolValue(true), nil
		}
		right, err := f.eval(expr.Y, vars)
		if err != nil {
			return value{}, err
		}
		rb, ok := right.asBool()
		if !ok {
			return value{}, f.evalErr(vars, "%s needs bool or number operands, got %s",
				expr.Op, right.typeName())
		}
		return boolValue(rb), nil
	}

	right, err := f.eval(expr.Y, vars)
	if err != nil {
		return value{}, err
	}

	switch expr.Op {
	case token.EQL, token.NEQ:
		return f.evalEquality(expr.Op, left, right, vars)
	case token.LSS, token.LEQ, token.GTR, token.GEQ:
		return f.evalOrdering(expr.Op, left, right, vars)
	case token.ADD:
		if left.kind == kindString && right.kind == kindString {
			return stringValue(left.str + right.str), nil
		}
		fallthrough
	case token.SUB, token.MUL, token.QUO, token.REM:
		ln, lok := left.asNumber()
		rn, rok := right.asNumber()
		if !lok || !rok {
			return value{}, f.evalErr(vars, "operator %s cannot combine %s and %s",
				expr.Op, left.typeName(), right.typeName())
		}
		switch expr.Op {
		case token.ADD:
			return numberValue(ln + rn), nil
		case token.SUB:
			return numberValue(ln - rn), nil
		case token.MUL:
			return numberValue(ln * rn), nil
		case token.QUO:
			return numberValue(ln / rn), nil
		case token.REM:
			return numberValue(math.Mod(ln, rn)), nil
		}
	}
	return value{}, f.evalErr(vars, "unsupported operator %s", expr.Op)
}

func (f *Formula) evalEquality(op token.Token, left, right value, vars Vars) (value, error) {
	var equal bool
	switch {
	case left.kind == kindString && right.kind == kindString:
		equal = left.str == right.str
	case left.kind != kindString && right.kind != kindString:
		ln, _ := left.asNumber()
		rn, _ := right.asNumber()
		equal = ln == rn
	default:
		return value{}, f.evalErr(vars, "operator %s cannot compare %s and %s",
			op, left.typeName(), right.typeName())
	}
	if op == token.NEQ {
		equal = !equal
	}
	return boolValue(equal), nil
}

func (f *Formula) evalOrdering(op token.Token, left, right value, vars Vars) (value, error) {
	var result bool
	switch {
	case left.kind == kindString && right.kind == kindString:
		switch op {
		case token.LSS:
			result = left.str < right.str
		case token.LEQ:
			result = left.str <= right.str
		case token.GTR:
			result = left.str > right.str
		case token.GEQ:
			result = left.str >= right.str
		}
	case left.kind != kindString && right.kind != kindString:
		ln, _ := left.asNumber()
		rn, _ := right.asNumber()
		switch op {
		case token.LSS:
			result = ln < rn
		case token.LEQ:
			result = ln <= rn
		case token.GTR:
			result = ln > rn
		case token.GEQ:
			result = ln >= rn
		}
	default:
		return value{}, f.evalErr(vars, "operator %s cannot compare %s and %s",
			op, left.typeName(), right.typeName())
	}
	return boolValue(result), nil
}
