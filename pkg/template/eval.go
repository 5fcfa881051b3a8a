package template

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/nexuscfg/nexus/pkg/types"
)

// Scope holds the variable bindings and macro definitions visible while
// evaluating one template. For-loops and macro calls push a child scope so
// loop variables / parameter bindings don't leak into the parent.
type Scope struct {
	vars   map[string]interface{}
	parent *Scope
	macros map[string]*macroNode
}

func newRootScope(vars map[string]interface{}) *Scope {
	return &Scope{vars: vars, macros: make(map[string]*macroNode)}
}

func (s *Scope) child(vars map[string]interface{}) *Scope {
	return &Scope{vars: vars, parent: s, macros: s.macros}
}

func (s *Scope) lookup(name string) (interface{}, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if v, ok := sc.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func (s *Scope) lookupMacro(name string) (*macroNode, bool) {
	m, ok := s.macros[name]
	return m, ok
}

func (s *Scope) defineMacro(m *macroNode) {
	s.macros[m.name] = m
}

// evaluator walks parsed expression and template trees against a scope.
type evaluator struct {
	filters  *FilterRegistry
	includer func(name string) (string, error)
}

// EvalExpr evaluates a parsed expression against vars. It is exported for
// the scheduler's when/changed_when/fail_when/until/retry_when evaluation.
func EvalExpr(expr Expr, vars map[string]interface{}) (interface{}, error) {
	e := &evaluator{filters: defaultFilterRegistry}
	return e.eval(expr, newRootScope(vars))
}

// EvalCondition parses and evaluates a boolean condition string, the shared
// entry point for when/changed_when/fail_when/until/retry_when.
func EvalCondition(condition string, vars map[string]interface{}) (bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true, nil
	}
	expr, err := ParseExpression(condition)
	if err != nil {
		return false, types.NewConditionError(condition, "failed to parse condition", err)
	}
	val, err := EvalExpr(expr, vars)
	if err != nil {
		return false, types.NewConditionError(condition, "failed to evaluate condition", err)
	}
	return types.ConvertToBool(val), nil
}

func (e *evaluator) eval(expr Expr, scope *Scope) (interface{}, error) {
	switch n := expr.(type) {
	case literalExpr:
		return n.value, nil
	case listExpr:
		items := make([]interface{}, 0, len(n.items))
		for _, it := range n.items {
			v, err := e.eval(it, scope)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		return items, nil
	case varExpr:
		v, ok := scope.lookup(n.name)
		if !ok {
			return nil, fmt.Errorf("'%s' is undefined", n.name)
		}
		return v, nil
	case trailerExpr:
		return e.evalTrailer(n, scope)
	case unaryExpr:
		return e.evalUnary(n, scope)
	case binaryExpr:
		return e.evalBinary(n, scope)
	case membershipExpr:
		return e.evalMembership(n, scope)
	case testExpr:
		return e.evalTest(n, scope)
	case filterExpr:
		return e.evalFilter(n, scope)
	default:
		return nil, fmt.Errorf("unsupported expression node %T", expr)
	}
}

func (e *evaluator) evalTrailer(n trailerExpr, scope *Scope) (interface{}, error) {
	switch n.kind {
	case trailerCall:
		return e.evalCall(n, scope)
	case trailerAttr:
		base, err := e.evalAllowUndefined(n.base, scope)
		if err != nil {
			return nil, err
		}
		return lookupMember(base, n.attr)
	case trailerIndex:
		base, err := e.evalAllowUndefined(n.base, scope)
		if err != nil {
			return nil, err
		}
		idx, err := e.eval(n.index, scope)
		if err != nil {
			return nil, err
		}
		return lookupIndex(base, idx)
	}
	return nil, fmt.Errorf("unknown trailer kind")
}

// evalAllowUndefined evaluates an expression, but treats "var is undefined"
// for a bare varExpr base as nil rather than an error, so dotted lookups on
// an absent parent (a.b.c) resolve step by step.
func (e *evaluator) evalAllowUndefined(expr Expr, scope *Scope) (interface{}, error) {
	if v, ok := expr.(varExpr); ok {
		val, _ := scope.lookup(v.name)
		return val, nil
	}
	if t, ok := expr.(trailerExpr); ok && t.kind != trailerCall {
		base, err := e.evalAllowUndefined(t.base, scope)
		if err != nil {
			return nil, err
		}
		if t.kind == trailerAttr {
			v, _ := lookupMember(base, t.attr)
			return v, nil
		}
		idx, err := e.eval(t.index, scope)
		if err != nil {
			return nil, err
		}
		v, _ := lookupIndex(base, idx)
		return v, nil
	}
	return e.eval(expr, scope)
}

func (e *evaluator) evalCall(n trailerExpr, scope *Scope) (interface{}, error) {
	name, ok := n.base.(varExpr)
	if !ok {
		return nil, fmt.Errorf("only named macros can be called")
	}
	macro, ok := scope.lookupMacro(name.name)
	if !ok {
		return nil, fmt.Errorf("macro '%s' is not defined", name.name)
	}
	args := make([]interface{}, len(n.args))
	for i, a := range n.args {
		v, err := e.eval(a, scope)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	callVars := make(map[string]interface{})
	for i, p := range macro.params {
		if i < len(args) {
			callVars[p] = args[i]
		} else if def, ok := macro.defs[p]; ok {
			v, err := e.eval(def, scope)
			if err != nil {
				return nil, err
			}
			callVars[p] = v
		} else {
			callVars[p] = nil
		}
	}
	childScope := scope.child(callVars)
	var sb strings.Builder
	if err := e.renderNodes(macro.body, childScope, &sb); err != nil {
		return nil, err
	}
	return sb.String(), nil
}

func (e *evaluator) evalUnary(n unaryExpr, scope *Scope) (interface{}, error) {
	v, err := e.eval(n.expr, scope)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "not":
		return !types.ConvertToBool(v), nil
	case "-":
		f, err := types.ConvertToFloat(v)
		if err != nil {
			return nil, err
		}
		return -f, nil
	}
	return nil, fmt.Errorf("unknown unary operator %q", n.op)
}

func (e *evaluator) evalBinary(n binaryExpr, scope *Scope) (interface{}, error) {
	if n.op == "and" {
		left, err := e.eval(n.left, scope)
		if err != nil {
			return nil, err
		}
		if !types.ConvertToBool(left) {
			return false, nil
		}
		right, err := e.eval(n.right, scope)
		if err != nil {
			return nil, err
		}
		return types.ConvertToBool(right), nil
	}
	if n.op == "or" {
		left, err := e.eval(n.left, scope)
		if err != nil {
			return nil, err
		}
		if types.ConvertToBool(left) {
			return true, nil
		}
		right, err := e.eval(n.right, scope)
		if err != nil {
			return nil, err
		}
		return types.ConvertToBool(right), nil
	}

	left, err := e.eval(n.left, scope)
	if err != nil {
		return nil, err
	}
	right, err := e.eval(n.right, scope)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return valuesEqual(left, right), nil
	case "!=":
		return !valuesEqual(left, right), nil
	case "<", "<=", ">", ">=":
		cmp, err := compareValues(left, right)
		if err != nil {
			return nil, err
		}
		switch n.op {
		case "<":
			return cmp < 0, nil
		case "<=":
			return cmp <= 0, nil
		case ">":
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}
	case "~":
		return fmt.Sprintf("%v%v", types.ConvertToString(left), types.ConvertToString(right)), nil
	case "+", "-", "*", "/", "%":
		return arithmetic(n.op, left, right)
	}
	return nil, fmt.Errorf("unknown binary operator %q", n.op)
}

func arithmetic(op string, left, right interface{}) (interface{}, error) {
	lf, err := types.ConvertToFloat(left)
	if err != nil {
		return nil, err
	}
	rf, err := types.ConvertToFloat(right)
	if err != nil {
		return nil, err
	}
	var result float64
	switch op {
	case "+":
		result = lf + rf
	case "-":
		result = lf - rf
	case "*":
		result = lf * rf
	case "/":
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		result = lf / rf
	case "%":
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		result = float64(int64(lf) % int64(rf))
	}
	if _, lok := left.(int); lok {
		if _, rok := right.(int); rok && op != "/" {
			return int(result), nil
		}
	}
	return result, nil
}

func (e *evaluator) evalMembership(n membershipExpr, scope *Scope) (interface{}, error) {
	needle, err := e.eval(n.needle, scope)
	if err != nil {
		return nil, err
	}
	haystack, err := e.eval(n.haystack, scope)
	if err != nil {
		return nil, err
	}
	found := containsValue(haystack, needle)
	if n.negate {
		return !found, nil
	}
	return found, nil
}

func (e *evaluator) evalTest(n testExpr, scope *Scope) (interface{}, error) {
	var result bool
	switch n.name {
	case "defined":
		v, ok := n.target.(varExpr)
		if ok {
			_, exists := scope.lookup(v.name)
			result = exists
		} else {
			val, err := e.evalAllowUndefined(n.target, scope)
			if err != nil {
				return nil, err
			}
			result = val != nil
		}
	case "undefined":
		v, ok := n.target.(varExpr)
		if ok {
			_, exists := scope.lookup(v.name)
			result = !exists
		} else {
			val, err := e.evalAllowUndefined(n.target, scope)
			if err != nil {
				return nil, err
			}
			result = val == nil
		}
	case "none":
		val, err := e.evalAllowUndefined(n.target, scope)
		if err != nil {
			return nil, err
		}
		result = val == nil
	default:
		return nil, fmt.Errorf("unknown test 'is %s'", n.name)
	}
	if n.negate {
		return !result, nil
	}
	return result, nil
}

func (e *evaluator) evalFilter(n filterExpr, scope *Scope) (interface{}, error) {
	base, err := e.eval(n.base, scope)
	if err != nil {
		// default/d tolerate an undefined base value.
		if n.name != "default" && n.name != "d" {
			return nil, err
		}
		base = nil
	}
	fn, ok := e.filters.Get(n.name)
	if !ok {
		return nil, fmt.Errorf("unknown filter '%s' (available: %s)", n.name, strings.Join(e.filters.Names(), ", "))
	}
	args := make([]interface{}, len(n.args))
	for i, a := range n.args {
		v, err := e.eval(a, scope)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return fn(base, args...)
}

func lookupMember(base interface{}, attr string) (interface{}, error) {
	switch v := base.(type) {
	case map[string]interface{}:
		val, ok := v[attr]
		if !ok {
			return nil, nil
		}
		return val, nil
	case nil:
		return nil, nil
	default:
		rv := reflect.ValueOf(base)
		if rv.Kind() == reflect.Struct {
			f := rv.FieldByName(strings.Title(attr))
			if f.IsValid() {
				return f.Interface(), nil
			}
		}
		return nil, nil
	}
}

func lookupIndex(base interface{}, idx interface{}) (interface{}, error) {
	switch v := base.(type) {
	case []interface{}:
		i, err := types.ConvertToInt(idx)
		if err != nil {
			return nil, err
		}
		if i < 0 || i >= len(v) {
			return nil, nil
		}
		return v[i], nil
	case map[string]interface{}:
		key := types.ConvertToString(idx)
		val, ok := v[key]
		if !ok {
			return nil, nil
		}
		return val, nil
	case string:
		i, err := types.ConvertToInt(idx)
		if err != nil {
			return nil, err
		}
		r := []rune(v)
		if i < 0 || i >= len(r) {
			return nil, nil
		}
		return string(r[i]), nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("cannot index into %T", base)
	}
}

func valuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	af, aerr := types.ConvertToFloat(a)
	bf, berr := types.ConvertToFloat(b)
	if aerr == nil && berr == nil {
		return af == bf
	}
	return types.ConvertToString(a) == types.ConvertToString(b)
}

func compareValues(a, b interface{}) (int, error) {
	af, aerr := types.ConvertToFloat(a)
	bf, berr := types.ConvertToFloat(b)
	if aerr == nil && berr == nil {
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}
	as, bs := types.ConvertToString(a), types.ConvertToString(b)
	return strings.Compare(as, bs), nil
}

func containsValue(haystack, needle interface{}) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, types.ConvertToString(needle))
	case []interface{}:
		for _, item := range h {
			if valuesEqual(item, needle) {
				return true
			}
		}
		return false
	case map[string]interface{}:
		_, ok := h[types.ConvertToString(needle)]
		return ok
	default:
		return false
	}
}

// sortedKeys is used by filters needing deterministic map iteration order.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
