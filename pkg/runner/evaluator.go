package runner

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nexuscfg/nexus/pkg/template"
	"github.com/nexuscfg/nexus/pkg/types"
)

// ConditionEvaluator evaluates conditional expressions for tasks
type ConditionEvaluator struct {
	vars map[string]interface{}
}

// NewConditionEvaluator creates a new condition evaluator
func NewConditionEvaluator(vars map[string]interface{}) *ConditionEvaluator {
	return &ConditionEvaluator{
		vars: vars,
	}
}

// EvaluateWhen evaluates a when condition
func (e *ConditionEvaluator) EvaluateWhen(condition interface{}) (bool, error) {
	if condition == nil {
		return true, nil
	}

	switch v := condition.(type) {
	case bool:
		return v, nil
	case string:
		return template.EvalCondition(v, e.vars)
	case []interface{}:
		// All conditions in the list must be true (AND logic)
		for _, cond := range v {
			result, err := e.EvaluateWhen(cond)
			if err != nil {
				return false, err
			}
			if !result {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, fmt.Errorf("unsupported condition type: %T", condition)
	}
}

// EvaluateFailedWhen evaluates a failed_when condition
func (e *ConditionEvaluator) EvaluateFailedWhen(condition interface{}, result *types.Result) (bool, error) {
	if condition == nil {
		// Default: task fails if result.Success is false
		return !result.Success, nil
	}

	evaluator := NewConditionEvaluator(e.resultVars(result))
	return evaluator.EvaluateWhen(condition)
}

// EvaluateChangedWhen evaluates a changed_when condition
func (e *ConditionEvaluator) EvaluateChangedWhen(condition interface{}, result *types.Result) (bool, error) {
	if condition == nil {
		// Default: use module's reported changed status
		return result.Changed, nil
	}

	// Special case: false means never changed
	if condition == false {
		return false, nil
	}

	evaluator := NewConditionEvaluator(e.resultVars(result))
	return evaluator.EvaluateWhen(condition)
}

// resultVars extends the evaluator's variables with the fields
// changed_when/failed_when expressions commonly reference.
func (e *ConditionEvaluator) resultVars(result *types.Result) map[string]interface{} {
	evalVars := make(map[string]interface{}, len(e.vars)+4)
	for k, v := range e.vars {
		evalVars[k] = v
	}
	evalVars["result"] = result
	evalVars["rc"] = result.Data["exit_code"]
	evalVars["stdout"] = result.Data["stdout"]
	evalVars["stderr"] = result.Data["stderr"]
	return evalVars
}

// resolveVariable resolves a variable reference (a literal or a dotted/
// indexed variable path) to its value. Used for loop-item expansion, which
// needs single-value resolution rather than full boolean evaluation.
func (e *ConditionEvaluator) resolveVariable(expr string) interface{} {
	expr = strings.TrimSpace(expr)

	if (strings.HasPrefix(expr, "'") && strings.HasSuffix(expr, "'")) ||
		(strings.HasPrefix(expr, "\"") && strings.HasSuffix(expr, "\"")) {
		return expr[1 : len(expr)-1]
	}
	if num, err := strconv.ParseInt(expr, 10, 64); err == nil {
		return num
	}
	if num, err := strconv.ParseFloat(expr, 64); err == nil {
		return num
	}

	parsed, err := template.ParseExpression(expr)
	if err != nil {
		return nil
	}
	val, err := template.EvalExpr(parsed, e.vars)
	if err != nil {
		return nil
	}
	return val
}

// EvaluateLoopItems expands loop items for iteration
func (e *ConditionEvaluator) EvaluateLoopItems(loop interface{}) ([]interface{}, error) {
	if loop == nil {
		return nil, nil
	}

	switch v := loop.(type) {
	case []interface{}:
		return v, nil
	case string:
		// Resolve variable reference
		resolved := e.resolveVariable(v)
		if items, ok := resolved.([]interface{}); ok {
			return items, nil
		}
		// Handle range expressions like "1-5"
		if regexp.MustCompile(`^\d+-\d+$`).MatchString(v) {
			parts := strings.Split(v, "-")
			start, _ := strconv.Atoi(parts[0])
			end, _ := strconv.Atoi(parts[1])
			var items []interface{}
			for i := start; i <= end; i++ {
				items = append(items, i)
			}
			return items, nil
		}
		return []interface{}{resolved}, nil
	default:
		return []interface{}{v}, nil
	}
}
