// Package eval evaluates boolean expressions over session values with
// expr-lang, as used by the assert setup keyword.
package eval

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
)

// Check compiles expression without values. Unknown names are allowed
// since values are only known at run time.
func Check(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return fmt.Errorf("empty expression")
	}
	if _, err := expr.Compile(expression, expr.AllowUndefinedVariables(), expr.AsBool()); err != nil {
		return fmt.Errorf("compile %q: %w", expression, err)
	}
	return nil
}

// EvalBool evaluates expression against vars. A name missing from vars is
// a compile error.
// Example: EvalBool("rssi > 5 && ber < 99", {"rssi": 31, "ber": 2}) → true
func EvalBool(expression string, vars map[string]any) (bool, error) {
	if vars == nil {
		vars = map[string]any{}
	}
	program, err := expr.Compile(expression, expr.Env(vars), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile %q: %w", expression, err)
	}
	output, err := expr.Run(program, vars)
	if err != nil {
		return false, fmt.Errorf("eval %q: %w", expression, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not return bool (got %T: %v)", expression, output, output)
	}
	return result, nil
}
