package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/expr-lang/expr"
)

// Evaluate computes an arithmetic expression over numbers. The expression
// may not reference any names and must produce a finite value.
func Evaluate(s string) (float64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("empty expression")
	}

	env := map[string]any{}
	program, err := expr.Compile(s, expr.Env(env), expr.AsFloat64())
	if err != nil {
		return 0, fmt.Errorf("invalid expression %q: %w", s, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate %q: %w", s, err)
	}

	var v float64
	switch n := out.(type) {
	case float64:
		v = n
	case int:
		v = float64(n)
	default:
		return 0, fmt.Errorf("expression %q is not numeric", s)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("expression %q is not finite", s)
	}
	return v, nil
}
