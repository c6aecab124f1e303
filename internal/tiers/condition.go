package tiers

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// conditionEval evaluates a compiled eligibility condition against a
// transaction. Returns the boolean result of the expression.
type conditionEval func(amount float64, userID string) (bool, error)

// conditionCompiler compiles CEL eligibility expressions. Compiled programs
// are memoized by expression text so repeated refreshes stay cheap.
type conditionCompiler struct {
	env *cel.Env

	mu    sync.Mutex
	cache map[string]conditionEval
}

func newConditionCompiler() (*conditionCompiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("user_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &conditionCompiler{
		env:   env,
		cache: make(map[string]conditionEval),
	}, nil
}

func (c *conditionCompiler) compile(expr string) (conditionEval, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if eval, ok := c.cache[expr]; ok {
		return eval, nil
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile condition: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("condition must evaluate to a boolean, got %s", ast.OutputType())
	}

	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build condition program: %w", err)
	}

	eval := func(amount float64, userID string) (bool, error) {
		out, _, err := prg.Eval(map[string]any{
			"amount":  amount,
			"user_id": userID,
		})
		if err != nil {
			return false, fmt.Errorf("condition evaluation error: %w", err)
		}
		result, ok := out.Value().(bool)
		if !ok {
			return false, fmt.Errorf("condition returned non-boolean value %v", out.Value())
		}
		return result, nil
	}

	c.cache[expr] = eval
	return eval, nil
}
