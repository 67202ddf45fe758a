// Package cel provides the CEL-based evaluator for expression field
// mappings. Expressions see a single variable `value`, bound to the tool
// argument being transformed. This deliberately narrows the source
// behavior (arbitrary script execution) to a whitelisted expression
// language with hard safety limits.
package cel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

// maxExpressionLength is the maximum allowed length for CEL expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit to prevent cost-exhaustion DoS.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout is the maximum time allowed for a single CEL evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context cancellation is checked.
const interruptCheckFreq = 100

// maxCachedPrograms bounds the compiled-program cache.
const maxCachedPrograms = 256

// Evaluator compiles and evaluates CEL expressions for field mappings.
// Compiled programs are cached per expression text.
type Evaluator struct {
	env *cel.Env

	mu    sync.Mutex
	cache map[string]cel.Program
}

// NewEvaluator creates an evaluator whose environment exposes the single
// variable `value`.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create expression environment: %w", err)
	}
	return &Evaluator{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Compile parses and type-checks an expression, returning a compiled program.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	return prg, nil
}

// validateNesting checks that the expression does not exceed the maximum
// allowed nesting depth for parentheses, brackets, and braces.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// ValidateExpression checks that an expression is syntactically valid and
// safe to store on a field mapping. It performs compile-time validation and
// enforces the safety limits (expression length, nesting depth).
func (e *Evaluator) ValidateExpression(expr string) error {
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}

	if expr == "" {
		return errors.New("expression is empty")
	}

	if err := validateNesting(expr); err != nil {
		return err
	}

	if _, err := e.compiled(expr); err != nil {
		return fmt.Errorf("invalid expression: %w", err)
	}

	return nil
}

// EvaluateValue runs the expression with `value` bound to the given tool
// argument and returns the computed value. Evaluation is bounded by the
// cost budget and a timeout.
func (e *Evaluator) EvaluateValue(ctx context.Context, expression string, value interface{}) (interface{}, error) {
	if len(expression) > maxExpressionLength {
		return nil, fmt.Errorf("expression too long: %d characters (max %d)", len(expression), maxExpressionLength)
	}
	if err := validateNesting(expression); err != nil {
		return nil, err
	}

	prg, err := e.compiled(expression)
	if err != nil {
		return nil, err
	}

	evalCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(evalCtx, map[string]interface{}{
		"value": value,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}

	return result.Value(), nil
}

// compiled returns the cached program for an expression, compiling and
// caching it on first use. The cache is cleared when it grows past
// maxCachedPrograms.
func (e *Evaluator) compiled(expression string) (cel.Program, error) {
	e.mu.Lock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.Unlock()
		return prg, nil
	}
	e.mu.Unlock()

	prg, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if len(e.cache) >= maxCachedPrograms {
		e.cache = make(map[string]cel.Program)
	}
	e.cache[expression] = prg
	e.mu.Unlock()

	return prg, nil
}
