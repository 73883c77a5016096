// Package cel evaluates policy routing guards written in CEL.
package cel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"

	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
	"github.com/Sentinel-Gate/inkgate/internal/domain/routing"
)

// maxExpressionLength is the maximum allowed length for guard expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout is the maximum time allowed for a single evaluation.
const evalTimeout = time.Second

// interruptCheckFreq is how often (in comprehension iterations) context cancellation is checked.
const interruptCheckFreq = 100

// maxCachedPrograms bounds the compiled-program cache. Policies carry a
// handful of guards; the bound only matters if a policy churns expressions.
const maxCachedPrograms = 256

type cachedProgram struct {
	expr string
	prg  cel.Program
	err  error
}

// Evaluator compiles guard expressions once and evaluates them per candidate.
// Compiled programs (and compile errors) are cached by expression hash, so a
// guard that fails to compile is not recompiled every cycle. A hit whose
// stored expression differs is a collision and is recompiled.
type Evaluator struct {
	env *cel.Env

	mu       sync.Mutex
	programs map[uint64]cachedProgram
}

// NewEvaluator creates a new evaluator with the guard environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewGuardEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create guard environment: %w", err)
	}
	return &Evaluator{env: env, programs: make(map[uint64]cachedProgram)}, nil
}

// Compile parses and type-checks an expression, returning a compiled program.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
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

func checkLimits(expr string) error {
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if expr == "" {
		return errors.New("expression is empty")
	}
	return validateNesting(expr)
}

// ValidateExpression checks that an expression is safe and compiles.
func (e *Evaluator) ValidateExpression(expr string) error {
	if err := checkLimits(expr); err != nil {
		return err
	}
	if _, err := e.Compile(expr); err != nil {
		return fmt.Errorf("invalid CEL expression: %w", err)
	}
	return nil
}

// program returns the cached program for expr, compiling it on first use.
func (e *Evaluator) program(expr string) (cel.Program, error) {
	key := xxhash.Sum64String(expr)

	e.mu.Lock()
	defer e.mu.Unlock()

	if cp, ok := e.programs[key]; ok && cp.expr == expr {
		return cp.prg, cp.err
	}

	cp := cachedProgram{expr: expr}
	if cp.err = checkLimits(expr); cp.err == nil {
		cp.prg, cp.err = e.Compile(expr)
	}

	if len(e.programs) >= maxCachedPrograms {
		e.programs = make(map[uint64]cachedProgram)
	}
	e.programs[key] = cp
	return cp.prg, cp.err
}

// Evaluate runs a compiled program against a candidate. Uses ContextEval with
// a timeout to prevent indefinite evaluation hangs.
func (e *Evaluator) Evaluate(prg cel.Program, c action.Candidate) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, BuildActivation(c))
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}

	return boolResult, nil
}

// EvaluateGuard compiles (or reuses) expr and evaluates it against c.
func (e *Evaluator) EvaluateGuard(expr string, c action.Candidate) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	return e.Evaluate(prg, c)
}

// Compile-time interface verification.
var _ routing.GuardEvaluator = (*Evaluator)(nil)
