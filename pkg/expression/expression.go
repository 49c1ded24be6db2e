//nolint:revive // exported
package expression

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/apiweave/apiweave/pkg/errmap"
	"github.com/apiweave/apiweave/pkg/varsystem"
)

// Env wraps the variable map an expression runs against: the evolving
// payload plus every prior step's output keyed by step id.
type Env struct {
	varMap map[string]any
}

func NewEnv(varMap map[string]any) Env {
	return Env{
		varMap: varMap,
	}
}

// GetVarMap returns the internal varMap for debugging purposes
func (e Env) GetVarMap() map[string]any {
	return e.varMap
}

// NormalizeExpression trims the expression and substitutes <<placeholder>>
// references before compilation.
func NormalizeExpression(ctx context.Context, expressionString string, vars varsystem.VarMap) (string, error) {
	expressionString = strings.TrimSpace(expressionString)
	normalized, err := vars.ReplaceVars(expressionString)
	if err != nil {
		return expressionString, err
	}
	return normalized, nil
}

type compileMode uint8

const (
	compileModeAny compileMode = iota
	compileModeBool
)

type programCacheKey struct {
	expression string
	mode       compileMode
}

var programCache sync.Map // map[programCacheKey]*vm.Program

func compileProgram(expressionString string, mode compileMode) (*vm.Program, error) {
	key := programCacheKey{expression: expressionString, mode: mode}
	if cached, ok := programCache.Load(key); ok {
		return cached.(*vm.Program), nil
	}

	opts := []expr.Option{expr.AllowUndefinedVariables()}
	if mode == compileModeBool {
		opts = append(opts, expr.AsBool())
	}
	program, err := expr.Compile(expressionString, opts...)
	if err != nil {
		return nil, errmap.New(errmap.CodeValidation, fmt.Sprintf("expression %q: %s", expressionString, err), err)
	}
	programCache.Store(key, program)
	return program, nil
}

func EvaluateAsBool(ctx context.Context, env Env, expressionString string) (bool, error) {
	program, err := compileProgram(expressionString, compileModeBool)
	if err != nil {
		return false, err
	}

	output, err := expr.Run(program, env.varMap)
	if err != nil {
		return false, errmap.New(errmap.CodeExecution, fmt.Sprintf("expression %q: %s", expressionString, err), err)
	}

	ok, isBool := output.(bool)
	if !isBool {
		return false, fmt.Errorf("expected bool, but got %T", output)
	}
	return ok, nil
}

// EvaluateAsArray evaluates a loop selector and requires an array result.
func EvaluateAsArray(ctx context.Context, env Env, expressionString string) ([]any, error) {
	program, err := compileProgram(expressionString, compileModeAny)
	if err != nil {
		return nil, err
	}

	output, err := expr.Run(program, env.varMap)
	if err != nil {
		return nil, errmap.New(errmap.CodeExecution, fmt.Sprintf("expression %q: %s", expressionString, err), err)
	}

	switch v := output.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	case []map[string]any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected array, but got %T", output)
	}
}

func Evaluate(ctx context.Context, env Env, expressionString string) (any, error) {
	program, err := compileProgram(expressionString, compileModeAny)
	if err != nil {
		return nil, err
	}

	output, err := expr.Run(program, env.varMap)
	if err != nil {
		return nil, errmap.New(errmap.CodeExecution, fmt.Sprintf("expression %q: %s", expressionString, err), err)
	}
	return output, nil
}
