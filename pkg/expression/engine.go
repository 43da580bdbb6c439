// Package expression evaluates record rule conditions with expr-lang.
package expression

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/spf13/cast"
)

// Engine compiles expressions once and caches the programs
type Engine struct {
	programCache map[string]*vm.Program
	mu           sync.RWMutex
	now          func() time.Time
}

// NewEngine creates a new expression engine
func NewEngine() *Engine {
	return &Engine{
		programCache: make(map[string]*vm.Program),
		now:          time.Now,
	}
}

// Evaluate compiles (if needed) and runs an expression against env
func (e *Engine) Evaluate(expression string, env map[string]interface{}) (interface{}, error) {
	program, err := e.getProgram(expression)
	if err != nil {
		return nil, err
	}
	return expr.Run(program, env)
}

// EvaluateBool runs an expression that must produce a boolean
func (e *Engine) EvaluateBool(expression string, env map[string]interface{}) (bool, error) {
	out, err := e.Evaluate(expression, env)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T, want bool", expression, out)
	}
	return b, nil
}

// Validate checks that an expression compiles
func (e *Engine) Validate(expression string) error {
	_, err := e.getProgram(expression)
	return err
}

func (e *Engine) getProgram(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.programCache[expression]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prog, ok := e.programCache[expression]; ok {
		return prog, nil
	}

	program, err := expr.Compile(expression, e.options()...)
	if err != nil {
		return nil, err
	}
	e.programCache[expression] = program
	return program, nil
}

func (e *Engine) options() []expr.Option {
	return []expr.Option{
		expr.AllowUndefinedVariables(),
		expr.Function("NOW", func(params ...interface{}) (interface{}, error) {
			return e.now().UTC(), nil
		}),
		expr.Function("LEN", func(params ...interface{}) (interface{}, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("LEN requires 1 argument")
			}
			switch v := params[0].(type) {
			case nil:
				return 0, nil
			case []string:
				return len(v), nil
			case []interface{}:
				return len(v), nil
			}
			s, err := cast.ToStringE(params[0])
			if err != nil {
				return nil, fmt.Errorf("LEN argument must be text or a list")
			}
			return len([]rune(s)), nil
		}),
		expr.Function("LOWER", func(params ...interface{}) (interface{}, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("LOWER requires 1 argument")
			}
			return strings.ToLower(cast.ToString(params[0])), nil
		}),
		expr.Function("BLANK", func(params ...interface{}) (interface{}, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("BLANK requires 1 argument")
			}
			return params[0] == nil || strings.TrimSpace(cast.ToString(params[0])) == "", nil
		}),
	}
}
