// Package sandbox runs generated transformation code inside an embedded Go
// interpreter. The code receives a copy of the result table bound to `t` and
// must leave the transformed table rebound to the same name; the caller's
// table is never touched.
package sandbox

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	errx "github.com/tablepilot-core-poc/server/internal/core/error"
	"github.com/tablepilot-core-poc/server/internal/table"
	logx "github.com/tablepilot-core-poc/server/pkg/logger"
)

// Executor interprets transformation code with a whitelisted stdlib surface.
// No filesystem, network, or process access is reachable from inside.
type Executor struct {
	allowedImports map[string]bool
}

func NewExecutor() *Executor {
	return &Executor{
		allowedImports: map[string]bool{
			"strings": true,
			"strconv": true,
			"math":    true,
			"sort":    true,
			"frame":   true,
		},
	}
}

// Run evaluates code against a clone of input and returns the table bound to
// `t` afterwards. Code that fails at runtime yields ErrExecution; code that
// never rebinds `t` yields ErrInvalidOutput.
func (e *Executor) Run(ctx context.Context, code string, input *table.Table) (out *table.Table, err error) {
	if err := e.validateImports(code); err != nil {
		return nil, fmt.Errorf("%w: %v", errx.ErrExecution, err)
	}

	defer func() {
		if r := recover(); r != nil {
			logx.Error().Any("panic", r).Msg("sandbox evaluation panicked")
			out = nil
			err = fmt.Errorf("%w: interpreter panic: %v", errx.ErrExecution, r)
		}
	}()

	clone := input.Clone()

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load stdlib symbols: %w", err)
	}
	err = i.Use(interp.Exports{
		"frame/frame": {
			"Input": reflect.ValueOf(func() *table.Table { return clone }),
			"Table": reflect.ValueOf((*table.Table)(nil)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("load frame symbols: %w", err)
	}

	if _, err := i.Eval(`import "frame"`); err != nil {
		return nil, fmt.Errorf("bind frame package: %w", err)
	}
	if _, err := i.Eval(`t := frame.Input()`); err != nil {
		return nil, fmt.Errorf("bind input table: %w", err)
	}

	if _, err := i.EvalWithContext(ctx, code); err != nil {
		logx.Warn().Err(err).Msg("transformation code failed at runtime")
		return nil, fmt.Errorf("%w: %v", errx.ErrExecution, err)
	}

	v, err := i.Eval("t")
	if err != nil {
		return nil, fmt.Errorf("%w: table binding lost", errx.ErrInvalidOutput)
	}
	result, ok := v.Interface().(*table.Table)
	if !ok || result == nil {
		return nil, fmt.Errorf("%w: t is no longer a table", errx.ErrInvalidOutput)
	}
	if result == clone {
		return nil, fmt.Errorf("%w: code must assign the transformed table back to t", errx.ErrInvalidOutput)
	}
	return result, nil
}

// validateImports rejects any import outside the whitelist before the code
// reaches the interpreter.
func (e *Executor) validateImports(code string) error {
	var forbidden []string
	inBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
		case inBlock:
			if pkg := strings.Trim(trimmed, `"`); pkg != "" && !e.allowedImports[pkg] {
				forbidden = append(forbidden, pkg)
			}
		case strings.HasPrefix(trimmed, "import "):
			pkg := strings.Trim(strings.TrimPrefix(trimmed, "import "), `"`)
			if pkg != "" && !e.allowedImports[pkg] {
				forbidden = append(forbidden, pkg)
			}
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports: %v", forbidden)
	}
	return nil
}
