package expressions

import (
	"context"
	"slices"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/types"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/schedflow/pkg/schema"
)

// ExprEngine runs expr-lang expressions, the default condition dialect.
// Programs see only the data map and the language builtins. A name that is
// not a data key fails to compile.
type ExprEngine struct {
	programs *programCache[*vm.Program]
}

func NewExprEngine() *ExprEngine {
	return &ExprEngine{programs: newProgramCache[*vm.Program]()}
}

func (e *ExprEngine) Name() string { return "expr" }

// Evaluate compiles expression once per key set and runs it with data as
// the environment.
func (e *ExprEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}
	if data == nil {
		data = map[string]any{}
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	prg, err := e.programs.get(expression+"\x00"+strings.Join(keys, "\x00"), func() (*vm.Program, error) {
		return compileExpr(expression, keys)
	})
	if err != nil {
		return nil, err
	}

	out, err := vm.Run(prg, data)
	if err != nil {
		return nil, langError("expr", schema.ErrCodeExecution, "evaluate", expression, err)
	}
	return out, nil
}

// compileExpr declares every key as an untyped variable, so one program
// serves every run with the same keys whatever value types they carry.
func compileExpr(expression string, keys []string) (*vm.Program, error) {
	env := make(types.Map, len(keys))
	for _, k := range keys {
		env[k] = types.Any
	}
	prg, err := expr.Compile(expression, expr.Env(env))
	if err != nil {
		return nil, langError("expr", schema.ErrCodeValidation, "compile", expression, err)
	}
	return prg, nil
}

var _ Engine = (*ExprEngine)(nil)
