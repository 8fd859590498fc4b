package expressions

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/rendis/schedflow/pkg/schema"
)

var celIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var celReserved = map[string]bool{
	"true": true, "false": true, "null": true, "in": true, "as": true,
	"break": true, "const": true, "continue": true, "else": true, "for": true,
	"function": true, "if": true, "import": true, "let": true, "loop": true,
	"package": true, "namespace": true, "return": true, "var": true,
	"void": true, "while": true,
}

// CELEngine evaluates Common Expression Language conditions. Every top-level
// data key that is a valid CEL identifier becomes a dyn variable, so programs
// are cached per expression and declared key set.
type CELEngine struct {
	programs *programCache[cel.Program]
}

func NewCELEngine() *CELEngine {
	return &CELEngine{programs: newProgramCache[cel.Program]()}
}

func (e *CELEngine) Name() string { return "cel" }

func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	vars := celVariables(data)
	key := expression + "\x00" + strings.Join(vars, ",")
	prg, err := e.programs.get(key, func() (cel.Program, error) { return compileCEL(expression, vars) })
	if err != nil {
		return nil, err
	}

	activation := make(map[string]any, len(vars))
	for _, k := range vars {
		activation[k] = data[k]
	}
	out, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return nil, langError("cel", schema.ErrCodeExecution, "evaluate", expression, err)
	}
	return out.Value(), nil
}

func compileCEL(expression string, vars []string) (cel.Program, error) {
	opts := make([]cel.EnvOption, 0, len(vars)+1)
	opts = append(opts, cel.CrossTypeNumericComparisons(true))
	for _, v := range vars {
		opts = append(opts, cel.Variable(v, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if err := issues.Err(); err != nil {
		return nil, langError("cel", schema.ErrCodeValidation, "compile", expression, err)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, langError("cel", schema.ErrCodeValidation, "plan", expression, err)
	}
	return prg, nil
}

// celVariables returns the sorted data keys usable as CEL identifiers.
func celVariables(data map[string]any) []string {
	vars := make([]string, 0, len(data))
	for k := range data {
		if celIdent.MatchString(k) && !celReserved[k] {
			vars = append(vars, k)
		}
	}
	slices.Sort(vars)
	return vars
}

var _ Engine = (*CELEngine)(nil)
