package expressions

import (
	"context"
	"testing"

	"github.com/rendis/schedflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCEL_TopLevelVariables(t *testing.T) {
	e := NewCELEngine()
	data := map[string]any{
		"x":     10,
		"form1": map[string]any{"answer": "yes"},
	}

	out, err := e.Evaluate(context.Background(), `x > 5 && form1.answer == "yes"`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_SkipsInvalidIdentifiers(t *testing.T) {
	e := NewCELEngine()
	data := map[string]any{"node-1": "ignored", "in": 1, "ok": true}

	out, err := e.Evaluate(context.Background(), "ok", data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
	assert.Equal(t, []string{"ok"}, celVariables(data))
}

func TestCEL_UndeclaredVariable(t *testing.T) {
	e := NewCELEngine()
	_, err := e.Evaluate(context.Background(), "missing > 1", map[string]any{"x": 1})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestCEL_Empty(t *testing.T) {
	_, err := NewCELEngine().Evaluate(context.Background(), "", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}
