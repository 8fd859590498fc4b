package actions

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/schedflow/pkg/schema"
)

// stubAction is a minimal Action for registry and dispatcher tests.
type stubAction struct {
	name   string
	desc   string
	input  string
	err    error
	result map[string]any
	calls  int
}

func (s *stubAction) Name() string { return s.name }
func (s *stubAction) Schema() ActionSchema {
	sch := ActionSchema{Description: s.desc}
	if s.input != "" {
		sch.InputSchema = []byte(s.input)
	}
	return sch
}
func (s *stubAction) Execute(_ context.Context, in ActionInput) (*ActionOutput, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return &ActionOutput{Data: s.result}, nil
	}
	return &ActionOutput{Data: map[string]any{"ok": true, "config": in.Config}}, nil
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{name: "Ping", desc: "A test action"}))
	assert.Equal(t, 1, reg.Len())

	a, ok := reg.Lookup("Ping")
	require.True(t, ok)
	assert.Equal(t, "Ping", a.Name())

	_, ok = reg.Lookup("ping")
	assert.False(t, ok, "action types match exactly")
}

func TestRegistry_Register_Conflicts(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{name: "dup"}))

	err := reg.Register(&stubAction{name: "dup"})
	var flowErr *schema.FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeConflict, flowErr.Code)

	err = reg.Register(&stubAction{name: "twin"}, &stubAction{name: "twin"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_Register_AllOrNothing(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(&stubAction{name: "ok"}, nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	err = reg.Register(&stubAction{name: "ok"}, &stubAction{name: "  "})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	assert.Equal(t, 0, reg.Len())
	_, ok := reg.Lookup("ok")
	assert.False(t, ok)
}

func TestRegistry_CatalogSorted(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(
		&stubAction{name: "Transform", desc: "Transform desc"},
		&stubAction{name: "Log", desc: "Log desc", input: `{"type":"object"}`},
		&stubAction{name: "Send Email", desc: "Send Email desc"},
	))

	infos := reg.Catalog()
	require.Len(t, infos, 3)
	assert.Equal(t, "Log", infos[0].Name)
	assert.Equal(t, "Send Email", infos[1].Name)
	assert.Equal(t, "Transform", infos[2].Name)
	assert.Equal(t, "Log desc", infos[0].Description)
	assert.JSONEq(t, `{"type":"object"}`, string(infos[0].InputSchema))
	assert.Empty(t, infos[1].InputSchema)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = reg.Register(&stubAction{name: string(rune('a' + i))})
		}()
		go func() {
			defer wg.Done()
			_ = reg.Catalog()
			_, _ = reg.Lookup("a")
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, reg.Len())
}

func TestRegistry_ImplementsCatalog(t *testing.T) {
	var _ Catalog = (*Registry)(nil)
}
