package expressions

import (
	"sync"

	"github.com/rendis/schedflow/pkg/schema"
)

// maxPrograms bounds each engine's compiled-program cache. Workflows share a
// small set of expression strings, so hitting the bound just drops the cache.
const maxPrograms = 1024

// programCache memoizes compiled programs by key. Concurrent misses on the
// same key may compile twice; the last one stored wins.
type programCache[P any] struct {
	mu    sync.Mutex
	items map[string]P
}

func newProgramCache[P any]() *programCache[P] {
	return &programCache[P]{items: make(map[string]P)}
}

func (c *programCache[P]) get(key string, compile func() (P, error)) (P, error) {
	c.mu.Lock()
	p, ok := c.items[key]
	c.mu.Unlock()
	if ok {
		return p, nil
	}

	p, err := compile()
	if err != nil {
		return p, err
	}

	c.mu.Lock()
	if len(c.items) >= maxPrograms {
		clear(c.items)
	}
	c.items[key] = p
	c.mu.Unlock()
	return p, nil
}

func (c *programCache[P]) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// langError wraps a dialect failure. Compile failures use VALIDATION_ERROR,
// evaluation failures EXECUTION_ERROR.
func langError(lang, code, phase, expression string, err error) error {
	return schema.NewErrorf(code, "%s %s %q: %v", lang, phase, expression, err).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression, "language": lang})
}
