package engine

import (
	"encoding/json"
	"sync"
)

// RunContext is the mutable variable mapping shared by every traversal of a
// run, nested ones included. Node results are written under the node id.
type RunContext struct {
	mu   sync.RWMutex
	vars map[string]any
}

// NewRunContext creates a context seeded with a deep copy of initial.
func NewRunContext(initial map[string]any) *RunContext {
	vars := deepCopyMap(initial)
	if vars == nil {
		vars = make(map[string]any)
	}
	return &RunContext{vars: vars}
}

// Get returns the top-level value stored under key.
func (c *RunContext) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vars[key]
	return v, ok
}

// Set stores value under key.
func (c *RunContext) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vars[key] = value
}

// Snapshot returns a deep copy safe to read without holding the lock.
func (c *RunContext) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return deepCopyMap(c.vars)
}

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies maps and slices. Other values are
// returned as is.
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case []map[string]any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyMap(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}
