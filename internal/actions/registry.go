package actions

import (
	"slices"
	"strings"
	"sync"

	"github.com/rendis/schedflow/pkg/schema"
)

// Registry maps action types to actions. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byType map[string]Action
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[string]Action)}
}

// Register adds actions under their Name. Either all of them are added or,
// on a nil action, empty name or a type already taken, none are.
func (r *Registry) Register(actions ...Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := make(map[string]Action, len(actions))
	for _, a := range actions {
		if a == nil {
			return schema.NewError(schema.ErrCodeValidation, "action is nil")
		}
		actionType := a.Name()
		if strings.TrimSpace(actionType) == "" {
			return schema.NewError(schema.ErrCodeValidation, "action name is empty")
		}
		if _, taken := r.byType[actionType]; taken {
			return schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", actionType)
		}
		if _, dup := batch[actionType]; dup {
			return schema.NewErrorf(schema.ErrCodeConflict, "action %q registered twice", actionType)
		}
		batch[actionType] = a
	}
	for k, a := range batch {
		r.byType[k] = a
	}
	return nil
}

// Lookup returns the action registered for actionType. Matching is exact.
func (r *Registry) Lookup(actionType string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byType[actionType]
	return a, ok
}

// Catalog describes every registered action, ordered by type.
func (r *Registry) Catalog() []ActionInfo {
	r.mu.RLock()
	infos := make([]ActionInfo, 0, len(r.byType))
	for actionType, a := range r.byType {
		sch := a.Schema()
		infos = append(infos, ActionInfo{
			Name:        actionType,
			Description: sch.Description,
			InputSchema: sch.InputSchema,
		})
	}
	r.mu.RUnlock()

	slices.SortFunc(infos, func(a, b ActionInfo) int { return strings.Compare(a.Name, b.Name) })
	return infos
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byType)
}
