package vm

import (
	"fmt"
	"strings"
	"sync"
)

// Handlers give an external type its behaviour. Any handler may be nil, in
// which case the operation falls back to identity equality or a type fault.
type Handlers struct {
	Equal   func(a, b Value) bool
	Add     func(a, b Value) (Value, error)
	Sub     func(a, b Value) (Value, error)
	Mul     func(a, b Value) (Value, error)
	Div     func(a, b Value) (Value, error)
	Compare func(a, b Value) (int, error)
	String  func(x *External) string
}

// Registry maps external type IDs to handlers.
type Registry struct {
	mu     sync.RWMutex
	byType map[string]*Handlers
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[string]*Handlers)}
}

// Register installs handlers for typeID, replacing earlier ones.
func (r *Registry) Register(typeID string, h Handlers) error {
	if typeID == "" {
		return fmt.Errorf("register handlers: empty type id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[typeID] = &h
	return nil
}

func (r *Registry) handlers(typeID string) *Handlers {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byType[typeID]
}

// handlersFor returns the handlers of the first external operand.
func (r *Registry) handlersFor(a, b Value) *Handlers {
	if e := a.External(); e != nil {
		if h := r.handlers(e.TypeID); h != nil {
			return h
		}
	}
	if e := b.External(); e != nil {
		return r.handlers(e.TypeID)
	}
	return nil
}

// Equal is structural equality extended with registered external handlers.
func (r *Registry) Equal(a, b Value) bool {
	if a.kind == KindExternal || b.kind == KindExternal {
		if h := r.handlersFor(a, b); h != nil && h.Equal != nil {
			return h.Equal(a, b)
		}
	}
	return Equal(a, b)
}

// Format renders v using registered String handlers for externals.
func (r *Registry) Format(v Value) string {
	var sb strings.Builder
	v.write(&sb, r)
	return sb.String()
}
