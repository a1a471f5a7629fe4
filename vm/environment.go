package vm

import (
	"sort"
	"sync"
)

// Environment holds top-level bindings made by Define. It outlives any one
// VM: a session evaluates form after form against the same Environment.
type Environment struct {
	mu     sync.RWMutex
	values map[Symbol]Value
}

// NewEnvironment returns an empty environment.
func NewEnvironment() *Environment {
	return &Environment{values: make(map[Symbol]Value)}
}

// Define binds sym to v, taking ownership of v. A previous binding is
// released.
func (e *Environment) Define(sym Symbol, v Value) {
	e.mu.Lock()
	old, ok := e.values[sym]
	e.values[sym] = v
	e.mu.Unlock()
	if ok {
		old.Release()
	}
}

// Lookup returns a new holder of the value bound to sym.
func (e *Environment) Lookup(sym Symbol) (Value, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.values[sym]
	if !ok {
		return Nil, false
	}
	return v.Clone(), true
}

// Peek returns the value bound to sym without taking a reference. The
// caller must not keep it past the next Define.
func (e *Environment) Peek(sym Symbol) (Value, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.values[sym]
	return v, ok
}

// Names returns the bound names in sorted order.
func (e *Environment) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.values))
	for sym := range e.values {
		names = append(names, sym.Name())
	}
	sort.Strings(names)
	return names
}

// Close releases every binding.
func (e *Environment) Close() {
	e.mu.Lock()
	values := e.values
	e.values = make(map[Symbol]Value)
	e.mu.Unlock()
	for _, v := range values {
		v.Release()
	}
}
