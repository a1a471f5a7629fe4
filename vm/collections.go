package vm

// ---------------------------------------------------------------------------
// Lists
// ---------------------------------------------------------------------------

// List is an ordered sequence of values.
type List struct {
	refHeader
	items []Value
}

func (l *List) drop() {
	for _, x := range l.items {
		x.Release()
	}
	l.items = nil
}

// Len returns the number of items.
func (l *List) Len() int { return len(l.items) }

// At returns item i without transferring ownership.
func (l *List) At(i int) Value { return l.items[i] }

// Items returns the backing slice. Callers must not retain or modify it.
func (l *List) Items() []Value { return l.items }

// NewList returns a list holding items. Ownership of items moves to the list.
func NewList(items ...Value) Value {
	owned := make([]Value, len(items))
	copy(owned, items)
	return newValue(KindList, &List{items: owned})
}

// ---------------------------------------------------------------------------
// Maps
// ---------------------------------------------------------------------------

// Map is a hash map that remembers insertion order.
type Map struct {
	refHeader
	keys  []Value
	vals  []Value
	index map[hashKey]int
}

func (m *Map) drop() {
	for i := range m.keys {
		m.keys[i].Release()
		m.vals[i].Release()
	}
	m.keys, m.vals, m.index = nil, nil, nil
}

// Len returns the number of entries.
func (m *Map) Len() int { return len(m.keys) }

// Get returns the value stored under k without transferring ownership.
func (m *Map) Get(k Value) (Value, bool) {
	if i, ok := m.index[k.hashKey()]; ok {
		return m.vals[i], true
	}
	return Nil, false
}

// Entry returns the i-th entry in insertion order.
func (m *Map) Entry(i int) (Value, Value) { return m.keys[i], m.vals[i] }

// NewMap returns an empty map.
func NewMap() Value {
	return newValue(KindMap, &Map{index: make(map[hashKey]int)})
}

// ---------------------------------------------------------------------------
// Sets
// ---------------------------------------------------------------------------

// Set is a hash set that remembers insertion order.
type Set struct {
	refHeader
	items []Value
	index map[hashKey]int
}

func (s *Set) drop() {
	for _, x := range s.items {
		x.Release()
	}
	s.items, s.index = nil, nil
}

// Len returns the number of members.
func (s *Set) Len() int { return len(s.items) }

// Contains reports membership.
func (s *Set) Contains(x Value) bool {
	_, ok := s.index[x.hashKey()]
	return ok
}

// At returns the i-th member in insertion order.
func (s *Set) At(i int) Value { return s.items[i] }

// NewSet returns an empty set.
func NewSet() Value {
	return newValue(KindSet, &Set{index: make(map[hashKey]int)})
}

// ---------------------------------------------------------------------------
// Copy-on-write
// ---------------------------------------------------------------------------

// makeUnique gives v a private copy of its collection when it is shared.
// The old object loses one holder; the copy holds clones of every element.
// Reports whether a copy was made.
func (v *Value) makeUnique() bool {
	if v.obj == nil || v.obj.header().refs == 1 {
		return false
	}
	var fresh heapObject
	switch o := v.obj.(type) {
	case *List:
		items := make([]Value, len(o.items), len(o.items)+1)
		for i, x := range o.items {
			items[i] = x.Clone()
		}
		fresh = &List{items: items}
	case *Map:
		m := &Map{
			keys:  make([]Value, len(o.keys), len(o.keys)+1),
			vals:  make([]Value, len(o.vals), len(o.vals)+1),
			index: make(map[hashKey]int, len(o.index)),
		}
		for i := range o.keys {
			m.keys[i] = o.keys[i].Clone()
			m.vals[i] = o.vals[i].Clone()
		}
		for k, i := range o.index {
			m.index[k] = i
		}
		fresh = m
	case *Set:
		s := &Set{
			items: make([]Value, len(o.items), len(o.items)+1),
			index: make(map[hashKey]int, len(o.index)),
		}
		for i, x := range o.items {
			s.items[i] = x.Clone()
		}
		for k, i := range o.index {
			s.index[k] = i
		}
		fresh = s
	default:
		return false
	}
	fresh.header().refs = 1
	v.obj.header().refs--
	v.obj = fresh
	return true
}

// ListPush appends x to the list held by v, taking ownership of x.
// Nil is treated as the empty list. Pushing onto a set adds a member.
// Reports whether a new backing store was allocated.
func (v *Value) ListPush(x Value) (bool, error) {
	switch v.kind {
	case KindNil:
		*v = NewList(x)
		return true, nil
	case KindList:
		copied := v.makeUnique()
		l := v.List()
		l.items = append(l.items, x)
		return copied, nil
	case KindSet:
		return v.SetAdd(x)
	}
	err := typeFault(*v, "cannot push onto %s", v.kind)
	x.Release()
	return false, err
}

// ListRest drops the first item of the list held by v.
// The rest of nil or of an empty list is the empty list.
func (v *Value) ListRest() (bool, error) {
	switch v.kind {
	case KindNil:
		*v = NewList()
		return true, nil
	case KindList:
		if len(v.List().items) == 0 {
			return false, nil
		}
		copied := v.makeUnique()
		l := v.List()
		l.items[0].Release()
		copy(l.items, l.items[1:])
		l.items[len(l.items)-1] = Nil
		l.items = l.items[:len(l.items)-1]
		return copied, nil
	}
	return false, typeFault(*v, "rest of %s", v.kind)
}

// Assoc stores val under key, taking ownership of both.
// On a map it inserts or replaces; on a list key must be an index
// 0 <= key <= len, where len appends.
func (v *Value) Assoc(key, val Value) (bool, error) {
	switch v.kind {
	case KindNil:
		*v = NewMap()
		_, err := v.Assoc(key, val)
		return true, err
	case KindMap:
		copied := v.makeUnique()
		m := v.Map()
		hk := key.hashKey()
		if i, ok := m.index[hk]; ok {
			m.vals[i].Release()
			m.vals[i] = val
			key.Release()
			return copied, nil
		}
		m.index[hk] = len(m.keys)
		m.keys = append(m.keys, key)
		m.vals = append(m.vals, val)
		return copied, nil
	case KindList:
		n, ok := key.AsInt()
		if !ok {
			err := typeFault(key, "list index must be an integer")
			key.Release()
			val.Release()
			return false, err
		}
		length := int64(len(v.List().items))
		if n < 0 || n > length {
			val.Release()
			return false, &Fault{Kind: FaultIndexOutOfRange, Register: -1, Value: key,
				Detail: "assoc index out of range"}
		}
		copied := v.makeUnique()
		l := v.List()
		if n == length {
			l.items = append(l.items, val)
		} else {
			l.items[n].Release()
			l.items[n] = val
		}
		return copied, nil
	}
	key.Release()
	val.Release()
	return false, typeFault(*v, "cannot assoc into %s", v.kind)
}

// SetAdd adds x to the set held by v, taking ownership of x.
// Nil is treated as the empty set; conj onto a list appends.
func (v *Value) SetAdd(x Value) (bool, error) {
	switch v.kind {
	case KindNil:
		*v = NewSet()
		_, err := v.SetAdd(x)
		return true, err
	case KindSet:
		hk := x.hashKey()
		if _, ok := v.Set().index[hk]; ok {
			x.Release()
			return false, nil
		}
		copied := v.makeUnique()
		s := v.Set()
		s.index[hk] = len(s.items)
		s.items = append(s.items, x)
		return copied, nil
	case KindList:
		return v.ListPush(x)
	}
	err := typeFault(*v, "cannot conj onto %s", v.kind)
	x.Release()
	return false, err
}

// ---------------------------------------------------------------------------
// Read-only collection operations
// ---------------------------------------------------------------------------

// Count returns the number of elements of a collection or characters of a
// string. Nil counts as empty.
func Count(v Value) (Value, error) {
	switch v.kind {
	case KindNil:
		return Int(0), nil
	case KindString:
		return Int(int64(len([]rune(v.obj.(*Str).s)))), nil
	case KindList:
		return Int(int64(len(v.List().items))), nil
	case KindMap:
		return Int(int64(len(v.Map().keys))), nil
	case KindSet:
		return Int(int64(len(v.Set().items))), nil
	}
	return Nil, typeFault(v, "count of %s", v.kind)
}

// IsEmpty reports whether a collection has no elements.
func IsEmpty(v Value) (Value, error) {
	n, err := Count(v)
	if err != nil {
		return Nil, err
	}
	return Bool(n.bits == 0), nil
}

// First returns a clone of the first element, or Nil.
func First(v Value) (Value, error) {
	switch v.kind {
	case KindNil:
		return Nil, nil
	case KindList:
		if l := v.List(); len(l.items) > 0 {
			return l.items[0].Clone(), nil
		}
		return Nil, nil
	case KindSet:
		if s := v.Set(); len(s.items) > 0 {
			return s.items[0].Clone(), nil
		}
		return Nil, nil
	}
	return Nil, typeFault(v, "first of %s", v.kind)
}

// Last returns a clone of the last element, or Nil.
func Last(v Value) (Value, error) {
	switch v.kind {
	case KindNil:
		return Nil, nil
	case KindList:
		if l := v.List(); len(l.items) > 0 {
			return l.items[len(l.items)-1].Clone(), nil
		}
		return Nil, nil
	case KindSet:
		if s := v.Set(); len(s.items) > 0 {
			return s.items[len(s.items)-1].Clone(), nil
		}
		return Nil, nil
	}
	return Nil, typeFault(v, "last of %s", v.kind)
}

// Get looks key up in a map, set or list. Missing keys yield Nil.
func Get(coll, key Value) (Value, error) {
	switch coll.kind {
	case KindNil:
		return Nil, nil
	case KindMap:
		if x, ok := coll.Map().Get(key); ok {
			return x.Clone(), nil
		}
		return Nil, nil
	case KindSet:
		if coll.Set().Contains(key) {
			return key.Clone(), nil
		}
		return Nil, nil
	case KindList:
		n, ok := key.AsInt()
		if !ok {
			return Nil, typeFault(key, "list index must be an integer")
		}
		l := coll.List()
		if n < 0 || n >= int64(len(l.items)) {
			return Nil, nil
		}
		return l.items[n].Clone(), nil
	}
	return Nil, typeFault(coll, "cannot index %s", coll.kind)
}

// Nth returns element n of a list or string, faulting when n is out of range.
func Nth(coll, idx Value) (Value, error) {
	n, ok := idx.AsInt()
	if !ok {
		return Nil, typeFault(idx, "index must be an integer")
	}
	switch coll.kind {
	case KindList:
		l := coll.List()
		if n < 0 || n >= int64(len(l.items)) {
			return Nil, &Fault{Kind: FaultIndexOutOfRange, Register: -1, Value: idx.Clone(),
				Detail: "nth index out of range"}
		}
		return l.items[n].Clone(), nil
	case KindString:
		rs := []rune(coll.obj.(*Str).s)
		if n < 0 || n >= int64(len(rs)) {
			return Nil, &Fault{Kind: FaultIndexOutOfRange, Register: -1, Value: idx.Clone(),
				Detail: "nth index out of range"}
		}
		return Char(rs[n]), nil
	}
	return Nil, typeFault(coll, "nth of %s", coll.kind)
}
