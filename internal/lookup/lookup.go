// Package lookup maps field names to typed slots in a result row. A Lookup
// is the schema-resolution scope for one pipeline stage; keys are kept in
// insertion order because field serialization walks them in that order.
package lookup

import "github.com/kailas-cloud/textdex/internal/domain"

// KeyFlags modify how a key is resolved and serialized.
type KeyFlags uint8

const (
	// Hidden keys are skipped during field serialization.
	Hidden KeyFlags = 1 << iota
	// SortVectorSource keys read their value from the row's packed sort
	// vector at SVIdx instead of the general slot array.
	SortVectorSource
)

// Key is a named typed slot into a Row.
type Key struct {
	Name  string
	Flags KeyFlags
	// SVIdx is the position in the packed sort vector, valid only when
	// SortVectorSource is set.
	SVIdx int

	slot int
	next *Key
}

// Next returns the key following this one in insertion order.
func (k *Key) Next() *Key { return k.next }

// Lookup is an ordered registry of keys for one scope.
type Lookup struct {
	head, tail *Key
	byName     map[string]*Key
	nslots     int
}

// New creates an empty lookup scope.
func New() *Lookup {
	return &Lookup{byName: map[string]*Key{}}
}

// GetKey returns the key registered under name, or nil.
func (l *Lookup) GetKey(name string) *Key {
	return l.byName[name]
}

// AddKey registers name with the given flags, allocating a row slot.
// Registering an existing name returns the existing key with flags merged.
func (l *Lookup) AddKey(name string, flags KeyFlags) *Key {
	if k, ok := l.byName[name]; ok {
		k.Flags |= flags
		return k
	}
	k := &Key{Name: name, Flags: flags, slot: l.nslots}
	l.nslots++
	if l.tail == nil {
		l.head = k
	} else {
		l.tail.next = k
	}
	l.tail = k
	l.byName[name] = k
	return k
}

// Head returns the first key in insertion order.
func (l *Lookup) Head() *Key { return l.head }

// Slots returns the number of allocated row slots.
func (l *Lookup) Slots() int { return l.nslots }

// Row is the per-result value buffer indexed by lookup keys. A Row is
// allocated empty per pipeline pull, populated by stages, and cleared after
// serialization.
type Row struct {
	values []domain.Value
	// SortVec is the packed sort vector carried over from the document's
	// sortable fields; keys flagged SortVectorSource read from it.
	SortVec []domain.Value
}

// Get returns the value stored under k. Missing slots and SortVectorSource
// keys with no sort vector return Null.
func (r *Row) Get(k *Key) domain.Value {
	if k == nil {
		return domain.Null
	}
	if k.Flags&SortVectorSource != 0 {
		if k.SVIdx < len(r.SortVec) {
			return r.SortVec[k.SVIdx]
		}
		return domain.Null
	}
	if k.slot < len(r.values) {
		return r.values[k.slot]
	}
	return domain.Null
}

// Set stores v under k, growing the slot array as needed.
func (r *Row) Set(k *Key, v domain.Value) {
	if k == nil || k.Flags&SortVectorSource != 0 {
		return
	}
	for len(r.values) <= k.slot {
		r.values = append(r.values, domain.Null)
	}
	r.values[k.slot] = v
}

// Clear resets the row for reuse without releasing slot capacity.
func (r *Row) Clear() {
	for i := range r.values {
		r.values[i] = domain.Null
	}
	r.SortVec = nil
}
