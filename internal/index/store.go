package index

import (
	"sort"
	"sync"

	"github.com/kailas-cloud/textdex/internal/domain"
)

// Store is the process-wide registry of indexes.
type Store struct {
	mu      sync.RWMutex
	indexes map[string]*Index
}

// NewStore creates an empty index registry.
func NewStore() *Store {
	return &Store{indexes: map[string]*Index{}}
}

// Create registers a new index under name.
func (s *Store) Create(name string, schema *Schema) (*Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[name]; ok {
		return nil, domain.ErrIndexExists
	}
	ix := NewIndex(name, schema)
	s.indexes[name] = ix
	return ix, nil
}

// Drop removes the index named name.
func (s *Store) Drop(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[name]; !ok {
		return domain.ErrIndexNotFound
	}
	delete(s.indexes, name)
	return nil
}

// Get returns the index named name.
func (s *Store) Get(name string) (*Index, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ix, ok := s.indexes[name]
	if !ok {
		return nil, domain.ErrIndexNotFound
	}
	return ix, nil
}

// Names returns all index names, sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.indexes))
	for n := range s.indexes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ConcurrentCtx tracks the host resources a suspended pipeline must
// re-acquire between cursor reads. The index handle is re-resolved on every
// reopen because the index may have been dropped and recreated while the
// cursor was paused.
type ConcurrentCtx struct {
	store     *Store
	indexName string

	mu sync.Mutex
	ix *Index
}

// NewConcurrentCtx binds a long-lived context to store and an index name.
func NewConcurrentCtx(store *Store, ix *Index) *ConcurrentCtx {
	return &ConcurrentCtx{store: store, indexName: ix.Name(), ix: ix}
}

// Index returns the currently-open index handle.
func (c *ConcurrentCtx) Index() *Index {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ix
}

// ReopenKeys re-resolves the index after a suspension. Mandatory between
// cursor reads: the host may have dropped or replaced the index meanwhile.
func (c *ConcurrentCtx) ReopenKeys() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ix, err := c.store.Get(c.indexName)
	if err != nil {
		c.ix = nil
		return domain.ErrIndexDropped
	}
	c.ix = ix
	return nil
}
