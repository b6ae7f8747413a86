// Package store implements Store (spec.md §4.H): a lazy, per-name registry
// of Items for one mKTL store. Items are created on first access and cached
// thereafter; a Store itself never accepts direct value writes — those go
// through an Item's Get/Set, matching the original's read-only mapping
// interface (§4.H Non-goals on __setitem__/__delitem__/clear/update).
package store

import (
	"sync"

	"github.com/KeckObservatory/mktl-go/pkg/item"
	"github.com/KeckObservatory/mktl-go/pkg/mktlerr"
)

// Factory builds a new Item for key the first time it is requested. Store
// does not know whether it is constructing a client or daemon Item; that
// decision belongs to the caller supplying the factory (pkg/mktl's get()
// facade, or pkg/daemon's assembly sequence).
type Factory func(key string) (*item.Item, error)

// Store is a lazily populated, thread-safe registry of Items for one named
// store.
type Store struct {
	name    string
	factory Factory

	mu    sync.Mutex
	items map[string]*item.Item
}

// New builds an empty Store for name, using factory to create Items on
// first access.
func New(name string, factory Factory) *Store {
	return &Store{
		name:    name,
		factory: factory,
		items:   make(map[string]*item.Item),
	}
}

// Name returns the store's name.
func (s *Store) Name() string { return s.name }

// Item returns the Item for key, constructing it via the Store's factory on
// first access and caching it thereafter (the Store's mutex is held across
// lookup and construction, so concurrent lookups of a not-yet-built key only
// construct it once).
func (s *Store) Item(key string) (*item.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if it, ok := s.items[key]; ok {
		return it, nil
	}

	it, err := s.factory(key)
	if err != nil {
		return nil, err
	}
	s.items[key] = it
	return it, nil
}

// Register installs an already-constructed Item under key, failing if one
// is already registered (§4.H/§4.K DuplicateItem). Used by daemon assembly
// to claim authoritative items up front rather than lazily.
func (s *Store) Register(key string, it *item.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[key]; exists {
		return &mktlerr.DuplicateItemError{Store: s.name, Key: key}
	}
	s.items[key] = it
	return nil
}

// Keys returns every key currently registered (built or pre-registered);
// it does not trigger lazy construction of keys that exist only in
// configuration.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	return keys
}

// SetItem, DelItem, Clear, and Update are intentionally unsupported: a
// Store's items come from configuration and registration, not direct
// assignment (§4.H Non-goals).
func (s *Store) SetItem(string, *item.Item) error { return &mktlerr.NotSupportedError{Operation: "__setitem__"} }
func (s *Store) DelItem(string) error             { return &mktlerr.NotSupportedError{Operation: "__delitem__"} }
func (s *Store) Clear() error                     { return &mktlerr.NotSupportedError{Operation: "clear"} }
func (s *Store) Update(map[string]*item.Item) error {
	return &mktlerr.NotSupportedError{Operation: "update"}
}
