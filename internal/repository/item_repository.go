package repository

import (
	"context"
	"sync"

	"github.com/iliyamo/echo-cicd-demo/internal/model"
)

// ItemStore keeps items in process memory keyed by integer id.  Contents
// are lost when the process exits.  Every method runs under the store's
// lock so each operation is atomic with respect to the others.
type ItemStore struct {
	mu    sync.RWMutex
	items map[int64]model.Item
}

// NewItemStore returns an empty store.
func NewItemStore() *ItemStore {
	return &ItemStore{items: make(map[int64]model.Item)}
}

// Create inserts item under id.  The existing value is left untouched
// when id is already taken.
func (s *ItemStore) Create(ctx context.Context, id int64, item model.Item) (model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; ok {
		return model.Item{}, ErrItemExists
	}
	s.items[id] = item
	return item, nil
}

// Get returns the item stored under id.
func (s *ItemStore) Get(ctx context.Context, id int64) (model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return model.Item{}, ErrItemNotFound
	}
	return item, nil
}

// List returns a copy of every stored item keyed by id.
func (s *ItemStore) List(ctx context.Context) map[int64]model.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]model.Item, len(s.items))
	for id, item := range s.items {
		out[id] = item
	}
	return out
}

// Update replaces the whole record stored under id.  It never inserts.
func (s *ItemStore) Update(ctx context.Context, id int64, item model.Item) (model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return model.Item{}, ErrItemNotFound
	}
	s.items[id] = item
	return item, nil
}

// Delete removes the item stored under id.
func (s *ItemStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrItemNotFound
	}
	delete(s.items, id)
	return nil
}

// Len reports how many items are stored.
func (s *ItemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
