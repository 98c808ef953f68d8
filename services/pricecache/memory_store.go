package pricecache

import (
	"context"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps the latest entry per symbol in process memory. Items
// never expire here, freshness is decided by the Cache.
type MemoryStore struct {
	items *gocache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: gocache.New(gocache.NoExpiration, 0)}
}

func (m *MemoryStore) Latest(_ context.Context, symbol string) (*Entry, error) {
	v, ok := m.items.Get(symbol)
	if !ok {
		return nil, nil
	}
	e := v.(Entry)
	return &e, nil
}

func (m *MemoryStore) Append(_ context.Context, e Entry) error {
	m.items.Set(e.Symbol, e, gocache.NoExpiration)
	return nil
}

// Len returns the number of symbols held
func (m *MemoryStore) Len() int {
	return m.items.ItemCount()
}
