package trading

import (
	"slices"
	"sync"
)

// EntityLocks serializes writes per entity across concurrently running
// batches. Locks must be taken in ascending id order.
type EntityLocks struct {
	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func NewEntityLocks() *EntityLocks {
	return &EntityLocks{locks: make(map[uint]*sync.Mutex)}
}

func (l *EntityLocks) get(id uint) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}

// Lock blocks until the entity is free and returns its unlock function
func (l *EntityLocks) Lock(id uint) func() {
	m := l.get(id)
	m.Lock()
	return m.Unlock
}

// held tracks the locks one batch owns until it finishes
type held struct {
	locks   *EntityLocks
	unlocks []func()
}

func (h *held) acquire(id uint) {
	h.unlocks = append(h.unlocks, h.locks.Lock(id))
}

func (h *held) releaseAll() {
	for _, u := range slices.Backward(h.unlocks) {
		u()
	}
	h.unlocks = nil
}
