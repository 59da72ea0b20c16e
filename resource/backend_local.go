package resource

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("resource backend closed")

// LocalBackend is an in-memory slot backend. Freed slots are reused with a
// bumped generation so handles issued for the previous occupant stay invalid.
type LocalBackend struct {
	entries  []entry
	freeList []uint32
	live     int
	mu       sync.RWMutex
	closed   bool
}

type entry struct {
	value      any
	typeID     uint32
	generation uint32
	valid      bool
}

// NewLocalBackend creates a new in-memory backend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		entries:  make([]entry, 0, 64),
		freeList: make([]uint32, 0, 16),
	}
}

// Create stores a value and returns a handle.
func (b *LocalBackend) Create(typeID uint32, value any) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}
	b.live++

	if n := len(b.freeList); n > 0 {
		idx := b.freeList[n-1]
		b.freeList = b.freeList[:n-1]
		e := &b.entries[idx]
		e.value = value
		e.typeID = typeID
		e.valid = true
		return makeHandle(idx, e.generation), nil
	}

	b.entries = append(b.entries, entry{typeID: typeID, value: value, valid: true})
	return makeHandle(uint32(len(b.entries)-1), 0), nil
}

// lookup must be called with b.mu held.
func (b *LocalBackend) lookup(handle Handle) *entry {
	idx, ok := handle.index()
	if !ok || int(idx) >= len(b.entries) {
		return nil
	}
	e := &b.entries[idx]
	if !e.valid || e.generation != handle.generation() {
		return nil
	}
	return e
}

// Get retrieves a value by handle.
func (b *LocalBackend) Get(handle Handle) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e := b.lookup(handle)
	if e == nil {
		return nil, false
	}
	return e.value, true
}

// TypeID returns the type ID for a handle.
func (b *LocalBackend) TypeID(handle Handle) (uint32, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e := b.lookup(handle)
	if e == nil {
		return 0, false
	}
	return e.typeID, true
}

// Take removes the entry and returns its value and type ID.
func (b *LocalBackend) Take(handle Handle) (any, uint32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookup(handle)
	if e == nil {
		return nil, 0, false
	}
	value, typeID := e.value, e.typeID
	e.valid = false
	e.value = nil
	e.generation++
	b.live--
	idx, _ := handle.index()
	b.freeList = append(b.freeList, idx)
	return value, typeID, true
}

// Close discards all entries, calling Drop on those that implement Dropper.
func (b *LocalBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	var droppers []Dropper
	for i := range b.entries {
		if b.entries[i].valid {
			if d, ok := b.entries[i].value.(Dropper); ok {
				droppers = append(droppers, d)
			}
		}
	}
	b.entries = nil
	b.freeList = nil
	b.live = 0
	b.mu.Unlock()

	for _, d := range droppers {
		d.Drop()
	}
	return nil
}

// Len returns the number of live entries.
func (b *LocalBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.live
}

// Each iterates over live entries. fn must not call back into the backend.
func (b *LocalBackend) Each(fn func(Handle, uint32, any) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i, e := range b.entries {
		if e.valid {
			if !fn(makeHandle(uint32(i), e.generation), e.typeID, e.value) {
				break
			}
		}
	}
}
