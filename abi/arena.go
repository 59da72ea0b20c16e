package abi

import (
	"fmt"
	"sync"

	syncbridge "github.com/wippyai/realm-sync-bridge"
)

// Poison is written over freed arena ranges.
const Poison byte = 0xDD

const arenaBase = 8

// Arena is a growable in-process native memory with a bump allocator.
// Offset 0 is never handed out so it can stand for a null pointer.
// Safe for concurrent use.
type Arena struct {
	live map[uint32]uint32
	buf  []byte
	top  uint32
	mu   sync.Mutex
}

// NewArena creates an arena with the given initial capacity in bytes.
func NewArena(capacity uint32) *Arena {
	if capacity < arenaBase {
		capacity = 4096
	}
	return &Arena{
		buf:  make([]byte, capacity),
		top:  arenaBase,
		live: make(map[uint32]uint32),
	}
}

// Alloc reserves size bytes aligned to align.
func (a *Arena) Alloc(size, align uint32) (uint32, error) {
	if align == 0 || align&(align-1) != 0 {
		return 0, fmt.Errorf("alignment %d is not a power of two", align)
	}
	if size == 0 {
		size = 1
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ptr := (a.top + align - 1) &^ (align - 1)
	end := uint64(ptr) + uint64(size)
	if end > 1<<32-1 {
		return 0, fmt.Errorf("arena exhausted: need %d bytes", size)
	}
	if end > uint64(len(a.buf)) {
		grown := uint64(len(a.buf)) * 2
		for grown < end {
			grown *= 2
		}
		if grown > 1<<32-1 {
			grown = 1<<32 - 1
		}
		nb := make([]byte, grown)
		copy(nb, a.buf)
		a.buf = nb
	}
	a.top = uint32(end)
	a.live[ptr] = size
	return ptr, nil
}

// Free poisons the block at ptr. When no block is live the arena rewinds.
// Freeing an unknown pointer is ignored.
func (a *Arena) Free(ptr, size, align uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n, ok := a.live[ptr]
	if !ok {
		return
	}
	delete(a.live, ptr)
	for i := ptr; i < ptr+n; i++ {
		a.buf[i] = Poison
	}
	if len(a.live) == 0 {
		a.top = arenaBase
	}
}

// Read returns a copy of length bytes at offset.
func (a *Arena) Read(offset uint32, length uint32) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if uint64(offset)+uint64(length) > uint64(len(a.buf)) {
		return nil, fmt.Errorf("read out of bounds: offset=%d, length=%d", offset, length)
	}
	out := make([]byte, length)
	copy(out, a.buf[offset:offset+length])
	return out, nil
}

// Write copies data to offset.
func (a *Arena) Write(offset uint32, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if uint64(offset)+uint64(len(data)) > uint64(len(a.buf)) {
		return fmt.Errorf("write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	copy(a.buf[offset:], data)
	return nil
}

// ReadU32 reads a little-endian uint32.
func (a *Arena) ReadU32(offset uint32) (uint32, error) {
	b, err := a.Read(offset, 4)
	if err != nil {
		return 0, err
	}
	return le32(b), nil
}

// WriteU32 writes a little-endian uint32.
func (a *Arena) WriteU32(offset uint32, value uint32) error {
	return a.Write(offset, []byte{byte(value), byte(value >> 8), byte(value >> 16), byte(value >> 24)})
}

// Size returns the arena capacity.
func (a *Arena) Size() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return uint32(len(a.buf))
}

// Live returns the number of blocks not yet freed.
func (a *Arena) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

var (
	_ syncbridge.Memory      = (*Arena)(nil)
	_ syncbridge.MemorySizer = (*Arena)(nil)
	_ syncbridge.Allocator   = (*Arena)(nil)
)
