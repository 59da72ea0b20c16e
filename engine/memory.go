package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	syncbridge "github.com/wippyai/realm-sync-bridge"
)

// WazeroMemory wraps wazero memory to implement syncbridge.Memory.
type WazeroMemory struct {
	mem api.Memory
}

func (m *WazeroMemory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("read out of bounds: offset=%d, length=%d", offset, length)
	}
	return data, nil
}

func (m *WazeroMemory) Write(offset uint32, data []byte) error {
	ok := m.mem.Write(offset, data)
	if !ok {
		return fmt.Errorf("write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	return nil
}

func (m *WazeroMemory) ReadU32(offset uint32) (uint32, error) {
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds: offset=%d", offset)
	}
	return val, nil
}

func (m *WazeroMemory) WriteU32(offset uint32, value uint32) error {
	ok := m.mem.WriteUint32Le(offset, value)
	if !ok {
		return fmt.Errorf("write out of bounds: offset=%d", offset)
	}
	return nil
}

func (m *WazeroMemory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

// wazeroAllocator allocates through the guest's realm_alloc and realm_free
// exports. Callers hold the engine call lock.
type wazeroAllocator struct {
	allocFn  api.Function
	freeFn   api.Function
	ctx      context.Context
	stackBuf []uint64
	mu       sync.Mutex
}

func (a *wazeroAllocator) setContext(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ctx = ctx
}

func (a *wazeroAllocator) Alloc(size, align uint32) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx := a.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	a.stackBuf[0] = api.EncodeU32(size)
	a.stackBuf[1] = api.EncodeU32(align)
	if err := a.allocFn.CallWithStack(ctx, a.stackBuf[:2]); err != nil {
		return 0, err
	}
	ptr := api.DecodeU32(a.stackBuf[0])
	if ptr == 0 {
		return 0, fmt.Errorf("guest allocator returned null for %d bytes", size)
	}
	return ptr, nil
}

func (a *wazeroAllocator) Free(ptr, size, align uint32) {
	if a.freeFn == nil || ptr == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx := a.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	a.stackBuf[0] = api.EncodeU32(ptr)
	a.stackBuf[1] = api.EncodeU32(size)
	a.stackBuf[2] = api.EncodeU32(align)
	if err := a.freeFn.CallWithStack(ctx, a.stackBuf[:3]); err != nil {
		Logger().Warn("Free: failed to call realm_free",
			zap.Uint32("ptr", ptr),
			zap.Uint32("size", size),
			zap.Error(err))
	}
}

// Compile-time check that WazeroMemory implements syncbridge.Memory and MemorySizer
var _ syncbridge.Memory = (*WazeroMemory)(nil)
var _ syncbridge.MemorySizer = (*WazeroMemory)(nil)

// Compile-time check that wazeroAllocator implements syncbridge.Allocator
var _ syncbridge.Allocator = (*wazeroAllocator)(nil)
