package lensvm

import (
	"fmt"
	"sync"
)

// AddrFunc returns the linear-memory address of the first byte of buf.
type AddrFunc func(buf []byte) uint32

// Arena owns the buffers a lens hands across the memory boundary. Buffers are kept
// reachable until released so the garbage collector cannot reclaim them while the host
// holds their address.
type Arena struct {
	mu      sync.Mutex
	addr    AddrFunc
	buffers map[uint32][]byte
	kept    uint32
	hasKept bool
}

// NewArena builds an arena that resolves buffer addresses with addr.
func NewArena(addr AddrFunc) *Arena {
	return &Arena{addr: addr, buffers: make(map[uint32][]byte)}
}

// Alloc returns the address of a new zeroed buffer of size bytes.
func (a *Arena) Alloc(size uint32) uint32 {
	// Zero-length buffers have no stable address.
	return a.track(make([]byte, max(size, 1)))
}

func (a *Arena) track(buf []byte) uint32 {
	ptr := a.addr(buf)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffers[ptr] = buf
	return ptr
}

// Bytes returns the buffer allocated at ptr.
func (a *Arena) Bytes(ptr uint32) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.buffers[ptr]
	return buf, ok
}

// Release drops the buffer at ptr. Releasing an unknown or already released address fails.
func (a *Arena) Release(ptr uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.buffers[ptr]; !ok {
		return fmt.Errorf("release of unknown buffer at %d", ptr)
	}
	delete(a.buffers, ptr)
	if a.hasKept && a.kept == ptr {
		a.hasKept = false
	}
	return nil
}

// Keep pins buf as the current result and releases the previous one.
// Only one result is outstanding at a time; the host must read it before the next call.
func (a *Arena) Keep(buf []byte) uint32 {
	a.mu.Lock()
	if a.hasKept {
		delete(a.buffers, a.kept)
		a.hasKept = false
	}
	a.mu.Unlock()

	if len(buf) == 0 {
		buf = []byte{byte(TypeNil)}
	}
	ptr := a.track(buf)

	a.mu.Lock()
	a.kept = ptr
	a.hasKept = true
	a.mu.Unlock()
	return ptr
}

// Live reports how many buffers are outstanding.
func (a *Arena) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffers)
}

// Read implements Memory over the arena's buffers, so a lens can decode blocks the
// host wrote into memory it allocated.
func (a *Arena) Read(offset, byteCount uint32) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for base, buf := range a.buffers {
		if offset < base {
			continue
		}
		rel := uint64(offset - base)
		if rel+uint64(byteCount) <= uint64(len(buf)) {
			return buf[rel : rel+uint64(byteCount)], true
		}
	}
	return nil, false
}
