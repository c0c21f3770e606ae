package host

import (
	"sync"
	"sync/atomic"
)

// Listener receives the arguments passed to Emit.
type Listener func(args ...any)

// Handle identifies one subscription. The zero Handle is never issued.
type Handle uint64

// Bus is the primitive named-channel pub/sub of the host runtime.
type Bus interface {
	On(channel string, l Listener) Handle
	Once(channel string, l Listener) Handle
	Off(channel string, h Handle)
	Emit(channel string, args ...any)
}

type subscription struct {
	handle Handle
	fn     Listener
	once   bool
}

// MemoryBus is an in-process Bus. Emit calls listeners synchronously, in
// subscription order, on the caller's goroutine.
type MemoryBus struct {
	mu        sync.RWMutex
	listeners map[string][]*subscription
	seq       *atomic.Uint64
}

func NewBus() *MemoryBus {
	return newBus(new(atomic.Uint64))
}

func newBus(seq *atomic.Uint64) *MemoryBus {
	return &MemoryBus{
		listeners: make(map[string][]*subscription),
		seq:       seq,
	}
}

func (b *MemoryBus) On(channel string, l Listener) Handle {
	return b.add(channel, l, false)
}

func (b *MemoryBus) Once(channel string, l Listener) Handle {
	return b.add(channel, l, true)
}

func (b *MemoryBus) Off(channel string, h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.listeners[channel]
	for i, s := range subs {
		if s.handle == h {
			b.listeners[channel] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.listeners[channel]) == 0 {
		delete(b.listeners, channel)
	}
}

func (b *MemoryBus) Emit(channel string, args ...any) {
	b.mu.Lock()
	subs := b.listeners[channel]
	if len(subs) == 0 {
		b.mu.Unlock()
		return
	}
	snapshot := make([]*subscription, len(subs))
	copy(snapshot, subs)

	kept := subs[:0:0]
	for _, s := range subs {
		if !s.once {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(b.listeners, channel)
	} else {
		b.listeners[channel] = kept
	}
	b.mu.Unlock()

	for _, s := range snapshot {
		s.fn(args...)
	}
}

// Count reports the live subscriptions on channel.
func (b *MemoryBus) Count(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[channel])
}

func (b *MemoryBus) add(channel string, l Listener, once bool) Handle {
	h := Handle(b.seq.Add(1))
	b.mu.Lock()
	b.listeners[channel] = append(b.listeners[channel], &subscription{handle: h, fn: l, once: once})
	b.mu.Unlock()
	return h
}
