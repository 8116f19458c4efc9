package relay

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Broadcaster fans values out to subscribers. Each subscriber has a one
// element buffer; when it is full the value is dropped for that subscriber.
type Broadcaster[T any] struct {
	mu      sync.RWMutex
	clients map[string]chan T
	closed  bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{clients: make(map[string]chan T)}
}

// Subscribe registers a client. The channel is closed on Unsubscribe or Close.
func (b *Broadcaster[T]) Subscribe() (string, <-chan T) {
	id := uuid.NewString()
	ch := make(chan T, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.clients[id] = ch
	return id, ch
}

func (b *Broadcaster[T]) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
	}
}

// Publish never blocks; subscribers whose buffer is full miss v.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.clients {
		select {
		case ch <- v:
			b.delivered.Add(1)
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Broadcaster[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster[T]) Delivered() uint64 { return b.delivered.Load() }
func (b *Broadcaster[T]) Dropped() uint64   { return b.dropped.Load() }

func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
}
