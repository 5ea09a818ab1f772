package grpc

import (
	"sync"
	"sync/atomic"

	"github.com/mr1hm/go-hazard-watch/internal/observability"
	"github.com/mr1hm/go-hazard-watch/internal/state"
)

// Broadcaster fans committed states out to stream subscribers. Each state
// replaces the previous one, so a slow subscriber loses intermediate versions
// but always ends on the latest.
type Broadcaster struct {
	subscribers map[uint64]chan state.UIState
	nextID      atomic.Uint64
	bufferSize  int
	closed      bool
	mu          sync.RWMutex
	metrics     *observability.Metrics
}

func NewBroadcaster(bufferSize int, metrics *observability.Metrics) *Broadcaster {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Broadcaster{
		subscribers: make(map[uint64]chan state.UIState),
		bufferSize:  bufferSize,
		metrics:     metrics,
	}
}

// Subscribe registers a new channel. After Close the returned channel is
// already closed.
func (b *Broadcaster) Subscribe() (uint64, chan state.UIState) {
	id := b.nextID.Add(1)
	ch := make(chan state.UIState, b.bufferSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch
	b.metrics.StateSubscribers.Set(float64(len(b.subscribers)))
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
		b.metrics.StateSubscribers.Set(float64(len(b.subscribers)))
	}
}

// Broadcast never blocks. A full subscriber has its oldest queued state
// dropped to make room.
func (b *Broadcaster) Broadcast(s state.UIState) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- s:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels, causing streams to exit gracefully
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	b.metrics.StateSubscribers.Set(0)
}
