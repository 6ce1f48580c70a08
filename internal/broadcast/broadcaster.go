package broadcast

import (
	"sync"
	"sync/atomic"
	"time"
)

// Update announces that the shared collection was replaced.
type Update struct {
	Version      uint64    `json:"version"`
	FeatureCount int       `json:"featureCount"`
	Stale        bool      `json:"stale"`
	At           time.Time `json:"at"`
}

const subscriberBuffer = 16

type Broadcaster struct {
	subscribers map[uint64]chan Update
	nextID      atomic.Uint64
	mu          sync.RWMutex
	closed      bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]chan Update),
	}
}

// Subscribe registers a listener. The returned channel is closed on
// Unsubscribe or Close; after Close it is returned already closed.
func (b *Broadcaster) Subscribe() (uint64, <-chan Update) {
	id := b.nextID.Add(1)
	ch := make(chan Update, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subscribers[id] = ch
	}
	b.mu.Unlock()

	return id, ch
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Publish(u Update) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- u:
		default:
			// Skip slow subscribers
		}
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels, ending open streams.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
