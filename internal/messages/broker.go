package messages

import (
	"context"
	"sync"
)

// Broker is an in-process ChangeFeed. Each subscriber holds at most one pending
// signal; bursts of writes collapse into a single refresh.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Change
	nextID      int64
}

// NewBroker constructs an empty broker.
func NewBroker() *Broker {
	return &Broker{subscribers: make(map[int64]chan Change)}
}

// Watch registers a subscriber. The stream is closed once stop is called or ctx ends.
func (b *Broker) Watch(ctx context.Context) (<-chan Change, func()) {
	stream := make(chan Change, 1)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers[id] = stream
	b.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			close(stream)
			b.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return stream, stop
}

// Notify signals every subscriber without blocking.
func (b *Broker) Notify() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, stream := range b.subscribers {
		select {
		case stream <- Change{}:
		default:
		}
	}
}

// Subscribers reports the number of active watchers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
