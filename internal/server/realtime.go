package server

import (
	"context"
	"sync"

	"github.com/serandev/seran-sjune/internal/messages"
)

const (
	RealtimeEventMessages  = "messages"
	realtimeEventHeartbeat = "heartbeat"
)

// SnapshotSource pushes full message lists until the returned func is called.
type SnapshotSource interface {
	Subscribe(ctx context.Context, callback func([]messages.MessageWithUser)) func()
}

// RealtimeDispatcher fans one store subscription out to every open stream.
// Slow readers only ever see the most recent snapshot.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*realtimeSubscriber
	nextID      int64
}

type realtimeSubscriber struct {
	id     int64
	stream chan []messages.MessageWithUser
	once   sync.Once
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[int64]*realtimeSubscriber),
	}
}

// Attach starts forwarding snapshots from source. The returned func detaches it.
func (d *RealtimeDispatcher) Attach(ctx context.Context, source SnapshotSource) func() {
	return source.Subscribe(ctx, d.Publish)
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context) (<-chan []messages.MessageWithUser, func()) {
	subscriber := &realtimeSubscriber{
		stream: make(chan []messages.MessageWithUser, 1),
	}
	d.registerSubscriber(subscriber)
	cleanup := func() {
		d.unregisterSubscriber(subscriber)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish replaces any undelivered snapshot with the new one.
func (d *RealtimeDispatcher) Publish(snapshot []messages.MessageWithUser) {
	if snapshot == nil {
		snapshot = []messages.MessageWithUser{}
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, subscriber := range d.subscribers {
		select {
		case subscriber.stream <- snapshot:
			continue
		default:
		}
		select {
		case <-subscriber.stream:
		default:
		}
		select {
		case subscriber.stream <- snapshot:
		default:
		}
	}
}

func (d *RealtimeDispatcher) Subscribers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

func (d *RealtimeDispatcher) registerSubscriber(subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	subscriber.id = d.nextID
	d.subscribers[subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(subscriber *realtimeSubscriber) {
	subscriber.once.Do(func() {
		d.mu.Lock()
		delete(d.subscribers, subscriber.id)
		close(subscriber.stream)
		d.mu.Unlock()
	})
}
