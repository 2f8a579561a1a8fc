package solverhost

import "sync"

// Subscriber is one attached progress-stream consumer. Its channel is owned
// by the bus; it is closed when the subscriber is removed.
type Subscriber struct {
	ID     int
	Events chan Event
}

// bus fans progress events out to any number of subscribers. Broadcast never
// blocks: a subscriber whose queue is full simply misses that event, which
// keeps one slow SSE client from stalling the solve (skip-slow-clients
// policy).
type bus struct {
	mu          sync.Mutex
	nextID      int
	subscribers map[int]*Subscriber
	capacity    int
	onCount     func(int)
}

func newBus(capacity int, onCount func(int)) *bus {
	if capacity <= 0 {
		capacity = 64
	}
	return &bus{
		subscribers: map[int]*Subscriber{},
		capacity:    capacity,
		onCount:     onCount,
	}
}

func (b *bus) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscriber{ID: b.nextID, Events: make(chan Event, b.capacity)}
	b.subscribers[sub.ID] = sub
	b.notifyCount()
	return sub
}

func (b *bus) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub.ID]; !ok {
		return
	}
	delete(b.subscribers, sub.ID)
	close(sub.Events)
	b.notifyCount()
}

func (b *bus) Broadcast(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subscribers {
		select {
		case sub.Events <- ev:
		default:
		}
	}
}

func (b *bus) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

func (b *bus) notifyCount() {
	if b.onCount != nil {
		b.onCount(len(b.subscribers))
	}
}
