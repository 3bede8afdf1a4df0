package telemetry

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Hub broadcasts snapshots to subscribers. Publish never blocks; a
// subscriber whose buffer is full misses that snapshot.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]chan Snapshot
	latest      Snapshot
	hasLatest   bool
	closed      bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]chan Snapshot)}
}

// Publish stores s as the latest snapshot and offers it to every
// subscriber.
func (h *Hub) Publish(s Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.latest, h.hasLatest = s, true
	h.published.Add(1)
	for _, ch := range h.subscribers {
		select {
		case ch <- s:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber with the given buffer size.
func (h *Hub) Subscribe(buffer int) (string, <-chan Snapshot) {
	if buffer < 1 {
		buffer = 1
	}
	id := uuid.NewString()
	ch := make(chan Snapshot, buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subscribers[id] = ch
	diagf("subscriber %s joined (%d total)", id, len(h.subscribers))
	return id, ch
}

// Unsubscribe removes and closes a subscriber.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
		diagf("subscriber %s left (%d total)", id, len(h.subscribers))
	}
}

// Latest returns the most recent snapshot.
func (h *Hub) Latest() (Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest, h.hasLatest
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Counts returns the number of published and dropped deliveries.
func (h *Hub) Counts() (published, dropped uint64) {
	return h.published.Load(), h.dropped.Load()
}

// Close closes every subscriber. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}
