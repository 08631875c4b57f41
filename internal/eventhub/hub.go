// Package eventhub fans values out from a single producer to any number of
// subscribers. Delivery never blocks the producer: a subscriber that falls
// behind misses values rather than stalling the poll loop.
package eventhub

import (
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"tailscale.com/tsweb"
)

var ErrHubClosed = errors.New("event hub closed")

// DefaultBuffer is the per-subscriber channel depth used when New is given a
// non-positive size.
const DefaultBuffer = 16

// Hub is a generic publish/subscribe multiplexer.
type Hub[T any] struct {
	mu          sync.Mutex
	subscribers map[string]chan T
	buffer      int
	closed      bool
	published   uint64
	dropped     uint64
}

// New returns a hub whose subscriber channels hold buffer values each.
func New[T any](buffer int) *Hub[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub[T]{
		subscribers: make(map[string]chan T),
		buffer:      buffer,
	}
}

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a new subscriber. The ID is used to Unsubscribe. On a
// closed hub the returned channel is already closed.
func (h *Hub[T]) Subscribe() (string, <-chan T) {
	id := randomID()
	ch := make(chan T, h.buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub[T]) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Publish delivers v to every subscriber with room in its buffer.
func (h *Hub[T]) Publish(v T) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.published++
	for _, ch := range h.subscribers {
		select {
		case ch <- v:
		default:
			// subscriber is full, skip it so the producer never blocks
			h.dropped++
		}
	}
	return nil
}

// Len returns the number of active subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Stats returns how many values were published and how many deliveries were
// dropped because a subscriber was full.
func (h *Hub[T]) Stats() (published, dropped uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.published, h.dropped
}

// Close closes every subscriber channel. Later Publish calls return
// ErrHubClosed.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}

// AttachAdminRoutes exposes a live JSON tail of published values as
// Server-Sent Events under /debug/<slug>. Debug routes are only reachable
// from localhost or over Tailscale.
func (h *Hub[T]) AttachAdminRoutes(mux *http.ServeMux, slug string) {
	debug := tsweb.Debugger(mux)

	debug.Handle(slug, "live tail of occupancy events (SSE)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := h.Subscribe()
		defer h.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case v, ok := <-c:
				if !ok {
					return
				}
				payload, err := json.Marshal(v)
				if err != nil {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	}))
}
