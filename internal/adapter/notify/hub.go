package notify

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/oshokin/sos-guard/internal/domain/sos"
	"github.com/oshokin/sos-guard/internal/logger"
)

const defaultBuffer = 64

// Hub logs every announcement and fans it out to live subscribers.
// Slow subscribers lose events rather than blocking the engine.
type Hub struct {
	ctx context.Context
	now func() time.Time

	mu     sync.Mutex
	nextID int
	subs   map[int]chan sos.Event
}

// NewHub creates a hub that logs through the logger stored in ctx.
func NewHub(ctx context.Context) *Hub {
	return &Hub{
		ctx:  logger.WithName(ctx, "events"),
		now:  time.Now,
		subs: make(map[int]chan sos.Event),
	}
}

// Announce implements sos.Notifier.
func (h *Hub) Announce(kind sos.EventKind, payload map[string]any) {
	event := sos.Event{Kind: kind, At: h.now(), Payload: maps.Clone(payload)}

	logger.DebugKV(h.ctx, "Event", "kind", kind, "payload", payload)

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		select {
		case ch <- event.Clone():
		default:
			logger.WarnKV(h.ctx, "Dropping event for slow subscriber", "subscriber", id, "kind", kind)
		}
	}
}

// Subscribe returns a channel of future events and a function that
// unsubscribes and closes it.
func (h *Hub) Subscribe(buffer int) (<-chan sos.Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	ch := make(chan sos.Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs)
}
