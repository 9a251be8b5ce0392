package worker

import (
	"sync"

	"example.com/communityfeed/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const subscriberBuffer = 64

var (
	subscribersGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "communityfeed_realtime_subscribers",
		Help: "Number of connected realtime subscribers per table",
	}, []string{"table"})

	deliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "communityfeed_realtime_delivered_total",
		Help: "The total number of events delivered to subscribers",
	}, []string{"table"})

	droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "communityfeed_realtime_dropped_subscribers_total",
		Help: "The total number of subscribers dropped for falling behind",
	}, []string{"table"})
)

// Subscription receives the events of one table until it is closed.
type Subscription struct {
	Table  string
	Events <-chan models.Event

	send chan models.Event
}

// Hub fans events out to the subscribers of the event's table.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a subscriber. The returned func removes it; the Events
// channel is closed on removal, on Close, or when the subscriber falls behind.
func (h *Hub) Subscribe(table string) (*Subscription, func()) {
	ch := make(chan models.Event, subscriberBuffer)
	sub := &Subscription{Table: table, Events: ch, send: ch}

	h.mu.Lock()
	if h.closed {
		close(ch)
	} else {
		h.subs[sub] = struct{}{}
		subscribersGauge.WithLabelValues(table).Inc()
	}
	h.mu.Unlock()

	return sub, func() {
		h.mu.Lock()
		h.remove(sub)
		h.mu.Unlock()
	}
}

// remove closes and forgets sub. Callers hold mu.
func (h *Hub) remove(sub *Subscription) {
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.send)
	subscribersGauge.WithLabelValues(sub.Table).Dec()
}

// Broadcast delivers ev without blocking and returns the number of receivers.
func (h *Hub) Broadcast(ev models.Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for sub := range h.subs {
		if sub.Table != ev.Table {
			continue
		}
		select {
		case sub.send <- ev:
			n++
		default:
			droppedTotal.WithLabelValues(sub.Table).Inc()
			logg.Info("realtime", "Dropping slow subscriber on table "+sub.Table)
			h.remove(sub)
		}
	}
	if n > 0 {
		deliveredTotal.WithLabelValues(ev.Table).Add(float64(n))
	}
	return n
}

// Len reports the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close drops every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		h.remove(sub)
	}
}
