package events

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// maxHistory bounds the in-memory event ring.
	maxHistory = 1000

	// maxReplay caps how many historical events a reconnecting subscriber
	// receives.
	maxReplay = 200

	// defaultReplay is sent to subscribers with no last-seen sequence.
	defaultReplay = 25

	// subscriberBuffer is each subscriber's channel capacity. A full buffer
	// means the subscriber is not keeping up and it is dropped.
	subscriberBuffer = 256
)

// Subscriber is one live event-stream consumer.
type Subscriber struct {
	hub *Hub
	ch  chan Event
}

// Events returns the subscriber's ordered event channel. It is closed when
// the subscriber is dropped or closed.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Close detaches the subscriber from the hub.
func (s *Subscriber) Close() {
	s.hub.unsubscribe(s)
}

// Hub assigns sequence numbers, keeps bounded replay history, and
// broadcasts to live subscribers. Safe for concurrent use.
type Hub struct {
	mu      sync.Mutex
	seq     int64
	history []Event
	subs    map[*Subscriber]struct{}
	now     func() time.Time

	// onSubscriberCount, when set, observes the live subscriber count after
	// every change. Used for metrics.
	onSubscriberCount func(int)
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[*Subscriber]struct{}),
		now:  time.Now,
	}
}

// SetSubscriberGauge registers fn to observe the subscriber count.
func (h *Hub) SetSubscriberGauge(fn func(int)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onSubscriberCount = fn
}

// Publish stamps ev with the next sequence number and a UTC timestamp,
// records it in history, and pushes it to every subscriber. Subscribers
// whose buffers are full are dropped. Returns the enriched event.
func (h *Hub) Publish(ev Event) Event {
	h.mu.Lock()

	h.seq++
	ev.Seq = h.seq
	ev.At = h.now().UTC()

	h.history = append(h.history, ev)
	if len(h.history) > maxHistory {
		h.history = h.history[len(h.history)-maxHistory:]
	}

	var dropped []*Subscriber
	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		delete(h.subs, sub)
		close(sub.ch)
	}
	if h.onSubscriberCount != nil && len(dropped) > 0 {
		h.onSubscriberCount(len(h.subs))
	}
	h.mu.Unlock()

	for range dropped {
		slog.Warn("event subscriber dropped: buffer full", "seq", ev.Seq)
	}
	return ev
}

// Subscribe registers a new subscriber. When lastSeq >= 0, history events
// with a strictly greater sequence number are replayed first (capped at
// maxReplay); otherwise the most recent defaultReplay events are replayed.
func (h *Hub) Subscribe(lastSeq int64) *Subscriber {
	sub := &Subscriber{ch: make(chan Event, subscriberBuffer)}
	sub.hub = h

	h.mu.Lock()
	defer h.mu.Unlock()

	var replay []Event
	if lastSeq >= 0 {
		for _, ev := range h.history {
			if ev.Seq > lastSeq {
				replay = append(replay, ev)
			}
		}
		if len(replay) > maxReplay {
			replay = replay[len(replay)-maxReplay:]
		}
	} else if n := len(h.history); n > 0 {
		start := n - defaultReplay
		if start < 0 {
			start = 0
		}
		replay = h.history[start:]
	}

	for _, ev := range replay {
		// Replay cannot overflow: cap(ch) > maxReplay is guaranteed by the
		// package constants.
		sub.ch <- ev
	}

	h.subs[sub] = struct{}{}
	if h.onSubscriberCount != nil {
		h.onSubscriberCount(len(h.subs))
	}
	return sub
}

// Seq returns the last assigned sequence number.
func (h *Hub) Seq() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

func (h *Hub) unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
		if h.onSubscriberCount != nil {
			h.onSubscriberCount(len(h.subs))
		}
	}
}
