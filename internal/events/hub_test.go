package events_test

import (
	"fmt"
	"testing"

	"github.com/MrWong99/claimcast/internal/events"
)

func collect(sub *events.Subscriber, n int) []events.Event {
	out := make([]events.Event, 0, n)
	for len(out) < n {
		ev, ok := <-sub.Events()
		if !ok {
			break
		}
		out = append(out, ev)
	}
	return out
}

func TestHub_SeqMonotonic(t *testing.T) {
	t.Parallel()

	h := events.NewHub()
	sub := h.Subscribe(-1)
	defer sub.Close()

	for i := 0; i < 5; i++ {
		h.Publish(events.Event{Type: events.TypePipelineLog, RunID: "r1"})
	}

	got := collect(sub, 5)
	for i, ev := range got {
		if ev.Seq != int64(i+1) {
			t.Errorf("event %d: want seq %d, got %d", i, i+1, ev.Seq)
		}
		if ev.At.IsZero() {
			t.Errorf("event %d: timestamp not set", i)
		}
	}
}

func TestHub_ReplayAboveLastSeq(t *testing.T) {
	t.Parallel()

	h := events.NewHub()
	for i := 0; i < 10; i++ {
		h.Publish(events.Event{Type: events.TypePipelineLog})
	}

	sub := h.Subscribe(7)
	defer sub.Close()

	got := collect(sub, 3)
	if len(got) != 3 {
		t.Fatalf("replayed events: want 3, got %d", len(got))
	}
	if got[0].Seq != 8 || got[2].Seq != 10 {
		t.Errorf("replay range: want seqs 8..10, got %d..%d", got[0].Seq, got[2].Seq)
	}
}

func TestHub_ReplayDefault25(t *testing.T) {
	t.Parallel()

	h := events.NewHub()
	for i := 0; i < 40; i++ {
		h.Publish(events.Event{Type: events.TypePipelineLog})
	}

	sub := h.Subscribe(-1)
	defer sub.Close()

	got := collect(sub, 25)
	if got[0].Seq != 16 {
		t.Errorf("default replay start: want seq 16, got %d", got[0].Seq)
	}
	if got[24].Seq != 40 {
		t.Errorf("default replay end: want seq 40, got %d", got[24].Seq)
	}
}

func TestHub_ReplayCap(t *testing.T) {
	t.Parallel()

	h := events.NewHub()
	for i := 0; i < 300; i++ {
		h.Publish(events.Event{Type: events.TypePipelineLog})
	}

	// 299 events are newer than seq 1, but replay is capped at 200.
	sub := h.Subscribe(1)
	defer sub.Close()

	got := collect(sub, 200)
	if got[0].Seq != 101 {
		t.Errorf("capped replay start: want seq 101, got %d", got[0].Seq)
	}
	if got[199].Seq != 300 {
		t.Errorf("capped replay end: want seq 300, got %d", got[199].Seq)
	}
}

func TestHub_SlowSubscriberDropped(t *testing.T) {
	t.Parallel()

	h := events.NewHub()
	slow := h.Subscribe(-1)

	// Overflow the slow subscriber's buffer without reading from it.
	for i := 0; i < 300; i++ {
		h.Publish(events.Event{Type: events.TypePipelineLog})
	}

	// The slow subscriber's channel must be closed by the hub.
	drained := 0
	for range slow.Events() {
		drained++
	}
	if drained >= 300 {
		t.Errorf("slow subscriber received all %d events; expected a drop", drained)
	}

	// The hub keeps serving new subscribers after the drop.
	late := h.Subscribe(300)
	defer late.Close()
	h.Publish(events.Event{Type: events.TypePipelineLog})
	if ev := collect(late, 1); len(ev) != 1 || ev[0].Seq != 301 {
		t.Errorf("late subscriber: want seq 301, got %+v", ev)
	}
}

func TestHub_SubscriberGauge(t *testing.T) {
	t.Parallel()

	h := events.NewHub()
	var last int
	h.SetSubscriberGauge(func(n int) { last = n })

	a := h.Subscribe(-1)
	b := h.Subscribe(-1)
	if last != 2 {
		t.Errorf("gauge after two subscribes: want 2, got %d", last)
	}
	a.Close()
	if last != 1 {
		t.Errorf("gauge after close: want 1, got %d", last)
	}
	b.Close()
	if last != 0 {
		t.Errorf("gauge after close: want 0, got %d", last)
	}
}

func TestHub_HistoryBounded(t *testing.T) {
	t.Parallel()

	h := events.NewHub()
	for i := 0; i < 1500; i++ {
		h.Publish(events.Event{Type: events.TypePipelineLog, Data: map[string]any{"i": fmt.Sprint(i)}})
	}

	// Oldest retrievable event is seq 501 (history bounded at 1000).
	sub := h.Subscribe(0)
	defer sub.Close()
	got := collect(sub, 1)
	if got[0].Seq != 1301 {
		// 1000 retained (501..1500), replay capped to the newest 200.
		t.Errorf("oldest replayed seq: want 1301, got %d", got[0].Seq)
	}
}
