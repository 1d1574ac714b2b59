package detect

import (
	"fmt"
	"testing"
	"time"
)

func TestDeduper_SeenWithinTTL(t *testing.T) {
	t.Parallel()

	d := NewDeduper()
	if d.Seen("Inflation fell to 3.1 percent.") {
		t.Error("first sighting reported as seen")
	}
	// Differs only in punctuation and case, so the normalized key matches.
	if !d.Seen("inflation fell to 3 1 percent") {
		t.Error("normalized duplicate not reported as seen")
	}
}

func TestDeduper_TTLExpiry(t *testing.T) {
	t.Parallel()

	now := time.Now()
	d := NewDeduper()
	d.now = func() time.Time { return now }

	d.Seen("the deficit doubled last year")

	now = now.Add(dedupeTTL + time.Second)
	if d.Seen("the deficit doubled last year") {
		t.Error("entry still seen after TTL expiry")
	}
}

func TestDeduper_Bounded(t *testing.T) {
	t.Parallel()

	now := time.Now()
	d := NewDeduper()
	d.now = func() time.Time { return now }

	for i := 0; i < dedupeMaxEntries+100; i++ {
		now = now.Add(time.Millisecond)
		d.Seen(fmt.Sprintf("claim number %d about the economy", i))
	}
	if len(d.entries) > dedupeMaxEntries {
		t.Errorf("entries: want <= %d, got %d", dedupeMaxEntries, len(d.entries))
	}
	// The newest entry must have survived eviction.
	if !d.Seen(fmt.Sprintf("claim number %d about the economy", dedupeMaxEntries+99)) {
		t.Error("newest entry was evicted")
	}
}

func TestDeduper_Reset(t *testing.T) {
	t.Parallel()

	d := NewDeduper()
	d.Seen("gdp grew by four percent")
	d.Reset()
	if d.Seen("gdp grew by four percent") {
		t.Error("entry survived Reset")
	}
}

func TestDedupeKey(t *testing.T) {
	t.Parallel()

	if got, want := DedupeKey("  Taxes—are UP, 5%! "), "taxes are up 5"; got != want {
		t.Errorf("key: want %q, got %q", want, got)
	}
}
