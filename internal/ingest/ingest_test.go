package ingest

import (
	"testing"
	"time"

	"github.com/MrWong99/claimcast/pkg/wav"
)

func TestClampChunkSeconds(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want int }{
		{0, 15},
		{2, 5},
		{15, 15},
		{30, 30},
		{99, 30},
	}
	for _, tc := range cases {
		if got := ClampChunkSeconds(tc.in); got != tc.want {
			t.Errorf("ClampChunkSeconds(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestClampStallTimeoutMs(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want int }{
		{0, 45000},
		{500, 1000},
		{45000, 45000},
		{400000, 300000},
	}
	for _, tc := range cases {
		if got := ClampStallTimeoutMs(tc.in); got != tc.want {
			t.Errorf("ClampStallTimeoutMs(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestChunker_SlicesSequentially(t *testing.T) {
	t.Parallel()

	c := NewChunker(5)
	chunkBytes := 5 * wav.BytesPerSecond

	// Half a chunk: nothing complete yet.
	if got := c.Write(make([]byte, chunkBytes/2)); len(got) != 0 {
		t.Fatalf("partial buffer produced %d chunks", len(got))
	}

	// One and a half more: two chunks complete.
	got := c.Write(make([]byte, chunkBytes+chunkBytes/2))
	if len(got) != 2 {
		t.Fatalf("want 2 chunks, got %d", len(got))
	}
	for i, chunk := range got {
		if chunk.Index != i {
			t.Errorf("chunk %d: index %d", i, chunk.Index)
		}
		if len(chunk.PCM) != chunkBytes {
			t.Errorf("chunk %d: %d bytes, want %d", i, len(chunk.PCM), chunkBytes)
		}
		if chunk.StartSec != float64(i*5) || chunk.EndSec != float64(i*5+5) {
			t.Errorf("chunk %d: bounds [%v, %v]", i, chunk.StartSec, chunk.EndSec)
		}
	}

	// Reset drops the remainder but keeps counting indices.
	c.Reset()
	got = c.Write(make([]byte, chunkBytes))
	if len(got) != 1 || got[0].Index != 2 {
		t.Errorf("after reset: want one chunk with index 2, got %+v", got)
	}
}

func TestReconnectDelay(t *testing.T) {
	t.Parallel()

	noJitter := func(int) int { return 0 }

	if got := ReconnectDelay(1, 1000, 15000, noJitter); got != time.Second {
		t.Errorf("attempt 1: want 1s, got %v", got)
	}
	if got := ReconnectDelay(3, 1000, 15000, noJitter); got != 4*time.Second {
		t.Errorf("attempt 3: want 4s, got %v", got)
	}
	// Exponential growth is capped at the configured max.
	if got := ReconnectDelay(10, 1000, 15000, noJitter); got != 15*time.Second {
		t.Errorf("attempt 10: want 15s cap, got %v", got)
	}
	// Floor of 250 ms even with a tiny base.
	if got := ReconnectDelay(1, 100, 15000, noJitter); got != 250*time.Millisecond {
		t.Errorf("tiny base: want 250ms floor, got %v", got)
	}

	// Jitter ceiling: min(500, max(80, backoff/5)).
	var ceil int
	recorder := func(n int) int { ceil = n; return 0 }
	ReconnectDelay(1, 1000, 15000, recorder)
	if ceil != 200 {
		t.Errorf("jitter ceiling at 1s backoff: want 200, got %d", ceil)
	}
	ReconnectDelay(10, 1000, 15000, recorder)
	if ceil != 500 {
		t.Errorf("jitter ceiling at cap: want 500, got %d", ceil)
	}
	ReconnectDelay(1, 250, 15000, recorder)
	if ceil != 80 {
		t.Errorf("jitter ceiling floor: want 80, got %d", ceil)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	clean := &exitRecord{code: 0}
	nonzero := &exitRecord{code: 1}
	killed := &exitRecord{code: -1, signaled: true}

	cases := []struct {
		name    string
		outcome attemptOutcome
		want    StopCause
	}{
		{"process error dominates", attemptOutcome{processErr: true, extractor: clean, decoder: clean}, CauseProcessError},
		{"stall dominates", attemptOutcome{stalled: true, extractor: clean, decoder: clean}, CauseProcessError},
		{"both clean", attemptOutcome{extractor: clean, decoder: clean}, CauseSourceEnded},
		{"extractor nonzero", attemptOutcome{extractor: nonzero, decoder: clean}, CauseUpstreamNonzero},
		{"decoder signaled", attemptOutcome{extractor: clean, decoder: killed}, CauseUpstreamNonzero},
		{"missing exit record", attemptOutcome{extractor: clean}, CauseUpstreamNonzero},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := classify(tc.outcome); got != tc.want {
				t.Errorf("classify(%+v) = %s, want %s", tc.outcome, got, tc.want)
			}
		})
	}
}
