package assemble

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/claimcast/internal/detect"
)

func TestStripOverlap(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		prior string
		next  string
		want  string
	}{
		{
			name:  "exact boundary repeat",
			prior: "the economy is growing and unemployment",
			next:  "and unemployment fell to four percent.",
			want:  "fell to four percent.",
		},
		{
			name:  "case and whitespace insensitive",
			prior: "We passed   the Bill",
			next:  "we passed the bill last week.",
			want:  "last week.",
		},
		{
			name:  "no overlap",
			prior: "completely different words here",
			next:  "inflation fell to three percent.",
			want:  "inflation fell to three percent.",
		},
		{
			name:  "short coincidence kept",
			prior: "rates",
			next:  "rates went up.",
			want:  "rates went up.",
		},
		{
			name:  "entire text duplicated",
			prior: "so let me repeat that number",
			next:  "let me repeat that number",
			want:  "",
		},
		{
			name:  "empty prior",
			prior: "",
			next:  "anything at all goes through.",
			want:  "anything at all goes through.",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := StripOverlap(tc.prior, tc.next); got != tc.want {
				t.Errorf("StripOverlap(%q, %q) = %q, want %q", tc.prior, tc.next, got, tc.want)
			}
		})
	}
}

func TestTail(t *testing.T) {
	t.Parallel()

	if got := Tail("short", 200); got != "short" {
		t.Errorf("Tail short string: got %q", got)
	}
	long := strings.Repeat("a", 300)
	if got := Tail(long, 200); len(got) != 200 {
		t.Errorf("Tail long string: want 200 bytes, got %d", len(got))
	}
}

func collectSegments() (func(Segment), *[]Segment, *sync.Mutex) {
	var mu sync.Mutex
	var segs []Segment
	return func(s Segment) {
		mu.Lock()
		segs = append(segs, s)
		mu.Unlock()
	}, &segs, &mu
}

func TestAssembler_SentenceBoundaryFlush(t *testing.T) {
	t.Parallel()

	emit, segs, mu := collectSegments()
	a := New(emit, WithFlushTimeout(time.Hour))
	defer a.Close()

	a.Accept("Inflation fell to three percent. And the next part", 0, 15)

	mu.Lock()
	defer mu.Unlock()
	if len(*segs) != 1 {
		t.Fatalf("want 1 flushed segment, got %d", len(*segs))
	}
	got := (*segs)[0]
	if got.Text != "Inflation fell to three percent." {
		t.Errorf("segment text: got %q", got.Text)
	}
	if got.Index != 0 || got.StartSec != 0 || got.EndSec != 15 {
		t.Errorf("segment bounds: got %+v", got)
	}
}

func TestAssembler_CarryoverStartsNextSegment(t *testing.T) {
	t.Parallel()

	emit, segs, mu := collectSegments()
	a := New(emit, WithFlushTimeout(time.Hour))
	defer a.Close()

	a.Accept("First sentence ends here. trailing words", 0, 15)
	a.Accept("that finish in the second chunk.", 15, 30)

	mu.Lock()
	defer mu.Unlock()
	if len(*segs) != 2 {
		t.Fatalf("want 2 segments, got %d", len(*segs))
	}
	// The carryover segment starts where the partial flush ended.
	if (*segs)[1].StartSec != 15 || (*segs)[1].EndSec != 30 {
		t.Errorf("second segment bounds: got %+v", (*segs)[1])
	}
	if (*segs)[1].Index != 1 {
		t.Errorf("second segment index: got %d", (*segs)[1].Index)
	}
	if !strings.HasPrefix((*segs)[1].Text, "trailing words") {
		t.Errorf("carryover lost: %q", (*segs)[1].Text)
	}
}

func TestAssembler_MaxCharsFlush(t *testing.T) {
	t.Parallel()

	emit, segs, mu := collectSegments()
	a := New(emit, WithFlushTimeout(time.Hour))
	defer a.Close()

	// No sentence boundary anywhere, but well past the length limit.
	a.Accept(strings.Repeat("word ", 130), 0, 15)

	mu.Lock()
	defer mu.Unlock()
	if len(*segs) != 1 {
		t.Fatalf("want length-triggered flush, got %d segments", len(*segs))
	}
}

func TestAssembler_IdleTimerFlush(t *testing.T) {
	t.Parallel()

	emit, segs, mu := collectSegments()
	a := New(emit, WithFlushTimeout(30*time.Millisecond))
	defer a.Close()

	a.Accept("no sentence boundary here", 0, 15)

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(*segs)
		mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("idle timer never flushed the buffer")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestAssembler_ForcedFlush(t *testing.T) {
	t.Parallel()

	emit, segs, mu := collectSegments()
	a := New(emit, WithFlushTimeout(time.Hour))

	a.Accept("buffered but incomplete", 0, 15)
	a.Flush()
	a.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(*segs) != 1 || !(*segs)[0].Forced {
		t.Fatalf("want one forced segment, got %+v", *segs)
	}
}

func TestAssembler_TailTracksAcceptedText(t *testing.T) {
	t.Parallel()

	a := New(nil, WithFlushTimeout(time.Hour))
	defer a.Close()

	kept := a.Accept("Unemployment fell again.", 0, 15)
	if kept != "Unemployment fell again." {
		t.Errorf("kept: got %q", kept)
	}
	if a.Tail() != "Unemployment fell again." {
		t.Errorf("tail: got %q", a.Tail())
	}

	// Overlapping re-transcription is dropped and does not disturb the tail.
	kept = a.Accept("unemployment fell again. New content arrives now.", 15, 30)
	if !strings.HasPrefix(kept, "New content") {
		t.Errorf("overlap not stripped: %q", kept)
	}
}

func TestClaimFeed_ForwardsCompleteSentences(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var got []string
	feed := NewClaimFeed(func(text string, _ float64, forced bool) {
		mu.Lock()
		got = append(got, text)
		mu.Unlock()
		if forced {
			t.Error("complete sentences forwarded as forced")
		}
	})

	feed.Append("Inflation fell to three percent. And the senate", 0)
	feed.Append("passed the bill.", 15)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("want 2 forwards, got %v", got)
	}
	if got[0] != "Inflation fell to three percent." {
		t.Errorf("first forward: %q", got[0])
	}
	if got[1] != "And the senate passed the bill." {
		t.Errorf("carryover not stitched: %q", got[1])
	}
}

func TestClaimFeed_FallbackValve(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var got []string
	var forcedFlags []bool
	feed := NewClaimFeed(func(text string, _ float64, forced bool) {
		mu.Lock()
		got = append(got, text)
		forcedFlags = append(forcedFlags, forced)
		mu.Unlock()
	}, WithFallbackFlush(50, 5))

	// No sentence boundary, but far past the valve thresholds.
	feed.Append("many words without any punctuation keep arriving and arriving here", 0)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("valve did not fire: %v", got)
	}
	if !forcedFlags[0] {
		t.Error("valve forward not marked forced")
	}
}

func TestClaimFeed_Flush(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var got []string
	var forcedFlags []bool
	feed := NewClaimFeed(func(text string, _ float64, forced bool) {
		mu.Lock()
		got = append(got, text)
		forcedFlags = append(forcedFlags, forced)
		mu.Unlock()
	})

	feed.Append("pending words", 0)
	feed.Flush(15)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "pending words" {
		t.Fatalf("forced flush: got %v", got)
	}
	if !forcedFlags[0] {
		t.Error("stop-time flush not marked forced")
	}
}

func TestClaimFeed_ValveTextReachesDetection(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var cands []detect.Candidate
	feed := NewClaimFeed(func(text string, startSec float64, forced bool) {
		found := detect.Detect(text, detect.Options{
			ChunkStartSec: startSec,
			IncludeTail:   forced,
		})
		mu.Lock()
		cands = append(cands, found...)
		mu.Unlock()
	})

	// Over 320 characters of claim-bearing speech with the terminal
	// punctuation dropped by the transcription. The default valve must fire
	// and the forwarded text must still yield a claim.
	speech := strings.TrimSpace(strings.Repeat(
		"unemployment fell to 3.4 percent last year which is lower than any "+
			"rate recorded in the past fifty years according to the bureau ", 3))
	if len(speech) <= 320 {
		t.Fatalf("fixture too short to trip the valve: %d chars", len(speech))
	}
	feed.Append(speech, 42)

	mu.Lock()
	defer mu.Unlock()
	if feed.carryover != "" {
		t.Fatalf("valve did not clear the carryover: %q", feed.carryover)
	}
	if len(cands) == 0 {
		t.Fatal("no claim detected from valve-forwarded text")
	}
	if cands[0].ChunkStartSec != 42 {
		t.Errorf("candidate chunk offset: got %v", cands[0].ChunkStartSec)
	}
}
