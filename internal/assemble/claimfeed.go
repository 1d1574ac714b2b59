package assemble

import (
	"strings"
	"sync"

	"github.com/MrWong99/claimcast/internal/detect"
)

const (
	// maxCarryoverChars bounds the claim-feed remainder kept between
	// chunks.
	maxCarryoverChars = 900

	// defaultFallbackFlushChars triggers the safety valve: a carryover this
	// long without a sentence boundary is forwarded anyway.
	defaultFallbackFlushChars = 320

	// defaultFallbackFlushWords keeps the valve from firing on a long
	// unbroken token such as a URL read out loud.
	defaultFallbackFlushWords = 12
)

// ClaimFeedOption configures a ClaimFeed.
type ClaimFeedOption func(*ClaimFeed)

// WithFallbackFlush overrides the safety-valve thresholds.
func WithFallbackFlush(chars, words int) ClaimFeedOption {
	return func(f *ClaimFeed) {
		f.fallbackChars = chars
		f.fallbackWords = words
	}
}

// ClaimFeed accumulates chunk text independently of segment flushing and
// forwards complete sentences to claim detection. Forwards carrying text
// without a terminal sentence boundary (the safety valve and the stop-time
// flush) set forced so the receiver knows to score the unterminated tail.
// Safe for concurrent use.
type ClaimFeed struct {
	mu            sync.Mutex
	forward       func(text string, chunkStartSec float64, forced bool)
	carryover     string
	fallbackChars int
	fallbackWords int
}

// NewClaimFeed creates a feed that delivers detector-ready text to forward.
func NewClaimFeed(forward func(text string, chunkStartSec float64, forced bool), opts ...ClaimFeedOption) *ClaimFeed {
	f := &ClaimFeed{
		forward:       forward,
		fallbackChars: defaultFallbackFlushChars,
		fallbackWords: defaultFallbackFlushWords,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Append merges text with the pending carryover, forwards every complete
// sentence, and retains the remainder for the next chunk.
func (f *ClaimFeed) Append(text string, chunkStartSec float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	combined := strings.TrimSpace(f.carryover + " " + text)
	if combined == "" {
		return
	}

	sentences, carry := detect.SplitSentences(combined)
	if len(sentences) > 0 {
		f.forward(strings.Join(sentences, " "), chunkStartSec, false)
	}

	if len(carry) > maxCarryoverChars {
		carry = Tail(carry, maxCarryoverChars)
	}

	// Safety valve: a carryover this large with real word content is
	// unlikely to ever hit a sentence boundary (dropped punctuation in the
	// transcription), so forward it rather than hold it forever.
	if len(carry) > f.fallbackChars && len(strings.Fields(carry)) >= f.fallbackWords {
		f.forward(carry, chunkStartSec, true)
		carry = ""
	}
	f.carryover = carry
}

// Flush forwards any pending carryover unconditionally. Called on stop.
func (f *ClaimFeed) Flush(chunkStartSec float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.TrimSpace(f.carryover) != "" {
		f.forward(f.carryover, chunkStartSec, true)
		f.carryover = ""
	}
}
