// Package assemble turns per-chunk transcription text into a clean rolling
// transcript: it strips chunk-boundary overlap, emits bounded transcript
// segments, and feeds complete sentences to claim detection.
package assemble

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	// tailChars is the rolling prior-context window kept for overlap
	// stripping and transcription prompts.
	tailChars = 200

	// flushMaxChars forces a segment flush regardless of sentence
	// boundaries.
	flushMaxChars = 600

	// defaultFlushTimeout flushes a quiet buffer so slow speech still
	// reaches subscribers.
	defaultFlushTimeout = 4000 * time.Millisecond
)

// sentenceRe matches one complete sentence including trailing punctuation
// and closing quotes or brackets.
var sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]+(?:["')\]]+)?`)

// Segment is one flushed span of transcript.
type Segment struct {
	Index    int
	Text     string
	StartSec float64
	EndSec   float64
	Forced   bool
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithFlushTimeout overrides the idle flush timeout.
func WithFlushTimeout(d time.Duration) Option {
	return func(a *Assembler) { a.flushTimeout = d }
}

// Assembler owns the transcript buffer for one run. Safe for concurrent
// use. The emit callback is invoked with the internal lock held and must
// not call back into the assembler.
type Assembler struct {
	mu           sync.Mutex
	emit         func(Segment)
	flushTimeout time.Duration

	buf      string
	tail     string
	segIndex int
	startSec float64
	endSec   float64
	timer    *time.Timer
	closed   bool
}

// New creates an Assembler that delivers flushed segments to emit.
func New(emit func(Segment), opts ...Option) *Assembler {
	a := &Assembler{emit: emit, flushTimeout: defaultFlushTimeout}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Tail returns the prior-context window: the last 200 characters of
// accepted transcript.
func (a *Assembler) Tail() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tail
}

// Accept ingests the transcription of one chunk. The text is deduplicated
// against the rolling tail first; the kept remainder is returned so the
// caller can forward it to claim detection. Flush conditions are evaluated
// after the append.
func (a *Assembler) Accept(text string, startSec, endSec float64) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ""
	}

	kept := StripOverlap(a.tail, text)
	if kept != "" {
		a.tail = Tail(kept, tailChars)
	}

	trimmed := strings.TrimSpace(kept)
	if trimmed != "" {
		if a.buf == "" {
			a.startSec = startSec
		} else {
			a.buf += " "
		}
		a.buf += trimmed
		a.endSec = endSec
	}

	a.evaluateLocked()
	a.resetTimerLocked()
	return kept
}

// Flush force-emits whatever is buffered. Called on stop and reconnect.
func (a *Assembler) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flushAllLocked(true)
}

// ResetContext flushes the buffer and clears the prior-context tail. Called
// when a new ingest attempt starts: text from a fresh connection must not be
// deduplicated against the previous stream.
func (a *Assembler) ResetContext() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flushAllLocked(true)
	a.tail = ""
}

// Close flushes and stops the idle timer.
func (a *Assembler) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flushAllLocked(true)
	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
	}
}

// evaluateLocked applies the sentence-boundary and max-length triggers.
func (a *Assembler) evaluateLocked() {
	if len(a.buf) >= flushMaxChars {
		a.flushAllLocked(false)
		return
	}

	locs := sentenceRe.FindAllStringIndex(a.buf, -1)
	if len(locs) == 0 {
		return
	}
	end := locs[len(locs)-1][1]
	complete := strings.TrimSpace(a.buf[:end])
	carry := strings.TrimSpace(a.buf[end:])

	if carry == "" {
		a.flushAllLocked(false)
		return
	}

	// Partial flush: the carryover becomes the next segment, starting at
	// the flushed segment's end time.
	a.emitLocked(Segment{
		Index:    a.segIndex,
		Text:     complete,
		StartSec: a.startSec,
		EndSec:   a.endSec,
	})
	a.segIndex++
	a.buf = carry
	a.startSec = a.endSec
}

func (a *Assembler) flushAllLocked(forced bool) {
	text := strings.TrimSpace(a.buf)
	if text == "" {
		return
	}
	a.emitLocked(Segment{
		Index:    a.segIndex,
		Text:     text,
		StartSec: a.startSec,
		EndSec:   a.endSec,
		Forced:   forced,
	})
	a.segIndex++
	a.buf = ""
	a.startSec = a.endSec
}

func (a *Assembler) emitLocked(s Segment) {
	if a.emit != nil {
		a.emit(s)
	}
}

// resetTimerLocked restarts the idle flush timer after every append.
func (a *Assembler) resetTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.flushTimeout, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if !a.closed {
			a.flushAllLocked(false)
		}
	})
}
