package assemble

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// minOverlap is the shortest duplicated run worth stripping. Anything
	// shorter is as likely coincidence as a real chunk-boundary repeat.
	minOverlap = 10

	// maxOverlap matches the prior-context window handed to the
	// transcription backend.
	maxOverlap = 200
)

// normalized is a lowercased, whitespace-collapsed view of a string with a
// map from each normalized byte back to the source byte offset.
type normalized struct {
	text    string
	offsets []int
}

func normalize(s string) normalized {
	var b strings.Builder
	offsets := make([]int, 0, len(s))
	pendingSpace := false
	started := false

	for i, r := range s {
		if unicode.IsSpace(r) {
			pendingSpace = started
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			offsets = append(offsets, i)
			pendingSpace = false
		}
		lower := unicode.ToLower(r)
		b.WriteRune(lower)
		for k := 0; k < utf8.RuneLen(lower); k++ {
			offsets = append(offsets, i)
		}
		started = true
	}
	return normalized{text: b.String(), offsets: offsets}
}

// StripOverlap removes from newText the longest prefix that duplicates the
// end of priorTail. Both sides are compared lowercased with runs of
// whitespace collapsed to single spaces; the strip happens on the original
// newText bytes. Returns newText unchanged when no overlap of at least
// minOverlap normalized characters exists.
func StripOverlap(priorTail, newText string) string {
	prior := normalize(priorTail)
	next := normalize(newText)

	max := maxOverlap
	if n := len(next.text); n < max {
		max = n
	}
	if n := len(prior.text); n < max {
		max = n
	}

	for l := max; l >= minOverlap; l-- {
		if prior.text[len(prior.text)-l:] == next.text[:l] {
			// The overlap covers normalized bytes [0, l). Cut the original
			// text where byte l originated, or drop it entirely when the
			// whole text overlapped.
			if l == len(next.offsets) {
				return ""
			}
			return strings.TrimLeft(newText[next.offsets[l]:], " \t\n\r")
		}
	}
	return newText
}

// Tail returns the trailing n bytes of text, trimmed to a rune boundary.
func Tail(text string, n int) string {
	if len(text) <= n {
		return text
	}
	cut := text[len(text)-n:]
	for len(cut) > 0 && !utf8.RuneStart(cut[0]) {
		cut = cut[1:]
	}
	return cut
}
