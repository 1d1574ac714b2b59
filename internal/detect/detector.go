// Package detect scores transcript sentences and promotes the ones that
// look like checkable factual claims.
//
// Detection is a pure function: the same input text and options always
// yield the same candidate list. Run-wide duplicate suppression is handled
// separately by [Deduper].
package detect

import (
	"regexp"
	"strings"

	"github.com/MrWong99/claimcast/internal/claims"
)

// Detection reason labels attached to candidates.
const (
	ReasonContainsNumber      = "contains_number"
	ReasonContainsComparative = "contains_comparative"
	ReasonContainsKeyword     = "contains_claim_keyword"
	ReasonSufficientLength    = "sufficient_length"
)

// Threshold bounds and default for candidate acceptance.
const (
	MinThreshold     = 0.55
	MaxThreshold     = 0.9
	DefaultThreshold = 0.62
)

// minSentenceChars drops fragments too short to carry a claim.
const minSentenceChars = 20

// sentenceRe matches one complete sentence including terminal punctuation
// and any trailing closing quotes or brackets.
var sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]+(?:["')\]]+)?`)

var digitRe = regexp.MustCompile(`\d`)

// Candidate is a sentence promoted to a research work item.
type Candidate struct {
	Text           string
	Score          float64
	Reasons        []string
	Category       claims.Category
	TypeTag        claims.TypeTag
	TypeConfidence float64
	ChunkStartSec  float64
}

// Options tune a single detection pass.
type Options struct {
	// ChunkStartSec is stamped onto every candidate.
	ChunkStartSec float64

	// Threshold is the minimum accepted score. Values outside
	// [MinThreshold, MaxThreshold] are clamped; zero means DefaultThreshold.
	Threshold float64

	// IncludeTail also scores the trailing text with no terminal
	// punctuation. Set for forced flushes, where the transcription never
	// produced a sentence boundary.
	IncludeTail bool
}

// SplitSentences splits text on sentence boundaries, returning the complete
// sentences and the trailing remainder that has no terminal punctuation yet.
func SplitSentences(text string) (sentences []string, tail string) {
	locs := sentenceRe.FindAllStringIndex(text, -1)
	end := 0
	for _, loc := range locs {
		sentences = append(sentences, strings.TrimSpace(text[loc[0]:loc[1]]))
		end = loc[1]
	}
	tail = strings.TrimSpace(text[end:])
	return sentences, tail
}

// Detect scores every complete sentence in text (plus the unterminated tail
// when opts.IncludeTail is set) and returns the candidates meeting the
// threshold, in input order. Duplicate sentences (lowercased) within one
// call are scored once.
func Detect(text string, opts Options) []Candidate {
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if threshold < MinThreshold {
		threshold = MinThreshold
	}
	if threshold > MaxThreshold {
		threshold = MaxThreshold
	}

	sentences, tail := SplitSentences(text)
	if opts.IncludeTail && tail != "" {
		sentences = append(sentences, tail)
	}

	seen := make(map[string]bool, len(sentences))
	var out []Candidate
	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) < minSentenceChars {
			continue
		}
		key := strings.ToLower(sentence)
		if seen[key] {
			continue
		}
		seen[key] = true

		cand, ok := score(sentence, threshold)
		if !ok {
			continue
		}
		cand.ChunkStartSec = opts.ChunkStartSec
		out = append(out, cand)
	}
	return out
}

// score computes the heuristic score and classification for one sentence.
func score(sentence string, threshold float64) (Candidate, bool) {
	tokens := tokenize(sentence)

	var (
		s       float64
		reasons []string
	)

	hasDigit := digitRe.MatchString(sentence)
	if hasDigit {
		s += 0.45
		reasons = append(reasons, ReasonContainsNumber)
	}

	hasComparative := false
	for _, tok := range tokens {
		if comparativeLexicon[tok] {
			hasComparative = true
			break
		}
	}
	if hasComparative {
		s += 0.20
		reasons = append(reasons, ReasonContainsComparative)
	}

	econHit := countHits(tokens, economicKeywords)
	polHit := countHits(tokens, politicalKeywords)
	keywordHits := econHit + polHit +
		countHits(tokens, superlativeKeywords) +
		countHits(tokens, quantitativeKeywords)
	if keywordHits > 0 {
		s += min(0.35, 0.10*float64(keywordHits))
		reasons = append(reasons, ReasonContainsKeyword)
	}

	if len(tokens) >= 8 {
		s += 0.10
		reasons = append(reasons, ReasonSufficientLength)
	}

	if s > 1 {
		s = 1
	}
	if s < threshold {
		return Candidate{}, false
	}

	category := claims.CategoryGeneral
	switch {
	case econHit > 0:
		category = claims.CategoryEconomic
	case polHit > 0:
		category = claims.CategoryPolitical
	}

	verifiablePolitical := false
	if category == claims.CategoryPolitical {
		for _, tok := range tokens {
			if verifiablePoliticalKeywords[tok] {
				verifiablePolitical = true
				break
			}
		}
	}

	tag := claims.TagOther
	confidence := 0.4
	switch {
	case hasDigit || verifiablePolitical:
		tag = claims.TagNumericFactual
		confidence = 0.7
		if hasDigit {
			confidence = 0.9
		}
	case hasComparative:
		tag = claims.TagSimplePolicy
		confidence = 0.6
	}

	return Candidate{
		Text:           sentence,
		Score:          s,
		Reasons:        reasons,
		Category:       category,
		TypeTag:        tag,
		TypeConfidence: confidence,
	}, true
}

// tokenize lowercases and splits on whitespace, trimming surrounding
// punctuation from each token.
func tokenize(sentence string) []string {
	fields := strings.Fields(strings.ToLower(sentence))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `.,;:!?"'()[]`)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func countHits(tokens []string, keywords []string) int {
	kw := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		kw[k] = true
	}
	hits := 0
	for _, tok := range tokens {
		if kw[tok] {
			hits++
		}
	}
	return hits
}
