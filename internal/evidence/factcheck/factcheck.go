// Package factcheck queries the Google Fact Check Tools claim search API
// and distills its reviews into a ranked, deduplicated verdict.
//
// The client tries up to three query variants (full text, a leading-token
// prefix, and a digit/long-token focus) across the language codes en-US,
// en, and unset, then scores every returned review by textual-rating
// classification, token overlap with the claim, and review recency.
package factcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/MrWong99/claimcast/internal/claims"
)

// defaultBaseURL is the Google Fact Check Tools API endpoint.
const defaultBaseURL = "https://factchecktools.googleapis.com/v1alpha1/claims:search"

const (
	// maxReviewAgeYears discards stale reviews outright.
	maxReviewAgeYears = 4

	// prefixTokens is the length of the leading-token query variant.
	prefixTokens = 18

	// maxSources caps the ranked source list in a result.
	maxSources = 3

	// maxErrorBody truncates upstream error bodies in summaries.
	maxErrorBody = 160

	// maxConfidence caps the computed confidence of any single review.
	maxConfidence = 0.98
)

// Status is the research outcome of a fact-check lookup.
type Status string

const (
	StatusResearched  Status = "researched"
	StatusNoMatch     Status = "no_match"
	StatusNeedsManual Status = "needs_manual_research"
	StatusError       Status = "error"
)

// Result is the distilled outcome of a claim search.
type Result struct {
	Status     Status
	State      claims.EvidenceState // googleEvidenceState: none | matched | error
	Verdict    claims.Verdict
	Confidence float64
	Summary    string
	Sources    []claims.Source
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// Client queries the fact-check search service. Safe for concurrent use.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// New creates a Client. An empty apiKey is allowed; Check then reports an
// error state instead of calling out.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// apiResponse mirrors the subset of the claim search payload we consume.
type apiResponse struct {
	Claims []struct {
		Text        string `json:"text"`
		ClaimReview []struct {
			Publisher struct {
				Name string `json:"name"`
				Site string `json:"site"`
			} `json:"publisher"`
			URL           string `json:"url"`
			Title         string `json:"title"`
			ReviewDate    string `json:"reviewDate"`
			TextualRating string `json:"textualRating"`
		} `json:"claimReview"`
	} `json:"claims"`
}

// candidate is one scored review before ranking.
type candidate struct {
	source     claims.Source
	claimText  string
	verdict    claims.Verdict
	confidence float64
}

// Check searches for reviews of claimText and returns the ranked result.
// Cancellation errors propagate; all other failures are localized into an
// error-state result.
func (c *Client) Check(ctx context.Context, claimText string) (Result, error) {
	if c.apiKey == "" {
		return Result{
			Status:  StatusNeedsManual,
			State:   claims.EvidenceError,
			Verdict: claims.VerdictUnverified,
			Summary: "fact-check API key not configured",
		}, nil
	}

	byKey := make(map[string]candidate)

	for _, variant := range queryVariants(claimText) {
		for _, lang := range []string{"en-US", "en", ""} {
			resp, err := c.search(ctx, variant, lang)
			if err != nil {
				if ctx.Err() != nil {
					return Result{}, ctx.Err()
				}
				return Result{
					Status:  StatusError,
					State:   claims.EvidenceError,
					Verdict: claims.VerdictUnverified,
					Summary: err.Error(),
				}, nil
			}
			c.collect(claimText, resp, byKey)
		}
	}

	ranked := rank(byKey)
	if len(ranked) == 0 {
		return Result{
			Status:  StatusNoMatch,
			State:   claims.EvidenceNone,
			Verdict: claims.VerdictUnverified,
			Summary: "no matching fact-check reviews found",
		}, nil
	}

	top := ranked[0]
	sources := make([]claims.Source, 0, maxSources)
	for i, cand := range ranked {
		if i == maxSources {
			break
		}
		sources = append(sources, cand.source)
	}

	return Result{
		Status:     StatusResearched,
		State:      claims.EvidenceMatched,
		Verdict:    top.verdict,
		Confidence: math.Round(top.confidence*100) / 100,
		Summary: fmt.Sprintf("%s rated a matching claim %q",
			top.source.Publisher, top.source.TextualRating),
		Sources: sources,
	}, nil
}

// search runs one claims:search page and decodes it. Non-2xx responses are
// returned as an error carrying the truncated body.
func (c *Client) search(ctx context.Context, query, language string) (*apiResponse, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("key", c.apiKey)
	if language != "" {
		q.Set("languageCode", language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("factcheck: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("factcheck: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("factcheck: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("factcheck: HTTP %d: %s", resp.StatusCode, truncate(string(body), maxErrorBody))
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("factcheck: parse response: %w", err)
	}
	return &parsed, nil
}

// collect scores every review in resp and merges it into byKey, keeping the
// highest-confidence candidate per dedupe key.
func (c *Client) collect(claimText string, resp *apiResponse, byKey map[string]candidate) {
	now := c.now()
	claimTokens := tokenSet(claimText)

	for _, reviewed := range resp.Claims {
		for _, review := range reviewed.ClaimReview {
			recency, ok := recencyMultiplier(review.ReviewDate, now)
			if !ok {
				continue // older than the hard cutoff
			}

			verdict := NormalizeRating(review.TextualRating)

			reviewTokens := tokenSet(reviewed.Text + " " + review.Title + " " + review.TextualRating)
			match := jaccard(claimTokens, reviewTokens)

			weight := 0.35
			if verdict != claims.VerdictUnverified {
				weight = 0.80
			}
			confidence := (0.25 + 0.45*match + 0.30*weight) * recency
			if confidence > maxConfidence {
				confidence = maxConfidence
			}

			cand := candidate{
				source: claims.Source{
					Publisher:     review.Publisher.Name,
					Title:         review.Title,
					URL:           review.URL,
					TextualRating: review.TextualRating,
					ReviewDate:    review.ReviewDate,
				},
				claimText:  reviewed.Text,
				verdict:    verdict,
				confidence: confidence,
			}

			key := strings.Join([]string{review.URL, review.Publisher.Name, reviewed.Text, review.TextualRating}, "\x1f")
			if prev, exists := byKey[key]; !exists || cand.confidence > prev.confidence {
				byKey[key] = cand
			}
		}
	}
}

// rank orders candidates by confidence, preferring classified verdicts over
// unverified ones whenever any classified candidate exists.
func rank(byKey map[string]candidate) []candidate {
	out := make([]candidate, 0, len(byKey))
	anyClassified := false
	for _, cand := range byKey {
		if cand.verdict != claims.VerdictUnverified {
			anyClassified = true
		}
		out = append(out, cand)
	}

	less := func(a, b candidate) bool {
		if anyClassified {
			ac := a.verdict != claims.VerdictUnverified
			bc := b.verdict != claims.VerdictUnverified
			if ac != bc {
				return ac
			}
		}
		return a.confidence > b.confidence
	}
	// Insertion sort keeps this dependency-free; candidate sets are tiny.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && less(out[j], out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// ---- rating vocabulary -------------------------------------------------------

// ratingBuckets maps case-insensitive substrings of textual ratings to
// normalized verdicts. Order matters: more specific phrases first.
var ratingBuckets = []struct {
	needle  string
	verdict claims.Verdict
}{
	{"pants-on-fire", claims.VerdictFalse},
	{"pants on fire", claims.VerdictFalse},
	{"debunked", claims.VerdictFalse},
	{"no evidence", claims.VerdictFalse},
	{"fake", claims.VerdictFalse},
	{"hoax", claims.VerdictFalse},
	{"fabricated", claims.VerdictFalse},

	{"misleading", claims.VerdictMisleading},
	{"mostly false", claims.VerdictMisleading},
	{"partly false", claims.VerdictMisleading},
	{"partly true", claims.VerdictMisleading},
	{"half true", claims.VerdictMisleading},
	{"mixed", claims.VerdictMisleading},
	{"missing context", claims.VerdictMisleading},
	{"out of context", claims.VerdictMisleading},

	{"mostly true", claims.VerdictTrue},
	{"true", claims.VerdictTrue},
	{"correct", claims.VerdictTrue},
	{"accurate", claims.VerdictTrue},
	{"authentic", claims.VerdictTrue},

	// Bare "false" last among the false markers so "mostly false" and
	// "partly false" hit the misleading bucket first.
	{"false", claims.VerdictFalse},
}

// NormalizeRating maps a publisher's free-form textual rating onto the
// four-valued verdict vocabulary by case-insensitive substring match.
func NormalizeRating(rating string) claims.Verdict {
	r := strings.ToLower(rating)
	for _, bucket := range ratingBuckets {
		if strings.Contains(r, bucket.needle) {
			return bucket.verdict
		}
	}
	return claims.VerdictUnverified
}

// ---- scoring helpers ---------------------------------------------------------

// recencyMultiplier returns the age-based confidence multiplier for a
// review date, and false when the review is past the hard cutoff. Reviews
// with unparseable dates score with a neutral multiplier.
func recencyMultiplier(reviewDate string, now time.Time) (float64, bool) {
	t, err := parseReviewDate(reviewDate)
	if err != nil {
		return 1.0, true
	}
	ageYears := now.Sub(t).Hours() / (24 * 365.25)
	if ageYears > maxReviewAgeYears {
		return 0, false
	}
	if ageYears <= 2 {
		return 1.0, true
	}
	return math.Max(0.5, 1.0-(ageYears-2)*0.15), true
}

func parseReviewDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("factcheck: unparseable review date %q", s)
}

var tokenSplitRe = regexp.MustCompile(`[^a-z0-9]+`)

// tokenSet lowercases, collapses non-alphanumerics to spaces, and keeps
// tokens longer than two characters.
func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(tokenSplitRe.ReplaceAllString(strings.ToLower(text), " ")) {
		if len(tok) > 2 {
			set[tok] = true
		}
	}
	return set
}

// jaccard is the intersection-over-union similarity of two token sets.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// queryVariants derives up to three distinct query strings from claimText.
func queryVariants(claimText string) []string {
	full := strings.TrimSpace(claimText)
	variants := []string{full}

	tokens := strings.Fields(full)
	if len(tokens) > prefixTokens {
		variants = append(variants, strings.Join(tokens[:prefixTokens], " "))
	}

	var focus []string
	for _, tok := range tokens {
		if strings.ContainsAny(tok, "0123456789") || len(tok) > 6 {
			focus = append(focus, tok)
		}
	}
	if joined := strings.Join(focus, " "); joined != "" && joined != full {
		variants = append(variants, joined)
	}

	seen := make(map[string]bool, len(variants))
	out := variants[:0]
	for _, v := range variants {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
