// Package congress resolves legislative claims against the congress.gov
// bill API using a fixed bill catalogue.
package congress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/claimcast/internal/claims"
)

const defaultBaseURL = "https://api.congress.gov/v3"

// maxBills bounds how many catalogue bills one claim can resolve to.
const maxBills = 3

// legislativeKeywords gate the provider: without one of these the claim is
// not about legislation at all.
var legislativeKeywords = []string{
	"bill", "law", "legislation", "act", "voted", "vote",
	"passed", "signed", "vetoed", "congress", "senate", "house",
	"amendment", "resolution",
}

// bill is one catalogue entry mapping claim keywords to a congress.gov bill.
type bill struct {
	Congress int
	Type     string // hr, s, hjres, sjres
	Number   int
	Title    string
	Keywords []string
}

var catalogue = []bill{
	{Congress: 117, Type: "hr", Number: 3684, Title: "Infrastructure Investment and Jobs Act", Keywords: []string{"infrastructure", "roads and bridges", "broadband"}},
	{Congress: 117, Type: "hr", Number: 5376, Title: "Inflation Reduction Act", Keywords: []string{"inflation reduction", "climate bill", "drug prices", "prescription"}},
	{Congress: 118, Type: "hr", Number: 2, Title: "Secure the Border Act", Keywords: []string{"border", "immigration", "asylum"}},
	{Congress: 118, Type: "hr", Number: 3935, Title: "FAA Reauthorization Act", Keywords: []string{"faa", "aviation", "air travel"}},
	{Congress: 118, Type: "hr", Number: 8070, Title: "National Defense Authorization Act", Keywords: []string{"defense", "military", "ndaa", "pentagon"}},
	{Congress: 118, Type: "s", Number: 4361, Title: "Border Act", Keywords: []string{"border security", "border deal"}},
}

// HasLegislativeKeyword reports whether claimText mentions legislation.
func HasLegislativeKeyword(claimText string) bool {
	text := strings.ToLower(claimText)
	for _, kw := range legislativeKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// MatchBills returns up to maxBills catalogue bills whose keywords appear
// in claimText, in catalogue order.
func MatchBills(claimText string) []bill {
	text := strings.ToLower(claimText)
	var out []bill
	for _, b := range catalogue {
		for _, kw := range b.Keywords {
			if strings.Contains(text, kw) {
				out = append(out, b)
				break
			}
		}
		if len(out) == maxBills {
			break
		}
	}
	return out
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

// Client fetches bill details. Safe for concurrent use.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New creates a Client. An empty apiKey is allowed; Lookup then reports an
// error-state finding instead of calling out.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// billStatus is the distilled state of one fetched bill.
type billStatus struct {
	bill       bill
	latestText string
	latestDate string
	url        string
}

// Lookup resolves claimText to catalogue bills and fetches their latest
// actions in parallel. Individual fetch failures are dropped rather than
// failing the whole lookup; only cancellation propagates as an error.
func (c *Client) Lookup(ctx context.Context, claimText string) (claims.Finding, error) {
	if !HasLegislativeKeyword(claimText) {
		return claims.Finding{
			State:   claims.EvidenceNotApplicable,
			Summary: "claim does not reference legislation",
		}, nil
	}

	// A missing key degrades every relevant claim, tracked bill or not.
	if c.apiKey == "" {
		return claims.Finding{
			State:   claims.EvidenceError,
			Summary: "legislative data API key not configured",
		}, nil
	}

	matched := MatchBills(claimText)
	if len(matched) == 0 {
		return claims.Finding{
			State:   claims.EvidenceAmbiguous,
			Summary: "legislative claim matches no tracked bill",
		}, nil
	}

	statuses := make([]*billStatus, len(matched))
	var wg sync.WaitGroup
	for i, b := range matched {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if st, err := c.fetchBill(ctx, b); err == nil {
				statuses[i] = st
			}
		}()
	}
	wg.Wait()
	if ctx.Err() != nil {
		return claims.Finding{}, ctx.Err()
	}

	var parts []string
	var sources []claims.Source
	for _, st := range statuses {
		if st == nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s (%s)", st.bill.Title, st.latestText, st.latestDate))
		sources = append(sources, claims.Source{
			Publisher:     "Congress.gov",
			Title:         st.bill.Title,
			URL:           st.url,
			TextualRating: st.latestText,
			ReviewDate:    st.latestDate,
		})
	}
	if len(parts) == 0 {
		return claims.Finding{
			State:   claims.EvidenceAmbiguous,
			Summary: "tracked bills could not be fetched",
		}, nil
	}
	return claims.Finding{
		State:   claims.EvidenceMatched,
		Summary: strings.Join(parts, " | "),
		Sources: sources,
	}, nil
}

func (c *Client) fetchBill(ctx context.Context, b bill) (*billStatus, error) {
	endpoint := fmt.Sprintf("%s/bill/%d/%s/%d?format=json&api_key=%s",
		c.baseURL, b.Congress, b.Type, b.Number, c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("congress: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("congress: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("congress: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("congress: bill %s%d: HTTP %d", b.Type, b.Number, resp.StatusCode)
	}

	var parsed struct {
		Bill struct {
			Title        string `json:"title"`
			LatestAction struct {
				ActionDate string `json:"actionDate"`
				Text       string `json:"text"`
			} `json:"latestAction"`
		} `json:"bill"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("congress: parse response: %w", err)
	}

	return &billStatus{
		bill:       b,
		latestText: parsed.Bill.LatestAction.Text,
		latestDate: parsed.Bill.LatestAction.ActionDate,
		url: fmt.Sprintf("https://www.congress.gov/bill/%dth-congress/%s/%d",
			b.Congress, billTypeSlug(b.Type), b.Number),
	}, nil
}

func billTypeSlug(t string) string {
	switch t {
	case "hr":
		return "house-bill"
	case "s":
		return "senate-bill"
	case "hjres":
		return "house-joint-resolution"
	case "sjres":
		return "senate-joint-resolution"
	default:
		return t
	}
}
