// Package fred resolves economic claims against the Federal Reserve Bank
// of St. Louis FRED series observation API.
package fred

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/claimcast/internal/claims"
)

const defaultBaseURL = "https://api.stlouisfed.org/fred/series/observations"

// maxSeries bounds how many catalogue series one claim can resolve to.
const maxSeries = 3

// observationLimit is how many recent observations we fetch per series.
// Several are requested because the newest rows can carry the "." sentinel
// for not-yet-published values.
const observationLimit = 5

// series is one catalogue entry mapping claim keywords to a FRED series.
type series struct {
	ID       string
	Title    string
	Keywords []string
}

// catalogue is checked in order; matches are deduplicated by series id.
var catalogue = []series{
	{ID: "UNRATE", Title: "Unemployment Rate", Keywords: []string{"unemployment", "jobless", "jobs report"}},
	{ID: "CPIAUCSL", Title: "Consumer Price Index", Keywords: []string{"inflation", "cpi", "consumer price", "cost of living", "prices"}},
	{ID: "GDP", Title: "Gross Domestic Product", Keywords: []string{"gdp", "gross domestic product", "economic growth", "economy grew", "economy shrank"}},
	{ID: "CES0500000003", Title: "Average Hourly Earnings", Keywords: []string{"wages", "hourly earnings", "paycheck", "pay raise"}},
	{ID: "GFDEBTN", Title: "Federal Debt: Total Public Debt", Keywords: []string{"national debt", "federal debt", "debt ceiling"}},
	{ID: "FYFSD", Title: "Federal Surplus or Deficit", Keywords: []string{"deficit", "budget shortfall", "surplus"}},
	{ID: "FEDFUNDS", Title: "Federal Funds Effective Rate", Keywords: []string{"interest rate", "fed funds", "federal reserve rate", "rate hike", "rate cut"}},
}

// MatchSeries returns up to maxSeries catalogue entries whose keywords
// appear in claimText, in catalogue order, deduplicated by id.
func MatchSeries(claimText string) []series {
	text := strings.ToLower(claimText)
	seen := make(map[string]bool)
	var out []series
	for _, s := range catalogue {
		if seen[s.ID] {
			continue
		}
		for _, kw := range s.Keywords {
			if strings.Contains(text, kw) {
				seen[s.ID] = true
				out = append(out, s)
				break
			}
		}
		if len(out) == maxSeries {
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

// Client fetches economic series observations. Safe for concurrent use.
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

// observation is one data point as returned by FRED.
type observation struct {
	Date  string `json:"date"`
	Value string `json:"value"`
}

// seriesReading is the latest usable observation of one series.
type seriesReading struct {
	series series
	obs    observation
}

// Lookup resolves claimText to catalogue series and fetches their latest
// observations in parallel. Cancellation errors propagate; everything else
// is localized into the finding's state.
func (c *Client) Lookup(ctx context.Context, claimText string) (claims.Finding, error) {
	matched := MatchSeries(claimText)
	if len(matched) == 0 {
		return claims.Finding{
			State:   claims.EvidenceNotApplicable,
			Summary: "no economic indicator matches this claim",
		}, nil
	}
	if c.apiKey == "" {
		return claims.Finding{
			State:   claims.EvidenceError,
			Summary: "economic data API key not configured",
		}, nil
	}

	readings := make([]*seriesReading, len(matched))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range matched {
		g.Go(func() error {
			obs, err := c.latestObservation(gctx, s.ID)
			if err != nil {
				return err
			}
			if obs != nil {
				readings[i] = &seriesReading{series: s, obs: *obs}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return claims.Finding{}, ctx.Err()
		}
		return claims.Finding{
			State:   claims.EvidenceError,
			Summary: err.Error(),
		}, nil
	}

	var parts []string
	var sources []claims.Source
	for _, r := range readings {
		if r == nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s (%s)", r.series.Title, r.obs.Value, r.obs.Date))
		sources = append(sources, claims.Source{
			Publisher:     "FRED",
			Title:         r.series.Title,
			URL:           "https://fred.stlouisfed.org/series/" + r.series.ID,
			TextualRating: r.obs.Value,
			ReviewDate:    r.obs.Date,
		})
	}
	if len(parts) == 0 {
		return claims.Finding{
			State:   claims.EvidenceAmbiguous,
			Summary: "matched economic series have no published observations",
		}, nil
	}
	return claims.Finding{
		State:   claims.EvidenceMatched,
		Summary: strings.Join(parts, " | "),
		Sources: sources,
	}, nil
}

// latestObservation returns the newest observation of a series that is not
// the "." not-published sentinel, or nil when the series has none.
func (c *Client) latestObservation(ctx context.Context, seriesID string) (*observation, error) {
	q := url.Values{}
	q.Set("series_id", seriesID)
	q.Set("api_key", c.apiKey)
	q.Set("file_type", "json")
	q.Set("sort_order", "desc")
	q.Set("limit", fmt.Sprint(observationLimit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("fred: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fred: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fred: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fred: series %s: HTTP %d", seriesID, resp.StatusCode)
	}

	var parsed struct {
		Observations []observation `json:"observations"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("fred: parse response: %w", err)
	}
	for _, obs := range parsed.Observations {
		if obs.Value != "." {
			return &obs, nil
		}
	}
	return nil, nil
}
