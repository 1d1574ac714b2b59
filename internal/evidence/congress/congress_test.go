package congress

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/claimcast/internal/claims"
)

func TestHasLegislativeKeyword(t *testing.T) {
	t.Parallel()

	if !HasLegislativeKeyword("The senate passed the bill last week") {
		t.Error("want true for bill/senate/passed text")
	}
	if HasLegislativeKeyword("Inflation fell to 3 percent") {
		t.Error("want false for purely economic text")
	}
}

func TestMatchBills(t *testing.T) {
	t.Parallel()

	got := MatchBills("Congress passed the border security bill")
	if len(got) == 0 {
		t.Fatal("border claim should match at least one catalogue bill")
	}
	for _, b := range got {
		found := false
		for _, kw := range b.Keywords {
			if strings.Contains("congress passed the border security bill", kw) {
				found = true
			}
		}
		if !found {
			t.Errorf("bill %s matched without any keyword", b.Title)
		}
	}

	if got := MatchBills("They voted on something unspecified"); len(got) != 0 {
		t.Errorf("no catalogue keyword present, want no bills, got %v", got)
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New("test-key", WithBaseURL(server.URL), WithHTTPClient(server.Client()))
}

func TestLookup_Matched(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bill":{"title":"Secure the Border Act","latestAction":{"actionDate":"2026-03-14","text":"Passed House"}}}`))
	})

	finding, err := c.Lookup(context.Background(), "The house passed the border bill")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if finding.State != claims.EvidenceMatched {
		t.Fatalf("state: want matched, got %s", finding.State)
	}
	if !strings.Contains(finding.Summary, "Passed House (2026-03-14)") {
		t.Errorf("summary missing latest action: %q", finding.Summary)
	}
	if len(finding.Sources) == 0 || finding.Sources[0].Publisher != "Congress.gov" {
		t.Errorf("sources: want Congress.gov entries, got %+v", finding.Sources)
	}
}

func TestLookup_NotApplicable(t *testing.T) {
	t.Parallel()

	c := New("test-key")
	finding, err := c.Lookup(context.Background(), "GDP grew three percent")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if finding.State != claims.EvidenceNotApplicable {
		t.Errorf("state: want not_applicable, got %s", finding.State)
	}
}

func TestLookup_AmbiguousNoBillMatch(t *testing.T) {
	t.Parallel()

	c := New("test-key")
	finding, err := c.Lookup(context.Background(), "The senate voted on a measure nobody remembers")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if finding.State != claims.EvidenceAmbiguous {
		t.Errorf("state: want ambiguous for legislative text with no tracked bill, got %s", finding.State)
	}
}

func TestLookup_MissingKey(t *testing.T) {
	t.Parallel()

	c := New("")
	finding, err := c.Lookup(context.Background(), "The house passed the border bill")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if finding.State != claims.EvidenceError {
		t.Errorf("state: want error, got %s", finding.State)
	}

	// The degraded state wins even when no tracked bill matches: without a
	// key there is no way to tell whether the data would have resolved it.
	finding, err = c.Lookup(context.Background(), "The senate voted on a measure nobody remembers")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if finding.State != claims.EvidenceError {
		t.Errorf("state: want error for keyless lookup with no bill match, got %s", finding.State)
	}
}

func TestLookup_AllFetchesFail(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	finding, err := c.Lookup(context.Background(), "The house passed the border bill")
	if err != nil {
		t.Fatalf("Lookup must localize fetch failures, got %v", err)
	}
	if finding.State != claims.EvidenceAmbiguous {
		t.Errorf("state: want ambiguous when every fetch fails, got %s", finding.State)
	}
}
