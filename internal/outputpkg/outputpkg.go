// Package outputpkg assembles the on-air output package for an approved
// claim: the structured payload a graphics template consumes, pinned to the
// claim version the operator signed off on.
package outputpkg

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/claimcast/internal/claims"
	"github.com/MrWong99/claimcast/internal/events"
)

// TemplateVersion identifies the payload contract emitted by this build.
const TemplateVersion = "lower-third/v2"

// ErrNotExportable is returned when the claim fails the export gate.
var ErrNotExportable = errors.New("outputpkg: claim is not exportable")

// Package is the record handed to the graphics pipeline.
type Package struct {
	PackageID       string         `json:"packageId"`
	ClaimID         string         `json:"claimId"`
	RunID           string         `json:"runId"`
	ClaimVersion    int            `json:"claimVersion"`
	Status          string         `json:"status"`
	TemplateVersion string         `json:"templateVersion"`
	Payload         map[string]any `json:"payload,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// Assembler builds packages and records their lifecycle on the claim store.
// It remembers the latest package per claim so a later render request can
// reuse it. Safe for concurrent use.
type Assembler struct {
	store *claims.Store
	newID func() string

	mu     sync.Mutex
	latest map[string]*Package
}

// New creates an Assembler.
func New(store *claims.Store) *Assembler {
	return &Assembler{
		store:  store,
		newID:  func() string { return uuid.NewString() },
		latest: make(map[string]*Package),
	}
}

// Latest returns the most recent package generated for a claim, if it is
// still pinned to the claim's approved version.
func (a *Assembler) Latest(c *claims.Snapshot) (*Package, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pkg, ok := a.latest[c.ID]
	if !ok || c.ApprovedVersion == nil || pkg.ClaimVersion != *c.ApprovedVersion {
		return nil, false
	}
	return pkg, true
}

// Generate builds a package for an approved claim. The claim must be
// export-eligible with a pinned approved version; the package is bound to
// that version so later claim edits invalidate it.
func (a *Assembler) Generate(runID string, c *claims.Snapshot) (*Package, error) {
	if !c.Policy.ExportEligibility || c.ApprovedVersion == nil {
		reason := c.Policy.ExportBlockReason
		if reason == "" {
			reason = claims.BlockNotApproved
		}
		return nil, fmt.Errorf("%w: %s", ErrNotExportable, reason)
	}

	pkg := &Package{
		PackageID:       a.newID(),
		ClaimID:         c.ID,
		RunID:           runID,
		ClaimVersion:    *c.ApprovedVersion,
		Status:          claims.DownstreamQueued,
		TemplateVersion: TemplateVersion,
	}
	a.store.SetPackageState(events.TypeClaimPackageQueued, c.ID, &pkg.ClaimVersion, claims.DownstreamQueued, pkg.PackageID, "")

	pkg.Payload = buildPayload(c)
	pkg.Status = claims.DownstreamReady
	a.store.SetPackageState(events.TypeClaimPackageReady, c.ID, &pkg.ClaimVersion, claims.DownstreamReady, pkg.PackageID, "")

	a.mu.Lock()
	a.latest[c.ID] = pkg
	a.mu.Unlock()

	return pkg, nil
}

// buildPayload renders the template-facing view of the claim.
func buildPayload(c *claims.Snapshot) map[string]any {
	sources := make([]map[string]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		sources = append(sources, map[string]string{
			"publisher": s.Publisher,
			"title":     s.Title,
			"url":       s.URL,
			"rating":    s.TextualRating,
		})
	}

	return map[string]any{
		"claimText":  c.Text,
		"verdict":    string(c.Verdict),
		"confidence": c.Confidence,
		"summary":    c.Summary,
		"category":   string(c.Category),
		"sources":    sources,
		"timestamp":  c.ChunkClock,
	}
}
