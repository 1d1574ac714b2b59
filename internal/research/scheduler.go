// Package research runs the evidence pipeline for detected claims under a
// bounded concurrency limit: fact-check lookup, category provider, model
// assessment, authoritative verdict, and the final claim update.
package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/claimcast/internal/claims"
	"github.com/MrWong99/claimcast/internal/evidence/factcheck"
	"github.com/MrWong99/claimcast/internal/observe"
	"github.com/MrWong99/claimcast/internal/verify"
)

const (
	minConcurrency     = 1
	maxConcurrency     = 10
	defaultConcurrency = 3
)

// ClampConcurrency normalizes the configured research concurrency.
func ClampConcurrency(n int) int {
	switch {
	case n == 0:
		return defaultConcurrency
	case n < minConcurrency:
		return minConcurrency
	case n > maxConcurrency:
		return maxConcurrency
	}
	return n
}

// FactChecker is the fact-check provider dependency.
type FactChecker interface {
	Check(ctx context.Context, claimText string) (factcheck.Result, error)
}

// EvidenceLookup is the shape shared by the economic and legislative
// providers.
type EvidenceLookup interface {
	Lookup(ctx context.Context, claimText string) (claims.Finding, error)
}

// Assessor is the model-verifier dependency.
type Assessor interface {
	Assess(ctx context.Context, claimText string, ev verify.Evidence) (verify.Assessment, error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithMetrics enables research-duration and provider telemetry.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler owns the bounded research work pool for one run.
type Scheduler struct {
	store    *claims.Store
	fact     FactChecker
	economic EvidenceLookup
	legis    EvidenceLookup
	assessor Assessor

	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	log     *slog.Logger
	metrics *observe.Metrics
}

// New creates a scheduler with the clamped concurrency limit.
func New(store *claims.Store, fact FactChecker, economic, legis EvidenceLookup, assessor Assessor, concurrency int, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		fact:     fact,
		economic: economic,
		legis:    legis,
		assessor: assessor,
		sem:      semaphore.NewWeighted(int64(ClampConcurrency(concurrency))),
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue schedules research for a freshly detected claim. It returns
// immediately; the work runs once a concurrency slot frees up. Cancelled
// work exits silently.
func (s *Scheduler) Enqueue(ctx context.Context, runID string, c *claims.Snapshot) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer s.sem.Release(1)
		s.research(ctx, runID, c)
	}()
}

// Wait blocks until every enqueued claim has finished or been cancelled.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) research(ctx context.Context, runID string, c *claims.Snapshot) {
	if _, ok := s.store.MarkResearching(runID, c.ID); !ok {
		return
	}

	start := time.Now()
	update, err := s.gather(ctx, c)
	if s.metrics != nil {
		s.metrics.ResearchDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		s.log.Warn("claim research failed", "claim", c.ID, "error", err)
		update = failureUpdate(c, err)
	}
	s.store.ApplyResearch(runID, c.ID, update)
}

// recordProvider counts one provider call for the telemetry dashboards.
func (s *Scheduler) recordProvider(ctx context.Context, provider string, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		s.metrics.RecordProviderError(ctx, provider)
	}
	s.metrics.RecordProviderRequest(ctx, provider, status)
}

// gather runs the full provider sequence for one claim.
func (s *Scheduler) gather(ctx context.Context, c *claims.Snapshot) (claims.ResearchUpdate, error) {
	fc, err := s.fact.Check(ctx, c.Text)
	s.recordProvider(ctx, "factcheck", err)
	if err != nil {
		return claims.ResearchUpdate{}, fmt.Errorf("research: fact check: %w", err)
	}

	status := statusFor(fc.Status)
	google := &claims.Finding{State: fc.State, Summary: fc.Summary, Sources: fc.Sources}
	ev := verify.Evidence{
		FactCheckVerdict:    fc.Verdict,
		FactCheckConfidence: fc.Confidence,
		FactCheckSummary:    fc.Summary,
		FactCheckSources:    fc.Sources,
	}

	var fred, congress *claims.Finding
	if c.Category == claims.CategoryEconomic {
		finding, err := s.economic.Lookup(ctx, c.Text)
		s.recordProvider(ctx, "fred", err)
		if err != nil {
			return claims.ResearchUpdate{}, fmt.Errorf("research: economic lookup: %w", err)
		}
		fred = &finding
		ev.Fred = finding
		// Economic claims without a hard data match always get a human
		// second look.
		if finding.State != claims.EvidenceMatched {
			status = claims.StatusNeedsManual
		}
	}
	if c.Category == claims.CategoryPolitical {
		finding, err := s.legis.Lookup(ctx, c.Text)
		s.recordProvider(ctx, "congress", err)
		if err != nil {
			return claims.ResearchUpdate{}, fmt.Errorf("research: legislative lookup: %w", err)
		}
		congress = &finding
		ev.Congress = finding
	}

	assessment, err := s.assessor.Assess(ctx, c.Text, ev)
	s.recordProvider(ctx, "verifier", err)
	if err != nil {
		return claims.ResearchUpdate{}, fmt.Errorf("research: assessment: %w", err)
	}

	verdict, confidence, summary := selectVerdict(fc, ev, assessment)
	return claims.ResearchUpdate{
		Status:     status,
		Verdict:    verdict,
		Confidence: confidence,
		Summary:    summary,
		Sources:    fc.Sources,
		Google:     google,
		Fred:       fred,
		Congress:   congress,
	}, nil
}

// statusFor maps a fact-check result status onto the claim lifecycle.
func statusFor(s factcheck.Status) claims.Status {
	switch s {
	case factcheck.StatusResearched:
		return claims.StatusResearched
	case factcheck.StatusNoMatch:
		return claims.StatusNoMatch
	default:
		return claims.StatusNeedsManual
	}
}

// selectVerdict picks the authoritative verdict:
//  1. a classified fact-check verdict with confidence >= 0.5 wins outright;
//  2. a matched economic finding hands the call to the model;
//  3. a matched legislative finding does too, if the model is at least
//     moderately confident;
//  4. a model verdict grounded in anything but general knowledge counts
//     when confident;
//  5. otherwise the claim stays unverified.
func selectVerdict(fc factcheck.Result, ev verify.Evidence, a verify.Assessment) (claims.Verdict, float64, string) {
	aiSummary := ""
	if a.AISummary != nil {
		aiSummary = *a.AISummary
	}

	if fc.Verdict != claims.VerdictUnverified && fc.Confidence >= 0.5 {
		return fc.Verdict, fc.Confidence, fc.Summary
	}
	if ev.Fred.State == claims.EvidenceMatched {
		return a.AIVerdict, a.AIConfidence, aiSummary
	}
	if ev.Congress.State == claims.EvidenceMatched && a.AIConfidence >= 0.4 {
		return a.AIVerdict, a.AIConfidence, aiSummary
	}
	if a.EvidenceBasis != nil && *a.EvidenceBasis != verify.BasisGeneralKnowledge && a.AIConfidence >= 0.5 {
		return a.AIVerdict, a.AIConfidence, aiSummary
	}

	summary := aiSummary
	if summary == "" {
		summary = fc.Summary
	}
	return claims.VerdictUnverified, 0, summary
}

// failureUpdate is the claim state after an unexpected research error.
func failureUpdate(c *claims.Snapshot, err error) claims.ResearchUpdate {
	summary := fmt.Sprintf("research failed: %v", err)

	errorOrNA := func(applicable bool) *claims.Finding {
		if applicable {
			return &claims.Finding{State: claims.EvidenceError, Summary: summary}
		}
		return &claims.Finding{State: claims.EvidenceNotApplicable}
	}

	return claims.ResearchUpdate{
		Status:   claims.StatusNeedsManual,
		Verdict:  claims.VerdictUnverified,
		Summary:  summary,
		Google:   &claims.Finding{State: claims.EvidenceError, Summary: summary},
		Fred:     errorOrNA(c.Category == claims.CategoryEconomic),
		Congress: errorOrNA(c.Category == claims.CategoryPolitical),
	}
}
