package policy_test

import (
	"reflect"
	"testing"

	"github.com/MrWong99/claimcast/internal/claims"
	"github.com/MrWong99/claimcast/internal/policy"
)

// researched returns a minimal researched snapshot that passes every gate
// except approval itself.
func researched() *claims.Snapshot {
	return &claims.Snapshot{
		ID:       "run-1-0001",
		RunID:    "run-1",
		Version:  3,
		Category: claims.CategoryGeneral,
		TypeTag:  claims.TagNumericFactual,
		Status:   claims.StatusResearched,
		GoogleEvidence: claims.Finding{
			State: claims.EvidenceMatched,
		},
		FredEvidence:     claims.Finding{State: claims.EvidenceNotApplicable},
		CongressEvidence: claims.Finding{State: claims.EvidenceNotApplicable},
		Verdict:          claims.VerdictFalse,
		Confidence:       0.82,
		Sources: []claims.Source{
			{Publisher: "PolitiFact", URL: "https://politifact.example/1", TextualRating: "False"},
			{Publisher: "Snopes", URL: "https://snopes.example/2", TextualRating: "False"},
		},
		OutputApprovalState: claims.ApprovalPending,
	}
}

func TestEvaluate_Eligible(t *testing.T) {
	t.Parallel()

	ev := policy.Evaluate(researched())

	if !ev.ApprovalEligibility {
		t.Fatalf("approval eligibility: want true, got block %q", ev.ApprovalBlockReason)
	}
	if ev.EvidenceStatus != claims.EvidenceStatusSufficient {
		t.Errorf("evidence status: want sufficient, got %s", ev.EvidenceStatus)
	}
	if ev.IndependentSourceCount != 2 {
		t.Errorf("independent sources: want 2, got %d", ev.IndependentSourceCount)
	}
	// Not approved yet, so export stays blocked.
	if ev.ExportEligibility {
		t.Error("export eligibility: want false before approval")
	}
	if ev.ExportBlockReason != claims.BlockNotApproved {
		t.Errorf("export block: want not_approved, got %q", ev.ExportBlockReason)
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	t.Parallel()

	s := researched()
	a := policy.Evaluate(s)
	b := policy.Evaluate(s)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("evaluation not idempotent:\n a=%+v\n b=%+v", a, b)
	}
}

func TestEvaluate_BelowThreshold(t *testing.T) {
	t.Parallel()

	s := researched()
	s.Confidence = 0.55

	ev := policy.Evaluate(s)
	if ev.ApprovalBlockReason != claims.BlockBelowThreshold {
		t.Errorf("block reason: want below_threshold, got %q", ev.ApprovalBlockReason)
	}
	if ev.PolicyThreshold != policy.ThresholdNumericFactual {
		t.Errorf("threshold: want %.2f, got %.2f", policy.ThresholdNumericFactual, ev.PolicyThreshold)
	}
}

func TestEvaluate_Conflict(t *testing.T) {
	t.Parallel()

	s := researched()
	s.Sources = []claims.Source{
		{Publisher: "PolitiFact", TextualRating: "False"},
		{Publisher: "FactCheck.org", TextualRating: "Mostly true"},
	}

	ev := policy.Evaluate(s)
	if !ev.EvidenceConflict {
		t.Error("evidence conflict: want true")
	}
	if ev.EvidenceStatus != claims.EvidenceStatusConflicted {
		t.Errorf("evidence status: want conflicted, got %s", ev.EvidenceStatus)
	}
	if ev.ApprovalBlockReason != claims.BlockConflicted {
		t.Errorf("block reason: want conflicted_sources, got %q", ev.ApprovalBlockReason)
	}
}

func TestEvaluate_BlockReasons(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*claims.Snapshot)
		want   claims.BlockReason
	}{
		{
			"rejected is locked",
			func(s *claims.Snapshot) { s.OutputApprovalState = claims.ApprovalRejected },
			claims.BlockRejectedLocked,
		},
		{
			"still researching",
			func(s *claims.Snapshot) { s.Status = claims.StatusResearching },
			claims.BlockStillResearching,
		},
		{
			"pending research",
			func(s *claims.Snapshot) { s.Status = claims.StatusPendingResearch },
			claims.BlockStillResearching,
		},
		{
			"needs manual research",
			func(s *claims.Snapshot) { s.Status = claims.StatusNeedsManual },
			claims.BlockNotResearched,
		},
		{
			"provider degraded",
			func(s *claims.Snapshot) { s.GoogleEvidence.State = claims.EvidenceError },
			claims.BlockProviderDegraded,
		},
		{
			"insufficient sources",
			func(s *claims.Snapshot) { s.Sources = nil },
			claims.BlockInsufficient,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := researched()
			tt.mutate(s)
			ev := policy.Evaluate(s)
			if ev.ApprovalBlockReason != tt.want {
				t.Errorf("block reason: want %q, got %q", tt.want, ev.ApprovalBlockReason)
			}
			if ev.ApprovalEligibility {
				t.Error("approval eligibility: want false")
			}
		})
	}
}

func TestEvaluate_EconomicFredSuffices(t *testing.T) {
	t.Parallel()

	s := researched()
	s.Category = claims.CategoryEconomic
	s.Sources = nil // no fact-check sources at all
	s.FredEvidence = claims.Finding{State: claims.EvidenceMatched, Summary: "Unemployment Rate: 3.9 (2026-07-01)"}

	ev := policy.Evaluate(s)
	if ev.EvidenceStatus != claims.EvidenceStatusSufficient {
		t.Errorf("evidence status: want sufficient with matched FRED series, got %s", ev.EvidenceStatus)
	}

	// Without the matched series the same snapshot is insufficient.
	s.FredEvidence.State = claims.EvidenceAmbiguous
	ev = policy.Evaluate(s)
	if ev.EvidenceStatus != claims.EvidenceStatusInsufficient {
		t.Errorf("evidence status: want insufficient, got %s", ev.EvidenceStatus)
	}

	// A FRED provider error degrades rather than blocks on sources.
	s.FredEvidence.State = claims.EvidenceError
	ev = policy.Evaluate(s)
	if ev.EvidenceStatus != claims.EvidenceStatusProviderDegraded {
		t.Errorf("evidence status: want provider_degraded, got %s", ev.EvidenceStatus)
	}
}

func TestEvaluate_ExportEligibleWhenApproved(t *testing.T) {
	t.Parallel()

	s := researched()
	s.OutputApprovalState = claims.ApprovalApproved
	v := s.Version
	s.ApprovedVersion = &v

	ev := policy.Evaluate(s)
	if !ev.ExportEligibility {
		t.Errorf("export eligibility: want true, got block %q", ev.ExportBlockReason)
	}
}

func TestThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tag  claims.TypeTag
		want float64
	}{
		{claims.TagNumericFactual, 0.60},
		{claims.TagSimplePolicy, 0.75},
		{claims.TagOther, 0.80},
		{claims.TypeTag("bogus"), 0.80},
	}
	for _, tt := range tests {
		if got := policy.Threshold(tt.tag); got != tt.want {
			t.Errorf("Threshold(%s): want %.2f, got %.2f", tt.tag, tt.want, got)
		}
	}
}
