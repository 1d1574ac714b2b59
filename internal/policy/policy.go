// Package policy derives the approval and export eligibility of a claim
// snapshot.
//
// Evaluate is pure and synchronous: it never mutates its input and
// evaluating the same snapshot twice yields identical output. Both gates
// fail closed: a claim is ineligible until every check passes.
package policy

import (
	"strings"

	"github.com/MrWong99/claimcast/internal/claims"
)

// Approval thresholds by claim type tag.
const (
	ThresholdNumericFactual = 0.60
	ThresholdSimplePolicy   = 0.75
	ThresholdOther          = 0.80
)

// Threshold returns the confidence floor for a claim type tag.
func Threshold(tag claims.TypeTag) float64 {
	switch tag {
	case claims.TagNumericFactual:
		return ThresholdNumericFactual
	case claims.TagSimplePolicy:
		return ThresholdSimplePolicy
	default:
		return ThresholdOther
	}
}

// Evaluate computes the derived policy fields for a claim snapshot.
func Evaluate(s *claims.Snapshot) claims.Evaluation {
	ev := claims.Evaluation{
		ClaimTypeTag:        s.TypeTag,
		ClaimTypeConfidence: s.TypeConfidence,
		PolicyThreshold:     Threshold(s.TypeTag),
	}

	ev.IndependentSourceCount = independentSourceCount(s.Sources)
	ev.EvidenceConflict = evidenceConflict(s.Sources)
	ev.EvidenceStatus = evidenceStatus(s, ev.IndependentSourceCount, ev.EvidenceConflict)

	ev.ApprovalBlockReason = approvalBlockReason(s, ev)
	ev.ApprovalEligibility = ev.ApprovalBlockReason == ""

	ev.ExportBlockReason = ev.ApprovalBlockReason
	if ev.ExportBlockReason == "" && s.OutputApprovalState != claims.ApprovalApproved {
		ev.ExportBlockReason = claims.BlockNotApproved
	}
	ev.ExportEligibility = ev.ExportBlockReason == ""

	return ev
}

// independentSourceCount counts distinct non-empty publisher-or-URL keys.
func independentSourceCount(sources []claims.Source) int {
	keys := make(map[string]bool, len(sources))
	for _, src := range sources {
		key := src.Publisher
		if key == "" {
			key = src.URL
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key != "" {
			keys[key] = true
		}
	}
	return len(keys)
}

// normalizeRating buckets a source's textual rating for conflict detection.
func normalizeRating(rating string) string {
	r := strings.ToLower(strings.TrimSpace(rating))
	switch r {
	case "false", "incorrect", "pants on fire":
		return "false"
	case "misleading", "mixed", "partly false", "half true", "mostly false":
		return "misleading"
	case "true", "correct", "mostly true":
		return "supported"
	default:
		return "unverified"
	}
}

// evidenceConflict reports whether at least two distinct classified buckets
// appear across the sources' normalized ratings.
func evidenceConflict(sources []claims.Source) bool {
	buckets := make(map[string]bool, 3)
	for _, src := range sources {
		switch b := normalizeRating(src.TextualRating); b {
		case "false", "misleading", "supported":
			buckets[b] = true
		}
	}
	return len(buckets) >= 2
}

func evidenceStatus(s *claims.Snapshot, sourceCount int, conflict bool) claims.EvidenceStatus {
	if s.Status == claims.StatusPendingResearch || s.Status == claims.StatusResearching {
		return claims.EvidenceStatusResearching
	}
	if s.GoogleEvidence.State == claims.EvidenceError {
		return claims.EvidenceStatusProviderDegraded
	}
	if s.Category == claims.CategoryEconomic {
		if s.FredEvidence.State == claims.EvidenceError {
			return claims.EvidenceStatusProviderDegraded
		}
		// A matched indicator series alone suffices for economic claims.
		if s.FredEvidence.State != claims.EvidenceMatched && sourceCount < 1 {
			return claims.EvidenceStatusInsufficient
		}
	} else if sourceCount < 1 {
		return claims.EvidenceStatusInsufficient
	}
	if conflict {
		return claims.EvidenceStatusConflicted
	}
	return claims.EvidenceStatusSufficient
}

func approvalBlockReason(s *claims.Snapshot, ev claims.Evaluation) claims.BlockReason {
	if s.OutputApprovalState == claims.ApprovalRejected {
		return claims.BlockRejectedLocked
	}
	if s.Status != claims.StatusResearched {
		if s.Status == claims.StatusResearching || s.Status == claims.StatusPendingResearch {
			return claims.BlockStillResearching
		}
		return claims.BlockNotResearched
	}
	switch ev.EvidenceStatus {
	case claims.EvidenceStatusResearching:
		return claims.BlockStillResearching
	case claims.EvidenceStatusProviderDegraded:
		return claims.BlockProviderDegraded
	case claims.EvidenceStatusInsufficient:
		return claims.BlockInsufficient
	case claims.EvidenceStatusConflicted:
		return claims.BlockConflicted
	}
	if s.Confidence < ev.PolicyThreshold {
		return claims.BlockBelowThreshold
	}
	return ""
}
