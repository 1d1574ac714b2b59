// Package claims defines the claim snapshot model and the lifecycle store
// that owns every claim mutation during a run.
//
// A claim is created when the detector promotes a sentence to a research
// work item and is mutated by the research scheduler and by operator
// actions. Each mutation increments the optimistic-concurrency version by
// exactly 1 and recomputes the derived policy fields through an injected
// evaluator, so downstream consumers always observe a complete, coherent
// snapshot.
package claims

import "time"

// Category classifies what domain a claim belongs to.
type Category string

const (
	CategoryEconomic  Category = "economic"
	CategoryPolitical Category = "political"
	CategoryGeneral   Category = "general"
)

// TypeTag classifies how a claim can be checked.
type TypeTag string

const (
	TagNumericFactual TypeTag = "numeric_factual"
	TagSimplePolicy   TypeTag = "simple_policy"
	TagOther          TypeTag = "other"
)

// Valid reports whether t is one of the known type tags.
func (t TypeTag) Valid() bool {
	switch t {
	case TagNumericFactual, TagSimplePolicy, TagOther:
		return true
	}
	return false
}

// Status is the research lifecycle state of a claim.
type Status string

const (
	StatusPendingResearch Status = "pending_research"
	StatusResearching     Status = "researching"
	StatusResearched      Status = "researched"
	StatusNeedsManual     Status = "needs_manual_research"
	StatusNoMatch         Status = "no_match"
)

// Verdict is the normalized outcome assigned to a claim.
type Verdict string

const (
	VerdictTrue       Verdict = "true"
	VerdictFalse      Verdict = "false"
	VerdictMisleading Verdict = "misleading"
	VerdictUnverified Verdict = "unverified"
)

// ApprovalState gates a verdict behind explicit human sign-off.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalRejected ApprovalState = "rejected"
)

// EvidenceState describes what an evidence provider produced for a claim.
type EvidenceState string

const (
	EvidenceNone          EvidenceState = "none"
	EvidenceMatched       EvidenceState = "matched"
	EvidenceError         EvidenceState = "error"
	EvidenceNotApplicable EvidenceState = "not_applicable"
	EvidenceAmbiguous     EvidenceState = "ambiguous"
)

// Source is a single reference backing a verdict or a provider finding.
type Source struct {
	Publisher     string `json:"publisher,omitempty"`
	Title         string `json:"title,omitempty"`
	URL           string `json:"url,omitempty"`
	TextualRating string `json:"textualRating,omitempty"`
	ReviewDate    string `json:"reviewDate,omitempty"`
}

// Finding is the shape every evidence provider returns: a state, a short
// human-readable summary, and the source references behind it.
type Finding struct {
	State   EvidenceState `json:"state"`
	Summary string        `json:"summary,omitempty"`
	Sources []Source      `json:"sources,omitempty"`
}

// EvidenceStatus is the derived overall evidence assessment of a claim.
type EvidenceStatus string

const (
	EvidenceStatusResearching      EvidenceStatus = "researching"
	EvidenceStatusProviderDegraded EvidenceStatus = "provider_degraded"
	EvidenceStatusInsufficient     EvidenceStatus = "insufficient"
	EvidenceStatusConflicted       EvidenceStatus = "conflicted"
	EvidenceStatusSufficient       EvidenceStatus = "sufficient"
)

// BlockReason explains why approval or export is currently denied.
type BlockReason string

const (
	BlockRejectedLocked    BlockReason = "rejected_locked"
	BlockStillResearching  BlockReason = "still_researching"
	BlockNotResearched     BlockReason = "not_researched"
	BlockProviderDegraded  BlockReason = "provider_degraded"
	BlockInsufficient      BlockReason = "insufficient_sources"
	BlockConflicted        BlockReason = "conflicted_sources"
	BlockBelowThreshold    BlockReason = "below_threshold"
	BlockNotApproved       BlockReason = "not_approved"
)

// Evaluation holds the derived policy fields recomputed on every mutation.
// They are a pure function of the rest of the snapshot and are never
// persisted independently.
type Evaluation struct {
	ClaimTypeTag           TypeTag        `json:"claimTypeTag"`
	ClaimTypeConfidence    float64        `json:"claimTypeConfidence"`
	PolicyThreshold        float64        `json:"policyThreshold"`
	IndependentSourceCount int            `json:"independentSourceCount"`
	EvidenceConflict       bool           `json:"evidenceConflict"`
	EvidenceStatus         EvidenceStatus `json:"evidenceStatus"`
	ApprovalEligibility    bool           `json:"approvalEligibility"`
	ApprovalBlockReason    BlockReason    `json:"approvalBlockReason,omitempty"`
	ExportEligibility      bool           `json:"exportEligibility"`
	ExportBlockReason      BlockReason    `json:"exportBlockReason,omitempty"`
}

// Snapshot is the full state of one claim at a given version.
type Snapshot struct {
	ID      string `json:"id"`
	RunID   string `json:"runId"`
	Version int    `json:"version"`

	Text             string   `json:"text"`
	DetectionReasons []string `json:"detectionReasons,omitempty"`
	ChunkStartSec    float64  `json:"chunkStartSec"`
	ChunkClock       string   `json:"chunkClock,omitempty"`

	Category       Category `json:"claimCategory"`
	TypeTag        TypeTag  `json:"claimTypeTag"`
	TypeConfidence float64  `json:"claimTypeConfidence"`

	Status Status `json:"status"`

	GoogleEvidence   Finding `json:"googleEvidence"`
	FredEvidence     Finding `json:"fredEvidence"`
	CongressEvidence Finding `json:"congressEvidence"`

	Verdict    Verdict  `json:"verdict"`
	Confidence float64  `json:"confidence"`
	Summary    string   `json:"summary,omitempty"`
	Sources    []Source `json:"sources,omitempty"`

	OutputApprovalState ApprovalState `json:"outputApprovalState"`
	ApprovedVersion     *int          `json:"approvedVersion"`
	ApprovedAt          *time.Time    `json:"approvedAt,omitempty"`
	RejectedAt          *time.Time    `json:"rejectedAt,omitempty"`

	OutputPackageStatus string `json:"outputPackageStatus"`
	OutputPackageID     string `json:"outputPackageId,omitempty"`
	OutputPackageError  string `json:"outputPackageError,omitempty"`
	RenderStatus        string `json:"renderStatus"`
	RenderJobID         string `json:"renderJobId,omitempty"`
	RenderError         string `json:"renderError,omitempty"`
	ArtifactURL         string `json:"artifactUrl,omitempty"`

	TagOverrideReason string `json:"tagOverrideReason,omitempty"`

	Policy Evaluation `json:"policy"`
}

// Clone returns a deep copy of the snapshot so callers can hold it without
// racing against store mutation.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.DetectionReasons = append([]string(nil), s.DetectionReasons...)
	c.GoogleEvidence.Sources = append([]Source(nil), s.GoogleEvidence.Sources...)
	c.FredEvidence.Sources = append([]Source(nil), s.FredEvidence.Sources...)
	c.CongressEvidence.Sources = append([]Source(nil), s.CongressEvidence.Sources...)
	c.Sources = append([]Source(nil), s.Sources...)
	if s.ApprovedVersion != nil {
		v := *s.ApprovedVersion
		c.ApprovedVersion = &v
	}
	if s.ApprovedAt != nil {
		at := *s.ApprovedAt
		c.ApprovedAt = &at
	}
	if s.RejectedAt != nil {
		at := *s.RejectedAt
		c.RejectedAt = &at
	}
	return &c
}
