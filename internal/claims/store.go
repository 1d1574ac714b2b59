package claims

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Package status values for the downstream collaborators.
const (
	DownstreamNone      = "none"
	DownstreamQueued    = "queued"
	DownstreamRendering = "rendering"
	DownstreamReady     = "ready"
	DownstreamFailed    = "failed"
)

// ErrNotFound is returned when a claim id is unknown to the store.
var ErrNotFound = errors.New("claims: claim not found")

// VersionConflictError is returned when a caller-supplied expectedVersion
// does not equal the current claim version. Current lets the caller refresh.
type VersionConflictError struct {
	Current int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("claims: version conflict (current %d)", e.Current)
}

// PolicyBlockedError is returned when the policy engine denies an action.
type PolicyBlockedError struct {
	Reason BlockReason
}

func (e *PolicyBlockedError) Error() string {
	return fmt.Sprintf("claims: blocked by policy: %s", e.Reason)
}

// EmitFunc receives every outgoing claim event with the snapshot at the
// moment of emission. The store calls it in mutation order.
type EmitFunc func(eventType string, claim *Snapshot)

// EvalFunc recomputes the derived policy fields of a snapshot.
type EvalFunc func(*Snapshot) Evaluation

// Detected is the payload inserting a new claim.
type Detected struct {
	Text             string
	DetectionReasons []string
	ChunkStartSec    float64
	ChunkClock       string
	Category         Category
	TypeTag          TypeTag
	TypeConfidence   float64
}

// ResearchUpdate merges research results over an existing claim.
type ResearchUpdate struct {
	Status     Status
	Verdict    Verdict
	Confidence float64
	Summary    string
	Sources    []Source

	Google   *Finding
	Fred     *Finding
	Congress *Finding
}

// Store is the in-memory map of claim snapshots for the current run. Every
// mutation increments the claim version by exactly 1, recomputes policy
// through the injected evaluator, and emits exactly one event.
//
// Safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	runID     string
	claims    map[string]*Snapshot
	order     []string
	nextIndex int

	evaluate EvalFunc
	emit     EmitFunc
	now      func() time.Time
}

// Event type names emitted by the store. Kept local so the store does not
// depend on the events package (the hub consumes store output, not the
// other way around).
const (
	evDetected       = "claim.detected"
	evResearching    = "claim.researching"
	evUpdated        = "claim.updated"
	evOutputApproved = "claim.output_approved"
	evOutputRejected = "claim.output_rejected"
)

// NewStore creates a store. evaluate must not be nil; emit may be nil for
// tests that only inspect snapshots.
func NewStore(evaluate EvalFunc, emit EmitFunc) *Store {
	if emit == nil {
		emit = func(string, *Snapshot) {}
	}
	return &Store{
		claims:   make(map[string]*Snapshot),
		evaluate: evaluate,
		emit:     emit,
		now:      time.Now,
	}
}

// Reset clears all claims and binds the store to a new run. Claims never
// survive across runs.
func (st *Store) Reset(runID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.runID = runID
	st.claims = make(map[string]*Snapshot)
	st.order = nil
	st.nextIndex = 0
}

// RunID returns the run the store is currently bound to.
func (st *Store) RunID() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.runID
}

// Get returns a copy of the claim with the given id.
func (st *Store) Get(id string) (*Snapshot, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.claims[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// List returns copies of all claims in detection order.
func (st *Store) List() []*Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*Snapshot, 0, len(st.order))
	for _, id := range st.order {
		out = append(out, st.claims[id].Clone())
	}
	return out
}

// Insert creates a new claim at version 1 from a detection payload. Events
// for a different run than the store is bound to are dropped (nil, false).
func (st *Store) Insert(runID string, d Detected) (*Snapshot, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if runID != st.runID || st.runID == "" {
		return nil, false
	}

	id := fmt.Sprintf("%s-%04d", st.runID, st.nextIndex)
	st.nextIndex++

	fredState := EvidenceNotApplicable
	if d.Category == CategoryEconomic {
		fredState = EvidenceNone
	}
	congressState := EvidenceNotApplicable
	if d.Category == CategoryPolitical {
		congressState = EvidenceNone
	}

	s := &Snapshot{
		ID:                  id,
		RunID:               st.runID,
		Version:             1,
		Text:                d.Text,
		DetectionReasons:    d.DetectionReasons,
		ChunkStartSec:       d.ChunkStartSec,
		ChunkClock:          d.ChunkClock,
		Category:            d.Category,
		TypeTag:             d.TypeTag,
		TypeConfidence:      d.TypeConfidence,
		Status:              StatusPendingResearch,
		GoogleEvidence:      Finding{State: EvidenceNone},
		FredEvidence:        Finding{State: fredState},
		CongressEvidence:    Finding{State: congressState},
		Verdict:             VerdictUnverified,
		OutputApprovalState: ApprovalPending,
		OutputPackageStatus: DownstreamNone,
		RenderStatus:        DownstreamNone,
	}
	s.Policy = st.evaluate(s)

	st.claims[id] = s
	st.order = append(st.order, id)
	st.emit(evDetected, s.Clone())
	return s.Clone(), true
}

// MarkResearching transitions an existing claim to the researching status.
func (st *Store) MarkResearching(runID, id string) (*Snapshot, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.claimForRun(runID, id)
	if !ok {
		return nil, false
	}
	s.Status = StatusResearching
	st.bumpLocked(s, evResearching)
	return s.Clone(), true
}

// ApplyResearch merges research results over an existing claim. If the
// claim was approved, approval is reset to pending and every downstream
// field is cleared: the operator signed off on different content.
func (st *Store) ApplyResearch(runID, id string, u ResearchUpdate) (*Snapshot, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.claimForRun(runID, id)
	if !ok {
		return nil, false
	}

	s.Status = u.Status
	s.Verdict = u.Verdict
	s.Confidence = u.Confidence
	s.Summary = u.Summary
	s.Sources = u.Sources
	if u.Google != nil {
		s.GoogleEvidence = *u.Google
	}
	if u.Fred != nil {
		s.FredEvidence = *u.Fred
	}
	if u.Congress != nil {
		s.CongressEvidence = *u.Congress
	}

	if s.OutputApprovalState == ApprovalApproved {
		st.revokeApprovalLocked(s)
	}
	// A content update also unlocks a previously rejected claim.
	if s.OutputApprovalState == ApprovalRejected {
		s.OutputApprovalState = ApprovalPending
		s.RejectedAt = nil
	}

	st.bumpLocked(s, evUpdated)
	return s.Clone(), true
}

// ApproveOutput approves a claim for on-air export. The caller-supplied
// expectedVersion must match, and the current policy evaluation must report
// approval eligibility.
func (st *Store) ApproveOutput(id string, expectedVersion int) (*Snapshot, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, err := st.guardLocked(id, expectedVersion)
	if err != nil {
		return nil, err
	}

	if ev := st.evaluate(s); !ev.ApprovalEligibility {
		return nil, &PolicyBlockedError{Reason: ev.ApprovalBlockReason}
	}

	now := st.now().UTC()
	next := s.Version + 1
	s.OutputApprovalState = ApprovalApproved
	s.ApprovedAt = &now
	s.ApprovedVersion = &next
	s.RejectedAt = nil

	st.bumpLocked(s, evOutputApproved)
	return s.Clone(), nil
}

// RejectOutput marks a claim as rejected for its current version.
func (st *Store) RejectOutput(id string, expectedVersion int) (*Snapshot, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, err := st.guardLocked(id, expectedVersion)
	if err != nil {
		return nil, err
	}

	now := st.now().UTC()
	s.OutputApprovalState = ApprovalRejected
	s.RejectedAt = &now
	s.ApprovedAt = nil
	s.ApprovedVersion = nil

	st.bumpLocked(s, evOutputRejected)
	return s.Clone(), nil
}

// OverrideTag applies a manual claim-type override. It requires a non-empty
// reason, a valid tag, and a claim that is not currently approved.
func (st *Store) OverrideTag(id string, expectedVersion int, tag TypeTag, reason string) (*Snapshot, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, err := st.guardLocked(id, expectedVersion)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, errors.New("claims: tag override requires a reason")
	}
	if !tag.Valid() {
		return nil, fmt.Errorf("claims: invalid tag %q", tag)
	}
	if s.OutputApprovalState == ApprovalApproved {
		return nil, errors.New("claims: cannot override tag of an approved claim")
	}

	s.TypeTag = tag
	s.TypeConfidence = 1 // operator said so
	s.TagOverrideReason = reason

	st.bumpLocked(s, evUpdated)
	return s.Clone(), nil
}

// SetPackageState applies a downstream package update. The update is
// dropped unless the claim is currently approved and claimVersion (when
// set) equals the approved version.
func (st *Store) SetPackageState(eventType, id string, claimVersion *int, status, packageID, errMsg string) (*Snapshot, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.claims[id]
	if !ok {
		return nil, false
	}
	if !st.downstreamAppliesLocked(s, claimVersion) {
		return nil, false
	}

	s.OutputPackageStatus = status
	if packageID != "" {
		s.OutputPackageID = packageID
	}
	s.OutputPackageError = errMsg

	st.bumpLocked(s, eventType)
	return s.Clone(), true
}

// SetRenderState applies a downstream render update under the same version
// guard as packages. A queued update starts a new job and adopts its id;
// any other update from a job id the claim is not tracking is dropped as
// stale.
func (st *Store) SetRenderState(eventType, id string, claimVersion *int, jobID, status, artifactURL, errMsg string) (*Snapshot, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.claims[id]
	if !ok {
		return nil, false
	}
	if !st.downstreamAppliesLocked(s, claimVersion) {
		return nil, false
	}
	if status != DownstreamQueued && s.RenderJobID != "" && jobID != "" && s.RenderJobID != jobID {
		return nil, false
	}

	s.RenderStatus = status
	if jobID != "" {
		s.RenderJobID = jobID
	}
	if artifactURL != "" {
		s.ArtifactURL = artifactURL
	}
	s.RenderError = errMsg

	st.bumpLocked(s, eventType)
	return s.Clone(), true
}

// ---- internal ---------------------------------------------------------------

// claimForRun fetches a claim, dropping lookups from a stale run.
func (st *Store) claimForRun(runID, id string) (*Snapshot, bool) {
	if runID != st.runID || st.runID == "" {
		return nil, false
	}
	s, ok := st.claims[id]
	return s, ok
}

// guardLocked enforces claim existence and the optimistic version check
// shared by every operator action.
func (st *Store) guardLocked(id string, expectedVersion int) (*Snapshot, error) {
	s, ok := st.claims[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Version != expectedVersion {
		return nil, &VersionConflictError{Current: s.Version}
	}
	return s, nil
}

// bumpLocked finalizes a mutation: version increment, policy recompute,
// event emission.
func (st *Store) bumpLocked(s *Snapshot, eventType string) {
	s.Version++
	s.Policy = st.evaluate(s)
	st.emit(eventType, s.Clone())
}

// revokeApprovalLocked resets approval and clears every downstream field.
func (st *Store) revokeApprovalLocked(s *Snapshot) {
	s.OutputApprovalState = ApprovalPending
	s.ApprovedAt = nil
	s.ApprovedVersion = nil
	s.OutputPackageStatus = DownstreamNone
	s.OutputPackageID = ""
	s.OutputPackageError = ""
	s.RenderStatus = DownstreamNone
	s.RenderJobID = ""
	s.RenderError = ""
	s.ArtifactURL = ""
}

// downstreamAppliesLocked is the shared guard for package and render events.
func (st *Store) downstreamAppliesLocked(s *Snapshot, claimVersion *int) bool {
	if s.OutputApprovalState != ApprovalApproved || s.ApprovedVersion == nil {
		return false
	}
	if claimVersion != nil && *claimVersion != *s.ApprovedVersion {
		return false
	}
	return true
}
