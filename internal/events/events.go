// Package events carries every state change of a run to its subscribers.
//
// The [Hub] assigns a globally monotonic sequence number to each published
// event, keeps a bounded in-memory history for reconnect replay, and fans
// events out to live subscribers. A subscriber that cannot keep up is
// dropped without affecting the others.
package events

import (
	"time"

	"github.com/MrWong99/claimcast/internal/claims"
)

// Event type names as they appear on the wire.
const (
	TypePipelineStarted            = "pipeline.started"
	TypePipelineStopped            = "pipeline.stopped"
	TypePipelineError              = "pipeline.error"
	TypePipelineLog                = "pipeline.log"
	TypePipelineReconnectScheduled = "pipeline.reconnect_scheduled"
	TypePipelineReconnectStarted   = "pipeline.reconnect_started"
	TypePipelineReconnectSucceeded = "pipeline.reconnect_succeeded"
	TypePipelineIngestStalled      = "pipeline.ingest_stalled"

	TypeAudioChunk = "audio.chunk"

	TypeTranscriptSegment = "transcript.segment"
	TypeTranscriptError   = "transcript.error"

	TypeClaimDetected       = "claim.detected"
	TypeClaimResearching    = "claim.researching"
	TypeClaimUpdated        = "claim.updated"
	TypeClaimOutputApproved = "claim.output_approved"
	TypeClaimOutputRejected = "claim.output_rejected"
	TypeClaimPackageQueued  = "claim.output_package_queued"
	TypeClaimPackageReady   = "claim.output_package_ready"
	TypeClaimPackageFailed  = "claim.output_package_failed"
	TypeClaimRenderQueued   = "claim.render_queued"
	TypeClaimRenderReady    = "claim.render_ready"
	TypeClaimRenderFailed   = "claim.render_failed"
)

// Event is the enriched outgoing record pushed to subscribers. Claim events
// embed the full snapshot at the moment of emission.
type Event struct {
	Seq   int64     `json:"seq"`
	Type  string    `json:"type"`
	RunID string    `json:"runId,omitempty"`
	At    time.Time `json:"at"`

	Claim *claims.Snapshot `json:"claim,omitempty"`
	Data  map[string]any   `json:"data,omitempty"`
}
