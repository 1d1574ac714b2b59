package ingest

// StopCause classifies why an ingest attempt (or the whole supervisor)
// ended.
type StopCause string

const (
	CauseProcessError       StopCause = "process_error"
	CauseSourceEnded        StopCause = "source_ended"
	CauseUpstreamNonzero    StopCause = "upstream_exit_nonzero"
	CauseReconnectExhausted StopCause = "reconnect_exhausted"
	CauseManualStop         StopCause = "stopped"
)

// exitRecord captures how one child process ended.
type exitRecord struct {
	code     int
	signaled bool
}

func (e *exitRecord) clean() bool {
	return e != nil && e.code == 0 && !e.signaled
}

// attemptOutcome is the finalized state of one ingest attempt.
type attemptOutcome struct {
	processErr bool
	stalled    bool
	extractor  *exitRecord
	decoder    *exitRecord
}

// classify maps a finalized attempt onto its stop cause. A process error
// or stall dominates; a fully clean double exit means the source ended;
// everything else is an upstream failure.
func classify(o attemptOutcome) StopCause {
	if o.processErr || o.stalled {
		return CauseProcessError
	}
	if o.extractor.clean() && o.decoder.clean() {
		return CauseSourceEnded
	}
	return CauseUpstreamNonzero
}
