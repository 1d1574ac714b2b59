// Package run owns the lifecycle of a pipeline run: one run per process,
// wiring from audio ingest through transcription, assembly, detection, and
// research, and a stop path that tears everything down exactly once.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/claimcast/internal/activity"
	"github.com/MrWong99/claimcast/internal/assemble"
	"github.com/MrWong99/claimcast/internal/claims"
	"github.com/MrWong99/claimcast/internal/config"
	"github.com/MrWong99/claimcast/internal/detect"
	"github.com/MrWong99/claimcast/internal/events"
	"github.com/MrWong99/claimcast/internal/ingest"
	"github.com/MrWong99/claimcast/internal/observe"
	"github.com/MrWong99/claimcast/internal/research"
	"github.com/MrWong99/claimcast/internal/transcribe"
)

// ErrAlreadyRunning is returned by Start while a run is active.
var ErrAlreadyRunning = errors.New("run: a run is already active")

// ErrNotRunning is returned by Stop when no run is active.
var ErrNotRunning = errors.New("run: no active run")

// Providers bundles the research dependencies injected into each run's
// scheduler.
type Providers struct {
	Fact     research.FactChecker
	Economic research.EvidenceLookup
	Legis    research.EvidenceLookup
	Assessor research.Assessor
}

// Deps are the long-lived collaborators a Controller wires into every run.
type Deps struct {
	Cfg         *config.Config
	Hub         *events.Hub
	Store       *claims.Store
	Transcriber transcribe.Transcriber
	Providers   Providers
	Activity    *activity.Sink
	Metrics     *observe.Metrics
	Log         *slog.Logger
}

// Controller enforces the one-run-per-host rule and owns run teardown.
type Controller struct {
	deps    Deps
	deduper *detect.Deduper

	mu      sync.Mutex
	running bool
	runID   string
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Controller.
func New(deps Deps) *Controller {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Controller{
		deps:    deps,
		deduper: detect.NewDeduper(),
	}
}

// Running reports the active run id, if any.
func (c *Controller) Running() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID, c.running
}

// Start begins a new run against sourceURL. Only one run may be active at a
// time; a second Start returns ErrAlreadyRunning. The pipeline runs in the
// background until the source ends, retries are exhausted, or Stop is called.
func (c *Controller) Start(sourceURL string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return "", ErrAlreadyRunning
	}

	runID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	c.running = true
	c.runID = runID
	c.cancel = cancel
	c.done = make(chan struct{})

	c.deps.Store.Reset(runID)
	c.deduper.Reset()

	c.deps.Hub.Publish(events.Event{
		Type:  events.TypePipelineStarted,
		RunID: runID,
		Data:  map[string]any{"sourceUrl": sourceURL},
	})
	c.deps.Activity.Record(runID, events.TypePipelineStarted, "", map[string]string{"sourceUrl": sourceURL})

	go c.run(ctx, runID, sourceURL)
	return runID, nil
}

// Stop cancels the active run and blocks until teardown has finished.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotRunning
	}
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	<-done
	return nil
}

// run is the pipeline goroutine for one run. It blocks until the supervisor
// stops, then flushes and emits pipeline.stopped exactly once.
func (c *Controller) run(ctx context.Context, runID, sourceURL string) {
	d := c.deps
	schedOpts := []research.Option{research.WithLogger(d.Log)}
	if d.Metrics != nil {
		schedOpts = append(schedOpts, research.WithMetrics(d.Metrics))
	}
	scheduler := research.New(d.Store, d.Providers.Fact, d.Providers.Economic, d.Providers.Legis,
		d.Providers.Assessor, d.Cfg.Research.Concurrency, schedOpts...)

	feed := assemble.NewClaimFeed(func(text string, chunkStartSec float64, forced bool) {
		c.detectAndEnqueue(ctx, scheduler, runID, text, chunkStartSec, forced)
	})

	assembler := assemble.New(func(seg assemble.Segment) {
		d.Hub.Publish(events.Event{
			Type:  events.TypeTranscriptSegment,
			RunID: runID,
			Data: map[string]any{
				"index":      seg.Index,
				"text":       seg.Text,
				"startSec":   seg.StartSec,
				"endSec":     seg.EndSec,
				"startClock": FormatClock(seg.StartSec),
				"endClock":   FormatClock(seg.EndSec),
				"forced":     seg.Forced,
			},
		})
	})

	worker := transcribe.NewWorker(d.Transcriber, assembler.Tail)
	worker.Start(ctx)

	// Drain transcription results into the assembler and claim feed.
	var drainWG sync.WaitGroup
	drainWG.Add(1)
	go func() {
		defer drainWG.Done()
		for res := range worker.Results() {
			if d.Metrics != nil {
				d.Metrics.TranscriptionDuration.Record(ctx, res.Elapsed.Seconds())
			}
			if res.Err != nil {
				d.Log.Warn("chunk transcription failed", "run", runID, "chunk", res.Chunk.Index, "error", res.Err)
				d.Hub.Publish(events.Event{
					Type:  events.TypeTranscriptError,
					RunID: runID,
					Data:  map[string]any{"chunkIndex": res.Chunk.Index, "error": res.Err.Error()},
				})
				continue
			}
			kept := assembler.Accept(res.Text, res.Chunk.StartSec, res.Chunk.EndSec)
			if kept != "" {
				feed.Append(kept, res.Chunk.StartSec)
			}
		}
	}()

	sup := ingest.NewSupervisor(ingest.Config{
		SourceURL:      sourceURL,
		ExtractorPath:  d.Cfg.Ingest.ExtractorPath,
		ExtractorArgs:  d.Cfg.Ingest.ExtractorArgs,
		DecoderPath:    d.Cfg.Ingest.DecoderPath,
		DecoderArgs:    d.Cfg.Ingest.DecoderArgs,
		ChunkSeconds:   d.Cfg.Ingest.ChunkSeconds,
		StallTimeoutMs: d.Cfg.Ingest.StallTimeoutMs,
		Reconnect:      d.Cfg.Ingest.Reconnect,
		MaxRetries:     d.Cfg.Ingest.MaxRetries,
		RetryBaseMs:    d.Cfg.Ingest.RetryBaseMs,
		RetryMaxMs:     d.Cfg.Ingest.RetryMaxMs,
	}, d.Hub, runID,
		ingest.WithLogger(d.Log),
		ingest.WithAttemptStartHandler(assembler.ResetContext),
		ingest.WithChunkHandler(func(chunk transcribe.Chunk) {
			if d.Metrics != nil {
				d.Metrics.AudioChunks.Add(ctx, 1)
			}
			if err := worker.Enqueue(chunk); err != nil {
				d.Log.Warn("chunk dropped", "run", runID, "chunk", chunk.Index, "error", err)
			}
		}),
	)

	cause := sup.Run(ctx)

	// Teardown order: stop accepting work, drain what finished, flush the
	// transcript, then announce the stop.
	worker.Close()
	drainWG.Wait()
	assembler.Close()
	feed.Flush(0)
	scheduler.Wait()

	c.mu.Lock()
	c.running = false
	c.cancel()
	done := c.done
	c.mu.Unlock()

	d.Hub.Publish(events.Event{
		Type:  events.TypePipelineStopped,
		RunID: runID,
		Data:  map[string]any{"cause": string(cause)},
	})
	d.Activity.Record(runID, events.TypePipelineStopped, "", map[string]string{"cause": string(cause)})
	close(done)
}

// detectAndEnqueue runs detection over forwarded sentence text and schedules
// research for each newly inserted claim. Forced text comes from the feed's
// safety valve or the stop-time flush and carries no terminal punctuation,
// so the detector scores the unterminated tail as well.
func (c *Controller) detectAndEnqueue(ctx context.Context, scheduler *research.Scheduler, runID, text string, chunkStartSec float64, forced bool) {
	d := c.deps
	cands := detect.Detect(text, detect.Options{
		ChunkStartSec: chunkStartSec,
		Threshold:     d.Cfg.Detection.Threshold,
		IncludeTail:   forced,
	})
	for _, cand := range cands {
		if c.deduper.Seen(cand.Text) {
			continue
		}
		snap, ok := d.Store.Insert(runID, claims.Detected{
			Text:             cand.Text,
			DetectionReasons: cand.Reasons,
			ChunkStartSec:    cand.ChunkStartSec,
			ChunkClock:       FormatClock(cand.ChunkStartSec),
			Category:         cand.Category,
			TypeTag:          cand.TypeTag,
			TypeConfidence:   cand.TypeConfidence,
		})
		if !ok {
			continue
		}
		if d.Metrics != nil {
			d.Metrics.ClaimsDetected.Add(ctx, 1)
		}
		d.Activity.Record(runID, events.TypeClaimDetected, snap.ID, map[string]string{"text": snap.Text})
		scheduler.Enqueue(ctx, runID, snap)
	}
}

// FormatClock renders a chunk offset as a broadcast clock, e.g. "01:02:03".
func FormatClock(sec float64) string {
	s := int(sec)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}

// WaitStopped blocks until the active run (if any) has fully stopped, or
// until the timeout expires. Used by graceful shutdown.
func (c *Controller) WaitStopped(timeout time.Duration) {
	c.mu.Lock()
	done := c.done
	running := c.running
	c.mu.Unlock()
	if !running || done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(timeout):
	}
}
