package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/MrWong99/claimcast/internal/events"
	"github.com/MrWong99/claimcast/internal/transcribe"
)

const (
	// closeWait bounds how long finalization waits for the second process
	// after the first one closed.
	closeWait = 1500 * time.Millisecond

	// killEscalation is the grace period between the soft and the forceful
	// termination signal.
	killEscalation = 2000 * time.Millisecond

	// watchdogInterval is how often the stall watchdog samples the stream.
	watchdogInterval = 2 * time.Second

	minStallTimeoutMs     = 1000
	maxStallTimeoutMs     = 300000
	defaultStallTimeoutMs = 45000
)

// ClampStallTimeoutMs normalizes the configured stall timeout.
func ClampStallTimeoutMs(ms int) int {
	switch {
	case ms == 0:
		return defaultStallTimeoutMs
	case ms < minStallTimeoutMs:
		return minStallTimeoutMs
	case ms > maxStallTimeoutMs:
		return maxStallTimeoutMs
	}
	return ms
}

// Config drives one supervisor instance.
type Config struct {
	SourceURL string

	// ExtractorPath/ExtractorArgs launch the process that connects to the
	// source and writes an encoded audio stream to stdout. {url} in an
	// argument is replaced with SourceURL.
	ExtractorPath string
	ExtractorArgs []string

	// DecoderPath/DecoderArgs launch the process that reads the encoded
	// stream on stdin and writes 16 kHz mono s16le PCM to stdout.
	DecoderPath string
	DecoderArgs []string

	ChunkSeconds   int
	StallTimeoutMs int

	Reconnect    bool
	MaxRetries   int // 0 means unlimited
	RetryBaseMs  int
	RetryMaxMs   int
}

// DefaultExtractorArgs emit the best available audio stream to stdout.
func DefaultExtractorArgs() (string, []string) {
	return "yt-dlp", []string{"--quiet", "--no-warnings", "-f", "bestaudio", "-o", "-", "{url}"}
}

// DefaultDecoderArgs decode stdin to canonical PCM on stdout.
func DefaultDecoderArgs() (string, []string) {
	return "ffmpeg", []string{"-loglevel", "error", "-i", "pipe:0", "-f", "s16le", "-ar", "16000", "-ac", "1", "pipe:1"}
}

// Supervisor owns the extractor/decoder pair for one run.
type Supervisor struct {
	cfg   Config
	hub   *events.Hub
	runID string
	log   *slog.Logger

	// chunkMu serializes chunker access between a late reader goroutine
	// of a dying attempt and the reset of the next one.
	chunkMu sync.Mutex
	chunker *Chunker

	// onChunk receives every completed PCM chunk, in order.
	onChunk func(transcribe.Chunk)

	// onAttemptStart fires before each spawn so the transcript pipeline
	// can reset its overlap context.
	onAttemptStart func()

	rnd func(int) int
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithChunkHandler sets the chunk callback.
func WithChunkHandler(fn func(transcribe.Chunk)) Option {
	return func(s *Supervisor) { s.onChunk = fn }
}

// WithAttemptStartHandler sets the per-attempt reset callback.
func WithAttemptStartHandler(fn func()) Option {
	return func(s *Supervisor) { s.onAttemptStart = fn }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

// NewSupervisor creates a supervisor. Zero-value config fields fall back
// to the documented defaults and clamps.
func NewSupervisor(cfg Config, hub *events.Hub, runID string, opts ...Option) *Supervisor {
	if cfg.ExtractorPath == "" {
		cfg.ExtractorPath, cfg.ExtractorArgs = DefaultExtractorArgs()
	}
	if cfg.DecoderPath == "" {
		cfg.DecoderPath, cfg.DecoderArgs = DefaultDecoderArgs()
	}
	cfg.StallTimeoutMs = ClampStallTimeoutMs(cfg.StallTimeoutMs)

	s := &Supervisor{
		cfg:     cfg,
		hub:     hub,
		runID:   runID,
		log:     slog.Default(),
		chunker: NewChunker(cfg.ChunkSeconds),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ChunkSeconds returns the effective chunk duration.
func (s *Supervisor) ChunkSeconds() int { return s.chunker.ChunkSeconds() }

// Run drives ingest attempts until the source ends, retries are exhausted,
// a fatal spawn error occurs, or ctx is cancelled. It blocks and returns
// the terminal stop cause. The caller owns pipeline.stopped emission.
func (s *Supervisor) Run(ctx context.Context) StopCause {
	reconnectAttempt := 0

	for {
		isReconnect := reconnectAttempt > 0
		cause, gotByte, fatal := s.runAttempt(ctx, isReconnect)
		if ctx.Err() != nil {
			return CauseManualStop
		}
		if fatal {
			return cause
		}
		if isReconnect && gotByte {
			reconnectAttempt = 0
		}
		if !s.cfg.Reconnect {
			return cause
		}

		reconnectAttempt++
		if s.cfg.MaxRetries > 0 && reconnectAttempt > s.cfg.MaxRetries {
			return CauseReconnectExhausted
		}

		delay := ReconnectDelay(reconnectAttempt, s.cfg.RetryBaseMs, s.cfg.RetryMaxMs, s.rnd)
		s.publish(events.TypePipelineReconnectScheduled, map[string]any{
			"attempt": reconnectAttempt,
			"delayMs": delay.Milliseconds(),
			"cause":   string(cause),
		})

		select {
		case <-ctx.Done():
			return CauseManualStop
		case <-time.After(delay):
		}
		s.publish(events.TypePipelineReconnectStarted, map[string]any{"attempt": reconnectAttempt})
	}
}

// attempt is the runtime state of one spawn of the process pair.
type attempt struct {
	mu      sync.Mutex
	outcome attemptOutcome

	closesSeen int

	finalized    chan struct{}
	finalizeOnce sync.Once

	teardownOnce sync.Once

	lastByteMs atomic.Int64
	gotByte    atomic.Bool
}

func (a *attempt) finalize() {
	a.finalizeOnce.Do(func() { close(a.finalized) })
}

// runAttempt spawns the pair, pumps PCM, and blocks until the attempt is
// finalized. fatal is true only for a spawn failure, which always precedes
// the first PCM byte of the attempt.
func (s *Supervisor) runAttempt(ctx context.Context, isReconnect bool) (cause StopCause, gotByte, fatal bool) {
	s.chunkMu.Lock()
	s.chunker.Reset()
	s.chunkMu.Unlock()
	if s.onAttemptStart != nil {
		s.onAttemptStart()
	}

	a := &attempt{finalized: make(chan struct{})}
	a.lastByteMs.Store(time.Now().UnixMilli())

	extractor := exec.Command(s.cfg.ExtractorPath, s.expandArgs(s.cfg.ExtractorArgs)...)
	decoder := exec.Command(s.cfg.DecoderPath, s.cfg.DecoderArgs...)
	extractor.Stderr = slogWriter{s.log, "extractor"}
	decoder.Stderr = slogWriter{s.log, "decoder"}

	extractorOut, err := extractor.StdoutPipe()
	if err != nil {
		return s.spawnFailure(fmt.Errorf("ingest: extractor stdout: %w", err))
	}
	decoder.Stdin = extractorOut
	decoderOut, err := decoder.StdoutPipe()
	if err != nil {
		return s.spawnFailure(fmt.Errorf("ingest: decoder stdout: %w", err))
	}

	if err := extractor.Start(); err != nil {
		return s.spawnFailure(fmt.Errorf("ingest: start extractor: %w", err))
	}
	if err := decoder.Start(); err != nil {
		s.terminate(extractor)
		go extractor.Wait() // reap, the attempt is abandoned
		return s.spawnFailure(fmt.Errorf("ingest: start decoder: %w", err))
	}

	// Reader: owns the chunker, delivers chunks in order.
	go s.readPCM(a, decoderOut, isReconnect)

	// One waiter per process; finalization happens when both closed or
	// closeWait after the first close.
	go s.waitProcess(a, extractor, &a.outcome.extractor)
	go s.waitProcess(a, decoder, &a.outcome.decoder)

	// Stall watchdog.
	go s.watchStall(ctx, a, extractor, decoder)

	// Manual stop tears the pair down immediately.
	go func() {
		select {
		case <-ctx.Done():
			s.teardown(a, extractor, decoder)
		case <-a.finalized:
		}
	}()

	<-a.finalized
	s.teardown(a, extractor, decoder)

	a.mu.Lock()
	outcome := a.outcome
	a.mu.Unlock()
	return classify(outcome), a.gotByte.Load(), false
}

// spawnFailure emits pipeline.error and reports a fatal process error.
func (s *Supervisor) spawnFailure(err error) (StopCause, bool, bool) {
	s.log.Error("ingest spawn failed", "error", err)
	s.publish(events.TypePipelineError, map[string]any{"error": err.Error()})
	return CauseProcessError, false, true
}

// readPCM pumps decoder output through the chunker until the pipe closes.
func (s *Supervisor) readPCM(a *attempt, r io.Reader, isReconnect bool) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			a.lastByteMs.Store(time.Now().UnixMilli())
			if a.gotByte.CompareAndSwap(false, true) && isReconnect {
				s.publish(events.TypePipelineReconnectSucceeded, nil)
			}
			s.chunkMu.Lock()
			chunks := s.chunker.Write(buf[:n])
			s.chunkMu.Unlock()
			for _, chunk := range chunks {
				s.publish(events.TypeAudioChunk, map[string]any{
					"chunkIndex": chunk.Index,
					"startSec":   chunk.StartSec,
					"endSec":     chunk.EndSec,
					"bytes":      len(chunk.PCM),
				})
				if s.onChunk != nil {
					s.onChunk(chunk)
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// waitProcess records one child's exit and drives finalization.
func (s *Supervisor) waitProcess(a *attempt, cmd *exec.Cmd, slot **exitRecord) {
	err := cmd.Wait()

	rec := &exitRecord{}
	if state := cmd.ProcessState; state != nil {
		rec.code = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok {
			rec.signaled = ws.Signaled()
		}
	}
	if err != nil && rec.code == 0 && !rec.signaled {
		// Wait failed without a usable exit status (e.g. pipe error).
		rec.code = -1
	}

	a.mu.Lock()
	*slot = rec
	a.closesSeen++
	both := a.closesSeen == 2
	first := a.closesSeen == 1
	a.mu.Unlock()

	if both {
		a.finalize()
	} else if first {
		// The sibling gets closeWait to exit before we finalize anyway.
		time.AfterFunc(closeWait, a.finalize)
	}
}

// watchStall finalizes the attempt when no PCM byte arrived for the
// configured stall timeout.
func (s *Supervisor) watchStall(ctx context.Context, a *attempt, extractor, decoder *exec.Cmd) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.finalized:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle := time.Now().UnixMilli() - a.lastByteMs.Load()
			if idle >= int64(s.cfg.StallTimeoutMs) {
				a.mu.Lock()
				a.outcome.stalled = true
				a.mu.Unlock()
				s.publish(events.TypePipelineIngestStalled, map[string]any{"idleMs": idle})
				s.teardown(a, extractor, decoder)
				return
			}
		}
	}
}

// teardown terminates both processes, softly first, forcefully after the
// escalation window. Idempotent.
func (s *Supervisor) teardown(a *attempt, extractor, decoder *exec.Cmd) {
	a.teardownOnce.Do(func() {
		s.terminate(extractor)
		s.terminate(decoder)
	})
}

// terminate sends SIGTERM and escalates to SIGKILL after the grace period.
func (s *Supervisor) terminate(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	proc := cmd.Process
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return // already gone
	}
	time.AfterFunc(killEscalation, func() {
		_ = proc.Kill()
	})
}

func (s *Supervisor) expandArgs(args []string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		if arg == "{url}" {
			out[i] = s.cfg.SourceURL
		} else {
			out[i] = arg
		}
	}
	return out
}

func (s *Supervisor) publish(typ string, data map[string]any) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(events.Event{Type: typ, RunID: s.runID, Data: data})
}

// slogWriter forwards child-process stderr lines to the logger.
type slogWriter struct {
	log  *slog.Logger
	name string
}

func (w slogWriter) Write(p []byte) (int, error) {
	w.log.Debug("ingest process output", "process", w.name, "output", string(p))
	return len(p), nil
}
