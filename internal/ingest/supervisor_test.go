//go:build unix

package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/claimcast/internal/events"
	"github.com/MrWong99/claimcast/internal/transcribe"
)

// shCfg builds a supervisor config whose extractor and decoder are tiny
// shell pipelines, so attempts run without any real media tooling.
func shCfg(extractorScript, decoderScript string) Config {
	return Config{
		SourceURL:     "test://source",
		ExtractorPath: "/bin/sh",
		ExtractorArgs: []string{"-c", extractorScript},
		DecoderPath:   "/bin/sh",
		DecoderArgs:   []string{"-c", decoderScript},
		ChunkSeconds:  5,
	}
}

func TestSupervisor_SourceEnded(t *testing.T) {
	t.Parallel()

	// Extractor emits a short burst and exits 0; decoder passes it through.
	cfg := shCfg("head -c 1024 /dev/zero", "cat")
	s := NewSupervisor(cfg, events.NewHub(), "run-1")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if cause := s.Run(ctx); cause != CauseSourceEnded {
		t.Errorf("want source_ended, got %s", cause)
	}
}

func TestSupervisor_UpstreamNonzero(t *testing.T) {
	t.Parallel()

	cfg := shCfg("exit 3", "cat")
	s := NewSupervisor(cfg, events.NewHub(), "run-1")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if cause := s.Run(ctx); cause != CauseUpstreamNonzero {
		t.Errorf("want upstream_exit_nonzero, got %s", cause)
	}
}

func TestSupervisor_SpawnFailureIsFatal(t *testing.T) {
	t.Parallel()

	cfg := Config{
		SourceURL:     "test://source",
		ExtractorPath: "/nonexistent/claimcast-extractor",
		DecoderPath:   "/bin/cat",
		// Reconnect enabled must not mask a fatal spawn failure.
		Reconnect: true,
	}
	hub := events.NewHub()
	sub := hub.Subscribe(-1)
	defer sub.Close()

	s := NewSupervisor(cfg, hub, "run-1")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if cause := s.Run(ctx); cause != CauseProcessError {
		t.Errorf("want process_error, got %s", cause)
	}

	ev := <-sub.Events()
	if ev.Type != events.TypePipelineError {
		t.Errorf("want pipeline.error event, got %s", ev.Type)
	}
}

func TestSupervisor_DeliversChunks(t *testing.T) {
	t.Parallel()

	// 5 s at 16 kHz mono s16le is 160000 bytes; emit a bit over one chunk.
	cfg := shCfg("head -c 170000 /dev/zero", "cat")

	var mu sync.Mutex
	var got []transcribe.Chunk
	hub := events.NewHub()
	s := NewSupervisor(cfg, hub, "run-1", WithChunkHandler(func(c transcribe.Chunk) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("want exactly 1 chunk, got %d", len(got))
	}
	if got[0].Index != 0 || got[0].StartSec != 0 || got[0].EndSec != 5 {
		t.Errorf("chunk metadata: %+v", got[0])
	}
	if len(got[0].PCM) != 160000 {
		t.Errorf("chunk size: want 160000, got %d", len(got[0].PCM))
	}
}

func TestSupervisor_ManualStop(t *testing.T) {
	t.Parallel()

	// Both processes run until killed.
	cfg := shCfg("while :; do sleep 1; done", "while :; do sleep 1; done")
	s := NewSupervisor(cfg, events.NewHub(), "run-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan StopCause, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case cause := <-done:
		if cause != CauseManualStop {
			t.Errorf("want stopped, got %s", cause)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not stop after cancellation")
	}
}

func TestSupervisor_ReconnectAfterFailure(t *testing.T) {
	t.Parallel()

	cfg := shCfg("exit 3", "cat")
	cfg.Reconnect = true
	cfg.MaxRetries = 2
	cfg.RetryBaseMs = 1
	cfg.RetryMaxMs = 2

	hub := events.NewHub()
	sub := hub.Subscribe(-1)
	defer sub.Close()

	s := NewSupervisor(cfg, hub, "run-1")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if cause := s.Run(ctx); cause != CauseReconnectExhausted {
		t.Errorf("want reconnect_exhausted, got %s", cause)
	}

	var scheduled, started int
	timeout := time.After(5 * time.Second)
collect:
	for scheduled < 2 || started < 2 {
		select {
		case ev := <-sub.Events():
			switch ev.Type {
			case events.TypePipelineReconnectScheduled:
				scheduled++
			case events.TypePipelineReconnectStarted:
				started++
			}
		case <-timeout:
			break collect
		}
	}
	if scheduled != 2 || started != 2 {
		t.Errorf("reconnect events: scheduled=%d started=%d, want 2 each", scheduled, started)
	}
}
