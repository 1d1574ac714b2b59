package transcribe

import (
	"context"
	"errors"
	"sync"
	"time"
)

// queueCapacity bounds chunks waiting for transcription. The audio source
// produces one chunk per chunkSeconds, so a backlog this deep means the
// transcription backend has been unresponsive for minutes.
const queueCapacity = 32

// ErrQueueFull is returned by Enqueue when the backlog is at capacity.
var ErrQueueFull = errors.New("transcribe: queue full, chunk dropped")

// ErrClosed is returned by Enqueue after the worker has shut down.
var ErrClosed = errors.New("transcribe: worker closed")

// Worker drains the chunk queue through a Transcriber strictly in order,
// with at most one request in flight. FIFO processing is what makes the
// prior-context prompt line up with the preceding chunk's text.
type Worker struct {
	tr    Transcriber
	prior func() string

	queue   chan Chunk
	results chan Result

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewWorker creates a stopped worker. prior supplies the rolling transcript
// tail at the moment each request is issued; it may be nil.
func NewWorker(tr Transcriber, prior func() string) *Worker {
	if prior == nil {
		prior = func() string { return "" }
	}
	return &Worker{
		tr:      tr,
		prior:   prior,
		queue:   make(chan Chunk, queueCapacity),
		results: make(chan Result, queueCapacity),
		done:    make(chan struct{}),
	}
}

// Start launches the single processing goroutine. It returns immediately.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.processLoop(ctx)
}

// Enqueue queues a chunk for transcription without blocking. Chunks are
// dropped with ErrQueueFull rather than stalling the audio pipeline.
func (w *Worker) Enqueue(c Chunk) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	select {
	case w.queue <- c:
		return nil
	case <-w.done:
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

// Results returns the ordered result channel. It is closed when the worker
// stops.
func (w *Worker) Results() <-chan Result { return w.results }

// Close stops the worker and waits for the in-flight request to finish.
// Safe to call more than once.
func (w *Worker) Close() {
	w.once.Do(func() {
		close(w.done)
		w.wg.Wait()
	})
}

// processLoop is the single goroutine that owns request dispatch. One chunk
// is transcribed at a time; failures are delivered as results so the caller
// can log and move on.
func (w *Worker) processLoop(ctx context.Context) {
	defer w.wg.Done()
	defer close(w.results)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case chunk := <-w.queue:
			start := time.Now()
			text, err := w.tr.Transcribe(ctx, chunk.PCM, w.prior())
			if ctx.Err() != nil {
				return
			}
			select {
			case w.results <- Result{Chunk: chunk, Text: text, Err: err, Elapsed: time.Since(start)}:
			case <-ctx.Done():
				return
			case <-w.done:
				return
			}
		}
	}
}
