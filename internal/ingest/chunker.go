// Package ingest keeps a continuous 16 kHz mono PCM stream flowing from a
// remote live source by supervising an extractor/decoder process pair,
// slicing the decoded bytes into fixed-duration chunks, and reconnecting
// with backoff when the pair dies.
package ingest

import (
	"github.com/MrWong99/claimcast/internal/transcribe"
	"github.com/MrWong99/claimcast/pkg/wav"
)

const (
	minChunkSeconds     = 5
	maxChunkSeconds     = 30
	defaultChunkSeconds = 15
)

// ClampChunkSeconds normalizes a configured chunk duration.
func ClampChunkSeconds(s int) int {
	switch {
	case s == 0:
		return defaultChunkSeconds
	case s < minChunkSeconds:
		return minChunkSeconds
	case s > maxChunkSeconds:
		return maxChunkSeconds
	}
	return s
}

// Chunker slices an incoming PCM byte stream into fixed-duration chunks
// with sequential indices. Not safe for concurrent use; the supervisor's
// reader goroutine owns it.
type Chunker struct {
	chunkSeconds int
	chunkBytes   int
	buf          []byte
	index        int
}

// NewChunker creates a Chunker for the clamped chunk duration.
func NewChunker(chunkSeconds int) *Chunker {
	s := ClampChunkSeconds(chunkSeconds)
	return &Chunker{
		chunkSeconds: s,
		chunkBytes:   s * wav.BytesPerSecond,
	}
}

// ChunkSeconds returns the effective chunk duration.
func (c *Chunker) ChunkSeconds() int { return c.chunkSeconds }

// Write appends p to the buffer and returns every chunk completed by it,
// in order.
func (c *Chunker) Write(p []byte) []transcribe.Chunk {
	c.buf = append(c.buf, p...)

	var out []transcribe.Chunk
	for len(c.buf) >= c.chunkBytes {
		pcm := make([]byte, c.chunkBytes)
		copy(pcm, c.buf[:c.chunkBytes])
		c.buf = c.buf[c.chunkBytes:]

		start := float64(c.index * c.chunkSeconds)
		out = append(out, transcribe.Chunk{
			Index:    c.index,
			PCM:      pcm,
			StartSec: start,
			EndSec:   start + float64(c.chunkSeconds),
		})
		c.index++
	}
	return out
}

// Reset drops buffered bytes at the start of a new ingest attempt. Chunk
// indices keep counting across attempts so run timestamps stay monotonic.
func (c *Chunker) Reset() {
	c.buf = nil
}
