// Package transcribe converts PCM audio chunks to text through the OpenAI
// transcription API, one chunk in flight at a time.
package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/claimcast/pkg/wav"
)

// Chunk is one fixed-duration slice of run audio.
type Chunk struct {
	Index    int
	PCM      []byte
	StartSec float64
	EndSec   float64
}

// Result pairs a chunk with its transcription outcome.
type Result struct {
	Chunk   Chunk
	Text    string
	Err     error
	Elapsed time.Duration
}

// Transcriber converts one PCM chunk to text. priorContext is the tail of
// the accepted transcript so far and is passed to the model as a prompt to
// stabilize stitching across chunk boundaries.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, priorContext string) (string, error)
}

// ─── OpenAI transcriber ───

const defaultModel = "whisper-1"

// Compile-time assertion that OpenAI implements Transcriber.
var _ Transcriber = (*OpenAI)(nil)

// openaiConfig holds optional configuration for the OpenAI transcriber.
type openaiConfig struct {
	model    string
	language string
	baseURL  string
	timeout  time.Duration
}

// OpenAIOption is a functional option for OpenAI.
type OpenAIOption func(*openaiConfig)

// WithModel overrides the transcription model. Defaults to whisper-1.
func WithModel(model string) OpenAIOption {
	return func(c *openaiConfig) { c.model = model }
}

// WithLanguage sets the ISO-639-1 language hint.
func WithLanguage(lang string) OpenAIOption {
	return func(c *openaiConfig) { c.language = lang }
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) OpenAIOption {
	return func(c *openaiConfig) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(c *openaiConfig) { c.timeout = d }
}

// OpenAI implements Transcriber against the OpenAI audio API.
type OpenAI struct {
	client   oai.Client
	model    string
	language string
	hasKey   bool
}

// NewOpenAI constructs an OpenAI transcriber. An empty apiKey is allowed;
// Transcribe then fails fast without calling out.
func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAI {
	cfg := &openaiConfig{model: defaultModel, language: "en"}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &OpenAI{
		client:   oai.NewClient(reqOpts...),
		model:    cfg.model,
		language: cfg.language,
		hasKey:   apiKey != "",
	}
}

// Transcribe frames pcm as WAV and submits it with priorContext as the
// prompt. Returns the trimmed transcription text.
func (o *OpenAI) Transcribe(ctx context.Context, pcm []byte, priorContext string) (string, error) {
	if !o.hasKey {
		return "", errors.New("transcribe: API key not configured")
	}
	if len(pcm) == 0 {
		return "", nil
	}

	params := oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(o.model),
		File:  oai.File(bytes.NewReader(wav.Encode(pcm)), "chunk.wav", "audio/wav"),
	}
	if priorContext != "" {
		params.Prompt = oai.String(priorContext)
	}
	if o.language != "" {
		params.Language = oai.String(o.language)
	}

	resp, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("transcribe: transcription request: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
