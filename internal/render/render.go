// Package render queues graphic renders for exported claims against a
// remote render service, with idempotent job reuse, linear retry, a
// circuit breaker around the remote endpoint, and a deterministic local
// placeholder when no endpoint is configured.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/MrWong99/claimcast/internal/claims"
	"github.com/MrWong99/claimcast/internal/events"
	"github.com/MrWong99/claimcast/internal/outputpkg"
)

// TemplateID names the graphic template jobs are keyed on.
const TemplateID = "verdict-card"

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 500 * time.Millisecond
	defaultTimeout     = 10 * time.Second
)

// ErrNotExportable is returned when the claim fails the export gate.
var ErrNotExportable = errors.New("render: claim is not exportable")

// Job is one render request and its current state.
type Job struct {
	RenderJobID    string `json:"renderJobId"`
	ClaimID        string `json:"claimId"`
	RunID          string `json:"runId"`
	ClaimVersion   int    `json:"claimVersion"`
	IdempotencyKey string `json:"idempotencyKey"`
	Status         string `json:"status"`
	Attempts       int    `json:"attempts"`
	ArtifactURL    string `json:"artifactUrl,omitempty"`
	Error          string `json:"error,omitempty"`
}

func (j *Job) clone() *Job {
	c := *j
	return &c
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithEndpoint sets the remote render service URL. Empty means local
// placeholder rendering.
func WithEndpoint(url string) Option {
	return func(r *Renderer) { r.endpoint = url }
}

// WithTimeout sets the per-request timeout against the remote service.
func WithTimeout(d time.Duration) Option {
	return func(r *Renderer) { r.httpClient.Timeout = d }
}

// WithMaxAttempts overrides the retry cap.
func WithMaxAttempts(n int) Option {
	return func(r *Renderer) { r.maxAttempts = n }
}

// WithRetryDelay overrides the linear backoff unit.
func WithRetryDelay(d time.Duration) Option {
	return func(r *Renderer) { r.retryDelay = d }
}

// WithArtifactDir sets where placeholder artifacts are written.
func WithArtifactDir(dir string) Option {
	return func(r *Renderer) { r.artifactDir = dir }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Renderer) { r.log = l }
}

// Renderer owns the job registry for one process. Safe for concurrent use.
type Renderer struct {
	store       *claims.Store
	endpoint    string
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker
	maxAttempts int
	retryDelay  time.Duration
	artifactDir string
	log         *slog.Logger
	newID       func() string

	mu   sync.Mutex
	jobs map[string]*Job

	wg sync.WaitGroup
}

// New creates a Renderer.
func New(store *claims.Store, opts ...Option) *Renderer {
	r := &Renderer{
		store:       store,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		artifactDir: filepath.Join(os.TempDir(), "claimcast-artifacts"),
		log:         slog.Default(),
		newID:       func() string { return uuid.NewString() },
		jobs:        make(map[string]*Job),
	}
	for _, o := range opts {
		o(r)
	}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "render-endpoint",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return r
}

// IdempotencyKey derives the job registry key.
func IdempotencyKey(claimID string, claimVersion int, force bool, nonce string) string {
	key := fmt.Sprintf("%s:%d:%s", claimID, claimVersion, TemplateID)
	if force {
		key += ":force:" + nonce
	}
	return key
}

// Render queues a render for an exported claim. Requests with an existing
// non-failed job for the same key return that job instead of starting a new
// one; a forced request joins the new key through its nonce, so repeated
// submissions of the same nonce coalesce onto one job. The returned job
// reflects the state at queue time; progress lands on the claim store.
func (r *Renderer) Render(ctx context.Context, runID string, c *claims.Snapshot, pkg *outputpkg.Package, force bool, nonce string) (*Job, error) {
	if !c.Policy.ExportEligibility || c.ApprovedVersion == nil {
		reason := c.Policy.ExportBlockReason
		if reason == "" {
			reason = claims.BlockNotApproved
		}
		return nil, fmt.Errorf("%w: %s", ErrNotExportable, reason)
	}

	key := IdempotencyKey(c.ID, *c.ApprovedVersion, force, nonce)

	r.mu.Lock()
	if existing, ok := r.jobs[key]; ok && existing.Status != claims.DownstreamFailed {
		job := existing.clone()
		r.mu.Unlock()
		return job, nil
	}

	job := &Job{
		RenderJobID:    r.newID(),
		ClaimID:        c.ID,
		RunID:          runID,
		ClaimVersion:   *c.ApprovedVersion,
		IdempotencyKey: key,
		Status:         claims.DownstreamQueued,
	}
	r.jobs[key] = job
	r.mu.Unlock()

	r.store.SetRenderState(events.TypeClaimRenderQueued, c.ID, &job.ClaimVersion, job.RenderJobID, claims.DownstreamQueued, "", "")

	r.wg.Add(1)
	go r.process(ctx, job, c, pkg)

	return job.clone(), nil
}

// Wait blocks until all in-flight render jobs have settled.
func (r *Renderer) Wait() {
	r.wg.Wait()
}

// ArtifactDir returns the directory placeholder artifacts are written to,
// for serving under /artifacts/.
func (r *Renderer) ArtifactDir() string {
	return r.artifactDir
}

// process drives one job to a terminal state: remote attempts with linear
// backoff, then the local placeholder when the endpoint is unset, the
// breaker is open, or every attempt failed. The job only fails when the
// placeholder itself cannot be written.
func (r *Renderer) process(ctx context.Context, job *Job, c *claims.Snapshot, pkg *outputpkg.Package) {
	defer r.wg.Done()
	r.setStatus(job, claims.DownstreamRendering, "", "")

	artifactURL, err := r.renderRemote(ctx, job, c, pkg)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		artifactURL, err = r.renderPlaceholder(job, c.Verdict)
	}

	if err != nil {
		r.setStatus(job, claims.DownstreamFailed, "", err.Error())
		r.store.SetRenderState(events.TypeClaimRenderFailed, job.ClaimID, &job.ClaimVersion, job.RenderJobID, claims.DownstreamFailed, "", err.Error())
		return
	}

	r.setStatus(job, claims.DownstreamReady, artifactURL, "")
	r.store.SetRenderState(events.TypeClaimRenderReady, job.ClaimID, &job.ClaimVersion, job.RenderJobID, claims.DownstreamReady, artifactURL, "")
}

// renderRemote runs the remote attempt loop. An open breaker short-circuits
// the remaining attempts.
func (r *Renderer) renderRemote(ctx context.Context, job *Job, c *claims.Snapshot, pkg *outputpkg.Package) (string, error) {
	if r.endpoint == "" {
		return "", errors.New("render: no endpoint configured")
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		result, err := r.breaker.Execute(func() (any, error) {
			return r.callRemote(ctx, job, c, pkg)
		})
		if err == nil {
			return result.(string), nil
		}
		lastErr = err

		r.mu.Lock()
		job.Attempts = attempt
		r.mu.Unlock()

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", lastErr
		}
		r.log.Warn("render attempt failed", "job", job.RenderJobID, "attempt", attempt, "error", err)

		if attempt < r.maxAttempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * r.retryDelay):
			}
		}
	}
	return "", lastErr
}

func (r *Renderer) setStatus(job *Job, status, artifactURL, errMsg string) {
	r.mu.Lock()
	job.Status = status
	if artifactURL != "" {
		job.ArtifactURL = artifactURL
	}
	job.Error = errMsg
	r.mu.Unlock()
}

func (r *Renderer) callRemote(ctx context.Context, job *Job, c *claims.Snapshot, pkg *outputpkg.Package) (string, error) {
	body, err := json.Marshal(map[string]any{
		"idempotencyKey": job.IdempotencyKey,
		"templateId":     TemplateID,
		"claim":          c,
		"package":        pkg,
	})
	if err != nil {
		return "", fmt.Errorf("render: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("render: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("render: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("render: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("render: HTTP %d: %s", resp.StatusCode, truncate(string(raw), 160))
	}

	var parsed struct {
		ArtifactURL string `json:"artifactUrl"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("render: parse response: %w", err)
	}
	if parsed.ArtifactURL == "" {
		return "", errors.New("render: response missing artifactUrl")
	}
	return parsed.ArtifactURL, nil
}

// renderPlaceholder writes a small solid-color PNG keyed by the job key and
// returns its serving path under /artifacts/. Deterministic: the same key
// always produces the same artifact.
func (r *Renderer) renderPlaceholder(job *Job, verdict claims.Verdict) (string, error) {
	if err := os.MkdirAll(r.artifactDir, 0o755); err != nil {
		return "", fmt.Errorf("render: create artifact dir: %w", err)
	}

	name := strings.ReplaceAll(job.IdempotencyKey, ":", "_") + ".png"
	path := filepath.Join(r.artifactDir, name)

	img := image.NewRGBA(image.Rect(0, 0, 640, 360))
	fill := verdictColor(verdict)
	for y := 0; y < 360; y++ {
		for x := 0; x < 640; x++ {
			img.Set(x, y, fill)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("render: create artifact: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return "", fmt.Errorf("render: encode artifact: %w", err)
	}
	return "/artifacts/" + name, nil
}

func verdictColor(v claims.Verdict) color.RGBA {
	switch v {
	case claims.VerdictTrue:
		return color.RGBA{G: 0x99, A: 0xFF}
	case claims.VerdictFalse:
		return color.RGBA{R: 0xB3, A: 0xFF}
	case claims.VerdictMisleading:
		return color.RGBA{R: 0xCC, G: 0x88, A: 0xFF}
	default:
		return color.RGBA{R: 0x44, G: 0x44, B: 0x44, A: 0xFF}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
