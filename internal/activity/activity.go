// Package activity persists a best-effort audit trail of run and claim
// events to Postgres. Writes are batched and never block or fail the
// pipeline: a lost row costs an audit entry, not a broadcast.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultFlushSize     = 50
	defaultFlushInterval = 2 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS activity_log (
    id         BIGSERIAL PRIMARY KEY,
    at         TIMESTAMPTZ NOT NULL,
    run_id     TEXT NOT NULL,
    kind       TEXT NOT NULL,
    claim_id   TEXT NOT NULL DEFAULT '',
    payload    JSONB
);
CREATE INDEX IF NOT EXISTS idx_activity_log_run ON activity_log (run_id, at);
`

const insertSQL = `INSERT INTO activity_log (at, run_id, kind, claim_id, payload) VALUES ($1, $2, $3, $4, $5)`

// Row is one audit entry awaiting flush.
type Row struct {
	At      time.Time
	RunID   string
	Kind    string
	ClaimID string
	Payload []byte
}

// Option configures a Sink.
type Option func(*Sink)

// WithFlushSize overrides the row count that triggers an early flush.
func WithFlushSize(n int) Option {
	return func(s *Sink) { s.flushSize = n }
}

// WithFlushInterval overrides the periodic flush interval.
func WithFlushInterval(d time.Duration) Option {
	return func(s *Sink) { s.flushInterval = d }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) { s.log = l }
}

// Sink buffers audit rows and flushes them to Postgres in batches. A Sink
// built without a connection string discards everything, so callers never
// need a nil check.
type Sink struct {
	pool          *pgxpool.Pool
	flushSize     int
	flushInterval time.Duration
	log           *slog.Logger
	now           func() time.Time

	mu  sync.Mutex
	buf []Row

	kick chan struct{}
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// New connects to Postgres, applies the schema, and starts the flush loop.
// An empty connString yields a no-op sink.
func New(ctx context.Context, connString string, opts ...Option) (*Sink, error) {
	s := &Sink{
		flushSize:     defaultFlushSize,
		flushInterval: defaultFlushInterval,
		log:           slog.Default(),
		now:           time.Now,
		kick:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if connString == "" {
		return s, nil
	}

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("activity: parse connection string: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("activity: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("activity: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("activity: apply schema: %w", err)
	}

	s.pool = pool
	s.wg.Add(1)
	go s.flushLoop()
	return s, nil
}

// Enabled reports whether the sink actually persists anything.
func (s *Sink) Enabled() bool {
	return s.pool != nil
}

// Ping probes the backing database. A disabled sink is always healthy.
func (s *Sink) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// Record buffers one audit entry. payload is marshalled to JSON; a marshal
// failure drops the payload but keeps the row. Never blocks.
func (s *Sink) Record(runID, kind, claimID string, payload any) {
	if s.pool == nil {
		return
	}

	var raw []byte
	if payload != nil {
		var err error
		if raw, err = json.Marshal(payload); err != nil {
			s.log.Warn("activity payload marshal failed", "kind", kind, "error", err)
			raw = nil
		}
	}

	s.mu.Lock()
	s.buf = append(s.buf, Row{
		At:      s.now().UTC(),
		RunID:   runID,
		Kind:    kind,
		ClaimID: claimID,
		Payload: raw,
	})
	full := len(s.buf) >= s.flushSize
	s.mu.Unlock()

	if full {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

// Close flushes the remaining buffer and releases the pool.
func (s *Sink) Close(ctx context.Context) {
	if s.pool == nil {
		return
	}
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
	s.flush(ctx)
	s.pool.Close()
}

func (s *Sink) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.kick:
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.flush(ctx)
		cancel()
	}
}

// flush writes the buffered rows in one batch. On failure the rows are
// dropped after a log line; the audit trail is best effort.
func (s *Sink) flush(ctx context.Context) {
	s.mu.Lock()
	rows := s.buf
	s.buf = nil
	s.mu.Unlock()
	if len(rows) == 0 {
		return
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertSQL, r.At, r.RunID, r.Kind, r.ClaimID, r.Payload)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range rows {
		if _, err := results.Exec(); err != nil {
			s.log.Warn("activity flush failed", "rows", len(rows), "error", err)
			return
		}
	}
}
