package config

import (
	"strings"
	"testing"
)

func TestLoadFromReaderDefaultsAndClamps(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
server:
  listen_addr: ":9090"
  log_level: debug
ingest:
  chunk_seconds: 99
  stall_timeout_ms: 100
detection:
  threshold: 0.3
research:
  concurrency: 50
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Ingest.ChunkSeconds != 30 {
		t.Errorf("chunk seconds = %d, want clamped to 30", cfg.Ingest.ChunkSeconds)
	}
	if cfg.Ingest.StallTimeoutMs != 1000 {
		t.Errorf("stall timeout = %d, want clamped to 1000", cfg.Ingest.StallTimeoutMs)
	}
	if cfg.Detection.Threshold != 0.55 {
		t.Errorf("threshold = %v, want clamped to 0.55", cfg.Detection.Threshold)
	}
	if cfg.Research.Concurrency != 10 {
		t.Errorf("concurrency = %d, want clamped to 10", cfg.Research.Concurrency)
	}
}

func TestLoadFromReaderEmptyUsesDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Ingest.ChunkSeconds != 15 {
		t.Errorf("chunk seconds = %d, want default 15", cfg.Ingest.ChunkSeconds)
	}
	if cfg.Ingest.StallTimeoutMs != 45000 {
		t.Errorf("stall timeout = %d, want default 45000", cfg.Ingest.StallTimeoutMs)
	}
	if cfg.Detection.Threshold != 0.62 {
		t.Errorf("threshold = %v, want default 0.62", cfg.Detection.Threshold)
	}
	if cfg.Research.Concurrency != 3 {
		t.Errorf("concurrency = %d, want default 3", cfg.Research.Concurrency)
	}
}

func TestLoadFromReaderUnknownField(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("serverr:\n  listen_addr: ':1'\n"))
	if err == nil {
		t.Fatal("unknown top-level field did not error")
	}
}

func TestValidateJoinsFailures(t *testing.T) {
	cfg := &Config{}
	cfg.Server.LogLevel = "loud"
	cfg.Ingest.MaxRetries = -1
	cfg.Render.MaxAttempts = -2

	err := Validate(cfg)
	if err == nil {
		t.Fatal("invalid config passed validation")
	}
	msg := err.Error()
	for _, want := range []string{"server.log_level", "ingest.max_retries", "render.max_attempts"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %s", msg, want)
		}
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("CLAIMCAST_LISTEN_ADDR", ":7070")
	t.Setenv("CLAIMCAST_PROTECT_READ", "true")

	cfg, err := LoadFromReader(strings.NewReader("server:\n  listen_addr: ':8080'\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Providers.OpenAI.APIKey != "sk-env" {
		t.Errorf("openai key = %q", cfg.Providers.OpenAI.APIKey)
	}
	if cfg.Server.ListenAddr != ":7070" {
		t.Errorf("listen addr = %q, want env to win", cfg.Server.ListenAddr)
	}
	if !cfg.Server.ProtectRead {
		t.Error("protect_read not applied from env")
	}
}

func TestFromEnvPipelineKnobs(t *testing.T) {
	t.Setenv("CLAIMCAST_CHUNK_SECONDS", "20")
	t.Setenv("CLAIMCAST_STALL_TIMEOUT_MS", "60000")
	t.Setenv("CLAIMCAST_RECONNECT", "true")
	t.Setenv("CLAIMCAST_MAX_RETRIES", "7")
	t.Setenv("CLAIMCAST_RETRY_BASE_MS", "500")
	t.Setenv("CLAIMCAST_RETRY_MAX_MS", "8000")
	t.Setenv("CLAIMCAST_DETECTION_THRESHOLD", "0.7")
	t.Setenv("CLAIMCAST_RESEARCH_CONCURRENCY", "5")
	t.Setenv("CLAIMCAST_RENDER_TIMEOUT_MS", "4000")
	t.Setenv("CLAIMCAST_RENDER_MAX_ATTEMPTS", "2")

	cfg, err := LoadFromReader(strings.NewReader("ingest:\n  chunk_seconds: 10\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Ingest.ChunkSeconds != 20 {
		t.Errorf("chunk seconds = %d, want env to win over file", cfg.Ingest.ChunkSeconds)
	}
	if cfg.Ingest.StallTimeoutMs != 60000 {
		t.Errorf("stall timeout = %d", cfg.Ingest.StallTimeoutMs)
	}
	if !cfg.Ingest.Reconnect {
		t.Error("reconnect not applied from env")
	}
	if cfg.Ingest.MaxRetries != 7 {
		t.Errorf("max retries = %d", cfg.Ingest.MaxRetries)
	}
	if cfg.Ingest.RetryBaseMs != 500 || cfg.Ingest.RetryMaxMs != 8000 {
		t.Errorf("retry backoff = %d/%d", cfg.Ingest.RetryBaseMs, cfg.Ingest.RetryMaxMs)
	}
	if cfg.Detection.Threshold != 0.7 {
		t.Errorf("threshold = %v", cfg.Detection.Threshold)
	}
	if cfg.Research.Concurrency != 5 {
		t.Errorf("concurrency = %d", cfg.Research.Concurrency)
	}
	if cfg.Render.TimeoutMs != 4000 {
		t.Errorf("render timeout = %d", cfg.Render.TimeoutMs)
	}
	if cfg.Render.MaxAttempts != 2 {
		t.Errorf("render attempts = %d", cfg.Render.MaxAttempts)
	}
}

func TestFromEnvValuesAreClamped(t *testing.T) {
	t.Setenv("CLAIMCAST_CHUNK_SECONDS", "99")
	t.Setenv("CLAIMCAST_DETECTION_THRESHOLD", "0.2")

	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Ingest.ChunkSeconds != 30 {
		t.Errorf("chunk seconds = %d, want clamped to 30", cfg.Ingest.ChunkSeconds)
	}
	if cfg.Detection.Threshold != 0.55 {
		t.Errorf("threshold = %v, want clamped to 0.55", cfg.Detection.Threshold)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	old := &Config{}
	old.Server.LogLevel = LogInfo
	old.Detection.Threshold = 0.62

	updated := &Config{}
	updated.Server.LogLevel = LogDebug
	updated.Detection.Threshold = 0.7

	d := Diff(old, updated)
	if !d.Changed() {
		t.Fatal("diff reports no change")
	}
	if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if !d.DetectionThresholdChanged || d.NewDetectionThreshold != 0.7 {
		t.Errorf("threshold diff = %+v", d)
	}
	if d.RateLimitChanged {
		t.Error("rate limit flagged without change")
	}

	if Diff(old, old).Changed() {
		t.Error("identical configs report a change")
	}
}
