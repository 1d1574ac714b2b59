package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. A missing file is not an error: claimcast can run entirely from
// environment variables.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := &Config{}
		FromEnv(cfg)
		return cfg, Validate(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment
// overrides, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	FromEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv overlays documented environment variables onto cfg. Set values
// win over the file.
func FromEnv(cfg *Config) {
	setString(&cfg.Server.ListenAddr, "CLAIMCAST_LISTEN_ADDR")
	if v := os.Getenv("CLAIMCAST_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
	setString(&cfg.Server.ControlPassword, "CLAIMCAST_CONTROL_PASSWORD")
	setBool(&cfg.Server.ProtectRead, "CLAIMCAST_PROTECT_READ")
	setInt(&cfg.Server.RateLimitPerMinute, "CLAIMCAST_RATE_LIMIT_PER_MINUTE")

	setInt(&cfg.Ingest.ChunkSeconds, "CLAIMCAST_CHUNK_SECONDS")
	setInt(&cfg.Ingest.StallTimeoutMs, "CLAIMCAST_STALL_TIMEOUT_MS")
	setBool(&cfg.Ingest.Reconnect, "CLAIMCAST_RECONNECT")
	setInt(&cfg.Ingest.MaxRetries, "CLAIMCAST_MAX_RETRIES")
	setInt(&cfg.Ingest.RetryBaseMs, "CLAIMCAST_RETRY_BASE_MS")
	setInt(&cfg.Ingest.RetryMaxMs, "CLAIMCAST_RETRY_MAX_MS")

	setFloat(&cfg.Detection.Threshold, "CLAIMCAST_DETECTION_THRESHOLD")
	setInt(&cfg.Research.Concurrency, "CLAIMCAST_RESEARCH_CONCURRENCY")

	setString(&cfg.Providers.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.Providers.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.Providers.OpenAI.TranscribeModel, "CLAIMCAST_TRANSCRIBE_MODEL")
	setString(&cfg.Providers.OpenAI.VerifierModel, "CLAIMCAST_VERIFIER_MODEL")
	setString(&cfg.Providers.FactCheck.APIKey, "FACTCHECK_API_KEY")
	setString(&cfg.Providers.Fred.APIKey, "FRED_API_KEY")
	setString(&cfg.Providers.Congress.APIKey, "CONGRESS_API_KEY")

	setString(&cfg.Render.Endpoint, "CLAIMCAST_RENDER_ENDPOINT")
	setInt(&cfg.Render.TimeoutMs, "CLAIMCAST_RENDER_TIMEOUT_MS")
	setInt(&cfg.Render.MaxAttempts, "CLAIMCAST_RENDER_MAX_ATTEMPTS")
	setString(&cfg.Render.ArtifactDir, "CLAIMCAST_ARTIFACT_DIR")
	setString(&cfg.Activity.PostgresDSN, "ACTIVITY_POSTGRES_DSN")
}

// Validate checks that cfg contains a coherent set of values and clamps
// numeric knobs to their documented ranges. It returns a joined error
// listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.RateLimitPerMinute < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit_per_minute %d must not be negative", cfg.Server.RateLimitPerMinute))
	}

	cfg.Ingest.ChunkSeconds = clampInt(cfg.Ingest.ChunkSeconds, 5, 30, 15)
	cfg.Ingest.StallTimeoutMs = clampInt(cfg.Ingest.StallTimeoutMs, 1000, 300000, 45000)
	if cfg.Ingest.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("ingest.max_retries %d must not be negative", cfg.Ingest.MaxRetries))
	}
	if cfg.Ingest.RetryBaseMs < 0 || cfg.Ingest.RetryMaxMs < 0 {
		errs = append(errs, errors.New("ingest retry backoff values must not be negative"))
	}
	if cfg.Ingest.RetryMaxMs != 0 && cfg.Ingest.RetryBaseMs > cfg.Ingest.RetryMaxMs {
		errs = append(errs, fmt.Errorf("ingest.retry_base_ms %d exceeds ingest.retry_max_ms %d", cfg.Ingest.RetryBaseMs, cfg.Ingest.RetryMaxMs))
	}

	cfg.Detection.Threshold = clampFloat(cfg.Detection.Threshold, 0.55, 0.9, 0.62)
	cfg.Research.Concurrency = clampInt(cfg.Research.Concurrency, 1, 10, 3)

	if cfg.Render.TimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("render.timeout_ms %d must not be negative", cfg.Render.TimeoutMs))
	}
	if cfg.Render.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("render.max_attempts %d must not be negative", cfg.Render.MaxAttempts))
	}

	return errors.Join(errs...)
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func setFloat(dst *float64, env string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}

func setBool(dst *bool, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v == "1" || strings.EqualFold(v, "true")
	}
}

func clampInt(v, min, max, def int) int {
	switch {
	case v == 0:
		return def
	case v < min:
		return min
	case v > max:
		return max
	}
	return v
}

func clampFloat(v, min, max, def float64) float64 {
	switch {
	case v == 0:
		return def
	case v < min:
		return min
	case v > max:
		return max
	}
	return v
}
