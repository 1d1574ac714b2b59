package config

// ConfigDiff describes what changed between two configs. Only fields that
// are safe to apply without restarting the run are tracked; everything else
// needs a stop/start.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	DetectionThresholdChanged bool
	NewDetectionThreshold     float64

	RateLimitChanged bool
	NewRateLimit     int
}

// Changed reports whether any hot-reloadable field differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.DetectionThresholdChanged || d.RateLimitChanged
}

// Diff compares old and new configs and returns what changed among the
// hot-reloadable fields.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Detection.Threshold != new.Detection.Threshold {
		d.DetectionThresholdChanged = true
		d.NewDetectionThreshold = new.Detection.Threshold
	}
	if old.Server.RateLimitPerMinute != new.Server.RateLimitPerMinute {
		d.RateLimitChanged = true
		d.NewRateLimit = new.Server.RateLimitPerMinute
	}

	return d
}
