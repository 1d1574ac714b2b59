package ingest

import (
	"math/rand"
	"time"
)

const (
	minReconnectDelayMs = 250
	maxJitterMs         = 500
	minJitterCeilingMs  = 80

	defaultRetryBaseMs = 1000
	defaultRetryMaxMs  = 15000
)

// ReconnectDelay computes the backoff before reconnect attempt n (1-based):
// exponential growth from baseMs capped at maxMs, plus a small jitter, with
// a floor of 250 ms. rnd(n) must return a uniform integer in [0, n); pass
// nil for math/rand.
func ReconnectDelay(attempt, baseMs, maxMs int, rnd func(int) int) time.Duration {
	if rnd == nil {
		rnd = rand.Intn
	}
	if baseMs <= 0 {
		baseMs = defaultRetryBaseMs
	}
	if maxMs <= 0 {
		maxMs = defaultRetryMaxMs
	}
	if attempt < 1 {
		attempt = 1
	}

	backoff := baseMs
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= maxMs {
			backoff = maxMs
			break
		}
	}
	if backoff > maxMs {
		backoff = maxMs
	}

	jitterCeiling := backoff / 5
	if jitterCeiling < minJitterCeilingMs {
		jitterCeiling = minJitterCeilingMs
	}
	if jitterCeiling > maxJitterMs {
		jitterCeiling = maxJitterMs
	}

	delay := backoff + rnd(jitterCeiling)
	if delay < minReconnectDelayMs {
		delay = minReconnectDelayMs
	}
	return time.Duration(delay) * time.Millisecond
}
