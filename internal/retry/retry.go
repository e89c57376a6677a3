// Package retry implements the Retry Engine: pure failure classification and
// delay computation, grounded in kart-io-notifyhub's queue/retry/policy.go
// NextRetry/ShouldRetry shape, generalized to spec.md §4.4's four
// strategies and classification table. No I/O is performed here; Decide
// returns a decision the Dispatcher applies to the Store.
package retry

import (
	"math/rand"
	"strings"
	"time"

	"github.com/itskum47/smsgateway/internal/message"
)

var retryableSubstrings = []string{"timeout", "refused", "unavailable", "rate limit", "temporary"}
var nonRetryableSubstrings = []string{"invalid", "authentication", "blocked", "suspended"}

// Retryable classifies an error string per spec.md §4.4. Unknown errors
// default to retryable.
func Retryable(errText string) bool {
	lower := strings.ToLower(errText)
	for _, s := range nonRetryableSubstrings {
		if strings.Contains(lower, s) {
			return false
		}
	}
	for _, s := range retryableSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return true
}

// Decision is the outcome of Decide.
type Decision struct {
	Terminal     bool
	RetryAt      time.Time
	AttemptCount int
	LastError    string
}

// Decide implements spec.md §4.4: attempt_count has already been
// incremented by the Dispatcher at claim time (see SPEC_FULL.md's Open
// Question resolution), so Decide treats the message's current
// AttemptCount as the count of attempts made so far, including the one that
// just failed.
func Decide(m *message.Message, policy message.RetryPolicy, errText string, now time.Time) Decision {
	d := Decision{AttemptCount: m.AttemptCount, LastError: errText}

	if !Retryable(errText) {
		d.Terminal = true
		return d
	}
	if m.AttemptCount >= policy.MaxAttempts {
		d.Terminal = true
		return d
	}

	delay := Delay(m.AttemptCount, policy)
	d.RetryAt = now.Add(delay)
	return d
}

// Delay computes the next-attempt delay for the given (already-made) attempt
// count under policy, per spec.md §4.4's strategy table.
func Delay(attempt int, policy message.RetryPolicy) time.Duration {
	base := policy.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	max := policy.MaxDelay
	if max <= 0 {
		max = 60 * time.Second
	}

	var d time.Duration
	switch policy.Strategy {
	case message.StrategyExponential:
		d = expDelay(attempt, base, max)
		if policy.Jitter {
			d = jitter(d)
		}
	case message.StrategyLinear:
		d = time.Duration(attempt) * base
		if d > max {
			d = max
		}
	case message.StrategyFixed:
		d = base
	case message.StrategyCustom:
		idx := attempt - 1
		if idx >= 0 && idx < len(policy.CustomTable) {
			d = policy.CustomTable[idx]
		} else {
			d = base
		}
	default:
		d = expDelay(attempt, base, max)
	}

	if d < 0 {
		d = 0
	}
	return d
}

func expDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := int64(1) << uint(min(attempt-1, 32))
	d := base * time.Duration(mult)
	if d <= 0 || d > max {
		d = max
	}
	return d
}

// jitter applies ±25% uniform jitter, per spec.md §4.4.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	spread := float64(d) * 0.25
	offset := (rand.Float64()*2 - 1) * spread
	result := time.Duration(float64(d) + offset)
	if result < 0 {
		return 0
	}
	return result
}
