package retry

import (
	"testing"
	"time"

	"github.com/itskum47/smsgateway/internal/message"
)

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		errText string
		want    bool
	}{
		{"connection timeout", true},
		{"connection refused", true},
		{"provider unavailable", true},
		{"rate limit exceeded", true},
		{"temporary failure", true},
		{"invalid destination", false},
		{"authentication failed", false},
		{"number blocked", false},
		{"account suspended", false},
		{"some unclassified error", true},
	}
	for _, c := range cases {
		if got := Retryable(c.errText); got != c.want {
			t.Errorf("Retryable(%q) = %v, want %v", c.errText, got, c.want)
		}
	}
}

func TestDecideTerminalOnNonRetryable(t *testing.T) {
	m := &message.Message{AttemptCount: 1}
	policy := message.DefaultRetryPolicy()
	d := Decide(m, policy, "destination invalid", time.Now())
	if !d.Terminal {
		t.Fatalf("expected terminal decision for non-retryable error")
	}
}

func TestDecideTerminalAtMaxAttempts(t *testing.T) {
	m := &message.Message{AttemptCount: 3}
	policy := message.DefaultRetryPolicy()
	policy.MaxAttempts = 3
	d := Decide(m, policy, "timeout", time.Now())
	if !d.Terminal {
		t.Fatalf("expected terminal decision once attempt_count reaches MaxAttempts")
	}
}

func TestDecideSchedulesRetry(t *testing.T) {
	m := &message.Message{AttemptCount: 1}
	policy := message.DefaultRetryPolicy()
	policy.MaxAttempts = 3
	policy.Jitter = false
	now := time.Now()
	d := Decide(m, policy, "timeout", now)
	if d.Terminal {
		t.Fatalf("expected a non-terminal retry decision")
	}
	if !d.RetryAt.After(now) {
		t.Fatalf("expected RetryAt to be in the future")
	}
}

func TestDelayExponentialDoublesWithoutJitter(t *testing.T) {
	policy := message.RetryPolicy{Strategy: message.StrategyExponential, BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: false}
	d1 := Delay(1, policy)
	d2 := Delay(2, policy)
	d3 := Delay(3, policy)
	if d1 != time.Second {
		t.Fatalf("Delay(1) = %v, want 1s", d1)
	}
	if d2 != 2*time.Second {
		t.Fatalf("Delay(2) = %v, want 2s", d2)
	}
	if d3 != 4*time.Second {
		t.Fatalf("Delay(3) = %v, want 4s", d3)
	}
}

func TestDelayExponentialCapsAtMax(t *testing.T) {
	policy := message.RetryPolicy{Strategy: message.StrategyExponential, BaseDelay: time.Second, MaxDelay: 5 * time.Second, Jitter: false}
	d := Delay(10, policy)
	if d != 5*time.Second {
		t.Fatalf("Delay(10) = %v, want capped at 5s", d)
	}
}

func TestDelayLinear(t *testing.T) {
	policy := message.RetryPolicy{Strategy: message.StrategyLinear, BaseDelay: 2 * time.Second, MaxDelay: time.Minute}
	if got := Delay(3, policy); got != 6*time.Second {
		t.Fatalf("Delay(3) linear = %v, want 6s", got)
	}
}

func TestDelayFixed(t *testing.T) {
	policy := message.RetryPolicy{Strategy: message.StrategyFixed, BaseDelay: 7 * time.Second, MaxDelay: time.Minute}
	if got := Delay(5, policy); got != 7*time.Second {
		t.Fatalf("Delay fixed = %v, want 7s", got)
	}
}

func TestDelayCustomTable(t *testing.T) {
	policy := message.RetryPolicy{
		Strategy:    message.StrategyCustom,
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		CustomTable: []time.Duration{1 * time.Second, 3 * time.Second, 9 * time.Second},
	}
	if got := Delay(2, policy); got != 3*time.Second {
		t.Fatalf("Delay(2) custom = %v, want 3s", got)
	}
	if got := Delay(99, policy); got != time.Second {
		t.Fatalf("Delay out of table bounds should fall back to base, got %v", got)
	}
}

func TestJitterStaysWithinSpread(t *testing.T) {
	policy := message.RetryPolicy{Strategy: message.StrategyExponential, BaseDelay: 4 * time.Second, MaxDelay: time.Minute, Jitter: true}
	for i := 0; i < 50; i++ {
		d := Delay(1, policy)
		if d < 3*time.Second || d > 5*time.Second {
			t.Fatalf("jittered delay %v outside ±25%% of 4s", d)
		}
	}
}
