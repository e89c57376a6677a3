package health

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/itskum47/smsgateway/internal/message"
	"github.com/itskum47/smsgateway/internal/queue"
	"github.com/itskum47/smsgateway/internal/store/memstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckHealthyWithEmptyQueue(t *testing.T) {
	st := memstore.New()
	q := queue.New(st)
	m := New(st, q, testLogger(), Config{})

	report := m.Check(context.Background())
	if report.Overall != Healthy {
		t.Fatalf("Overall = %s, want HEALTHY", report.Overall)
	}
}

func TestCheckCriticalAboveQueueCriticalDepth(t *testing.T) {
	st := memstore.New()
	q := queue.New(st)
	m := New(st, q, testLogger(), Config{QueueWarnDepth: 2, QueueCriticalDepth: 3})

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		q.Enqueue(ctx, &message.Message{
			Destination: "+15551234567", Payload: "hi", Priority: message.PriorityNormal, CreatedAt: time.Now(),
		})
	}

	report := m.Check(ctx)
	if report.Overall != Critical {
		t.Fatalf("Overall = %s, want CRITICAL", report.Overall)
	}
}

func TestCheckWarningAboveQueueWarnDepth(t *testing.T) {
	st := memstore.New()
	q := queue.New(st)
	m := New(st, q, testLogger(), Config{QueueWarnDepth: 2, QueueCriticalDepth: 10})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		q.Enqueue(ctx, &message.Message{
			Destination: "+15551234567", Payload: "hi", Priority: message.PriorityNormal, CreatedAt: time.Now(),
		})
	}

	report := m.Check(ctx)
	if report.Overall != Warning {
		t.Fatalf("Overall = %s, want WARNING", report.Overall)
	}
}

func TestCheckTransportCriticalOnRecentFailure(t *testing.T) {
	st := memstore.New()
	q := queue.New(st)
	m := New(st, q, testLogger(), Config{})

	now := time.Now()
	m.RecordSendSuccess(now.Add(-time.Hour))
	m.RecordSendFailure(now)

	report := m.Check(context.Background())
	if report.Overall != Critical {
		t.Fatalf("Overall = %s, want CRITICAL after recent send failure", report.Overall)
	}
}

func TestCheckErrorRateCriticalAboveThreshold(t *testing.T) {
	st := memstore.New()
	q := queue.New(st)
	m := New(st, q, testLogger(), Config{ErrorRateWarn: 0.1, ErrorRateCritical: 0.25, ErrorRateMinSamples: 2})

	now := time.Now()
	m.RecordSendSuccess(now)
	m.RecordSendFailure(now)
	m.RecordSendFailure(now)

	report := m.Check(context.Background())
	if report.Overall != Critical {
		t.Fatalf("Overall = %s, want CRITICAL with 2/3 sends failing", report.Overall)
	}
}

func TestCheckErrorRateIgnoresOldSamples(t *testing.T) {
	st := memstore.New()
	q := queue.New(st)
	m := New(st, q, testLogger(), Config{ErrorRateWarn: 0.1, ErrorRateCritical: 0.25, ErrorRateMinSamples: 1})

	now := time.Now()
	m.RecordSendFailure(now.Add(-2 * time.Hour))
	m.RecordSendSuccess(now)

	sent, failed := m.WindowCounts(now)
	if sent != 1 || failed != 0 {
		t.Fatalf("WindowCounts = (%d, %d), want failure outside the window excluded", sent, failed)
	}
}

func TestCheckErrorRateHealthyBelowMinSamples(t *testing.T) {
	st := memstore.New()
	q := queue.New(st)
	m := New(st, q, testLogger(), Config{ErrorRateWarn: 0.1, ErrorRateCritical: 0.25, ErrorRateMinSamples: 10})

	now := time.Now()
	m.RecordSendFailure(now)

	report := m.Check(context.Background())
	if report.Overall != Healthy {
		t.Fatalf("Overall = %s, want HEALTHY below the minimum sample count", report.Overall)
	}
}

func TestLastReturnsMostRecentCheck(t *testing.T) {
	st := memstore.New()
	q := queue.New(st)
	m := New(st, q, testLogger(), Config{})

	if !m.Last().CheckedAt.IsZero() {
		t.Fatalf("expected zero-value report before first Check")
	}
	m.Check(context.Background())
	if m.Last().CheckedAt.IsZero() {
		t.Fatalf("expected Last() to reflect the completed Check")
	}
}
