package maintenance

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/itskum47/smsgateway/internal/events"
	"github.com/itskum47/smsgateway/internal/message"
	"github.com/itskum47/smsgateway/internal/queue"
	"github.com/itskum47/smsgateway/internal/store"
	"github.com/itskum47/smsgateway/internal/store/memstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweepDeletesOldTerminalRows(t *testing.T) {
	st := memstore.New()
	q := queue.New(st)
	bus := events.NewBus(testLogger())
	m := New(st, q, bus, testLogger(), Config{RetentionSent: 24 * time.Hour, RetentionFailed: 24 * time.Hour})

	ctx := context.Background()
	id, err := st.Insert(ctx, &message.Message{
		Destination: "+15551234567", Payload: "hi", State: message.StateQueued,
		Priority: message.PriorityNormal, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	sentAt := time.Now().Add(-48 * time.Hour)
	if err := st.UpdateTerminal(ctx, id, message.StateSent, &sentAt, "", 1, nil); err != nil {
		t.Fatalf("UpdateTerminal: %v", err)
	}

	m.sweep(ctx)

	if _, err := st.Get(ctx, id); err != store.ErrNotFound {
		t.Fatalf("expected message deleted by sweep, got err=%v", err)
	}
}

func TestSweepRescuesAbandonedSending(t *testing.T) {
	st := memstore.New()
	q := queue.New(st)
	bus := events.NewBus(testLogger())
	policy := message.DefaultRetryPolicy()
	policy.Jitter = false
	m := New(st, q, bus, testLogger(), Config{RescueAfter: time.Minute, DefaultPolicy: policy})

	ctx := context.Background()
	sendingSince := time.Now().Add(-time.Hour)
	id, err := st.Insert(ctx, &message.Message{
		Destination: "+15551234567", Payload: "hi", State: message.StateSending,
		Priority: message.PriorityNormal, CreatedAt: time.Now().Add(-2 * time.Hour),
		SendingAt: &sendingSince, AttemptCount: 1, MaxAttempts: 3,
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	m.sweep(ctx)

	got, err := st.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != message.StateScheduled {
		t.Fatalf("State = %s, want SCHEDULED after rescue", got.State)
	}
	if got.LastError == "" {
		t.Fatalf("expected LastError to be set on rescue")
	}
	if got.LastError != "abandoned-sending" {
		t.Fatalf("LastError = %q, want abandoned-sending", got.LastError)
	}
}

// TestSweepDoesNotRescueQueuedBacklogAsAbandoned guards against the bug
// where a message that legitimately waits QUEUED longer than RescueAfter,
// without ever being claimed into SENDING, gets mistaken for an abandoned
// send (since CreatedAt, not SendingAt, used to gate the rescue).
func TestSweepDoesNotRescueQueuedBacklogAsAbandoned(t *testing.T) {
	st := memstore.New()
	q := queue.New(st)
	bus := events.NewBus(testLogger())
	m := New(st, q, bus, testLogger(), Config{RescueAfter: time.Minute})

	ctx := context.Background()
	id, err := st.Insert(ctx, &message.Message{
		Destination: "+15551234567", Payload: "hi", State: message.StateQueued,
		Priority: message.PriorityLow, CreatedAt: time.Now().Add(-2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	m.sweep(ctx)

	got, err := st.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != message.StateQueued {
		t.Fatalf("State = %s, want message to remain QUEUED", got.State)
	}
}

func TestSweepFailsAbandonedSendingAtMaxAttempts(t *testing.T) {
	st := memstore.New()
	q := queue.New(st)
	bus := events.NewBus(testLogger())
	policy := message.DefaultRetryPolicy()
	policy.MaxAttempts = 1
	m := New(st, q, bus, testLogger(), Config{RescueAfter: time.Minute, DefaultPolicy: policy})

	ctx := context.Background()
	sendingSince := time.Now().Add(-time.Hour)
	id, err := st.Insert(ctx, &message.Message{
		Destination: "+15551234567", Payload: "hi", State: message.StateSending,
		Priority: message.PriorityNormal, CreatedAt: time.Now().Add(-2 * time.Hour),
		SendingAt: &sendingSince, AttemptCount: 1, MaxAttempts: 1,
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	m.sweep(ctx)

	got, err := st.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != message.StateFailed {
		t.Fatalf("State = %s, want FAILED once MaxAttempts reached", got.State)
	}
}
