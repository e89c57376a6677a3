package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/itskum47/smsgateway/internal/events"
	"github.com/itskum47/smsgateway/internal/message"
	"github.com/itskum47/smsgateway/internal/queue"
	"github.com/itskum47/smsgateway/internal/store/memstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPromoteScheduledMovesDueRowsToQueued(t *testing.T) {
	st := memstore.New()
	q := queue.New(st)
	bus := events.NewBus(testLogger())
	s := New(st, q, bus, testLogger(), time.Hour)

	ctx := context.Background()
	past := time.Now().Add(-time.Minute)
	id, err := q.ScheduleAt(ctx, &message.Message{
		Destination: "+15551234567", Payload: "hi", Priority: message.PriorityNormal, CreatedAt: time.Now(),
	}, past)
	if err != nil {
		t.Fatalf("ScheduleAt: %v", err)
	}

	promoted, expired := s.promoteScheduled(ctx, time.Now())
	if promoted != 1 || expired != 0 {
		t.Fatalf("promoteScheduled = (%d, %d), want (1, 0)", promoted, expired)
	}

	m, err := st.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.State != message.StateQueued {
		t.Fatalf("State = %s, want QUEUED", m.State)
	}
}

func TestPromoteScheduledExpiresStaleRows(t *testing.T) {
	st := memstore.New()
	q := queue.New(st)
	bus := events.NewBus(testLogger())
	s := New(st, q, bus, testLogger(), time.Hour)
	s.expireAfter = time.Minute

	ctx := context.Background()
	longAgo := time.Now().Add(-time.Hour)
	id, err := q.ScheduleAt(ctx, &message.Message{
		Destination: "+15551234567", Payload: "hi", Priority: message.PriorityNormal, CreatedAt: longAgo,
	}, longAgo)
	if err != nil {
		t.Fatalf("ScheduleAt: %v", err)
	}

	promoted, expired := s.promoteScheduled(ctx, time.Now())
	if expired != 1 || promoted != 0 {
		t.Fatalf("promoteScheduled = (%d, %d), want (0, 1)", promoted, expired)
	}

	m, err := st.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.State != message.StateFailed {
		t.Fatalf("State = %s, want FAILED", m.State)
	}
}

func TestPromoteRetriesMovesRetryPendingRows(t *testing.T) {
	st := memstore.New()
	q := queue.New(st)
	bus := events.NewBus(testLogger())
	s := New(st, q, bus, testLogger(), time.Hour)

	ctx := context.Background()
	past := time.Now().Add(-time.Minute)
	id, err := st.Insert(ctx, &message.Message{
		Destination: "+15551234567", Payload: "hi", State: message.StateScheduled,
		Priority: message.PriorityNormal, CreatedAt: time.Now().Add(-time.Hour),
		ScheduledAt: &past, AttemptCount: 1, LastError: "timeout",
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	n := s.promoteRetries(ctx, time.Now())
	if n != 1 {
		t.Fatalf("promoteRetries = %d, want 1", n)
	}
	m, err := st.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.State != message.StateQueued {
		t.Fatalf("State = %s, want QUEUED", m.State)
	}
}
