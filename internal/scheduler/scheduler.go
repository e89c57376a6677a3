// Package scheduler implements the Scheduler component of spec.md §4.3: a
// ticker-driven loop that promotes due SCHEDULED messages (both
// fresh future-scheduled submissions and retry-pending ones) into QUEUED,
// and expires scheduled messages that sat unpromoted too long. Grounded in
// the teacher's worker() ticker/panic-recover loop
// (control_plane/scheduler/scheduler.go), generalized from task execution
// to row promotion.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/itskum47/smsgateway/internal/events"
	"github.com/itskum47/smsgateway/internal/message"
	"github.com/itskum47/smsgateway/internal/queue"
	"github.com/itskum47/smsgateway/internal/store"
)

// DefaultExpireAfter bounds how long a SCHEDULED row may sit unpromoted past its
// scheduled_at before the Scheduler expires it to FAILED, per spec.md §4.3.
const DefaultExpireAfter = 24 * time.Hour

type Scheduler struct {
	st       store.Store
	q        *queue.Queue
	bus      *events.Bus
	log      *slog.Logger
	interval time.Duration
	expireAfter time.Duration
}

func New(st store.Store, q *queue.Queue, bus *events.Bus, log *slog.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Scheduler{
		st:          st,
		q:           q,
		bus:         bus,
		log:         log,
		interval:    interval,
		expireAfter: DefaultExpireAfter,
	}
}

// Run blocks until ctx is cancelled, promoting due rows every interval.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler tick panicked", "recover", r)
		}
	}()

	now := time.Now()
	scheduledPromoted, expired := s.promoteScheduled(ctx, now)
	retryPromoted := s.promoteRetries(ctx, now)

	if scheduledPromoted == 0 && retryPromoted == 0 && expired == 0 {
		return
	}
	s.bus.Publish(events.Event{
		Header:  events.Header{Kind: events.KindQueuePromoted, Timestamp: now, Source: "scheduler"},
		Payload: events.QueuePromotedPayload{ScheduledPromoted: scheduledPromoted, RetryPromoted: retryPromoted, Expired: expired},
	})
}

func (s *Scheduler) promoteScheduled(ctx context.Context, now time.Time) (promoted, expired int) {
	due, err := s.st.ListScheduledDue(ctx, now)
	if err != nil {
		s.log.Error("list scheduled due failed", "error", err)
		return 0, 0
	}
	for _, m := range due {
		if m.ScheduledAt != nil && now.Sub(*m.ScheduledAt) > s.expireAfter {
			errText := "expired-before-promotion"
			if err := s.st.UpdateTerminal(ctx, m.ID, message.StateFailed, nil, errText, m.AttemptCount, nil); err != nil {
				s.log.Error("expire scheduled message failed", "id", m.ID, "error", err)
				continue
			}
			expired++
			continue
		}
		if s.enqueueDue(ctx, m) {
			promoted++
		}
	}
	return promoted, expired
}

func (s *Scheduler) promoteRetries(ctx context.Context, now time.Time) int {
	due, err := s.st.ListRetryDue(ctx, now)
	if err != nil {
		s.log.Error("list retry due failed", "error", err)
		return 0
	}
	n := 0
	for _, m := range due {
		if s.enqueueDue(ctx, m) {
			n++
		}
	}
	return n
}

func (s *Scheduler) enqueueDue(ctx context.Context, m *message.Message) bool {
	pos, err := s.st.MaxQueuePosition(ctx, m.Priority)
	if err != nil {
		s.log.Error("max queue position failed", "id", m.ID, "error", err)
		return false
	}
	next := pos + 1
	ok, err := s.st.UpdateState(ctx, m.ID, message.StateScheduled, message.StateQueued, store.StateFields{
		QueuePosition: &next,
	})
	if err != nil {
		s.log.Error("promote message failed", "id", m.ID, "error", err)
		return false
	}
	return ok
}
