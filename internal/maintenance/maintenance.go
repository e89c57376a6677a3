// Package maintenance implements spec.md §4.6: periodic compaction that
// deletes old terminal rows, rescues abandoned SENDING rows back into the
// Retry Engine, and expires stale SCHEDULED rows. The ticker-driven Run
// loop is grounded in the teacher's LockJanitor
// (control_plane/coordination/janitor.go), generalized from lock-fencing to
// message-lifecycle cleanup.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/itskum47/smsgateway/internal/events"
	"github.com/itskum47/smsgateway/internal/message"
	"github.com/itskum47/smsgateway/internal/queue"
	"github.com/itskum47/smsgateway/internal/retry"
	"github.com/itskum47/smsgateway/internal/store"
)

// Config controls retention windows and thresholds, per spec.md §4.6 defaults.
type Config struct {
	Interval       time.Duration
	RetentionSent  time.Duration
	RetentionFailed time.Duration
	RescueAfter    time.Duration
	DefaultPolicy  message.RetryPolicy
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 24 * time.Hour
	}
	if c.RetentionSent <= 0 {
		c.RetentionSent = 14 * 24 * time.Hour
	}
	if c.RetentionFailed <= 0 {
		c.RetentionFailed = 7 * 24 * time.Hour
	}
	if c.RescueAfter <= 0 {
		c.RescueAfter = time.Hour
	}
	if c.DefaultPolicy.MaxAttempts == 0 {
		c.DefaultPolicy = message.DefaultRetryPolicy()
	}
	return c
}

type Maintenance struct {
	st  store.Store
	q   *queue.Queue
	bus *events.Bus
	log *slog.Logger
	cfg Config
}

func New(st store.Store, q *queue.Queue, bus *events.Bus, log *slog.Logger, cfg Config) *Maintenance {
	return &Maintenance{st: st, q: q, bus: bus, log: log, cfg: cfg.withDefaults()}
}

func (m *Maintenance) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Maintenance) sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("maintenance sweep panicked", "recover", r)
		}
	}()

	now := time.Now()

	deletedSent, err := m.st.DeleteTerminalOlderThan(ctx, message.StateSent, now.Add(-m.cfg.RetentionSent))
	if err != nil {
		m.log.Error("delete old sent failed", "error", err)
	}
	deletedFailed, err := m.st.DeleteTerminalOlderThan(ctx, message.StateFailed, now.Add(-m.cfg.RetentionFailed))
	if err != nil {
		m.log.Error("delete old failed failed", "error", err)
	}

	rescued := m.rescueAbandonedSending(ctx, now)
	expired := m.expireStaleScheduled(ctx, now)

	var recs []string
	if deletedSent+deletedFailed > 0 {
		if err := m.q.Compact(ctx); err != nil {
			m.log.Error("reorganize positions failed", "error", err)
		} else {
			recs = append(recs, "compacted queue positions after deletions")
		}
	}

	m.bus.Publish(events.Event{
		Header: events.Header{Kind: events.KindQueueMaintenance, Timestamp: now, Source: "maintenance"},
		Payload: events.MaintenancePayload{
			DeletedSent: deletedSent, DeletedFailed: deletedFailed, Rescued: rescued, Expired: expired, Recommendations: recs,
		},
	})
}

// rescueAbandonedSending treats any row stuck in SENDING past RescueAfter as
// an abandoned attempt (e.g. a worker crashed mid-send) and routes it
// through the Retry Engine rather than leaving it stranded.
func (m *Maintenance) rescueAbandonedSending(ctx context.Context, now time.Time) int {
	stuck, err := m.st.ListSendingOlderThan(ctx, now.Add(-m.cfg.RescueAfter))
	if err != nil {
		m.log.Error("list sending older than failed", "error", err)
		return 0
	}
	n := 0
	for _, msg := range stuck {
		policy := m.cfg.DefaultPolicy
		if msg.MaxAttempts > 0 {
			policy.MaxAttempts = msg.MaxAttempts
		}
		decision := retry.Decide(msg, policy, "abandoned-sending", now)
		if decision.Terminal {
			if err := m.st.UpdateTerminal(ctx, msg.ID, message.StateFailed, nil, decision.LastError, decision.AttemptCount, nil); err != nil {
				m.log.Error("rescue-to-failed failed", "id", msg.ID, "error", err)
				continue
			}
		} else {
			retryAt := decision.RetryAt
			if err := m.st.UpdateTerminal(ctx, msg.ID, message.StateScheduled, nil, decision.LastError, decision.AttemptCount, &retryAt); err != nil {
				m.log.Error("rescue-to-scheduled failed", "id", msg.ID, "error", err)
				continue
			}
		}
		n++
	}
	return n
}

func (m *Maintenance) expireStaleScheduled(ctx context.Context, now time.Time) int {
	due, err := m.st.ListScheduledDue(ctx, now.Add(-24*time.Hour))
	if err != nil {
		m.log.Error("list scheduled due failed", "error", err)
		return 0
	}
	n := 0
	for _, msg := range due {
		if err := m.st.UpdateTerminal(ctx, msg.ID, message.StateFailed, nil, "expired-before-promotion", msg.AttemptCount, nil); err != nil {
			m.log.Error("expire stale scheduled failed", "id", msg.ID, "error", err)
			continue
		}
		n++
	}
	return n
}
