// Package queue implements the Priority Queue of spec.md §4.2: not a
// separate physical structure, but a logical view over Store rows in state
// QUEUED, ordered by (priority DESC, queue_position ASC, created_at ASC, id
// ASC). The push/pop naming is adapted from the teacher's
// ThreadSafeQueue wrapper (control_plane/scheduler/queue.go), generalized
// from an in-process heap to operations delegating to the Store so the
// ordering survives process restarts.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/itskum47/smsgateway/internal/message"
	"github.com/itskum47/smsgateway/internal/store"
)

// positionBand returns the base offset reserved for priority's band, so
// that higher priorities always sort before lower ones regardless of how
// many messages occupy each band.
func positionBand(p message.Priority) int64 {
	return int64(5-p) * 10_000
}

// Queue serializes position assignment for QUEUED messages against a Store.
type Queue struct {
	st store.Store
	mu sync.Mutex
}

func New(st store.Store) *Queue {
	return &Queue{st: st}
}

// Enqueue inserts a new message as QUEUED, assigning it the next position
// within its priority band.
func (q *Queue) Enqueue(ctx context.Context, m *message.Message) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	m.State = message.StateQueued
	pos, err := q.st.MaxQueuePosition(ctx, m.Priority)
	if err != nil {
		return "", err
	}
	next := pos + 1
	m.QueuePosition = &next
	return q.st.Insert(ctx, m)
}

// Dequeue atomically claims the next message by the ordering rule,
// transitioning it to SENDING.
func (q *Queue) Dequeue(ctx context.Context) (*message.Message, error) {
	return q.st.ClaimNext(ctx)
}

// Remove transitions a QUEUED message out of the queue (e.g. on cancel).
// It is a conditional transition: it fails silently (ok=false) if the
// message is no longer QUEUED.
func (q *Queue) Remove(ctx context.Context, id string, to message.State) (bool, error) {
	return q.st.UpdateState(ctx, id, message.StateQueued, to, store.StateFields{})
}

// Reprioritize moves a QUEUED message to a new priority band, placing it at
// the tail of that band (spec.md §4.2: reprioritizing always re-queues at
// the back of the new band, never ahead of existing peers).
func (q *Queue) Reprioritize(ctx context.Context, id string, newPriority message.Priority) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pos, err := q.st.MaxQueuePosition(ctx, newPriority)
	if err != nil {
		return false, err
	}
	next := pos + 1
	m, err := q.st.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if m.State != message.StateQueued {
		return false, nil
	}
	ok, err := q.st.UpdateState(ctx, id, message.StateQueued, message.StateQueued, store.StateFields{
		QueuePosition: &next,
	})
	if err != nil || !ok {
		return ok, err
	}
	m.Priority = newPriority
	return true, nil
}

func (q *Queue) Clear(ctx context.Context, reason string) (int, error) {
	msgs, err := q.st.ListByState(ctx, message.StateQueued, 0, 0)
	if err != nil {
		return 0, err
	}
	n := 0
	errText := reason
	for _, m := range msgs {
		ok, err := q.st.UpdateState(ctx, m.ID, message.StateQueued, message.StateCancelled, store.StateFields{
			LastError: &errText,
		})
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (q *Queue) Size(ctx context.Context) (int, error) {
	return q.st.CountByState(ctx, message.StateQueued)
}

func (q *Queue) SizeByPriority(ctx context.Context, p message.Priority) (int, error) {
	msgs, err := q.st.ListByState(ctx, message.StateQueued, 0, 0)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range msgs {
		if m.Priority == p {
			n++
		}
	}
	return n, nil
}

// Oldest returns the oldest QUEUED message, used by the Control Surface's
// queue stats to report the oldest-queued timestamp.
func (q *Queue) Oldest(ctx context.Context) (*message.Message, error) {
	return q.st.Oldest(ctx)
}

// AverageWaitMillis returns the mean time, in milliseconds, that currently
// QUEUED messages have been waiting as of now. Returns 0 if the queue is
// empty.
func (q *Queue) AverageWaitMillis(ctx context.Context, now time.Time) (float64, error) {
	msgs, err := q.st.ListByState(ctx, message.StateQueued, 0, 0)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	var total time.Duration
	for _, m := range msgs {
		total += now.Sub(m.CreatedAt)
	}
	return float64(total.Milliseconds()) / float64(len(msgs)), nil
}

// Compact delegates to the Store's position repacking, used by Maintenance
// after a sweep that deleted terminal rows, to keep queue_position dense.
func (q *Queue) Compact(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.st.ReorganizePositions(ctx)
}

// ScheduleAt inserts a message in SCHEDULED state for future promotion by
// the Scheduler, rather than QUEUED immediately.
func (q *Queue) ScheduleAt(ctx context.Context, m *message.Message, at time.Time) (string, error) {
	m.State = message.StateScheduled
	m.ScheduledAt = &at
	return q.st.Insert(ctx, m)
}
