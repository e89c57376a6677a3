// Package memstore is an in-memory Store implementation used by unit tests
// and local development. Its claim-ordering structure is adapted from the
// teacher's container/heap-based TaskQueue
// (control_plane/scheduler/queue.go): Less is rewritten to implement
// spec.md §3's exact total order (priority DESC, queue_position ASC,
// created_at ASC, id ASC) instead of the teacher's priority-aging formula.
package memstore

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/itskum47/smsgateway/internal/message"
	"github.com/itskum47/smsgateway/internal/store"
)

// queuedHeap orders *message.Message by the ordering rule of spec.md §3.
// Only messages in StateQueued are ever pushed onto it.
type queuedHeap []*message.Message

func (h queuedHeap) Len() int { return len(h) }

func (h queuedHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.Priority != b.Priority {
		return a.Priority > b.Priority // DESC
	}
	ap, bp := posOf(a), posOf(b)
	if ap != bp {
		return ap < bp // ASC
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt) // ASC
	}
	return a.ID < b.ID // ASC
}

func posOf(m *message.Message) int64 {
	if m.QueuePosition == nil {
		return 0
	}
	return *m.QueuePosition
}

func (h queuedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *queuedHeap) Push(x any) { *h = append(*h, x.(*message.Message)) }

func (h *queuedHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Store is an in-memory Store. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	messages map[string]*message.Message
	queued   queuedHeap
}

func New() *Store {
	return &Store{
		messages: make(map[string]*message.Message),
		queued:   make(queuedHeap, 0),
	}
}

func (s *Store) Close() {}

func (s *Store) Insert(_ context.Context, m *message.Message) (string, error) {
	if !m.State.Valid() {
		return "", store.ErrConflict
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	stored := m.Clone()
	s.messages[stored.ID] = stored
	if stored.State == message.StateQueued {
		heap.Push(&s.queued, stored)
	}
	return stored.ID, nil
}

func (s *Store) Get(_ context.Context, id string) (*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m.Clone(), nil
}

func (s *Store) UpdateState(_ context.Context, id string, from, to message.State, fields store.StateFields) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if m.State != from {
		return false, nil
	}

	if from == message.StateQueued {
		s.removeFromHeap(id)
	}

	m.State = to
	if fields.QueuePosition != nil {
		m.QueuePosition = fields.QueuePosition
	} else if to != message.StateQueued {
		m.QueuePosition = nil
	}
	if fields.ScheduledAt != nil {
		m.ScheduledAt = fields.ScheduledAt
	}
	if fields.SentAt != nil {
		m.SentAt = fields.SentAt
	}
	if fields.LastError != nil {
		m.LastError = *fields.LastError
	}
	if fields.AttemptCount != nil {
		m.AttemptCount = *fields.AttemptCount
	}

	if to == message.StateQueued {
		heap.Push(&s.queued, m)
	}
	return true, nil
}

func (s *Store) removeFromHeap(id string) {
	for i, m := range s.queued {
		if m.ID == id {
			heap.Remove(&s.queued, i)
			return
		}
	}
}

func (s *Store) UpdateTerminal(_ context.Context, id string, to message.State, sentAt *time.Time, errText string, attemptCount int, scheduledAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return store.ErrNotFound
	}
	if m.State == message.StateQueued {
		s.removeFromHeap(id)
	}
	m.State = to
	m.SentAt = sentAt
	m.LastError = errText
	m.AttemptCount = attemptCount
	m.ScheduledAt = scheduledAt
	m.QueuePosition = nil
	return nil
}

func (s *Store) ClaimNext(_ context.Context) (*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queued.Len() == 0 {
		return nil, store.ErrEmpty
	}
	m := heap.Pop(&s.queued).(*message.Message)
	now := time.Now()
	m.State = message.StateSending
	m.QueuePosition = nil
	m.AttemptCount++
	m.SendingAt = &now
	return m.Clone(), nil
}

func (s *Store) ListByState(_ context.Context, state message.State, limit, offset int) ([]*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*message.Message
	for _, m := range s.messages {
		if m.State == state {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if offset > len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	cloned := make([]*message.Message, len(out))
	for i, m := range out {
		cloned[i] = m.Clone()
	}
	return cloned, nil
}

func (s *Store) ListScheduledDue(_ context.Context, now time.Time) ([]*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*message.Message
	for _, m := range s.messages {
		if m.State == message.StateScheduled && m.AttemptCount == 0 && m.ScheduledAt != nil && !m.ScheduledAt.After(now) {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

// ListRetryDue returns SCHEDULED messages that are retry-pending (i.e. they
// carry a non-zero AttemptCount, distinguishing a retry wait from a
// fresh future-scheduled submission) whose ScheduledAt is due.
func (s *Store) ListRetryDue(_ context.Context, now time.Time) ([]*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*message.Message
	for _, m := range s.messages {
		if m.State == message.StateScheduled && m.AttemptCount > 0 && m.ScheduledAt != nil && !m.ScheduledAt.After(now) {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

func (s *Store) CountByState(_ context.Context, state message.State) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.messages {
		if m.State == state {
			n++
		}
	}
	return n, nil
}

// ReorganizePositions densely repacks queue_position within each priority
// band, preserving relative order. Idempotent: calling it twice in a row
// leaves positions unchanged the second time.
func (s *Store) ReorganizePositions(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byPriority := map[message.Priority][]*message.Message{}
	for _, m := range s.queued {
		byPriority[m.Priority] = append(byPriority[m.Priority], m)
	}
	for p, msgs := range byPriority {
		sort.Slice(msgs, func(i, j int) bool {
			if posOf(msgs[i]) != posOf(msgs[j]) {
				return posOf(msgs[i]) < posOf(msgs[j])
			}
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		})
		base := int64(5-p) * 10_000
		for i, m := range msgs {
			pos := base + int64(i) + 1
			m.QueuePosition = &pos
		}
	}
	heap.Init(&s.queued)
	return nil
}

func (s *Store) DeleteTerminalOlderThan(_ context.Context, state message.State, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, m := range s.messages {
		if m.State != state || !m.State.Terminal() {
			continue
		}
		cmp := m.CreatedAt
		if m.SentAt != nil {
			cmp = *m.SentAt
		}
		if cmp.Before(cutoff) {
			delete(s.messages, id)
			n++
		}
	}
	return n, nil
}

// ListSendingOlderThan returns rows stuck in SENDING since before cutoff,
// measured from SendingAt (when the row was claimed), not CreatedAt: a
// message can wait QUEUED far longer than the rescue window without ever
// having been claimed. A row with no SendingAt was never properly claimed
// and is excluded rather than guessed at.
func (s *Store) ListSendingOlderThan(_ context.Context, cutoff time.Time) ([]*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*message.Message
	for _, m := range s.messages {
		if m.State == message.StateSending && m.SendingAt != nil && m.SendingAt.Before(cutoff) {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

func (s *Store) MaxQueuePosition(_ context.Context, priority message.Priority) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := int64(5-priority) * 10_000
	max := base
	for _, m := range s.queued {
		if m.Priority == priority && posOf(m) > max {
			max = posOf(m)
		}
	}
	return max, nil
}

func (s *Store) Oldest(_ context.Context) (*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queued.Len() == 0 {
		return nil, nil
	}
	var oldest *message.Message
	for _, m := range s.queued {
		if oldest == nil || m.CreatedAt.Before(oldest.CreatedAt) {
			oldest = m
		}
	}
	return oldest.Clone(), nil
}

var _ store.Store = (*Store)(nil)
