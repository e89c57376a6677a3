// Package store defines the Store contract of spec.md §4.1: the durable,
// single source of truth for Messages, providing atomic state transitions
// and indexed queries for every other component.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/itskum47/smsgateway/internal/message"
)

var (
	ErrNotFound = errors.New("store: message not found")
	// ErrConflict is returned by the in-memory Store's Insert for a message
	// whose State is not a valid lifecycle state. UpdateState does not use
	// it: a `from` state mismatch is reported as ok=false with a nil error.
	ErrConflict = errors.New("store: conditional update conflict")
	// ErrEmpty is returned by ClaimNext when no QUEUED message is available.
	ErrEmpty = errors.New("store: queue is empty")
)

// Store is the durable persistence and retrieval contract, implemented by a
// Postgres-backed store in production and an in-memory store for tests.
type Store interface {
	Insert(ctx context.Context, m *message.Message) (string, error)
	Get(ctx context.Context, id string) (*message.Message, error)

	// UpdateState performs a conditional transition: it succeeds only if the
	// message's current state equals from. fields carries the subset of
	// mutable attributes this transition sets (last_error, sent_at, etc).
	UpdateState(ctx context.Context, id string, from, to message.State, fields StateFields) (bool, error)

	// UpdateTerminal is an unconditional terminal write used by the Retry
	// Engine's decision (either a FAILED-terminal write, or a SCHEDULED
	// retry-pending write carrying the next attempt time).
	UpdateTerminal(ctx context.Context, id string, to message.State, sentAt *time.Time, errText string, attemptCount int, scheduledAt *time.Time) error

	// ClaimNext atomically selects one QUEUED message by the ordering rule
	// and transitions it to SENDING, incrementing AttemptCount. Returns
	// ErrEmpty if no QUEUED message exists.
	ClaimNext(ctx context.Context) (*message.Message, error)

	ListByState(ctx context.Context, state message.State, limit, offset int) ([]*message.Message, error)
	ListScheduledDue(ctx context.Context, now time.Time) ([]*message.Message, error)
	ListRetryDue(ctx context.Context, now time.Time) ([]*message.Message, error)
	CountByState(ctx context.Context, state message.State) (int, error)

	ReorganizePositions(ctx context.Context) error
	DeleteTerminalOlderThan(ctx context.Context, state message.State, cutoff time.Time) (int, error)

	// ListSendingOlderThan supports Maintenance's rescue of abandoned SENDING rows.
	ListSendingOlderThan(ctx context.Context, cutoff time.Time) ([]*message.Message, error)

	// MaxQueuePosition returns the highest queue_position currently assigned
	// within priority's band, used by the Priority Queue to compute the next
	// position on Enqueue/Reprioritize.
	MaxQueuePosition(ctx context.Context, priority message.Priority) (int64, error)

	// Oldest returns the oldest QUEUED message by created_at, or nil.
	Oldest(ctx context.Context) (*message.Message, error)

	Close()
}

// StateFields carries the subset of attributes a conditional UpdateState may set.
type StateFields struct {
	QueuePosition *int64
	ScheduledAt   *time.Time
	SentAt        *time.Time
	LastError     *string
	AttemptCount  *int
}
