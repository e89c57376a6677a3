// Package pgstore is the PostgreSQL-backed Store, the production durable
// persistence layer of spec.md §4.1. Grounded in the teacher's
// control_plane/store/postgres.go pgxpool setup and query style, with
// ClaimNext rewritten around SELECT ... FOR UPDATE SKIP LOCKED to claim
// exactly one row under concurrent dispatcher workers.
package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/itskum47/smsgateway/internal/message"
	"github.com/itskum47/smsgateway/internal/store"
	"github.com/itskum47/smsgateway/internal/tracing"
)

// Store implements store.Store against PostgreSQL.
type Store struct {
	pool  *pgxpool.Pool
	trace *tracing.Provider
}

// WithTracing attaches a tracing.Provider so ClaimNext is instrumented
// with a span, per spec.md's ambient observability expectations.
func (s *Store) WithTracing(tp *tracing.Provider) *Store {
	s.trace = tp
	return s
}

// New opens a connection pool and verifies connectivity.
func New(ctx context.Context, connString string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 25
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Insert(ctx context.Context, m *message.Message) (string, error) {
	const q = `
		INSERT INTO messages
			(id, destination, payload, state, priority, created_at, scheduled_at,
			 last_error, attempt_count, max_attempts, retry_strategy, queue_position, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`
	var id string
	err := s.pool.QueryRow(ctx, q,
		m.ID, m.Destination, m.Payload, m.State, m.Priority, m.CreatedAt, m.ScheduledAt,
		m.LastError, m.AttemptCount, m.MaxAttempts, m.RetryStrategy, m.QueuePosition, m.Metadata,
	).Scan(&id)
	return id, err
}

const selectColumns = `id, destination, payload, state, priority, created_at, scheduled_at, sent_at, sending_at,
	       last_error, attempt_count, max_attempts, retry_strategy, queue_position, metadata`

func (s *Store) Get(ctx context.Context, id string) (*message.Message, error) {
	q := `SELECT ` + selectColumns + ` FROM messages WHERE id = $1`
	m, err := scanOne(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return m, err
}

func scanOne(row pgx.Row) (*message.Message, error) {
	var m message.Message
	if err := row.Scan(
		&m.ID, &m.Destination, &m.Payload, &m.State, &m.Priority, &m.CreatedAt, &m.ScheduledAt, &m.SentAt, &m.SendingAt,
		&m.LastError, &m.AttemptCount, &m.MaxAttempts, &m.RetryStrategy, &m.QueuePosition, &m.Metadata,
	); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) UpdateState(ctx context.Context, id string, from, to message.State, fields store.StateFields) (bool, error) {
	const q = `
		UPDATE messages
		SET state = $1,
		    queue_position = COALESCE($2, queue_position),
		    scheduled_at = COALESCE($3, scheduled_at),
		    sent_at = COALESCE($4, sent_at),
		    last_error = COALESCE($5, last_error),
		    attempt_count = COALESCE($6, attempt_count)
		WHERE id = $7 AND state = $8
	`
	tag, err := s.pool.Exec(ctx, q, to, fields.QueuePosition, fields.ScheduledAt, fields.SentAt,
		fields.LastError, fields.AttemptCount, id, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) UpdateTerminal(ctx context.Context, id string, to message.State, sentAt *time.Time, errText string, attemptCount int, scheduledAt *time.Time) error {
	const q = `
		UPDATE messages
		SET state = $1, sent_at = $2, last_error = $3, attempt_count = $4,
		    scheduled_at = $5, queue_position = NULL
		WHERE id = $6
	`
	tag, err := s.pool.Exec(ctx, q, to, sentAt, errText, attemptCount, scheduledAt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ClaimNext claims the highest-ordered QUEUED row under FOR UPDATE SKIP
// LOCKED, so concurrent dispatcher workers never contend for the same row,
// and transitions it to SENDING with attempt_count incremented by a second
// statement in the same transaction.
func (s *Store) ClaimNext(ctx context.Context) (*message.Message, error) {
	if s.trace != nil {
		spanCtx, sp := s.trace.StartSpan(ctx, "store.ClaimNext")
		ctx = spanCtx
		defer sp.End()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const sel = `
		SELECT id FROM messages
		WHERE state = 'QUEUED'
		ORDER BY priority DESC, queue_position ASC, created_at ASC, id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`
	var id string
	if err := tx.QueryRow(ctx, sel).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrEmpty
		}
		return nil, err
	}

	upd := `
		UPDATE messages
		SET state = 'SENDING', queue_position = NULL, attempt_count = attempt_count + 1, sending_at = now()
		WHERE id = $1
		RETURNING ` + selectColumns
	m, err := scanOne(tx.QueryRow(ctx, upd, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) ListByState(ctx context.Context, state message.State, limit, offset int) ([]*message.Message, error) {
	q := `SELECT ` + selectColumns + `
		FROM messages WHERE state = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`
	return queryAll(ctx, s.pool, q, state, nullIfZero(limit), offset)
}

func nullIfZero(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func (s *Store) ListScheduledDue(ctx context.Context, now time.Time) ([]*message.Message, error) {
	q := `SELECT ` + selectColumns + `
		FROM messages
		WHERE state = 'SCHEDULED' AND attempt_count = 0 AND scheduled_at <= $1
	`
	return queryAll(ctx, s.pool, q, now)
}

func (s *Store) ListRetryDue(ctx context.Context, now time.Time) ([]*message.Message, error) {
	q := `SELECT ` + selectColumns + `
		FROM messages
		WHERE state = 'SCHEDULED' AND attempt_count > 0 AND scheduled_at <= $1
	`
	return queryAll(ctx, s.pool, q, now)
}

func queryAll(ctx context.Context, pool *pgxpool.Pool, q string, args ...any) ([]*message.Message, error) {
	rows, err := pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*message.Message
	for rows.Next() {
		m, err := scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) CountByState(ctx context.Context, state message.State) (int, error) {
	const q = `SELECT count(*) FROM messages WHERE state = $1`
	var n int
	err := s.pool.QueryRow(ctx, q, state).Scan(&n)
	return n, err
}

// ReorganizePositions densely repacks queue_position within each priority
// band, preserving relative order, via a window function over the current
// QUEUED rows.
func (s *Store) ReorganizePositions(ctx context.Context) error {
	const q = `
		WITH ranked AS (
			SELECT id, priority,
			       (5 - priority) * 10000 +
			       row_number() OVER (PARTITION BY priority ORDER BY queue_position ASC, created_at ASC) AS new_pos
			FROM messages
			WHERE state = 'QUEUED'
		)
		UPDATE messages m
		SET queue_position = ranked.new_pos
		FROM ranked
		WHERE m.id = ranked.id
	`
	_, err := s.pool.Exec(ctx, q)
	return err
}

func (s *Store) DeleteTerminalOlderThan(ctx context.Context, state message.State, cutoff time.Time) (int, error) {
	const q = `
		DELETE FROM messages
		WHERE state = $1 AND COALESCE(sent_at, created_at) < $2
	`
	tag, err := s.pool.Exec(ctx, q, state, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListSendingOlderThan returns rows stuck in SENDING since before cutoff,
// measured from sending_at (when the row was claimed), not created_at: a
// message can wait QUEUED far longer than the rescue window without ever
// having been claimed.
func (s *Store) ListSendingOlderThan(ctx context.Context, cutoff time.Time) ([]*message.Message, error) {
	q := `SELECT ` + selectColumns + `
		FROM messages
		WHERE state = 'SENDING' AND sending_at < $1
	`
	return queryAll(ctx, s.pool, q, cutoff)
}

func (s *Store) MaxQueuePosition(ctx context.Context, priority message.Priority) (int64, error) {
	const q = `
		SELECT COALESCE(MAX(queue_position), (5 - $1::int) * 10000)
		FROM messages WHERE state = 'QUEUED' AND priority = $1
	`
	var pos int64
	err := s.pool.QueryRow(ctx, q, priority).Scan(&pos)
	return pos, err
}

func (s *Store) Oldest(ctx context.Context) (*message.Message, error) {
	q := `SELECT ` + selectColumns + `
		FROM messages WHERE state = 'QUEUED'
		ORDER BY created_at ASC LIMIT 1
	`
	m, err := scanOne(s.pool.QueryRow(ctx, q))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

var _ store.Store = (*Store)(nil)
