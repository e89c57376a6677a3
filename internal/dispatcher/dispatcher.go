// Package dispatcher implements the Dispatcher of spec.md §4.5: a fixed
// pool of workers pulling from the Priority Queue, invoking Transport.Send
// per message under a per-attempt timeout, and routing the outcome to
// either a terminal SENT write or the Retry Engine's decision. The worker
// pool and panic-recovering tick loop are grounded in the teacher's
// worker()/processNextTask() pair (control_plane/scheduler/scheduler.go);
// the transport-health circuit breaker is grounded in kubernaut's
// sony/gobreaker wiring (pkg/shared/circuitbreaker, exercised by
// test/integration/notification/suite_test.go).
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/itskum47/smsgateway/internal/events"
	"github.com/itskum47/smsgateway/internal/message"
	"github.com/itskum47/smsgateway/internal/metrics"
	"github.com/itskum47/smsgateway/internal/queue"
	"github.com/itskum47/smsgateway/internal/retry"
	"github.com/itskum47/smsgateway/internal/store"
	"github.com/itskum47/smsgateway/internal/tracing"
	"github.com/itskum47/smsgateway/internal/transport"
)

var ErrNoTransport = errors.New("dispatcher: no transport configured")

// Config controls dispatcher pool sizing and timeouts.
type Config struct {
	WorkerCount   int
	SendTimeout   time.Duration
	PollInterval  time.Duration
	DefaultPolicy message.RetryPolicy
}

func (c Config) withDefaults() Config {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	if c.DefaultPolicy.MaxAttempts == 0 {
		c.DefaultPolicy = message.DefaultRetryPolicy()
	}
	return c
}

// Dispatcher owns the worker pool.
type Dispatcher struct {
	st   store.Store
	q    *queue.Queue
	tr   transport.Transport
	bus  *events.Bus
	log  *slog.Logger
	cfg  Config
	cb   *gobreaker.CircuitBreaker
	trace *tracing.Provider

	sent  *metrics.Counter
	failed *metrics.Counter
	dur   *metrics.Timer

	mu       sync.Mutex
	busy     int
	paused   bool
}

func New(st store.Store, q *queue.Queue, tr transport.Transport, bus *events.Bus, reg *metrics.Registry, tracer *tracing.Provider, log *slog.Logger, cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "transport",
		MaxRequests: 2,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	var sent, failed *metrics.Counter
	var dur *metrics.Timer
	if reg != nil {
		sent = reg.NewCounter("sms_sent_total", "messages successfully sent")
		failed = reg.NewCounter("sms_failed_total", "messages that failed terminally")
		dur = reg.NewTimer("sms_send_duration_seconds", "transport send duration")
	}

	return &Dispatcher{st: st, q: q, tr: tr, bus: bus, log: log, cfg: cfg, cb: cb, trace: tracer, sent: sent, failed: failed, dur: dur}
}

// Run starts cfg.WorkerCount goroutines and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker(ctx)
		}()
	}
	wg.Wait()
}

// Pause stops workers from claiming new work without tearing down the pool.
func (d *Dispatcher) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = true
}

func (d *Dispatcher) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = false
}

func (d *Dispatcher) Paused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

// Saturation reports busy workers over total, for the Control Surface's
// admission breaker.
func (d *Dispatcher) Saturation() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cfg.WorkerCount == 0 {
		return 0
	}
	return float64(d.busy) / float64(d.cfg.WorkerCount)
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatcher worker panicked", "recover", r)
		}
	}()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.Paused() {
				continue
			}
			d.claimAndSend(ctx)
		}
	}
}

func (d *Dispatcher) claimAndSend(ctx context.Context) {
	m, err := d.q.Dequeue(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrEmpty) {
			d.log.Error("claim next failed", "error", err)
		}
		return
	}

	d.mu.Lock()
	d.busy++
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.busy--
		d.mu.Unlock()
	}()

	d.bus.Publish(events.Event{
		Header: events.Header{Kind: events.KindSendingStarted, Timestamp: time.Now(), Source: "dispatcher"},
		Payload: events.MessageEventPayload{
			MessageID: m.ID, State: string(m.State), Priority: m.Priority.String(), AttemptCount: m.AttemptCount,
		},
	})

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	start := time.Now()
	res, sendErr := d.send(sendCtx, m)
	elapsed := time.Since(start)
	if d.dur != nil {
		d.dur.ObserveSeconds(elapsed.Seconds())
	}

	if sendErr == nil {
		d.handleSuccess(ctx, m, res, elapsed)
		return
	}
	d.handleFailure(ctx, m, sendErr, elapsed)
}

func (d *Dispatcher) send(ctx context.Context, m *message.Message) (transport.Result, error) {
	if d.tr == nil {
		return transport.Result{}, ErrNoTransport
	}
	if d.trace != nil {
		spanCtx, sp := d.trace.StartSpan(ctx, "transport.Send")
		ctx = spanCtx
		defer sp.End()
	}
	out, err := d.cb.Execute(func() (any, error) {
		return d.tr.Send(ctx, m.Destination, m.Payload)
	})
	if err != nil {
		return transport.Result{}, err
	}
	return out.(transport.Result), nil
}

func (d *Dispatcher) handleSuccess(ctx context.Context, m *message.Message, res transport.Result, elapsed time.Duration) {
	now := time.Now()
	if err := d.st.UpdateTerminal(ctx, m.ID, message.StateSent, &now, "", m.AttemptCount, nil); err != nil {
		d.log.Error("mark sent failed", "id", m.ID, "error", err)
		return
	}
	if d.sent != nil {
		d.sent.Inc()
	}
	d.bus.Publish(events.Event{
		Header: events.Header{Kind: events.KindSent, Timestamp: now, Source: "dispatcher"},
		Payload: events.MessageEventPayload{
			MessageID: m.ID, State: string(message.StateSent), Priority: m.Priority.String(),
			AttemptCount: m.AttemptCount, ProcessingMS: elapsed.Milliseconds(),
		},
	})
	_ = res
}

func (d *Dispatcher) handleFailure(ctx context.Context, m *message.Message, sendErr error, elapsed time.Duration) {
	policy := d.policyFor(m)
	decision := retry.Decide(m, policy, sendErr.Error(), time.Now())

	if decision.Terminal {
		if err := d.st.UpdateTerminal(ctx, m.ID, message.StateFailed, nil, decision.LastError, decision.AttemptCount, nil); err != nil {
			d.log.Error("mark failed failed", "id", m.ID, "error", err)
			return
		}
		if d.failed != nil {
			d.failed.Inc()
		}
		d.bus.Publish(events.Event{
			Header: events.Header{Kind: events.KindFailed, Timestamp: time.Now(), Source: "dispatcher"},
			Payload: events.MessageEventPayload{
				MessageID: m.ID, State: string(message.StateFailed), Priority: m.Priority.String(),
				AttemptCount: decision.AttemptCount, Error: decision.LastError, ProcessingMS: elapsed.Milliseconds(), Retryable: false,
			},
		})
		return
	}

	retryAt := decision.RetryAt
	if err := d.st.UpdateTerminal(ctx, m.ID, message.StateScheduled, nil, decision.LastError, decision.AttemptCount, &retryAt); err != nil {
		d.log.Error("schedule retry failed", "id", m.ID, "error", err)
		return
	}
	d.bus.Publish(events.Event{
		Header: events.Header{Kind: events.KindFailed, Timestamp: time.Now(), Source: "dispatcher"},
		Payload: events.MessageEventPayload{
			MessageID: m.ID, State: string(message.StateScheduled), Priority: m.Priority.String(),
			AttemptCount: decision.AttemptCount, Error: decision.LastError, ProcessingMS: elapsed.Milliseconds(), Retryable: true,
		},
	})
}

func (d *Dispatcher) policyFor(m *message.Message) message.RetryPolicy {
	if m.MaxAttempts <= 0 {
		return d.cfg.DefaultPolicy
	}
	p := d.cfg.DefaultPolicy
	p.MaxAttempts = m.MaxAttempts
	if m.RetryStrategy != "" {
		p.Strategy = m.RetryStrategy
	}
	return p
}
