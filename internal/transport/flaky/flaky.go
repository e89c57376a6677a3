// Package flaky is a test double Transport that fails deterministically,
// for exercising the Retry Engine and Dispatcher under classified failure
// conditions (spec.md §8 scenarios S3-S5).
package flaky

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/itskum47/smsgateway/internal/transport"
)

// Transport fails the first FailCount sends with Err, then succeeds.
type Transport struct {
	FailCount int64
	Err       error

	attempts int64
}

func New(failCount int64, err error) *Transport {
	if err == nil {
		err = errors.New("temporary provider unavailable")
	}
	return &Transport{FailCount: failCount, Err: err}
}

func (t *Transport) Send(_ context.Context, _, _ string) (transport.Result, error) {
	n := atomic.AddInt64(&t.attempts, 1)
	if n <= t.FailCount {
		return transport.Result{}, t.Err
	}
	return transport.Result{ProviderMessageID: uuid.NewString()}, nil
}

func (t *Transport) Attempts() int64 {
	return atomic.LoadInt64(&t.attempts)
}
