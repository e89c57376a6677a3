// Package transport defines the pluggable Transport boundary of spec.md
// §1: the gateway never speaks a physical SMS protocol itself, it hands
// destination+payload to a Transport implementation. Shape grounded in
// notifyhub's SMSProvider interface
// (kart-io-notifyhub/internal/platform/sms/sender.go), narrowed to the
// single send operation the Dispatcher needs.
package transport

import "context"

// Result is returned by a successful Send.
type Result struct {
	ProviderMessageID string
}

// Transport sends one message and returns either a Result or an error. The
// error text drives the Retry Engine's classification (spec.md §4.4), so
// implementations should return errors whose message reflects the failure
// class (timeout, invalid destination, provider rejection, etc).
type Transport interface {
	Send(ctx context.Context, destination, payload string) (Result, error)
}
