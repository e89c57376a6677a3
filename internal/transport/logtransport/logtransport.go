// Package logtransport is the default Transport: it logs the send and
// reports success. Suitable for development and for operators who front the
// gateway with their own delivery path outside this module.
package logtransport

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/itskum47/smsgateway/internal/transport"
)

type Transport struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Transport {
	return &Transport{log: log}
}

func (t *Transport) Send(_ context.Context, destination, payload string) (transport.Result, error) {
	id := uuid.NewString()
	t.log.Info("sms dispatched", "destination", destination, "bytes", len(payload), "provider_message_id", id)
	return transport.Result{ProviderMessageID: id}, nil
}
