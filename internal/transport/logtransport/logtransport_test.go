package logtransport

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func TestSendReturnsProviderMessageID(t *testing.T) {
	tr := New(slog.New(slog.NewTextHandler(io.Discard, nil)))

	res, err := tr.Send(context.Background(), "+15551234567", "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.ProviderMessageID == "" {
		t.Fatalf("expected a non-empty ProviderMessageID")
	}
}
