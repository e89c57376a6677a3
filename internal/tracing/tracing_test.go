package tracing

import (
	"context"
	"testing"
)

func TestNewProviderNoopOnEmptyEndpoint(t *testing.T) {
	p, err := NewProvider(context.Background(), "")
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.Tracer == nil {
		t.Fatalf("expected a non-nil no-op tracer")
	}

	ctx, span := p.StartSpan(context.Background(), "test.span")
	if ctx == nil {
		t.Fatalf("expected non-nil context from StartSpan")
	}
	span.End()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown on no-op provider should succeed, got %v", err)
	}
}
