package metrics

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/itskum47/smsgateway/internal/events"
)

func TestCounterIncrementsAndRegisters(t *testing.T) {
	r := NewRegistry(nil)
	c := r.NewCounter("test_counter_total", "a test counter")
	c.Inc()
	c.Inc()

	mfs, err := r.Prometheus().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(mfs) != 1 {
		t.Fatalf("expected 1 registered metric family, got %d", len(mfs))
	}
}

func TestGaugeCrossingCriticalThresholdPublishesAlert(t *testing.T) {
	bus := events.NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	alerts := make(chan events.AlertPayload, 1)
	bus.Subscribe(func(k events.Kind) bool { return k == events.KindAlert }, func(ev events.Event) {
		alerts <- ev.Payload.(events.AlertPayload)
	})

	r := NewRegistry(bus)
	r.WithThresholds("test_gauge", Thresholds{Warn: 50, Critical: 100})
	g := r.NewGauge("test_gauge", "a test gauge")

	g.Set(150)

	select {
	case a := <-alerts:
		if a.Level != "critical" {
			t.Fatalf("Level = %s, want critical", a.Level)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected an alert event to be published")
	}
}

func TestGaugeBelowThresholdPublishesNoAlert(t *testing.T) {
	bus := events.NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	alerts := make(chan events.AlertPayload, 1)
	bus.Subscribe(func(k events.Kind) bool { return k == events.KindAlert }, func(ev events.Event) {
		alerts <- ev.Payload.(events.AlertPayload)
	})

	r := NewRegistry(bus)
	r.WithThresholds("test_gauge2", Thresholds{Warn: 50, Critical: 100})
	g := r.NewGauge("test_gauge2", "a test gauge")

	g.Set(10)

	select {
	case a := <-alerts:
		t.Fatalf("unexpected alert published: %+v", a)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTimerObservesIntoBuckets(t *testing.T) {
	r := NewRegistry(nil)
	timer := r.NewTimer("test_duration_seconds", "a test timer")
	timer.ObserveSeconds(0.02)

	mfs, err := r.Prometheus().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(mfs) != 1 {
		t.Fatalf("expected 1 registered metric family, got %d", len(mfs))
	}
}
