// Command gateway is the SMS Gateway's composition root: it wires Config,
// Store, Queue, Scheduler, Retry Engine (pure, no wiring needed), Dispatcher,
// Maintenance, Event Bus, Metrics, Health Monitor, and the Control Surface,
// then serves HTTP until signalled to stop. Wiring order and the
// env-driven config style are grounded in the teacher's main.go
// (control_plane/main.go); shutdown runs the reverse of startup order.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itskum47/smsgateway/db"
	"github.com/itskum47/smsgateway/internal/cache"
	"github.com/itskum47/smsgateway/internal/config"
	"github.com/itskum47/smsgateway/internal/control"
	"github.com/itskum47/smsgateway/internal/dispatcher"
	"github.com/itskum47/smsgateway/internal/events"
	"github.com/itskum47/smsgateway/internal/health"
	"github.com/itskum47/smsgateway/internal/maintenance"
	"github.com/itskum47/smsgateway/internal/message"
	"github.com/itskum47/smsgateway/internal/metrics"
	"github.com/itskum47/smsgateway/internal/queue"
	"github.com/itskum47/smsgateway/internal/scheduler"
	"github.com/itskum47/smsgateway/internal/store"
	"github.com/itskum47/smsgateway/internal/store/pgstore"
	"github.com/itskum47/smsgateway/internal/tracing"
	"github.com/itskum47/smsgateway/internal/transport/logtransport"
)

func main() {
	cfg := config.Load()

	logLevel := new(slog.LevelVar)
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logLevel.Set(slog.LevelInfo)
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.NewProvider(ctx, cfg.OTelExporterEndpoint)
	if err != nil {
		log.Error("tracing init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Error("tracing shutdown failed", "error", err)
		}
	}()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		log.Error("schema migration failed", "error", err)
		os.Exit(1)
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("store init failed", "error", err)
		os.Exit(1)
	}
	pg.WithTracing(tracer)
	var st store.Store = pg
	defer st.Close()

	advisoryCache := cache.Connect(cfg.RedisAddr, log)
	defer advisoryCache.Close()

	q := queue.New(st)
	bus := events.NewBus(log)
	reg := metrics.NewRegistry(bus)
	reg.WithThresholds("smsgateway_queue_depth", metrics.Thresholds{Warn: 1000, Critical: 5000})
	eventDrops := reg.NewGauge("smsgateway_event_bus_drops_total", "events dropped from subscriber mailboxes on overflow")

	tr := logtransport.New(log)

	defaultPolicy := message.DefaultRetryPolicy()
	defaultPolicy.MaxAttempts = cfg.MaxAttemptsDefault
	defaultPolicy.BaseDelay = cfg.BaseDelay
	defaultPolicy.MaxDelay = cfg.MaxDelay

	disp := dispatcher.New(st, q, tr, bus, reg, tracer, log, dispatcher.Config{
		WorkerCount:   cfg.WorkerCount,
		SendTimeout:   cfg.SendTimeout,
		DefaultPolicy: defaultPolicy,
	})

	mon := health.New(st, q, log, health.Config{})

	sched := scheduler.New(st, q, bus, log, cfg.SchedulerInterval)
	maint := maintenance.New(st, q, bus, log, maintenance.Config{
		Interval:        cfg.MaintenanceInterval,
		RetentionSent:   cfg.RetentionSent,
		RetentionFailed: cfg.RetentionFailed,
		DefaultPolicy:   defaultPolicy,
	})

	bus.Subscribe(func(k events.Kind) bool { return k == events.KindSent }, func(events.Event) {
		mon.RecordSendSuccess(time.Now())
	})
	bus.Subscribe(func(k events.Kind) bool { return k == events.KindFailed }, func(events.Event) {
		mon.RecordSendFailure(time.Now())
	})

	api := control.NewAPI(st, q, disp, mon, bus, log, cfg.HighWatermarkQueue)

	mux := http.NewServeMux()
	mux.Handle("/", api.Router())
	mux.Handle("/metrics", promhttp.HandlerFor(reg.Prometheus(), promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: cfg.ListenAddress, Handler: mux}

	go sched.Run(ctx)
	go maint.Run(ctx)
	go mon.Run(ctx, 15*time.Second)
	go disp.Run(ctx)
	go reportEventDrops(ctx, bus, eventDrops, 15*time.Second)

	go func() {
		log.Info("gateway listening", "address", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}
}

// reportEventDrops polls the Event Bus's dropped-event counter onto a
// gauge, since the bus itself cannot import metrics (metrics imports bus).
func reportEventDrops(ctx context.Context, bus *events.Bus, gauge *metrics.Gauge, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gauge.Set(float64(bus.DroppedTotal()))
		}
	}
}
