// Package control implements the HTTP Control Surface of spec.md §6,
// translating sentinel Store/Queue errors to the status codes of §7.
// Routing is go-chi/chi/v5 (replacing the teacher's manual path-suffix
// parsing in control_plane/api.go) with the teacher's struct-of-handlers
// shape and rate-limited endpoints kept via golang.org/x/time/rate.
package control

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"
	"unicode/utf16"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/itskum47/smsgateway/internal/dispatcher"
	"github.com/itskum47/smsgateway/internal/events"
	"github.com/itskum47/smsgateway/internal/health"
	"github.com/itskum47/smsgateway/internal/message"
	"github.com/itskum47/smsgateway/internal/queue"
	"github.com/itskum47/smsgateway/internal/store"
	"github.com/itskum47/smsgateway/internal/validate"
)

type API struct {
	st     store.Store
	q      *queue.Queue
	disp   *dispatcher.Dispatcher
	mon    *health.Monitor
	log    *slog.Logger
	admit  *AdmissionBreaker
	stream *EventStream

	submitLimiter *rate.Limiter
}

func NewAPI(st store.Store, q *queue.Queue, disp *dispatcher.Dispatcher, mon *health.Monitor, bus *events.Bus, log *slog.Logger, highWatermark int) *API {
	return &API{
		st:            st,
		q:             q,
		disp:          disp,
		mon:           mon,
		log:           log,
		admit:         NewAdmissionBreaker(highWatermark),
		stream:        NewEventStream(bus, log),
		submitLimiter: rate.NewLimiter(rate.Limit(200), 400),
	}
}

// Router builds the chi router per spec.md §6's endpoint table.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "PATCH"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", a.handleHealth)
	r.Get("/health/detailed", a.handleHealthDetailed)
	r.Get("/events/stream", a.stream.handleStream)

	r.Route("/sms", func(r chi.Router) {
		r.Post("/", a.handleSubmit)
		r.Get("/", a.handleList)
		r.Get("/{id}", a.handleGet)
		r.Delete("/{id}", a.handleCancel)

		r.Route("/queue", func(r chi.Router) {
			r.Post("/priority/{id}", a.handleReprioritize)
			r.Post("/retry/{id}", a.handleRetryNow)
			r.Post("/pause", a.handlePause)
			r.Post("/resume", a.handleResume)
			r.Delete("/clear", a.handleClear)
			r.Get("/stats", a.handleQueueStats)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if !a.submitLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	depth, _ := a.q.Size(r.Context())
	if !a.admit.ShouldAdmit(depth, a.disp.Saturation()) {
		writeError(w, http.StatusServiceUnavailable, "gateway overloaded")
		return
	}

	var req validate.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := validate.Validate(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if n := len(utf16.Encode([]rune(req.Content))); n > validate.MaxPayloadWarnLen {
		a.log.Warn("payload exceeds single-SMS length", "code_units", n, "limit", validate.MaxPayloadWarnLen)
	}

	priority := message.PriorityNormal
	if req.Priority != "" {
		p, ok := message.ParsePriority(req.Priority)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid priority")
			return
		}
		priority = p
	}

	m := &message.Message{
		ID:            uuid.NewString(),
		Destination:   req.Recipient,
		Payload:       req.Content,
		Priority:      priority,
		CreatedAt:     time.Now(),
		MaxAttempts:   message.DefaultRetryPolicy().MaxAttempts,
		RetryStrategy: message.DefaultRetryPolicy().Strategy,
		Metadata:      req.Metadata,
	}

	var id string
	var err error
	if req.ScheduledAt != nil {
		at := time.Unix(*req.ScheduledAt, 0)
		id, err = a.q.ScheduleAt(r.Context(), m, at)
	} else {
		id, err = a.q.Enqueue(r.Context(), m)
	}
	if err != nil {
		a.log.Error("submit failed", "error", err)
		writeError(w, http.StatusInternalServerError, "submit failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id": id, "state": m.State, "queued_at": m.CreatedAt,
	})
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := a.st.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := a.st.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if m.State == message.StateCancelled {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	if m.State.Terminal() {
		writeError(w, http.StatusConflict, "message already terminal")
		return
	}
	ok, err := a.st.UpdateState(r.Context(), id, m.State, message.StateCancelled, store.StateFields{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "message state changed concurrently")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stateParam := q.Get("state")
	state := message.StateQueued
	if stateParam != "" {
		state = message.State(stateParam)
		if !state.Valid() {
			writeError(w, http.StatusBadRequest, "invalid state")
			return
		}
	}

	page, limit := 1, 50
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid page")
			return
		}
		page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	msgs, err := a.st.ListByState(r.Context(), state, limit, (page-1)*limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"page": page, "limit": limit, "items": msgs})
}

func (a *API) handleReprioritize(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Priority string `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	p, ok := message.ParsePriority(body.Priority)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid priority")
		return
	}
	ok, err := a.q.Reprioritize(r.Context(), id, p)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reprioritize failed")
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "message is not QUEUED")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handleRetryNow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := a.st.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if m.State != message.StateScheduled && m.State != message.StateFailed {
		writeError(w, http.StatusConflict, "message is not retryable")
		return
	}

	pos, err := a.st.MaxQueuePosition(r.Context(), m.Priority)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "retry failed")
		return
	}
	next := pos + 1
	ok, err := a.st.UpdateState(r.Context(), id, m.State, message.StateQueued, store.StateFields{QueuePosition: &next})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "retry failed")
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "message state changed concurrently")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	a.disp.Pause()
	a.writeQueueStats(w, r)
}

func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	a.disp.Resume()
	a.writeQueueStats(w, r)
}

func (a *API) handleClear(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("state")
	if reason == "" {
		reason = "cleared via control surface"
	}
	n, err := a.q.Clear(r.Context(), reason)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "clear failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (a *API) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	a.writeQueueStats(w, r)
}

// writeQueueStats answers GET /sms/queue/stats (and pause/resume, which
// reuse it) with the stats shape spec.md §6 requires: totals by state,
// average wait time (ms), throughput last hour, error rate, paused flag,
// and oldest-queued timestamp.
func (a *API) writeQueueStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now()

	byState := make(map[string]int, 6)
	for _, st := range []message.State{
		message.StateQueued, message.StateScheduled, message.StateSending,
		message.StateSent, message.StateFailed, message.StateCancelled,
	} {
		n, err := a.st.CountByState(ctx, st)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "stats failed")
			return
		}
		byState[string(st)] = n
	}

	avgWaitMS, err := a.q.AverageWaitMillis(ctx, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}

	oldest, err := a.q.Oldest(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	var oldestQueuedAt any
	if oldest != nil {
		oldestQueuedAt = oldest.CreatedAt
	}

	sentLastHour, _ := a.mon.WindowCounts(now)

	stats := map[string]any{
		"total":                byState[string(message.StateQueued)],
		"by_state":             byState,
		"average_wait_ms":      avgWaitMS,
		"throughput_last_hour": sentLastHour,
		"error_rate":           a.mon.ErrorRate(now),
		"paused":               a.disp.Paused(),
		"saturation":           a.disp.Saturation(),
		"oldest_queued_at":     oldestQueuedAt,
	}
	for _, p := range []message.Priority{message.PriorityUrgent, message.PriorityHigh, message.PriorityNormal, message.PriorityLow} {
		n, err := a.q.SizeByPriority(ctx, p)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "stats failed")
			return
		}
		stats[p.String()] = n
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := a.mon.Last()
	status := http.StatusOK
	if report.Overall == health.Critical || report.Overall == health.Down {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"status": string(report.Overall)})
}

func (a *API) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	report := a.mon.Last()
	status := http.StatusOK
	if report.Overall == health.Critical || report.Overall == health.Down {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}
