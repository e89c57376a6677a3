package control

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/itskum47/smsgateway/internal/events"
)

const maxStreamConnections = 200

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventStream fans Event Bus events out to connected websocket clients, an
// optional observer surface for operators who want live delivery updates
// instead of polling /sms/queue/stats.
type EventStream struct {
	bus *events.Bus
	log *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewEventStream(bus *events.Bus, log *slog.Logger) *EventStream {
	s := &EventStream{bus: bus, log: log, clients: make(map[*websocket.Conn]struct{})}
	bus.Subscribe(nil, s.broadcast)
	return s
}

func (s *EventStream) broadcast(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			s.log.Debug("event stream write failed, dropping client", "error", err)
			conn.Close()
			delete(s.clients, conn)
		}
	}
}

func (s *EventStream) register(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) >= maxStreamConnections {
		return false
	}
	s.clients[conn] = struct{}{}
	return true
}

func (s *EventStream) unregister(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, conn)
}

func (s *EventStream) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// handleStream upgrades the request and registers the connection until the
// client disconnects or a write fails.
func (s *EventStream) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("event stream upgrade failed", "error", err)
		return
	}
	if !s.register(conn) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many stream clients"))
		conn.Close()
		return
	}
	defer s.unregister(conn)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
