package control

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/itskum47/smsgateway/internal/events"
)

func TestEventStreamDeliversPublishedEvents(t *testing.T) {
	api, _, _ := newTestAPI(t)
	srv := httptest.NewServer(api.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && api.stream.ClientCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if api.stream.ClientCount() != 1 {
		t.Fatalf("expected 1 registered stream client, got %d", api.stream.ClientCount())
	}

	api.stream.bus.Publish(events.Event{Header: events.Header{Kind: events.KindSent}})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var received events.Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if received.Kind != events.KindSent {
		t.Fatalf("Kind = %s, want sms.sent", received.Kind)
	}
}
