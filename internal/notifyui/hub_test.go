package notifyui

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/northpole-faad/faad/internal/faevent"
)

func TestHub_BroadcastsToConnectedClient(t *testing.T) {
	hub := NewHub(nil, true)
	defer hub.Close()

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("ClientCount = %d, want 1", hub.ClientCount())
	}

	hub.Broadcast(Notification{Decision: "Denied", BinaryPath: "/usr/bin/evil"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if len(msg) == 0 {
		t.Error("expected a non-empty broadcast message")
	}
}

func TestHub_DeniedBlockFunc_NoClientsDoesNotBlock(t *testing.T) {
	hub := NewHub(nil, true)
	defer hub.Close()

	fn := hub.DeniedBlockFunc()
	event := &faevent.Event{
		Kind:    faevent.KindOpen,
		Process: faevent.ProcessInstigator{BinaryPath: "/usr/bin/evil"},
	}

	// No connected clients: Broadcast must not panic or block.
	fn(event, "custom message", "https://example.test/doc", "detail text")
}
