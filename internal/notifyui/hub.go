// Package notifyui is the peripheral user-visible-failure notification
// channel (spec.md §7): a local loopback WebSocket hub that pushes denial
// notifications to a UI client, adapted from the teacher's live trace
// feed hub to FAA's user-visible-failures sink.
package notifyui

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/northpole-faad/faad/internal/faa"
	"github.com/northpole-faad/faad/internal/faevent"
)

// Notification is the JSON payload pushed to connected UI clients for a
// single denied decision.
type Notification struct {
	Timestamp  time.Time `json:"timestamp"`
	BinaryPath string    `json:"binary_path"`
	TargetPath string    `json:"target_path,omitempty"`
	Decision   string    `json:"decision"`
	Message    string    `json:"message,omitempty"`
	URL        string    `json:"url,omitempty"`
	DetailText string    `json:"detail_text,omitempty"`
}

func newUpgrader(allowAllOrigins bool) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if allowAllOrigins {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return strings.Contains(origin, r.Host)
		},
	}
}

// Hub manages the WebSocket connections of a notifyui client pool.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*websocket.Conn]bool
	upgrader websocket.Upgrader
	logger   *slog.Logger
	done     chan struct{}
}

// NewHub builds a Hub. allowAllOrigins should stay false outside local
// development, matching the teacher's same-origin-by-default posture.
func NewHub(logger *slog.Logger, allowAllOrigins bool) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:  make(map[*websocket.Conn]bool),
		upgrader: newUpgrader(allowAllOrigins),
		logger:   logger.With("component", "notifyui.Hub"),
		done:     make(chan struct{}),
	}
}

// Close shuts down the hub and every connected client.
func (h *Hub) Close() {
	select {
	case <-h.done:
		return // already closed
	default:
		close(h.done)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.Close()
		delete(h.clients, conn)
	}
}

// HandleWebSocket upgrades an inbound HTTP connection to a notifyui
// client session.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	h.logger.Debug("notifyui client connected", "remote", conn.RemoteAddr())

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			_ = conn.Close()
			h.logger.Debug("notifyui client disconnected", "remote", conn.RemoteAddr())
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// Broadcast pushes n to every connected client, dropping any that error.
func (h *Hub) Broadcast(n Notification) {
	msg, err := json.Marshal(map[string]any{"type": "denied", "data": n})
	if err != nil {
		h.logger.Error("failed to marshal notifyui message", "error", err)
		return
	}

	h.mu.RLock()
	var dead []*websocket.Conn
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			dead = append(dead, conn)
		}
	}
	h.mu.RUnlock()

	if len(dead) > 0 {
		h.mu.Lock()
		for _, c := range dead {
			delete(h.clients, c)
			_ = c.Close()
		}
		h.mu.Unlock()
	}
}

// ClientCount reports the number of connected UI clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DeniedBlockFunc returns the faa.DeniedBlockFunc callback to register
// with faa.Processor.RegisterDeniedBlockFunc / daemon.Daemon's equivalent.
func (h *Hub) DeniedBlockFunc() faa.DeniedBlockFunc {
	return func(event *faevent.Event, customMsg, customURL, customText string) {
		h.Broadcast(Notification{
			Timestamp:  time.Now(),
			BinaryPath: event.Process.BinaryPath,
			Decision:   event.Kind.String(),
			Message:    customMsg,
			URL:        customURL,
			DetailText: customText,
		})
	}
}
