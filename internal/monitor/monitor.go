// Package monitor is the live status dashboard: a small net/http +
// gorilla/websocket server that streams pump session state transitions to
// connected operators. It is not part of the protocol core (spec.md §1
// calls the TCP-facing surface an external collaborator) but is the
// repo's ambient observability layer, adapted directly from the teacher's
// internal/server/ws.go (WSHub/WSClient) and ws_handlers.go
// (upgrade-then-read-loop-for-disconnect).
package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/basinmed/pumpgateway/internal/gateway"
)

// Message is the event envelope sent over the sessions WebSocket feed.
type Message struct {
	Type string           `json:"type"`
	Data gateway.Snapshot `json:"data"`
}

// client wraps one websocket connection with a per-connection write mutex;
// gorilla/websocket forbids concurrent writes on the same *Conn.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

// hub is a lightweight broadcast hub for connected dashboard clients.
type hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

func newHub() *hub { return &hub{clients: make(map[*client]struct{})} }

func (h *hub) add(conn *websocket.Conn) *client {
	c := &client{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

func (h *hub) broadcast(msg Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.mu.Lock()
		_ = c.conn.WriteMessage(websocket.TextMessage, b)
		c.mu.Unlock()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server serves the dashboard's health/snapshot/live-feed endpoints.
type Server struct {
	mux *http.ServeMux
	gw  *gateway.Gateway
	hub *hub
}

// New builds a monitor Server over gw. Wire gw's session transitions into
// it via gateway.WithOnSnapshot(srv.Publish) at gateway construction time.
func New(gw *gateway.Gateway) *Server {
	s := &Server{
		mux: http.NewServeMux(),
		gw:  gw,
		hub: newHub(),
	}
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/sessions", s.handleSessions)
	s.mux.HandleFunc("/ws/sessions", s.handleWS)
	return s
}

// Handler exposes the dashboard's http.Handler for cmd/pumpgatewayd to
// serve.
func (s *Server) Handler() http.Handler { return s.mux }

// Publish broadcasts a session snapshot to every connected dashboard
// client; pass this as gateway.WithOnSnapshot's callback.
func (s *Server) Publish(snap gateway.Snapshot) {
	s.hub.broadcast(Message{Type: "session", Data: snap})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"ok": true, "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.gw.Snapshot())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := s.hub.add(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.hub.remove(c)
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
