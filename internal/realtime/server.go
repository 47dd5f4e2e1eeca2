// Package realtime serves a live view of a scenario run over WebSocket and
// a small REST surface.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chat-harness/internal/harness"
	"chat-harness/internal/protocol"
	"chat-harness/internal/workspace"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	sendBufSize   = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // The monitor binds to a local address.
	},
}

// Source is the run being observed.
type Source interface {
	Status() harness.Status
	ListWorkspace() ([]workspace.Entry, error)
	WorkDir() string
}

// Server broadcasts harness events to WebSocket clients. It implements
// harness.Reporter.
type Server struct {
	source  Source
	metrics http.Handler
	log     *zap.Logger

	clients   map[*client]bool
	clientsMu sync.RWMutex
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

// New creates a monitor for source. metrics may be nil.
func New(source Source, metrics http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		source:  source,
		metrics: metrics,
		log:     logger,
		clients: make(map[*client]bool),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /workspace", s.handleWorkspace)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Report broadcasts an event to every connected client.
func (s *Server) Report(msgType string, payload any) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		s.log.Warn("encode event", zap.String("type", msgType), zap.Error(err))
		return
	}
	s.broadcast(msg)
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Close disconnects every client. The pumps finish on their own.
func (s *Server) Close() {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		c.conn.Close()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, sendBufSize),
		server: s,
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()
	s.log.Debug("monitor client connected", zap.String("remote", r.RemoteAddr))

	// New clients start from the current run status.
	s.sendStatus(c)

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if !s.clients[c] {
		return
	}
	delete(s.clients, c)
	close(c.send)
}

func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeWorkspaceRequestListing:
		var payload protocol.WorkspaceRequestListingPayload
		json.Unmarshal(msg.Payload, &payload)
		s.sendListing(c, payload.Label)
	case protocol.TypeScenarioRequestStatus:
		s.sendStatus(c)
	}
}

func (s *Server) sendListing(c *client, label string) {
	if label == "" {
		label = "requested"
	}
	entries, err := s.source.ListWorkspace()
	if err != nil {
		s.sendError(c, protocol.ErrInspectionFailed, err.Error())
		return
	}
	msg, _ := protocol.NewMessage(protocol.TypeWorkspaceListing, protocol.WorkspaceListingPayload{
		Dir:     s.source.WorkDir(),
		Label:   label,
		Entries: entries,
	})
	s.sendTo(c, msg)
}

func (s *Server) sendStatus(c *client) {
	msg, err := protocol.NewMessage(protocol.TypeStatus, s.source.Status())
	if err != nil {
		return
	}
	s.sendTo(c, msg)
}

func (s *Server) sendError(c *client, code, message string) {
	msg, _ := protocol.NewErrorMessage(code, message)
	s.sendTo(c, msg)
}

// sendTo queues msg for one client, dropping it if the client is behind.
func (s *Server) sendTo(c *client, msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (s *Server) broadcast(msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			// Client buffer full, skip.
		}
	}
}
