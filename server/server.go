// Package server exposes the turret supervisor over a websocket
// command channel plus a small HTTP status surface.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"vppturret/core"
	"vppturret/protocol"
	"vppturret/turret"
)

// Config for the server.
type Config struct {
	ListenAddr string
	// StatusInterval is how often the status broadcast fires.
	StatusInterval time.Duration
}

// Server accepts control clients and forwards their commands to the
// supervisor. Every client sees the same status broadcasts; the
// supervisor itself serializes commands, so concurrent clients simply
// race for the command slot and the losers get a busy error.
type Server struct {
	cfg       Config
	sup       *turret.Supervisor
	clients   map[*client]bool
	clientsMu sync.RWMutex
	upgrader  websocket.Upgrader
	stop      chan struct{}
	stopOnce  sync.Once
}

type client struct {
	conn   *websocket.Conn
	server *Server
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

// New creates a server around an initialized supervisor.
func New(cfg Config, sup *turret.Supervisor) *Server {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = time.Second
	}
	return &Server{
		cfg:     cfg,
		sup:     sup,
		clients: make(map[*client]bool),
		stop:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // local control network only
			},
		},
	}
}

// Start runs the HTTP listener; it blocks until the listener fails.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/stop", s.handleStop)

	go s.broadcastStatus()

	log.Printf("server: listening on %s", s.cfg.ListenAddr)
	return http.ListenAndServe(s.cfg.ListenAddr, mux)
}

// Stop disconnects all clients and halts the status broadcast.
// Idempotent.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.clientsMu.Lock()
	for c := range s.clients {
		c.close()
	}
	s.clientsMu.Unlock()
}

// handleStatus serves the supervisor status as plain JSON for curl and
// dashboards that do not hold a websocket open.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.sup.Status()); err != nil {
		log.Printf("server: encode status: %v", err)
	}
}

// handleStop gives operators an emergency path that does not depend on
// an open websocket.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sup.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: websocket upgrade: %v", err)
		return
	}

	c := &client{
		conn:   conn,
		server: s,
		send:   make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	go c.writePump()
	go c.readPump()

	c.sendStatus()
}

// broadcastStatus pushes the status snapshot to every client on a
// timer, so dashboards track state changes caused by other clients or
// the interlock watcher.
func (s *Server) broadcastStatus() {
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.clientsMu.RLock()
			for c := range s.clients {
				c.sendStatus()
			}
			s.clientsMu.RUnlock()
		}
	}
}

func (c *client) sendStatus() {
	c.sendMessage(protocol.TypeStatus, c.server.sup.Status())
}

func (c *client) sendMessage(msgType string, payload any) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		log.Printf("server: build message: %v", err)
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("server: marshal message: %v", err)
		return
	}
	// The closed check and the send share c.mu with close(), so a
	// broadcast racing a shutdown can never send on the closed channel.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("server: client send buffer full, dropping message")
	}
}

func (c *client) sendResult(command string, pose turret.Pose) {
	c.sendMessage(protocol.TypeResult, protocol.ResultPayload{
		Command: command,
		X:       pose.X,
		Y:       pose.Y,
	})
}

func (c *client) sendError(command string, err error) {
	c.sendMessage(protocol.TypeError, protocol.ErrorPayload{
		Command: command,
		Error:   err.Error(),
	})
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.server.clientsMu.Lock()
		delete(c.server.clients, c)
		c.server.clientsMu.Unlock()
		c.close()
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("server: websocket read: %v", err)
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *client) handleMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendMessage(protocol.TypeError, protocol.ErrorPayload{Error: "failed to parse message"})
		return
	}

	sup := c.server.sup
	switch msg.Type {
	case protocol.TypeHome:
		if err := sup.Home(); err != nil {
			c.sendError(msg.Type, err)
			return
		}
		c.sendResult(msg.Type, sup.Pose())

	case protocol.TypeJog:
		var payload protocol.JogPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError(msg.Type, err)
			return
		}
		axis, err := turret.ParseAxis(payload.Axis)
		if err != nil {
			c.sendError(msg.Type, err)
			return
		}
		dir := core.DirPositive
		if payload.Dir < 0 {
			dir = core.DirNegative
		}
		pose, err := sup.Jog(axis, dir, payload.Steps)
		if err != nil {
			c.sendError(msg.Type, err)
			return
		}
		c.sendResult(msg.Type, pose)

	case protocol.TypeGoto:
		var payload protocol.GotoPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError(msg.Type, err)
			return
		}
		pose, err := sup.Goto(payload.X, payload.Y)
		if err != nil {
			c.sendError(msg.Type, err)
			return
		}
		c.sendResult(msg.Type, pose)

	case protocol.TypeGotoForward:
		pose, err := sup.GotoForward()
		if err != nil {
			c.sendError(msg.Type, err)
			return
		}
		c.sendResult(msg.Type, pose)

	case protocol.TypeSetForward:
		pose, err := sup.SetCurrentAsForward()
		if err != nil {
			c.sendError(msg.Type, err)
			return
		}
		c.sendResult(msg.Type, pose)

	case protocol.TypeFire:
		if err := sup.Fire(); err != nil {
			c.sendError(msg.Type, err)
			return
		}
		c.sendResult(msg.Type, sup.Pose())

	case protocol.TypeTestFire:
		if err := sup.TestFire(); err != nil {
			c.sendError(msg.Type, err)
			return
		}
		c.sendResult(msg.Type, sup.Pose())

	case protocol.TypeStop:
		sup.Stop()
		c.sendResult(msg.Type, sup.Pose())

	case protocol.TypeEstopReset:
		if err := sup.EstopReset(); err != nil {
			c.sendError(msg.Type, err)
			return
		}
		c.sendResult(msg.Type, sup.Pose())

	case protocol.TypeSetTracking:
		var payload protocol.TogglePayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError(msg.Type, err)
			return
		}
		sup.SetTracking(payload.On)
		c.sendStatus()

	case protocol.TypeSetAutofire:
		var payload protocol.TogglePayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError(msg.Type, err)
			return
		}
		sup.SetAutofire(payload.On)
		c.sendStatus()

	case protocol.TypeSetSentry:
		var payload protocol.TogglePayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError(msg.Type, err)
			return
		}
		sup.SetSentryMode(payload.On)
		c.sendStatus()

	case protocol.TypeSentryStep:
		pose, err := sup.SentryScanStep()
		if err != nil {
			c.sendError(msg.Type, err)
			return
		}
		c.sendResult(msg.Type, pose)

	case protocol.TypeSentryFireAt:
		var payload protocol.SentryFirePayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError(msg.Type, err)
			return
		}
		pose, err := sup.SentryFireAt(payload.DX, payload.DY)
		if err != nil {
			c.sendError(msg.Type, err)
			return
		}
		c.sendResult(msg.Type, pose)

	case protocol.TypeSetSpeeds:
		var payload protocol.SpeedsPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError(msg.Type, err)
			return
		}
		sup.SetSpeedScales(payload.X, payload.Y)
		c.sendStatus()

	case protocol.TypeStatusRequest:
		c.sendStatus()

	default:
		log.Printf("server: unknown message type %q", msg.Type)
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	c.conn.Close()
}
