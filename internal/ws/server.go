package ws

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/holdroom/backend/internal/auth"
)

// Server upgrades the observer and visitor channels and keeps each
// connection registered for as long as its read loop survives.
type Server struct {
	broadcaster    *Broadcaster
	secret         auth.Secret
	opts           Options
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	log            *zap.Logger
}

func NewServer(b *Broadcaster, secret auth.Secret, allowedOrigins []string, opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		broadcaster:    b,
		secret:         secret,
		opts:           opts.withDefaults(),
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		log:            log,
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(r *mux.Router) {
	r.HandleFunc("/api/ws/admin", s.handleObserver)
	r.HandleFunc("/api/ws/visitor/{sessionId}", s.handleVisitor)
}

func (s *Server) handleObserver(w http.ResponseWriter, r *http.Request) {
	if !s.secret.Authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrade(w, r)
	if err != nil {
		return
	}

	reg := s.broadcaster.Registry()
	c := newClient(conn, "", s.opts, s.broadcaster.evict)
	reg.AttachObserver(c)
	s.log.Info("observer connected", zap.String("remote", r.RemoteAddr))

	go c.writePump()
	go s.readLoop(c, func() {
		reg.DetachObserver(c)
		s.log.Info("observer disconnected", zap.String("remote", r.RemoteAddr))
	})
}

func (s *Server) handleVisitor(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	if sessionID == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrade(w, r)
	if err != nil {
		return
	}

	reg := s.broadcaster.Registry()
	c := newClient(conn, sessionID, s.opts, s.broadcaster.evict)
	reg.AttachVisitor(sessionID, c)
	s.log.Debug("visitor connected", zap.String("session_id", sessionID))

	go c.writePump()
	go s.readLoop(c, func() {
		reg.DetachVisitor(sessionID, c)
		s.log.Debug("visitor disconnected", zap.String("session_id", sessionID))
	})
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.String("path", r.URL.Path), zap.Error(err))
		return nil, err
	}
	return conn, nil
}

// readLoop answers text heartbeats and ends the connection's lifetime on
// the first read error.
func (s *Server) readLoop(c *Client, onClose func()) {
	defer func() {
		onClose()
		c.close()
	}()

	c.conn.SetReadLimit(s.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		if mt == websocket.TextMessage && string(data) == textPing {
			c.enqueue([]byte(textPong))
		}
	}
}

// Close sends a going-away frame to every live connection and closes it.
// Register it with http.Server.RegisterOnShutdown: Shutdown leaves hijacked
// connections open.
func (s *Server) Close() {
	clients := s.broadcaster.Registry().drain()
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	deadline := time.Now().Add(s.opts.WriteWait)
	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		c.close()
	}
	s.log.Info("websocket connections closed", zap.Int("count", len(clients)))
}

// checkOrigin accepts requests without an Origin header. With an allow list
// only listed origins, or origins on a listed host, pass; without one the
// request's own host and loopback do.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.allowedOrigins[origin] {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if len(s.allowedOrigins) > 0 {
		return s.allowedHosts[u.Host]
	}
	return u.Host == r.Host || isLoopback(u.Hostname())
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
