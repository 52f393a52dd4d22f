// Package api serves the console's REST interface.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/holdroom/backend/internal/alert"
	"github.com/holdroom/backend/internal/auth"
	"github.com/holdroom/backend/internal/content"
	"github.com/holdroom/backend/internal/session"
)

// DefaultIntervalMS is the rotation interval used when a rotate request
// does not name one.
const DefaultIntervalMS = 5000

// alertListLimit caps GET /api/alerts.
const alertListLimit = 100

// ConnectionCounter reports live websocket connections for the health
// endpoint. ws.Registry satisfies it.
type ConnectionCounter interface {
	ObserverCount() int
	VisitorCount() int
}

// Routes is implemented by components that mount their own handlers on the
// router, such as the websocket server.
type Routes interface {
	SetupRoutes(r *mux.Router)
}

type Config struct {
	Machine     *session.Machine
	Content     content.Repository
	Alerts      *alert.Service
	Secret      auth.Secret
	Connections ConnectionCounter

	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy    bool
	RegisterRate  float64
	RegisterBurst int

	Logger *zap.Logger
	Clock  func() time.Time
}

type Server struct {
	machine     *session.Machine
	content     content.Repository
	alerts      *alert.Service
	secret      auth.Secret
	connections ConnectionCounter
	trustProxy  bool
	limiter     *ipLimiter
	log         *zap.Logger
	now         func() time.Time
	started     time.Time
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Alerts == nil {
		cfg.Alerts = alert.NewService(cfg.Content, nil, nil, cfg.Logger)
	}
	if cfg.RegisterRate <= 0 {
		cfg.RegisterRate = 1
	}
	if cfg.RegisterBurst <= 0 {
		cfg.RegisterBurst = 5
	}
	return &Server{
		machine:     cfg.Machine,
		content:     cfg.Content,
		alerts:      cfg.Alerts,
		secret:      cfg.Secret,
		connections: cfg.Connections,
		trustProxy:  cfg.TrustProxy,
		limiter:     newIPLimiter(cfg.RegisterRate, cfg.RegisterBurst, limiterTTL),
		log:         cfg.Logger,
		now:         cfg.Clock,
		started:     cfg.Clock(),
	}
}

// Close stops the rate limiter's cleanup loop.
func (s *Server) Close() {
	s.limiter.stop()
}

// Handler builds the router with the middleware chain, the REST routes and
// the routes of every extra component.
func (s *Server) Handler(extra ...Routes) http.Handler {
	r := mux.NewRouter()
	r.Use(recoverer(s.log), requestID, securityHeaders, instrument, accessLog(s.log))

	for _, e := range extra {
		e.SetupRoutes(r)
	}
	s.SetupRoutes(r)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (s *Server) SetupRoutes(r *mux.Router) {
	admin := func(h http.HandlerFunc) http.Handler { return s.requireAdmin(h) }

	// Public.
	r.HandleFunc("/api/auth/admin", s.handleAdminLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/visitors/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/visitors/{sessionId}/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/pages/default", s.handleDefaultPage).Methods(http.MethodGet)
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Visitors.
	r.Handle("/api/visitors", admin(s.handleListVisitors)).Methods(http.MethodGet)
	r.Handle("/api/visitors/{id}/approve", admin(s.handleApprove)).Methods(http.MethodPut)
	r.Handle("/api/visitors/{id}/approve/rotate", admin(s.handleApproveRotate)).Methods(http.MethodPut)
	r.Handle("/api/visitors/{id}/rotation/next", admin(s.handleRotateNext)).Methods(http.MethodPut)
	r.Handle("/api/visitors/{id}/rotation/stop", admin(s.handleStopRotation)).Methods(http.MethodPut)
	r.Handle("/api/visitors/{id}/block", admin(s.handleBlock)).Methods(http.MethodPut)
	r.Handle("/api/visitors/{id}", admin(s.handleDeleteVisitor)).Methods(http.MethodDelete)

	// Pages.
	r.Handle("/api/pages", admin(s.handleListPages)).Methods(http.MethodGet)
	r.Handle("/api/pages", admin(s.handleCreatePage)).Methods(http.MethodPost)
	r.Handle("/api/pages/{id}", admin(s.handleGetPage)).Methods(http.MethodGet)
	r.Handle("/api/pages/{id}", admin(s.handleUpdatePage)).Methods(http.MethodPut)
	r.Handle("/api/pages/{id}", admin(s.handleDeletePage)).Methods(http.MethodDelete)

	// Alerts.
	r.Handle("/api/alerts", admin(s.handleListAlerts)).Methods(http.MethodGet)
	r.Handle("/api/alerts", admin(s.handleCreateAlert)).Methods(http.MethodPost)
	r.Handle("/api/alerts", admin(s.handleClearAlerts)).Methods(http.MethodDelete)
	r.Handle("/api/alerts/read-all", admin(s.handleReadAllAlerts)).Methods(http.MethodPut)
	r.Handle("/api/alerts/{id}/read", admin(s.handleReadAlert)).Methods(http.MethodPut)

	r.Handle("/api/stats", admin(s.handleStats)).Methods(http.MethodGet)

	// Engagement records.
	r.Handle("/api/targets", admin(s.handleListTargets)).Methods(http.MethodGet)
	r.Handle("/api/targets", admin(s.handleCreateTarget)).Methods(http.MethodPost)
	r.Handle("/api/targets/{id}", admin(s.handleDeleteTarget)).Methods(http.MethodDelete)
	r.Handle("/api/scans", admin(s.handleListScans)).Methods(http.MethodGet)
	r.Handle("/api/scans", admin(s.handleCreateScan)).Methods(http.MethodPost)
	r.Handle("/api/scans/{id}", admin(s.handleUpdateScan)).Methods(http.MethodPut)
	r.Handle("/api/vulnerabilities", admin(s.handleListVulnerabilities)).Methods(http.MethodGet)
	r.Handle("/api/vulnerabilities", admin(s.handleCreateVulnerability)).Methods(http.MethodPost)
}

type adminLoginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.secret.Matches(req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}
	writeSuccess(w)
}
