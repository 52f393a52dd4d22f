package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/holdroom/backend/internal/alert"
	"github.com/holdroom/backend/internal/content"
	"github.com/holdroom/backend/internal/session"
)

const testSecret = "test-secret"

type harness struct {
	t       *testing.T
	handler http.Handler
	srv     *Server
	repo    *content.MemoryRepository
	store   *session.MemoryStore
}

type fakeConnections struct{ observers, visitors int }

func (f fakeConnections) ObserverCount() int { return f.observers }
func (f fakeConnections) VisitorCount() int  { return f.visitors }

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()
	repo := content.NewMemoryRepository()
	store := session.NewMemoryStore()
	alerts := alert.NewService(repo, nil, nil, nil)
	m := session.NewMachine(session.MachineConfig{
		Store:  store,
		Pages:  repo,
		Alerts: alerts,
	})

	cfg := Config{
		Machine:       m,
		Content:       repo,
		Alerts:        alerts,
		Secret:        testSecret,
		RegisterRate:  100,
		RegisterBurst: 100,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	srv := New(cfg)
	t.Cleanup(srv.Close)

	return &harness{t: t, handler: srv.Handler(), srv: srv, repo: repo, store: store}
}

func (h *harness) seedPages(ids ...string) {
	h.t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range ids {
		err := h.repo.CreatePage(context.Background(), &content.Page{
			ID:        id,
			Name:      id,
			Content:   "content-" + id,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(h.t, err)
	}
}

func (h *harness) request(method, path string, body any, admin bool, mods ...func(*http.Request)) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer "+testSecret)
	}
	for _, mod := range mods {
		mod(req)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) register(sessionID string) map[string]any {
	h.t.Helper()
	rec := h.request(http.MethodPost, "/api/visitors/register", map[string]any{
		"session_id":    sessionID,
		"user_agent":    "Mozilla/5.0 (X11; Linux x86_64) Firefox/120.0",
		"screen_width":  1920,
		"screen_height": 1080,
	}, false)
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeMap(h.t, rec)
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var l []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &l), rec.Body.String())
	return l
}

func TestAdminRoutesRequireSecret(t *testing.T) {
	h := newHarness(t)
	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/visitors"},
		{http.MethodPut, "/api/visitors/v1/approve"},
		{http.MethodPut, "/api/visitors/v1/approve/rotate"},
		{http.MethodPut, "/api/visitors/v1/rotation/next"},
		{http.MethodPut, "/api/visitors/v1/rotation/stop"},
		{http.MethodPut, "/api/visitors/v1/block"},
		{http.MethodDelete, "/api/visitors/v1"},
		{http.MethodGet, "/api/pages"},
		{http.MethodPost, "/api/pages"},
		{http.MethodGet, "/api/pages/p1"},
		{http.MethodGet, "/api/alerts"},
		{http.MethodPut, "/api/alerts/read-all"},
		{http.MethodGet, "/api/stats"},
		{http.MethodGet, "/api/targets"},
		{http.MethodPut, "/api/scans/s1"},
		{http.MethodPost, "/api/vulnerabilities"},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			rec := h.request(rt.method, rt.path, nil, false)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "unauthorized", decodeMap(t, rec)["error"])

			rec = h.request(rt.method, rt.path+"?token=wrong", nil, false)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAdminSecretCarriers(t *testing.T) {
	h := newHarness(t)

	rec := h.request(http.MethodGet, "/api/visitors?token="+testSecret, nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.request(http.MethodGet, "/api/visitors", nil, false, func(r *http.Request) {
		r.Header.Set("X-Admin-Token", testSecret)
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.request(http.MethodGet, "/api/visitors", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminLogin(t *testing.T) {
	h := newHarness(t)

	rec := h.request(http.MethodPost, "/api/auth/admin", map[string]string{"password": testSecret}, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeMap(t, rec)["success"])

	rec = h.request(http.MethodPost, "/api/auth/admin", map[string]string{"password": "guess"}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.request(http.MethodPost, "/api/auth/admin", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterIsIdempotent(t *testing.T) {
	h := newHarness(t)

	first := h.register("s1")
	assert.Equal(t, "pending", first["status"])
	assert.Equal(t, "s1", first["session_id"])
	assert.Equal(t, "1920x1080", first["screen"])
	assert.Equal(t, "192.0.2.1", first["ip"])

	second := h.register("s1")
	assert.Equal(t, first["id"], second["id"])

	rec := h.request(http.MethodGet, "/api/visitors", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeList(t, rec), 1)
}

func TestRegisterValidation(t *testing.T) {
	h := newHarness(t)

	rec := h.request(http.MethodPost, "/api/visitors/register", map[string]any{"user_agent": "x"}, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/visitors/register", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeMap(t, rr)["error"], "invalid request body")
}

func TestRegisterRateLimited(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.RegisterRate = 0.001
		c.RegisterBurst = 2
		c.TrustProxy = true
	})

	body := map[string]any{"session_id": "s1", "user_agent": "Mozilla/5.0 test agent"}
	for i := 0; i < 2; i++ {
		rec := h.request(http.MethodPost, "/api/visitors/register", body, false)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}
	rec := h.request(http.MethodPost, "/api/visitors/register", body, false)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different forwarded client has its own bucket.
	rec = h.request(http.MethodPost, "/api/visitors/register", body, false, func(r *http.Request) {
		r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusUnknownSession(t *testing.T) {
	h := newHarness(t)
	rec := h.request(http.MethodGet, "/api/visitors/nope/status", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApproveErrors(t *testing.T) {
	h := newHarness(t)
	h.seedPages("p1")
	id := h.register("s1")["id"].(string)

	rec := h.request(http.MethodPut, "/api/visitors/missing/approve", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.request(http.MethodPut, "/api/visitors/"+id+"/approve", map[string]string{"page_id": "nope"}, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.request(http.MethodPut, "/api/visitors/"+id+"/approve", map[string]string{"page_id": "p1"}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.request(http.MethodGet, "/api/visitors/s1/status", nil, false)
	status := decodeMap(t, rec)
	assert.Equal(t, "approved", status["status"])
	assert.Equal(t, "content-p1", status["page_content"])

	rec = h.request(http.MethodPut, "/api/visitors/"+id+"/block", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.request(http.MethodPut, "/api/visitors/"+id+"/approve", nil, true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.request(http.MethodGet, "/api/visitors/s1/status", nil, false)
	status = decodeMap(t, rec)
	assert.Equal(t, "blocked", status["status"])
	assert.NotContains(t, status, "page_content")
}

func TestApproveWithoutBody(t *testing.T) {
	h := newHarness(t)
	id := h.register("s1")["id"].(string)

	req := httptest.NewRequest(http.MethodPut, "/api/visitors/"+id+"/approve", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRotationLifecycle(t *testing.T) {
	h := newHarness(t)
	h.seedPages("p1", "p2", "p3")
	id := h.register("s1")["id"].(string)
	base := "/api/visitors/" + id

	rec := h.request(http.MethodPut, base+"/approve/rotate", map[string]any{"page_ids": []string{"p1", "p2", "p3"}}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeMap(t, rec)
	assert.Equal(t, true, body["rotation_mode"])
	assert.Equal(t, float64(3), body["pages"])

	rec = h.request(http.MethodGet, "/api/visitors/s1/status", nil, false)
	status := decodeMap(t, rec)
	assert.Equal(t, "approved", status["status"])
	assert.Equal(t, true, status["is_rotating"])
	assert.Equal(t, float64(DefaultIntervalMS), status["interval_ms"])
	assert.Equal(t, float64(0), status["page_index"])
	assert.Equal(t, float64(3), status["total_pages"])
	assert.Equal(t, "content-p1", status["page_content"])

	rec = h.request(http.MethodPut, base+"/rotation/next", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	next := decodeMap(t, rec)
	assert.Equal(t, float64(1), next["page_index"])
	assert.Equal(t, float64(3), next["total_pages"])

	rec = h.request(http.MethodPut, base+"/rotation/stop", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.request(http.MethodGet, "/api/visitors/s1/status", nil, false)
	status = decodeMap(t, rec)
	assert.Equal(t, false, status["is_rotating"])
	assert.Equal(t, "content-p2", status["page_content"])
	assert.NotContains(t, status, "page_index")

	rec = h.request(http.MethodPut, base+"/rotation/next", nil, true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Stopping again is a no-op.
	rec = h.request(http.MethodPut, base+"/rotation/stop", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApproveRotateValidation(t *testing.T) {
	h := newHarness(t)
	h.seedPages("p1", "p2")
	id := h.register("s1")["id"].(string)
	path := "/api/visitors/" + id + "/approve/rotate"

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"one page", map[string]any{"page_ids": []string{"p1"}}, http.StatusBadRequest},
		{"seven pages", map[string]any{"page_ids": []string{"p1", "p2", "p1", "p2", "p1", "p2", "p1"}}, http.StatusBadRequest},
		{"zero interval", map[string]any{"page_ids": []string{"p1", "p2"}, "interval_ms": 0}, http.StatusBadRequest},
		{"unknown page", map[string]any{"page_ids": []string{"p1", "p9"}}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.request(http.MethodPut, path, tt.body, true)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	// Nothing was applied.
	rec := h.request(http.MethodGet, "/api/visitors/s1/status", nil, false)
	status := decodeMap(t, rec)
	assert.Equal(t, "pending", status["status"])
	assert.Equal(t, false, status["is_rotating"])
}

func TestDeleteVisitor(t *testing.T) {
	h := newHarness(t)
	id := h.register("s1")["id"].(string)

	rec := h.request(http.MethodDelete, "/api/visitors/"+id, nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.request(http.MethodDelete, "/api/visitors/"+id, nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.request(http.MethodGet, "/api/visitors/s1/status", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPages(t *testing.T) {
	h := newHarness(t)

	rec := h.request(http.MethodGet, "/api/pages/default", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	def := decodeMap(t, rec)
	assert.Contains(t, def, "content")
	assert.Nil(t, def["content"])

	rec = h.request(http.MethodPost, "/api/pages", map[string]any{"content": "x"}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.request(http.MethodPost, "/api/pages", map[string]any{
		"name": "Landing", "content": "<h1>hold</h1>", "is_default": true,
	}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeMap(t, rec)
	id := page["id"].(string)
	assert.NotEmpty(t, id)

	rec = h.request(http.MethodGet, "/api/pages/default", nil, false)
	assert.Equal(t, "<h1>hold</h1>", decodeMap(t, rec)["content"])

	rec = h.request(http.MethodGet, "/api/pages", nil, true)
	list := decodeList(t, rec)
	require.Len(t, list, 1)
	assert.NotContains(t, list[0], "content")

	rec = h.request(http.MethodPut, "/api/pages/"+id, map[string]any{"name": "Renamed"}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.request(http.MethodGet, "/api/pages/"+id, nil, true)
	got := decodeMap(t, rec)
	assert.Equal(t, "Renamed", got["name"])
	assert.Equal(t, "<h1>hold</h1>", got["content"])

	rec = h.request(http.MethodPut, "/api/pages/missing", map[string]any{"name": "x"}, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.request(http.MethodDelete, "/api/pages/"+id, nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.request(http.MethodGet, "/api/pages/"+id, nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Create and update each raised a system alert.
	rec = h.request(http.MethodGet, "/api/alerts", nil, true)
	alerts := decodeList(t, rec)
	require.Len(t, alerts, 2)
	for _, a := range alerts {
		assert.Equal(t, content.AlertSystem, a["type"])
	}
}

func TestAlerts(t *testing.T) {
	h := newHarness(t)

	rec := h.request(http.MethodPost, "/api/alerts", map[string]any{"message": "disk almost full", "severity": "critical"}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	a := decodeMap(t, rec)
	assert.Equal(t, content.AlertSystem, a["type"])
	assert.Equal(t, false, a["read"])
	id := a["id"].(string)

	rec = h.request(http.MethodPost, "/api/alerts", map[string]any{"message": "x", "severity": "loud"}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = h.request(http.MethodPost, "/api/alerts", map[string]any{"type": "visitor"}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.request(http.MethodPost, "/api/alerts", map[string]any{"type": "visitor", "message": "second"}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.request(http.MethodGet, "/api/stats", nil, true)
	assert.Equal(t, float64(2), decodeMap(t, rec)["alerts"].(map[string]any)["unread"])

	rec = h.request(http.MethodPut, "/api/alerts/"+id+"/read", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.request(http.MethodPut, "/api/alerts/missing/read", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.request(http.MethodGet, "/api/stats", nil, true)
	assert.Equal(t, float64(1), decodeMap(t, rec)["alerts"].(map[string]any)["unread"])

	rec = h.request(http.MethodPut, "/api/alerts/read-all", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.request(http.MethodGet, "/api/stats", nil, true)
	assert.Equal(t, float64(0), decodeMap(t, rec)["alerts"].(map[string]any)["unread"])

	rec = h.request(http.MethodGet, "/api/alerts?limit=1", nil, true)
	assert.Len(t, decodeList(t, rec), 1)
	rec = h.request(http.MethodGet, "/api/alerts?limit=zero", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.request(http.MethodDelete, "/api/alerts", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.request(http.MethodGet, "/api/alerts", nil, true)
	assert.Empty(t, decodeList(t, rec))
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	h.register("s1")
	id := h.register("s2")["id"].(string)
	h.request(http.MethodPut, "/api/visitors/"+id+"/approve", nil, true)

	rec := h.request(http.MethodGet, "/api/stats", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeMap(t, rec)
	visitors := stats["visitors"].(map[string]any)
	assert.Equal(t, float64(2), visitors["online"])
	assert.Equal(t, float64(1), visitors["pending"])
	assert.Equal(t, float64(0), stats["pentest"].(map[string]any)["vulnerabilities"])
}

func TestEngagementRecords(t *testing.T) {
	h := newHarness(t)

	rec := h.request(http.MethodPost, "/api/targets", map[string]any{"description": "no host"}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.request(http.MethodPost, "/api/targets", map[string]any{"host": "10.0.0.5", "ports": "22,443"}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	target := decodeMap(t, rec)
	assert.Equal(t, "active", target["status"])
	targetID := target["id"].(string)

	rec = h.request(http.MethodPost, "/api/scans", map[string]any{"target_id": targetID}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.request(http.MethodPost, "/api/scans", map[string]any{"target_id": targetID, "scan_type": "nmap"}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	scan := decodeMap(t, rec)
	assert.Equal(t, "pending", scan["status"])

	rec = h.request(http.MethodPut, "/api/scans/"+scan["id"].(string), map[string]any{"status": "done", "results": "22/tcp open"}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.request(http.MethodPut, "/api/scans/missing", map[string]any{"status": "done"}, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.request(http.MethodGet, "/api/scans", nil, true)
	scans := decodeList(t, rec)
	require.Len(t, scans, 1)
	assert.Equal(t, "done", scans[0]["status"])
	assert.Equal(t, "22/tcp open", scans[0]["results"])

	for _, cvss := range []float64{3.1, 9.8} {
		rec = h.request(http.MethodPost, "/api/vulnerabilities", map[string]any{
			"target_id": targetID, "title": fmt.Sprintf("cvss %.1f", cvss), "cvss": cvss,
		}, true)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec = h.request(http.MethodPost, "/api/vulnerabilities", map[string]any{"target_id": targetID, "title": "t", "cvss": 11}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.request(http.MethodGet, "/api/vulnerabilities", nil, true)
	vulns := decodeList(t, rec)
	require.Len(t, vulns, 2)
	assert.Equal(t, 9.8, vulns[0]["cvss"])
	assert.Equal(t, "medium", vulns[0]["severity"])

	rec = h.request(http.MethodGet, "/api/stats", nil, true)
	assert.Equal(t, float64(2), decodeMap(t, rec)["pentest"].(map[string]any)["vulnerabilities"])

	rec = h.request(http.MethodDelete, "/api/targets/"+targetID, nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.request(http.MethodGet, "/api/targets", nil, true)
	assert.Empty(t, decodeList(t, rec))
}

func TestHealth(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Connections = fakeConnections{observers: 2, visitors: 3}
	})

	rec := h.request(http.MethodGet, "/api/health", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(2), body["observers"])
	assert.Equal(t, float64(3), body["visitor_connections"])
	assert.Greater(t, body["goroutines"], float64(0))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.request(http.MethodGet, "/api/health", nil, false)

	rec := h.request(http.MethodGet, "/metrics", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "holdroom_http_requests_total")
}

func TestMiddlewareHeaders(t *testing.T) {
	h := newHarness(t)

	rec := h.request(http.MethodGet, "/api/health", nil, false)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = h.request(http.MethodGet, "/api/health", nil, false, func(r *http.Request) {
		r.Header.Set(RequestIDHeader, "req-123")
	})
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
}

func TestUnknownRoute(t *testing.T) {
	h := newHarness(t)

	rec := h.request(http.MethodGet, "/api/nothing-here", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", decodeMap(t, rec)["error"])

	rec = h.request(http.MethodPatch, "/api/visitors/register", nil, false)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRecovererReturns500(t *testing.T) {
	r := mux.NewRouter()
	r.Use(recoverer(zap.NewNop()))
	r.HandleFunc("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", session.ErrInvalidArgument), http.StatusBadRequest},
		{fmt.Errorf("x: %w", session.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", content.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", session.ErrInvalidState), http.StatusConflict},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorStatus(tt.err), tt.err.Error())
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remote     string
		forwarded  string
		trustProxy bool
		want       string
	}{
		{"remote addr", "198.51.100.4:5000", "", false, "198.51.100.4"},
		{"forwarded ignored", "198.51.100.4:5000", "203.0.113.1", false, "198.51.100.4"},
		{"forwarded trusted", "10.0.0.1:5000", "203.0.113.1, 10.0.0.1", true, "203.0.113.1"},
		{"empty forwarded", "10.0.0.1:5000", " ", true, "10.0.0.1"},
		{"no port", "198.51.100.4", "", false, "198.51.100.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, clientIP(r, tt.trustProxy))
		})
	}
}

func TestIPLimiterSweep(t *testing.T) {
	l := newIPLimiter(1, 1, time.Minute)
	defer l.stop()

	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"))
	assert.Equal(t, 2, l.size())

	l.sweep(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, l.size())

	// A swept client starts with a fresh bucket.
	assert.True(t, l.allow("a"))
	l.stop()
	l.stop()
}
