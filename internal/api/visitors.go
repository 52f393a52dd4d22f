package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/holdroom/backend/internal/session"
)

type registerRequest struct {
	SessionID    string `json:"session_id"`
	UserAgent    string `json:"user_agent"`
	ScreenWidth  int    `json:"screen_width"`
	ScreenHeight int    `json:"screen_height"`
	Timezone     string `json:"timezone"`
	Languages    string `json:"languages"`
}

type approveRequest struct {
	PageID string `json:"page_id"`
}

type rotateRequest struct {
	PageIDs    []string `json:"page_ids"`
	IntervalMS *int     `json:"interval_ms"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r, s.trustProxy)
	if !s.limiter.allow(ip) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}

	v, err := s.machine.Register(r.Context(), session.Registration{
		SessionID:    req.SessionID,
		IP:           ip,
		UserAgent:    req.UserAgent,
		ScreenWidth:  req.ScreenWidth,
		ScreenHeight: req.ScreenHeight,
		Timezone:     req.Timezone,
		Languages:    req.Languages,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.machine.Status(r.Context(), mux.Vars(r)["sessionId"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleListVisitors(w http.ResponseWriter, r *http.Request) {
	visitors, err := s.machine.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, visitors)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.machine.Approve(r.Context(), mux.Vars(r)["id"], req.PageID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) handleApproveRotate(w http.ResponseWriter, r *http.Request) {
	var req rotateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	interval := DefaultIntervalMS
	if req.IntervalMS != nil {
		interval = *req.IntervalMS
	}

	if err := s.machine.ApproveWithRotation(r.Context(), mux.Vars(r)["id"], req.PageIDs, interval); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"rotation_mode": true,
		"pages":         len(req.PageIDs),
	})
}

func (s *Server) handleRotateNext(w http.ResponseWriter, r *http.Request) {
	index, total, err := s.machine.RotateNext(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"page_index":  index,
		"total_pages": total,
	})
}

func (s *Server) handleStopRotation(w http.ResponseWriter, r *http.Request) {
	if err := s.machine.StopRotation(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	if err := s.machine.Block(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) handleDeleteVisitor(w http.ResponseWriter, r *http.Request) {
	if err := s.machine.Remove(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w)
}
