package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

type createAlertRequest struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := alertListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n < limit {
			limit = n
		}
	}

	alerts, err := s.content.ListAlerts(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req createAlertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, err := s.alerts.Create(r.Context(), req.Type, req.Message, req.Severity)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleReadAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.content.MarkAlertRead(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) handleReadAllAlerts(w http.ResponseWriter, r *http.Request) {
	if err := s.content.MarkAllAlertsRead(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) handleClearAlerts(w http.ResponseWriter, r *http.Request) {
	if err := s.content.ClearAlerts(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w)
}
