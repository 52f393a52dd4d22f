package api

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/holdroom/backend/internal/content"
	"github.com/holdroom/backend/internal/session"
)

type createTargetRequest struct {
	Host        string `json:"host"`
	Description string `json:"description"`
	Ports       string `json:"ports"`
	Status      string `json:"status"`
}

type createScanRequest struct {
	TargetID string `json:"target_id"`
	ScanType string `json:"scan_type"`
	Results  string `json:"results"`
	Notes    string `json:"notes"`
	Status   string `json:"status"`
}

type createVulnerabilityRequest struct {
	TargetID    string  `json:"target_id"`
	Title       string  `json:"title"`
	Severity    string  `json:"severity"`
	Description string  `json:"description"`
	CVSS        float64 `json:"cvss"`
	Status      string  `json:"status"`
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func required(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", session.ErrInvalidArgument, field)
	}
	return nil
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.content.ListTargets(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, targets)
}

func (s *Server) handleCreateTarget(w http.ResponseWriter, r *http.Request) {
	var req createTargetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := required("host", req.Host); err != nil {
		s.fail(w, r, err)
		return
	}

	t := &content.Target{
		ID:          uuid.NewString(),
		Host:        req.Host,
		Description: req.Description,
		Ports:       req.Ports,
		Status:      orDefault(req.Status, "active"),
		CreatedAt:   s.now(),
	}
	if err := s.content.CreateTarget(r.Context(), t); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	if err := s.content.DeleteTarget(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	scans, err := s.content.ListScans(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scans)
}

func (s *Server) handleCreateScan(w http.ResponseWriter, r *http.Request) {
	var req createScanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, check := range []error{required("target_id", req.TargetID), required("scan_type", req.ScanType)} {
		if check != nil {
			s.fail(w, r, check)
			return
		}
	}

	sc := &content.Scan{
		ID:        uuid.NewString(),
		TargetID:  req.TargetID,
		ScanType:  req.ScanType,
		Results:   req.Results,
		Notes:     req.Notes,
		Status:    orDefault(req.Status, "pending"),
		CreatedAt: s.now(),
	}
	if err := s.content.CreateScan(r.Context(), sc); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleUpdateScan(w http.ResponseWriter, r *http.Request) {
	var u content.ScanUpdate
	if err := decodeJSON(r, &u); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.content.UpdateScan(r.Context(), mux.Vars(r)["id"], u); err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) handleListVulnerabilities(w http.ResponseWriter, r *http.Request) {
	vulns, err := s.content.ListVulnerabilities(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vulns)
}

func (s *Server) handleCreateVulnerability(w http.ResponseWriter, r *http.Request) {
	var req createVulnerabilityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, check := range []error{required("target_id", req.TargetID), required("title", req.Title)} {
		if check != nil {
			s.fail(w, r, check)
			return
		}
	}
	if req.CVSS < 0 || req.CVSS > 10 {
		s.fail(w, r, fmt.Errorf("%w: cvss must be between 0 and 10", session.ErrInvalidArgument))
		return
	}

	v := &content.Vulnerability{
		ID:          uuid.NewString(),
		TargetID:    req.TargetID,
		Title:       req.Title,
		Severity:    orDefault(req.Severity, "medium"),
		Description: req.Description,
		CVSS:        req.CVSS,
		Status:      orDefault(req.Status, "open"),
		CreatedAt:   s.now(),
	}
	if err := s.content.CreateVulnerability(r.Context(), v); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
