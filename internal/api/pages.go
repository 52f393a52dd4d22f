package api

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/holdroom/backend/internal/content"
	"github.com/holdroom/backend/internal/session"
)

type createPageRequest struct {
	Name      string `json:"name"`
	Content   string `json:"content"`
	IsDefault bool   `json:"is_default"`
}

// handleDefaultPage is public: a visitor's landing view renders it before
// any decision has been made. With no default it returns {"content": null}.
func (s *Server) handleDefaultPage(w http.ResponseWriter, r *http.Request) {
	p, err := s.content.DefaultPage(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if p == nil {
		writeJSON(w, http.StatusOK, map[string]any{"content": nil})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListPages(w http.ResponseWriter, r *http.Request) {
	pages, err := s.content.ListPages(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]content.PageSummary, 0, len(pages))
	for _, p := range pages {
		out = append(out, p.Summary())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	p, err := s.content.GetPage(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	var req createPageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		s.fail(w, r, fmt.Errorf("%w: page name is required", session.ErrInvalidArgument))
		return
	}

	now := s.now()
	p := &content.Page{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Content:   req.Content,
		IsDefault: req.IsDefault,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.content.CreatePage(r.Context(), p); err != nil {
		s.fail(w, r, err)
		return
	}
	s.alerts.Raise(r.Context(), content.AlertSystem, "New page created: "+p.Name, content.SeverityInfo)
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePage(w http.ResponseWriter, r *http.Request) {
	var u content.PageUpdate
	if err := decodeJSON(r, &u); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.content.UpdatePage(r.Context(), id, u, s.now()); err != nil {
		s.fail(w, r, err)
		return
	}
	s.alerts.Raise(r.Context(), content.AlertSystem, "Page updated: "+id, content.SeverityInfo)
	writeSuccess(w)
}

// handleDeletePage leaves visitors pointing at the page alone; their
// content resolves to null until they are approved again.
func (s *Server) handleDeletePage(w http.ResponseWriter, r *http.Request) {
	if err := s.content.DeletePage(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w)
}
