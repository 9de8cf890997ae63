package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/TimurManjosov/contentship/internal/engine"
	"github.com/TimurManjosov/contentship/internal/rules"
	"github.com/TimurManjosov/contentship/internal/snapshot"
	"github.com/TimurManjosov/contentship/internal/store"
)

type listResponse struct {
	Definitions []rules.Definition `json:"definitions"`
	Count       int                `json:"count"`
}

type viewsResponse struct {
	ID    string           `json:"id"`
	Views map[string]int64 `json:"views"`
}

// handleRender builds the request context from the HTTP request itself.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ids, err := s.svc.ExperimentIDs(r.Context(), id)
	if err != nil {
		s.lookupError(w, r, id, err)
		return
	}
	rc := s.builder.Build(w, r, ids)
	s.render(w, r, id, rc)
}

// handleSelect renders for a caller-supplied context.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var rc engine.RequestContext
	if !decodeJSON(w, r, &rc) {
		return
	}
	ids, err := s.svc.ExperimentIDs(r.Context(), id)
	if err != nil {
		s.lookupError(w, r, id, err)
		return
	}
	s.render(w, r, id, s.builder.Complete(r.Context(), &rc, ids))
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, id string, rc *engine.RequestContext) {
	res, err := s.svc.Render(r.Context(), id, rc)
	if err != nil {
		s.lookupError(w, r, id, err)
		return
	}
	w.Header().Set("Cache-Control", "private, no-store")
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := s.svc.List(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list definitions failed")
		InternalError(w, r, "failed to list definitions")
		return
	}
	if defs == nil {
		defs = []rules.Definition{}
	}
	writeJSON(w, http.StatusOK, listResponse{Definitions: defs, Count: len(defs)})
}

func (s *Server) handleGetDefinition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := s.svc.Definition(r.Context(), id)
	if err != nil {
		s.lookupError(w, r, id, err)
		return
	}
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == entry.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", entry.ETag)
	writeJSON(w, http.StatusOK, entry.Definition)
}

func (s *Server) handlePutDefinition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var d rules.Definition
	if !decodeJSON(w, r, &d) {
		return
	}
	if body := strings.TrimSpace(d.ID); body != "" && body != id {
		ValidationError(w, r, "definition id does not match the URL", map[string]string{"id": "must equal " + id})
		return
	}
	d.ID = id

	saved, err := s.svc.Save(r.Context(), d)
	if err != nil {
		if isValidationErr(err) {
			ValidationError(w, r, "definition is invalid", fieldsOf(err))
			return
		}
		hlog.FromRequest(r).Error().Err(err).Str("content_id", id).Msg("save definition failed")
		InternalError(w, r, "failed to save definition")
		return
	}
	w.Header().Set("ETag", snapshot.ETag(saved))
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteDefinition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Delete(r.Context(), id); err != nil {
		s.lookupError(w, r, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleViews(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	counts, err := s.svc.Views(r.Context(), id)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("content_id", id).Msg("load views failed")
		InternalError(w, r, "failed to load views")
		return
	}
	writeJSON(w, http.StatusOK, viewsResponse{ID: id, Views: counts})
}

// lookupError maps a store error for definition id to a response.
func (s *Server) lookupError(w http.ResponseWriter, r *http.Request, id string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		NotFoundError(w, r, "content "+id+" not found")
		return
	}
	hlog.FromRequest(r).Error().Err(err).Str("content_id", id).Msg("definition lookup failed")
	InternalError(w, r, "failed to load content")
}
