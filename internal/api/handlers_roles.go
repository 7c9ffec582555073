package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/org/trustledger/internal/ledger"
	"github.com/org/trustledger/pkg/models"
)

// RoleWriteHandler handles POST /v1/roles
func (s *Server) RoleWriteHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireActor(w, r, "roles", "write"); !ok {
		return
	}

	var role models.RoleDefinition
	if err := decodeJSON(r, &role); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.engine.DefineRole(&role); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.roles != nil {
		if err := s.roles.SaveRole(r.Context(), &role); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, role)
}

// RoleReadHandler handles GET /v1/roles/:id
func (s *Server) RoleReadHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireActor(w, r, "roles", "read"); !ok {
		return
	}

	role, ok := s.engine.GetRole(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "role not found")
		return
	}
	writeJSON(w, http.StatusOK, role)
}

// RoleListHandler handles GET /v1/roles
func (s *Server) RoleListHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireActor(w, r, "roles", "read"); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": s.engine.AllRoles()})
}

// RoleDeleteHandler handles DELETE /v1/roles/:id
func (s *Server) RoleDeleteHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireActor(w, r, "roles", "delete"); !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if !s.engine.RemoveRole(id) {
		writeError(w, http.StatusNotFound, "role not found")
		return
	}
	if s.roles != nil {
		if err := s.roles.DeleteRole(r.Context(), id); err != nil && !errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
