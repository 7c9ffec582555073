package api

import (
	"net/http"

	"github.com/org/trustledger/internal/rbac"
)

// CheckHandler handles POST /v1/check
func (s *Server) CheckHandler(w http.ResponseWriter, r *http.Request) {
	a, ok := s.requireActor(w, r, "check", "execute")
	if !ok {
		return
	}

	var req struct {
		Role     string         `json:"role"`
		Resource string         `json:"resource"`
		Action   string         `json:"action"`
		Context  map[string]any `json:"context"`
		UserID   string         `json:"user_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Role == "" || req.Resource == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "role, resource and action are required")
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = a.UserID
	}

	result := s.engine.Check(req.Role, rbac.CheckRequest{
		Resource: req.Resource,
		Action:   req.Action,
		Context:  req.Context,
	}, userID)

	if result.Granted {
		checksTotal.WithLabelValues("true").Inc()
	} else {
		checksTotal.WithLabelValues("false").Inc()
	}
	cacheSize.Set(float64(s.engine.CacheLen()))

	writeJSON(w, http.StatusOK, result)
}

// CacheClearHandler handles POST /v1/sys/cache/clear
func (s *Server) CacheClearHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireActor(w, r, "sys/cache", "write"); !ok {
		return
	}
	s.engine.ClearCache()
	cacheSize.Set(0)
	w.WriteHeader(http.StatusNoContent)
}
