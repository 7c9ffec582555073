package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/org/trustledger/internal/ledger"
	"github.com/org/trustledger/internal/rbac"
	"github.com/org/trustledger/pkg/models"
)

// requireActor guards a handler with a permission check against the
// caller's role. Writes the error response and returns false on denial.
func (s *Server) requireActor(w http.ResponseWriter, r *http.Request, resource, action string) (*actor, bool) {
	a := actorFromCtx(r.Context())
	if a == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	err := s.engine.Require(a.Role, rbac.CheckRequest{Resource: resource, Action: action}, a.UserID)
	if err != nil {
		var denied *rbac.PermissionDeniedError
		if errors.As(err, &denied) {
			writeError(w, http.StatusForbidden, denied.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	return a, true
}

// RecordHandler handles POST /v1/ledger/entries
func (s *Server) RecordHandler(w http.ResponseWriter, r *http.Request) {
	a, ok := s.requireActor(w, r, "ledger/entries", "write")
	if !ok {
		return
	}

	var req struct {
		Event         string         `json:"event"`
		Level         models.Level   `json:"level"`
		Message       string         `json:"message"`
		UserID        string         `json:"user_id"`
		TaskID        string         `json:"task_id"`
		CorrelationID string         `json:"correlation_id"`
		Metadata      map[string]any `json:"metadata"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Event == "" {
		writeError(w, http.StatusBadRequest, "event is required")
		return
	}
	if req.Level == "" {
		req.Level = models.LevelInfo
	}
	userID := req.UserID
	if userID == "" {
		userID = a.UserID
	}
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = requestIDFromCtx(r.Context())
	}

	entry, err := s.chain.Record(r.Context(), ledger.NormalizeEvent(req.Event), req.Level, req.Message,
		ledger.RecordOptions{
			UserID:        userID,
			TaskID:        req.TaskID,
			CorrelationID: correlationID,
			Metadata:      req.Metadata,
		})
	if err != nil {
		if errors.Is(err, ledger.ErrNotInitialized) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ledgerEntriesTotal.Inc()

	writeJSON(w, http.StatusCreated, entry)
}

// EntryGetHandler handles GET /v1/ledger/entries/:id
func (s *Server) EntryGetHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireActor(w, r, "ledger/entries", "read"); !ok {
		return
	}

	id := chi.URLParam(r, "id")
	entry, err := s.chain.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// VerifyHandler handles POST /v1/ledger/verify
func (s *Server) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireActor(w, r, "ledger/verify", "verify"); !ok {
		return
	}

	result, err := s.chain.Verify(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if result.Valid {
		chainValid.Set(1)
	} else {
		chainValid.Set(0)
	}
	writeJSON(w, http.StatusOK, result)
}

// StatsHandler handles GET /v1/ledger/stats
func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireActor(w, r, "ledger/stats", "read"); !ok {
		return
	}

	stats, err := s.chain.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ledgerEntriesTotal.Set(float64(stats.EntryCount))
	writeJSON(w, http.StatusOK, stats)
}

// SnapshotHandler handles POST /v1/ledger/snapshot
func (s *Server) SnapshotHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireActor(w, r, "ledger/snapshot", "write"); !ok {
		return
	}

	snap, err := s.chain.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
