package adapthttp

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"relayer/internal/app"
	"relayer/internal/domain"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"address":   s.info.Address,
		"network":   s.info.Network,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token   string             `json:"token"`
		Payload *app.ActionPayload `json:"payload"`
	}
	if err := parseJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	receipt, err := s.relay.Relay(r.Context(), app.RelayRequest{
		Token:      body.Token,
		RemoteAddr: r.RemoteAddr,
		Payload:    body.Payload,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, receipt)
	case errors.Is(err, app.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, "Invalid payload")
	case errors.Is(err, domain.ErrSessionQuotaExceeded):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":  "Quota exceeded (session)",
			"reason": "SessionQuotaExceeded",
		})
	case errors.Is(err, domain.ErrDailyQuotaExceeded):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":  "Quota exceeded (daily)",
			"reason": "DailyQuotaExceeded",
		})
	default:
		s.logger.Error("relay failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (s *Server) handleTx(w http.ResponseWriter, r *http.Request) {
	status, err := s.relay.TxStatus(r.Context(), chi.URLParam(r, "hash"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Transaction not found")
		return
	}
	if err != nil {
		s.logger.Error("tx lookup failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	items, err := s.relay.Activity(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		s.logger.Error("activity lookup failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": items})
}
