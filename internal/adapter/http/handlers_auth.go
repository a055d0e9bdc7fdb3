// Package adapthttp implements the HTTP adapter for the application.
package adapthttp

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"

	"relayer/internal/app"
	"relayer/internal/domain"
)

type sessionResponse struct {
	Token   string      `json:"token"`
	Session sessionView `json:"session"`
}

type sessionView struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	SessionKey string `json:"sessionKey"`
	ExpiresAt  int64  `json:"expiresAt"`
}

func newSessionResponse(session domain.Session, token string) sessionResponse {
	return sessionResponse{
		Token: token,
		Session: sessionView{
			ID:         session.ID,
			Email:      session.Email,
			SessionKey: session.SessionKey,
			ExpiresAt:  session.ExpiresAt.UnixMilli(),
		},
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := parseJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	session, token, err := s.creds.IssueSession(req.Email)
	if errors.Is(err, app.ErrInvalidEmail) {
		writeError(w, http.StatusBadRequest, "invalid email")
		return
	}
	if err != nil {
		s.logger.Error("issue session failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(session, token))
}

// handleMagicLink returns the link in the response body; delivering it by
// email is left to the caller.
func (s *Server) handleMagicLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := parseJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	link, err := s.creds.MagicLink(req.Email, s.info.PublicURL)
	if errors.Is(err, app.ErrInvalidEmail) {
		writeError(w, http.StatusBadRequest, "invalid email")
		return
	}
	if err != nil {
		s.logger.Error("magic link failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"link": link})
}

func (s *Server) handleMagicCallback(w http.ResponseWriter, r *http.Request) {
	session, token, err := s.creds.RedeemMagicLink(r.URL.Query().Get("token"))
	if errors.Is(err, app.ErrInvalidCredential) || errors.Is(err, app.ErrInvalidEmail) {
		writeError(w, http.StatusUnauthorized, "invalid or expired link")
		return
	}
	if err != nil {
		s.logger.Error("magic link redeem failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(session, token))
}

func (s *Server) handleSSOLogin(w http.ResponseWriter, r *http.Request) {
	if s.oidc == nil {
		http.Error(w, "sso disabled", http.StatusNotFound)
		return
	}
	state := generateState()
	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode, // Lax required for cross-site redirect returns
		MaxAge:   300,
	})
	http.Redirect(w, r, s.oidc.OAuth2Config.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) handleSSOCallback(w http.ResponseWriter, r *http.Request) {
	if s.oidc == nil {
		http.Error(w, "sso disabled", http.StatusNotFound)
		return
	}

	state, err := r.Cookie("oauth_state")
	if err != nil || r.URL.Query().Get("state") != state.Value {
		writeError(w, http.StatusBadRequest, "invalid state")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "oauth_state", MaxAge: -1, Path: "/"})

	token, err := s.oidc.OAuth2Config.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to exchange token")
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		writeError(w, http.StatusBadGateway, "no id_token")
		return
	}

	idToken, err := s.oidc.verifier().Verify(r.Context(), rawIDToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "failed to verify token")
		return
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified *bool  `json:"email_verified"`
	}
	if err = idToken.Claims(&claims); err != nil {
		writeError(w, http.StatusBadGateway, "failed to parse claims")
		return
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		writeError(w, http.StatusUnauthorized, "email not verified")
		return
	}

	session, sessionToken, err := s.creds.IssueSession(claims.Email)
	if errors.Is(err, app.ErrInvalidEmail) {
		writeError(w, http.StatusUnauthorized, "identity has no email")
		return
	}
	if err != nil {
		s.logger.Error("sso session failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(session, sessionToken))
}

func generateState() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
