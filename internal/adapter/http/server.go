package adapthttp

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"relayer/internal/app"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// ServiceInfo describes the relay itself for /health and link building.
type ServiceInfo struct {
	Address   string
	Network   string
	PublicURL string
}

// Server is the driving HTTP adapter that routes requests to application
// services.
type Server struct {
	relay  *app.RelayService
	creds  *app.CredentialService
	info   ServiceInfo
	oidc   *OIDCConfig
	logger *slog.Logger
}

// New creates a Server wired to the given application services.
func New(relay *app.RelayService, creds *app.CredentialService, info ServiceInfo, logger *slog.Logger) *Server {
	return &Server{relay: relay, creds: creds, info: info, logger: logger}
}

// WithOIDC enables the SSO login routes.
func (s *Server) WithOIDC(cfg *OIDCConfig) *Server {
	s.oidc = cfg
	return s
}

// Handler returns the root http.Handler for the application.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.loggingMiddleware)
	r.Use(corsMiddleware)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Relayer is running"))
	})
	r.Get("/health", s.handleHealth)

	r.Post("/relay", s.handleRelay)
	r.Get("/tx/{hash}", s.handleTx)
	r.Get("/activity/{user}", s.handleActivity)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/session", s.handleSession)
		r.Post("/magic-link", s.handleMagicLink)
		r.Get("/callback", s.handleMagicCallback)
		r.Get("/sso/login", s.handleSSOLogin)
		r.Get("/sso/callback", s.handleSSOCallback)
	})

	return withNoCache(r)
}
