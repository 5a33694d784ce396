package server

import (
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zombor/docscan/internal/history"
	"github.com/zombor/docscan/internal/imaging"
	"github.com/zombor/docscan/internal/scanning"
	"github.com/zombor/docscan/internal/session"
)

// Server exposes scan sessions, capture handoffs and scanner output over HTTP
type Server struct {
	controller *session.Controller
	relay      *scanning.Relay
	storage    imaging.Storage
	history    history.DB
	config     Config
	mux        *http.ServeMux
}

// Config holds the static settings of a Server
type Config struct {
	// Version is returned by the version endpoint
	Version string
	// PublicURL is the base URL capture devices reach the server on
	PublicURL string
	BasicAuth BasicAuth
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(controller *session.Controller, relay *scanning.Relay, storage imaging.Storage, db history.DB, config Config) *Server {
	return NewServerWithMux(controller, relay, storage, db, config, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(controller *session.Controller, relay *scanning.Relay, storage imaging.Storage, db history.DB, config Config, mux *http.ServeMux) *Server {
	s := &Server{
		controller: controller,
		relay:      relay,
		storage:    storage,
		history:    db,
		config:     config,
		mux:        mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.config.BasicAuth.Username == "" && s.config.BasicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(credentials[0]), []byte(s.config.BasicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(credentials[1]), []byte(s.config.BasicAuth.Password)) == 1
	return userOK && passOK
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Document Scanner"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// Caller-facing operations
	s.mux.HandleFunc("POST /api/scan", s.requireAuth(s.handleScanDocument))
	s.mux.HandleFunc("GET /api/scan", s.requireAuth(s.handleScanState))
	s.mux.HandleFunc("GET /api/version", s.requireAuth(s.handleVersion))

	// Capture device handoffs
	s.mux.HandleFunc("GET /api/handoffs/{token}/qr", s.requireAuth(s.handleHandoffQR))
	s.mux.HandleFunc("POST /api/handoffs/{token}/pages", s.requireAuth(s.handleAddCapture))
	s.mux.HandleFunc("POST /api/handoffs/{token}/complete", s.requireAuth(s.handleCompleteHandoff))
	s.mux.HandleFunc("POST /api/handoffs/{token}/cancel", s.requireAuth(s.handleCancelHandoff))
	s.mux.HandleFunc("POST /api/handoffs/{token}/fail", s.requireAuth(s.handleFailHandoff))
	s.mux.HandleFunc("GET /api/handoffs/{token}", s.requireAuth(s.handleGetHandoff))
	s.mux.HandleFunc("GET /api/handoffs", s.requireAuth(s.handleListHandoffs))

	// Scanner output
	s.mux.HandleFunc("GET /api/images/{name}", s.requireAuth(s.handleGetImage))
	s.mux.HandleFunc("DELETE /api/images/{name}", s.requireAuth(s.handleDeleteImage))

	// Session history
	s.mux.HandleFunc("GET /api/scans/{id}", s.requireAuth(s.handleGetSession))
	s.mux.HandleFunc("GET /api/scans", s.requireAuth(s.handleListSessions))

	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s.corsMiddleware(s.mux))
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
