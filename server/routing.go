package server

import (
	"net/http"
	"time"

	"github.com/teranos/tally/logger"
)

// setupHTTPRoutes registers all HTTP handlers
func (s *TallyServer) setupHTTPRoutes() {
	s.mux.HandleFunc("POST /api/documents", s.logged(s.HandleUpload))
	s.mux.HandleFunc("GET /api/documents/{id}", s.logged(s.HandleDocument))
	s.mux.HandleFunc("GET /api/documents/{id}/status", s.HandleStatus) // polled, not logged
	s.mux.HandleFunc("POST /api/documents/{id}/reprocess", s.logged(s.HandleReprocess))
	s.mux.HandleFunc("GET /health", s.HandleHealth)
}

// logged records method, path and duration at debug level
func (s *TallyServer) logged(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		s.logger.Debugw("Request handled",
			logger.FieldMethod, r.Method,
			logger.FieldPath, r.URL.Path,
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
		)
	}
}

// corsMiddleware adds CORS headers for the configured origins
func (s *TallyServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && checkOrigin(origin, s.cfg.Server.AllowedOrigins) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+OwnerHeader)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
