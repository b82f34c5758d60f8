package api

import (
	"net/http"
	"strings"

	"github.com/omnisocial/omnisocial/internal/auth"
	"github.com/omnisocial/omnisocial/internal/hub"
	"log/slog"
)

// SetupRoutes configures all API routes
func SetupRoutes(mux *http.ServeMux, h *hub.Hub, authConfig auth.Config, metricsHandler http.Handler, logger *slog.Logger) {
	platformHandler := NewPlatformHandler(h, logger)
	authHandler := NewAuthHandler(authConfig, logger)

	authMiddleware := auth.Middleware(authConfig)

	// Authentication routes
	mux.HandleFunc("/api/auth/login", authHandler.Login)
	mux.HandleFunc("/api/auth/validate", func(w http.ResponseWriter, r *http.Request) {
		authMiddleware(http.HandlerFunc(authHandler.ValidateToken)).ServeHTTP(w, r)
	})

	// Platform status list (public)
	mux.HandleFunc("/api/platforms", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		platformHandler.ListStatuses(w, r)
	})

	// Per-platform routes
	mux.HandleFunc("/api/platforms/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/platforms/" {
			http.NotFound(w, r)
			return
		}

		// Handle /api/platforms/:platform/status (public)
		if r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/status") {
			platformHandler.GetStatus(w, r)
			return
		}

		// Everything below acts on a caller's connection and requires auth
		authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Handle /api/platforms/:platform/connect
			if strings.HasSuffix(r.URL.Path, "/connect") {
				switch r.Method {
				case http.MethodPost:
					platformHandler.Connect(w, r)
				case http.MethodDelete:
					platformHandler.Disconnect(w, r)
				default:
					http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				}
				return
			}

			// Handle /api/platforms/:platform/content
			if r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/content") {
				platformHandler.Content(w, r)
				return
			}

			// Handle /api/platforms/:platform/post
			if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/post") {
				platformHandler.Post(w, r)
				return
			}

			// Handle /api/platforms/:platform/search
			if r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/search") {
				platformHandler.Search(w, r)
				return
			}

			http.NotFound(w, r)
		})).ServeHTTP(w, r)
	})

	// Liveness and metrics
	mux.HandleFunc("/healthz", platformHandler.Healthz)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
}
