package handler

import (
	"net/http"

	"github.com/wadjakorntonsri/go-url-redirector/pkg/config"
)

// NewRouter creates and configures the main application router
func NewRouter(cfg *config.Config, deps Dependencies) http.Handler {
	h := NewHTTPHandler(deps)
	mw := NewMiddleware(cfg, deps.Logger)
	authHandler := NewAuthHandler(cfg, deps.Logger)

	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
	})
	mux.HandleFunc("GET /{code}", h.Redirect)
	mux.HandleFunc("GET /auth/google/login", authHandler.Login)
	mux.HandleFunc("GET /auth/google/callback", authHandler.Callback)
	mux.HandleFunc("GET /auth/logout", authHandler.Logout)

	// Admin API
	protectedMux := http.NewServeMux()
	protectedMux.HandleFunc("GET /api/v1/links", h.ListLinks)
	protectedMux.HandleFunc("GET /api/v1/links/{code}", h.GetLink)
	protectedMux.HandleFunc("PUT /api/v1/links/{code}", h.UpsertLink)
	protectedMux.HandleFunc("DELETE /api/v1/links/{code}", h.DeleteLink)
	protectedMux.HandleFunc("POST /api/v1/flush", h.Flush)

	mux.Handle("/api/v1/", mw.AuthMiddleware(mw.AccessLog(protectedMux)))

	return mw.RequestID(mux)
}
