// Package server exposes a docdb.Store over a JSON HTTP API.
package server

import (
	"net/http"

	"github.com/maruel/persiston/internal/config"
	apierrors "github.com/maruel/persiston/internal/errors"
	"github.com/maruel/persiston/internal/server/handlers"
)

// Router is the API handler with its middleware chain.
type Router struct {
	http.Handler
	limiter *RateLimiter
}

// NewRouter creates and configures the HTTP router.
func NewRouter(h *handlers.Collections, cfg *config.Config) *Router {
	mux := http.NewServeMux()

	// Health check
	mux.Handle("GET /api/health", Wrap(h.Health))

	mux.Handle("GET /api/collections", Wrap(h.Names))
	mux.Handle("POST /api/reload", Wrap(h.Reload))

	// Collection endpoints
	mux.Handle("POST /api/collections/{name}/find", Wrap(h.Find))
	mux.Handle("POST /api/collections/{name}/find-one", Wrap(h.FindOne))
	mux.Handle("POST /api/collections/{name}/count", Wrap(h.Count))
	mux.Handle("POST /api/collections/{name}/insert", Wrap(h.Insert))
	mux.Handle("POST /api/collections/{name}/update", Wrap(h.Update))
	mux.Handle("POST /api/collections/{name}/remove", Wrap(h.Remove))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(r.Context(), w, apierrors.NotFound(r.Method+" "+r.URL.Path))
	})

	var handler http.Handler = mux
	limiter := NewRateLimiter(cfg.RateLimits)
	handler = limiter.Middleware(handler)
	if cfg.Auth.JWTSecret != "" {
		handler = AuthMiddleware([]byte(cfg.Auth.JWTSecret))(handler)
	}
	handler = LogMiddleware(handler)
	return &Router{Handler: handler, limiter: limiter}
}

// Close stops the rate limiters.
func (r *Router) Close() {
	r.limiter.Close()
}
