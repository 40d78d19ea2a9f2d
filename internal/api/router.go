package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"example.com/runhub/internal/auth"
	"example.com/runhub/internal/logging"
)

// RouterConfig configures the middleware stack in front of the handlers.
type RouterConfig struct {
	AllowedOrigins []string
	Auth           auth.Middleware
	// RequestsPerMinute caps requests per client IP; zero disables the limit.
	RequestsPerMinute int
	// Extra is mounted verbatim, e.g. /metrics.
	Extra map[string]http.Handler
}

// NewRouter builds the chi router serving every runhub endpoint.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(logging.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{logging.RequestIDHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if cfg.RequestsPerMinute > 0 {
		r.Use(httprate.Limit(cfg.RequestsPerMinute, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			}),
		))
	}
	r.Use(cfg.Auth.Wrap)

	for path, handler := range cfg.Extra {
		r.Handle(path, handler)
	}
	h.RegisterRoutes(r)
	return r
}
