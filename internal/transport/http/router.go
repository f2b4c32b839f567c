package http

import (
	"net/http"
	"time"

	"github.com/emanuelef/yt-downloader/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds the router settings.
type RouterConfig struct {
	AllowedOrigins []string
	// Turnstile guards the download route when set.
	Turnstile *middleware.Turnstile
	// Download limits POST /api/download; Info limits the other API routes.
	Download *middleware.RateLimiter
	Info     *middleware.RateLimiter
}

// NewRouter creates a new chi router with all routes and middleware configured.
func NewRouter(cfg *RouterConfig, handlers *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Turnstile-Token"},
		ExposedHeaders:   []string{"Content-Disposition", "Content-Length", "X-Download-ID", "X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", handlers.IndexHandler)
	r.Get("/api/health", handlers.HealthHandler)

	r.Route("/api", func(r chi.Router) {
		// JSON endpoints
		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Compress(5))
			if cfg.Info != nil {
				r.Use(cfg.Info.Middleware)
			}

			r.Post("/info", handlers.InfoHandler)

			r.Group(func(r chi.Router) {
				r.Use(chimiddleware.Timeout(30 * time.Second))
				r.Get("/status", handlers.StatusHandler)
				r.Get("/history", handlers.HistoryHandler)
				r.Get("/history/{id}", handlers.HistoryItemHandler)
			})
		})

		// File stream: no compression or handler timeout
		r.Group(func(r chi.Router) {
			if cfg.Download != nil {
				r.Use(cfg.Download.Middleware)
			}
			if cfg.Turnstile != nil {
				r.Use(cfg.Turnstile.Middleware)
			}

			r.Post("/download", handlers.DownloadHandler)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found", "NOT_FOUND")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
	})

	return r
}

// NewServer creates the HTTP server. writeTimeout must cover a full
// download plus streaming the file.
func NewServer(addr string, handler http.Handler, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
	}
}
