package router

import (
	"net/http"

	"bookshelf-api/internal/handler"
	"bookshelf-api/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler        *handler.Handler
	CatalogHandler *handler.CatalogHandler
	AdminHandler   *handler.AdminHandler
	AdminAuth      func(http.Handler) http.Handler
	Logger         *zap.Logger
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logging(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-API-Key"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Handler != nil {
			r.Get("/health", cfg.Handler.Health)
			r.Get("/ready", cfg.Handler.Ready)
		}

		if h := cfg.CatalogHandler; h != nil {
			r.Route("/authors", func(r chi.Router) {
				r.Get("/", h.ListAuthors)
				r.Post("/", h.CreateAuthor)
				r.Get("/search", h.SearchAuthors)
				r.Get("/{id}", h.GetAuthor)
				r.Patch("/{id}", h.UpdateAuthor)
				r.Delete("/{id}", h.DeleteAuthor)
				r.Get("/{id}/books", h.AuthorBooks)
			})

			r.Route("/books", func(r chi.Router) {
				r.Get("/", h.ListBooks)
				r.Post("/", h.CreateBook)
				r.Get("/search", h.SearchBooks)
				r.Get("/genre/{genre}", h.BooksByGenre)
				r.Get("/{id}", h.GetBook)
				r.Patch("/{id}", h.UpdateBook)
				r.Delete("/{id}", h.DeleteBook)
			})

			r.Route("/publishers", func(r chi.Router) {
				r.Get("/", h.ListPublishers)
				r.Post("/", h.CreatePublisher)
				r.Get("/established", h.PublishersEstablished)
				r.Get("/{id}", h.GetPublisher)
				r.Patch("/{id}", h.UpdatePublisher)
				r.Delete("/{id}", h.DeletePublisher)
				r.Get("/{id}/books", h.PublisherBooks)
			})
		}

		// Admin endpoints (API key required)
		if cfg.AdminHandler != nil {
			r.Route("/admin", func(r chi.Router) {
				if cfg.AdminAuth != nil {
					r.Use(cfg.AdminAuth)
				}
				r.Get("/stats", cfg.AdminHandler.GetStats)
				r.Post("/views/evict", cfg.AdminHandler.EvictView)
				r.Post("/views/prune", cfg.AdminHandler.PruneViews)
			})
		}
	})

	return r
}
