// Package httpapi is the thin HTTP boundary. Handlers translate between the
// wire and the domain services; no business logic lives here.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/opencrm-ro/firmdir/internal/activity"
	"github.com/opencrm-ro/firmdir/internal/caen"
	"github.com/opencrm-ro/firmdir/internal/db"
	"github.com/opencrm-ro/firmdir/internal/firm"
	"github.com/opencrm-ro/firmdir/internal/nameindex"
)

// Server holds the domain services the handlers delegate to.
type Server struct {
	pool     db.Pool
	queries  *firm.QueryService
	ledger   *activity.Ledger
	index    *nameindex.Index
	importer *caen.Importer

	allowedOrigins []string
	maxBodySize    int64
	importLimiter  *rate.Limiter
	log            *zap.Logger
}

// Config tunes the HTTP boundary.
type Config struct {
	AllowedOrigins []string
	MaxBodySize    int64   // import request body cap; default 32 MiB
	ImportsPerMin  float64 // rate limit on the import route; 0 = off
}

// NewServer wires the handlers to their services.
func NewServer(pool db.Pool, queries *firm.QueryService, ledger *activity.Ledger,
	index *nameindex.Index, importer *caen.Importer, cfg Config) *Server {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 32 << 20
	}
	var limiter *rate.Limiter
	if cfg.ImportsPerMin > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ImportsPerMin/60), 1)
	}
	s := &Server{
		pool:           pool,
		queries:        queries,
		ledger:         ledger,
		index:          index,
		importer:       importer,
		allowedOrigins: cfg.AllowedOrigins,
		maxBodySize:    cfg.MaxBodySize,
		importLimiter:  limiter,
		log:            zap.L().With(zap.String("component", "httpapi")),
	}
	return s
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if len(s.allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/search", s.handleSearch)
		r.Get("/firms/{id}", s.handleGetFirm)
		r.Get("/firms/{id}/agenda", s.handleAgenda)
		r.Post("/firms/{id}/activities", s.handlePostActivity)

		r.With(s.throttleImports).Post("/caen/import", s.handleCAENImport)
		r.Get("/caen/export", s.handleCAENExport)

		r.Post("/admin/reindex", s.handleReindex)
		r.Post("/admin/analyze", s.handleAnalyze)
	})

	return r
}
