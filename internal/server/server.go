package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/online-library/apiserver/config"
	"github.com/online-library/apiserver/internal/handlers"
	"github.com/online-library/apiserver/internal/log"
	"github.com/online-library/apiserver/internal/metrics"
	"github.com/online-library/apiserver/internal/validation"
)

const requestTimeout = 60 * time.Second

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	services   *Services
}

// New constructs a Server from configuration, opening every dependency.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	svc, err := OpenServices(ctx, cfg)
	if err != nil {
		return nil, err
	}

	router := NewRouter(cfg, svc)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		services:   svc,
	}, nil
}

// NewRouter assembles the middleware chain and every route over svc.
func NewRouter(cfg config.Config, svc *Services) *chi.Mux {
	return newRouter(cfg, svc, svc.Catalog)
}

func newRouter(cfg config.Config, svc *Services, exporter handlers.Exporter) *chi.Mux {
	validator := validation.New()

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		log.RequestLogger,
		metrics.Middleware,
		cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id"},
			ExposedHeaders:   []string{"Content-Disposition"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
		handlers.Identity(svc.Users, cfg.DevAuthEnabled()),
	)

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/healthz", handlers.Healthz)
		r.Handle("/metrics", metrics.Handler())
		r.Route("/auth", func(r chi.Router) {
			handlers.AuthRouter(r, svc.Users, validator)
		})
		r.Route("/books", func(r chi.Router) {
			handlers.BookRouter(r, svc.Catalog, validator)
		})
		r.Route("/users/me/favorites", func(r chi.Router) {
			handlers.FavoriteRouter(r, svc.Favorites)
		})
	})

	// Exports stream for as long as the catalog takes; the per-chunk write
	// deadline in the handler replaces the request timeout.
	router.Route("/admin", func(r chi.Router) {
		handlers.AdminRouter(r, exporter)
	})

	return router
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	logger := log.WithComponent("server")
	logger.Info().Str("addr", s.httpServer.Addr).Msg("listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases the store and broker.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	return errors.Join(err, s.services.Close())
}
