package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-go-golems/palaver/pkg/api"
	"github.com/go-go-golems/palaver/pkg/repository"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Settings struct {
	Listen          string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

type Server struct {
	settings Settings
	repo     repository.Repository
	metrics  *Metrics
	logger   zerolog.Logger
	router   chi.Router
}

type Option func(*Server)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(s *Server) {
		s.metrics = metrics
	}
}

func NewServer(repo repository.Repository, settings Settings, options ...Option) *Server {
	if len(settings.AllowedOrigins) == 0 {
		settings.AllowedOrigins = []string{"*"}
	}
	if settings.ShutdownTimeout <= 0 {
		settings.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		settings: settings,
		repo:     repo,
		logger:   log.Logger,
	}
	for _, option := range options {
		option(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	s.router = s.newRouter()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) newRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(s.metrics.Middleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(RequestLogger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.settings.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", api.UserHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := &handler{repo: s.repo, metrics: s.metrics, logger: s.logger}

	r.Handle(api.MetricsPath, s.metrics.Handler())
	r.Get(api.HealthPath, h.health)

	r.Route(api.ConversationsPath, func(r chi.Router) {
		r.Use(RequireUser)

		r.Get("/", h.listConversations)
		r.Post("/", h.createConversation)
		r.Delete("/{id}", h.deleteConversation)
		r.Post("/{id}/messages", h.appendMessage)
	})

	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests for at
// most the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.settings.Listen)
	if err != nil {
		return errors.Wrapf(err, "could not listen on %s", s.settings.Listen)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("palaver service listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server failed")
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		s.logger.Info().Msg("shutting down palaver service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.settings.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "could not shut down http server")
		}
		return nil
	})

	return eg.Wait()
}
