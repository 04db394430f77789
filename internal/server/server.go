// Package server wires the store, services, handlers and middleware together
// and runs the HTTP server.
//
// All dependencies are assembled in New; main only loads configuration and
// calls Start.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/orop-community/orop-server/internal/auth"
	"github.com/orop-community/orop-server/internal/cache"
	"github.com/orop-community/orop-server/internal/config"
	"github.com/orop-community/orop-server/internal/handler"
	"github.com/orop-community/orop-server/internal/media"
	"github.com/orop-community/orop-server/internal/middleware"
	"github.com/orop-community/orop-server/internal/scheduler"
	"github.com/orop-community/orop-server/internal/service"
)

type Server struct {
	router    *chi.Mux
	cfg       *config.Config
	logger    *slog.Logger
	store     *Store
	redis     *cache.RedisCache // nil when the ranking cache is disabled
	directory *service.Directory
	scheduler *scheduler.Scheduler
}

// New opens the store and builds every service and route. The returned
// server owns the store; Close releases it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store, err := OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
	if err := s.setup(ctx); err != nil {
		s.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Server) setup(ctx context.Context) error {
	tokens, err := auth.NewTokenService(s.cfg.Auth.JWTSecret, s.cfg.Auth.JWTIssuer, s.cfg.Auth.SessionTTL())
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	var rankings cache.Rankings = cache.Noop{}
	if s.cfg.Redis.Addr != "" {
		s.redis = cache.NewRedisCache(s.cfg.Redis)
		if err := s.redis.Ping(ctx); err != nil {
			// catalog reads fall through to the store on cache errors
			s.logger.Warn("ranking cache unreachable", slog.String("addr", s.cfg.Redis.Addr), slog.String("error", err.Error()))
		}
		rankings = s.redis
	}

	timeout := s.cfg.App.HTTPTimeout()
	enricher := service.NewEnricher(s.store.Accounts)
	catalog := service.NewCatalog(s.store.Games, enricher, rankings, s.logger)
	youtube := media.NewYouTube(s.cfg.YouTube, timeout, s.logger)
	discovery := service.NewDiscovery(s.store.Games, youtube, enricher, rankings, s.logger)
	s.directory = service.NewDirectory(s.store.Accounts, tokens, auth.NewRoleSet(s.cfg.Auth.AllowedScribeRoles), s.logger)

	s.scheduler, err = scheduler.New(s.cfg.Scheduler, discovery, s.logger)
	if err != nil {
		return err
	}

	var discord, google auth.Provider
	if s.cfg.Discord.Enabled() {
		discord = auth.NewDiscordProvider(s.cfg.Discord, timeout)
	}
	if s.cfg.Google.Enabled() {
		google = auth.NewGoogleProvider(s.cfg.Google, timeout)
	}

	checks := map[string]handler.Pinger{"store": s.store}
	if s.redis != nil {
		checks["cache"] = s.redis
	}

	s.routes(routeHandlers{
		orop:      handler.NewOropHandler(catalog, s.logger),
		boardgame: handler.NewBoardgameHandler(catalog, discovery, s.logger),
		curator:   handler.NewCuratorHandler(catalog, s.logger),
		ratings:   handler.NewRatingHandler(catalog, s.logger),
		auth:      handler.NewAuthHandler(s.directory, discord, google, s.cfg.App.FrontURL, s.logger),
		health:    handler.NewHealthHandler(checks, s.logger),
		discord:   discord != nil,
		google:    google != nil,
	})
	return nil
}

type routeHandlers struct {
	orop      *handler.OropHandler
	boardgame *handler.BoardgameHandler
	curator   *handler.CuratorHandler
	ratings   *handler.RatingHandler
	auth      *handler.AuthHandler
	health    *handler.HealthHandler
	discord   bool
	google    bool
}

// routes registers every endpoint.
//
// Everything but /healthz and the OAuth callbacks needs an apikey header or
// a session token. Role checks are layered per route with With.
func (s *Server) routes(h routeHandlers) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/healthz", h.health.HandleHealth)
	if h.discord {
		s.router.Get("/discord/login", h.auth.HandleDiscordLogin)
	}
	if h.google {
		s.router.Post("/google/login", h.auth.HandleGoogleLogin)
	}

	s.router.Group(func(r chi.Router) {
		r.Use(auth.Authenticate(s.directory, s.logger))

		r.Get("/orop", h.orop.HandleGet)
		r.Get("/orop/search", h.orop.HandleSearch)
		r.Get("/orop/all", h.orop.HandleList)
		r.Get("/orop/top/searched", h.orop.HandleTopSearched)
		r.Get("/orop/top/rated", h.orop.HandleTopRated)
		r.Get("/orop/top/asked", h.orop.HandleTopAsked)
		r.Post("/orop/ask", h.orop.HandleAsk)

		r.Post("/boardgame", h.boardgame.HandleCreate)
		r.Get("/boardgame/{id}/youtube", h.boardgame.HandleDiscover)
		r.With(auth.RequireScribe).Put("/boardgame/{id}", h.boardgame.HandleUpdate)
		r.With(auth.RequireScribe).Delete("/boardgame/{id}", h.boardgame.HandleDelete)

		r.With(auth.RequireServiceOrScribe).Post("/fporop", h.curator.HandleUpsert)
		r.With(auth.RequireServiceOrScribe).Post("/fporop/rating", h.curator.HandleRating)

		r.Post("/discordorop", h.ratings.HandleUpsert)
		r.Put("/discordorop/ratings/remove", h.ratings.HandleRemove)
		r.Get("/discordorop/ratings", h.ratings.HandleList)

		r.With(auth.RequireService).Get("/one-day-one-game", h.orop.HandleDailyPick)

		r.Get("/user/infos", h.auth.HandleMe)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Directory is used by the CLI to provision service accounts.
func (s *Server) Directory() *service.Directory {
	return s.directory
}

// Start serves until SIGINT or SIGTERM, then drains in-flight requests,
// stops the scheduler and closes the store.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.App.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // curator discovery pages through the playlist
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.App.Port),
			slog.String("store", s.cfg.Store.Driver),
			slog.Bool("rankingCache", s.redis != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()
	s.scheduler.Start()

	var runErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			runErr = fmt.Errorf("graceful shutdown failed: %w", err)
		} else {
			s.logger.Info("server stopped gracefully")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.scheduler.Stop(ctx)
	s.Close(ctx)
	return runErr
}

// Close releases the store and the cache connection.
func (s *Server) Close(ctx context.Context) {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("closing ranking cache", slog.String("error", err.Error()))
		}
	}
	if err := s.store.Close(ctx); err != nil {
		s.logger.Warn("closing store", slog.String("error", err.Error()))
	}
}
