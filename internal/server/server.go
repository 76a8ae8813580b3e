// Package server is the composition root: it builds every component from
// config.Config, mounts the routes and runs the HTTP server until a signal
// arrives.
//
// DEPENDENCY FLOW:
//
//	config → keys (hkdf) → sealer ──→ sqlite.DB ─────────────┐
//	                                 ↘ session.Manager (kv)   │
//	config → githubapp.Issuer → Resolver, TokenBroker         │
//	                             ↘ auth.Authorizer            │
//	services (StateLedger, AuthService) ←────────────────────┘
//	handlers ← services, resolver, authorizer, webhook verifier
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

	"github.com/sakif/repoguard/internal/auth"
	"github.com/sakif/repoguard/internal/config"
	"github.com/sakif/repoguard/internal/githubapp"
	"github.com/sakif/repoguard/internal/handler"
	"github.com/sakif/repoguard/internal/kv"
	"github.com/sakif/repoguard/internal/middleware"
	sqliteRepo "github.com/sakif/repoguard/internal/repository/sqlite"
	"github.com/sakif/repoguard/internal/service"
	"github.com/sakif/repoguard/internal/session"
	"github.com/sakif/repoguard/internal/webhook"
)

const kvPrefix = "repoguard:"

// Server owns the router and the resources closed on shutdown.
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	store  kv.Store
}

// New wires every component. Resources opened before a failure are closed.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	keys, err := auth.DeriveKeys(cfg.SessionSecret)
	if err != nil {
		return nil, err
	}
	sealer, err := auth.NewSealer(keys.Seal)
	if err != nil {
		return nil, err
	}
	identity, err := auth.NewIdentityCookies(keys.Identity, cfg.CookieSecure)
	if err != nil {
		return nil, err
	}

	db, err := sqliteRepo.New(cfg.DBPath, sealer)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	store, err := newStore(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	client, err := githubapp.NewClient(cfg.GitHubAPIURL, cfg.GitHubHTTPTimeout)
	if err != nil {
		db.Close()
		store.Close()
		return nil, err
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		store:  store,
	}
	s.setupRoutes(cfg.AppIdentity(logger), client, sealer, identity)
	return s, nil
}

func newStore(ctx context.Context, cfg config.Config) (kv.Store, error) {
	if cfg.RedisAddr == "" {
		return kv.NewMemoryStore(), nil
	}
	store, err := kv.NewRedisStore(ctx, kv.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, kvPrefix)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	return store, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// setupRoutes builds the GitHub, auth and webhook components and mounts them.
//
// ROUTES:
//
//	GET  /healthz
//	POST /webhooks/github                     (no credential resolution)
//	GET  /auth/github/login, /callback
//	GET  /auth/github/install, /install/callback
//	POST /auth/logout
//	GET  /api/me, /api/auth/status
//	GET  /api/github/repos/{owner}/{repo}     (RequireAuth)
//
// Middleware order: RequestID → RealIP → Logger → Recoverer, so a panic is
// logged with its request id.
func (s *Server) setupRoutes(appIdentity githubapp.Identity, client *githubapp.Client, sealer *auth.Sealer, identity *auth.IdentityCookies) {
	cfg, logger := s.config, s.logger

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(logger))
	s.router.Use(chimiddleware.Recoverer)

	// === GitHub App ===
	issuer := githubapp.NewIssuer(appIdentity, logger)
	installations := githubapp.NewResolver(issuer, client, logger)
	tokens := githubapp.NewTokenBroker(issuer, client, cfg.TokenCacheMargin, logger)
	authorizer := auth.NewAuthorizer(issuer.Configured(), installations, tokens, logger)

	// === Credential resolution ===
	sessions := session.NewManager(s.store, sealer, cfg.SessionTTL, cfg.CookieSecure, logger)
	resolver := auth.NewCredentialResolver(logger,
		auth.NewSessionStrategy(sessions),
		auth.NewCookieStrategy(identity, s.db, logger),
	)

	// === Services ===
	var lookup service.InstallationLookup
	if issuer.Configured() {
		lookup = installations
	}
	accounts := service.NewAuthService(s.db, lookup, logger)
	ledger := service.NewStateLedger(s.db, cfg.OAuthStateTTL, cfg.OAuthStateReplayWindow, logger)

	var oauth handler.OAuthProvider
	if cfg.OAuthEnabled() {
		oauth = auth.NewGitHubProvider(auth.OAuthConfig{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			CallbackURL:  cfg.GitHubCallbackURL,
		}, client, logger)
	}

	// === Handlers ===
	authHandler := handler.NewAuthHandler(handler.AuthDeps{
		OAuth:             oauth,
		Ledger:            ledger,
		Accounts:          accounts,
		Sessions:          sessions,
		Identity:          identity,
		AppEnabled:        issuer.Configured(),
		AppSlug:           cfg.GitHubAppSlug,
		PostLoginRedirect: cfg.PostLoginRedirect,
		Logger:            logger,
	})
	githubHandler := handler.NewGitHubHandler(authorizer, client, tokens, logger)
	webhookHandler := handler.NewWebhookHandler(
		webhook.NewVerifier(cfg.GitHubWebhookSecret, logger),
		webhook.NewDispatcher(s.db, tokens, logger),
		logger,
	)
	healthHandler := handler.NewHealthHandler(map[string]handler.Pinger{
		"database": handler.PingFunc(func(context.Context) error { return s.db.Ping() }),
		"sessions": s.store,
	}, logger)

	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Post("/webhooks/github", webhookHandler.HandleGitHub)

	s.router.Group(func(r chi.Router) {
		r.Use(auth.Resolve(resolver))

		r.Route("/auth", func(r chi.Router) {
			r.Get("/github/login", authHandler.HandleGitHubLogin)
			r.Get("/github/callback", authHandler.HandleGitHubCallback)
			r.Get("/github/install", authHandler.HandleInstall)
			r.Get("/github/install/callback", authHandler.HandleInstallCallback)
			r.Post("/logout", authHandler.HandleLogout)
		})

		r.Route("/api", func(r chi.Router) {
			r.Get("/me", authHandler.HandleMe)
			r.Get("/auth/status", authHandler.HandleStatus)

			// Signed-in callers only, App mode included.
			r.With(auth.RequireAuth).Get("/github/repos/{owner}/{repo}", githubHandler.HandleGetRepository)
		})
	})
}

// Close releases the database and session store.
func (s *Server) Close() error {
	return errors.Join(s.store.Close(), s.db.Close())
}

// Start serves until SIGINT/SIGTERM, then drains in-flight requests for up
// to 30 seconds and closes resources.
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", s.config.BaseURL),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
