package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/sujalbistaa/qreview/internal/auth"
	"github.com/sujalbistaa/qreview/internal/config"
	"github.com/sujalbistaa/qreview/internal/db"
	routes "github.com/sujalbistaa/qreview/internal/http"
	"github.com/sujalbistaa/qreview/internal/monitoring"
	"github.com/sujalbistaa/qreview/internal/reviews"
	"github.com/sujalbistaa/qreview/internal/verify"
	"github.com/sujalbistaa/qreview/internal/ws"
)

const shutdownTimeout = 5 * time.Second

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	// 1. Initialize Database
	database, backend, err := db.Init(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	store := db.NewReviewStore(database)
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database")
		} else {
			log.Info().Msg("Database connection closed")
		}
	}()

	// 2. Run Migrations
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return err
	}

	// Background work lives until the HTTP server has drained.
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// 3. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.New(registry)

	// 4. Initialize WebSocket Hub
	hub := ws.NewHub()
	go hub.Run(ctx)

	// 5. Admin sessions
	sessions := auth.NewSessions(cfg.Admin.SessionTTL)
	go sessions.Run(ctx, cfg.Admin.SweepInterval, func(removed, remaining int) {
		metrics.SetActiveSessions(remaining)
		if removed > 0 {
			log.Debug().Int("removed", removed).Int("remaining", remaining).Msg("Swept expired admin sessions")
		}
	})

	service := reviews.NewService(reviews.Deps{
		Store:    store,
		Registry: verify.NewRegistry(cfg.Registry),
		Events:   hub,
		Metrics:  metrics,
		BaseURL:  cfg.Server.BaseURL,
	})

	deps := routes.Deps{
		Config:   cfg,
		Reviews:  service,
		Sessions: sessions,
		Hub:      hub,
		Metrics:  metrics,
		Backend:  backend,
		DB:       sqlDB,
	}
	if provider := linkedInProvider(ctx, cfg); provider != nil {
		deps.Identity = provider
	}

	// 6. Initialize Gin Router
	if cfg.Server.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}
	routes.SetupRoutes(ctx, router, deps)

	// 7. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("db", string(backend)).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-signalCtx.Done():
	}

	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop sweeps and the hub before the store closes.
	cancel()
	log.Info().Msg("Server exiting")
	return nil
}

// linkedInProvider returns nil when LinkedIn sign-in is unavailable.
func linkedInProvider(ctx context.Context, cfg *config.Config) verify.IdentityProvider {
	if !cfg.LinkedIn.Enabled() {
		log.Info().Msg("LinkedIn credentials not configured, sign-in disabled")
		return nil
	}

	discoverCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	provider, err := verify.NewLinkedIn(discoverCtx, cfg.LinkedIn, cfg.Server.CallbackURL())
	if err != nil {
		log.Warn().Err(err).Msg("LinkedIn discovery failed, sign-in disabled")
		return nil
	}
	return provider
}
