package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/covella/loginguard/internal/auth"
	"github.com/covella/loginguard/internal/background"
	"github.com/covella/loginguard/internal/config"
	"github.com/covella/loginguard/internal/database"
	"github.com/covella/loginguard/internal/guardtime"
	"github.com/covella/loginguard/internal/handlers"
	middlewareCustom "github.com/covella/loginguard/internal/middleware"
	"github.com/covella/loginguard/internal/repositories"
	"github.com/covella/loginguard/internal/routes"
	"github.com/covella/loginguard/internal/services"
	pkghttp "github.com/covella/loginguard/pkg/http"
	pkglogger "github.com/covella/loginguard/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration; a misconfigured policy aborts startup
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	attemptRepo := repositories.NewAttemptRepository(db)
	lockoutRepo := repositories.NewLockoutRepository(db)

	// Ledger cleanup: attempts past retention, lockouts past the
	// progressive reset period
	cleanupManager := background.NewCleanupManager(attemptRepo, lockoutRepo, logger, cfg.Guard.CleanupInterval, cfg.Guard.ProgressiveResetPeriod)

	// Admin token validation
	tokenManager := auth.NewTokenManager(cfg.Admin.TokenSecret)

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Response timing equalization for denied verdicts
	delay := guardtime.New(guardtime.Config{
		BaseDelayMs:   cfg.Guard.TimingDelayBaseMs,
		RandomDelayMs: cfg.Guard.TimingDelayRandomMs,
	})

	// Brute-force guard
	guardConfig := services.GuardConfig{
		Policy: services.LockoutPolicy{
			FailureThreshold:       cfg.Guard.FailureThreshold,
			LockoutDuration:        cfg.Guard.LockoutDuration,
			FailureWindow:          cfg.Guard.FailureWindow,
			ProgressiveMultiplier:  cfg.Guard.ProgressiveMultiplier,
			MaxLockoutDuration:     cfg.Guard.MaxLockoutDuration,
			ProgressiveResetPeriod: cfg.Guard.ProgressiveResetPeriod,
		},
		MaxFailuresPerIP: cfg.Guard.MaxFailuresPerIP,
		FailClosed:       cfg.Guard.FailClosed,
		StorageTimeout:   cfg.Guard.StorageTimeout,
	}
	guardService, err := services.NewGuardService(attemptRepo, lockoutRepo, guardConfig, delay, logger, auditLogger)
	if err != nil {
		logger.Error("failed to initialize guard", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	guardHandler := handlers.NewGuardHandler(guardService, ipConfig)
	adminHandler := handlers.NewAdminHandler(guardService)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(cfg.Server.Env))
	router.Use(middlewareCustom.RequestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(15 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, guardHandler, adminHandler, tokenManager)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
