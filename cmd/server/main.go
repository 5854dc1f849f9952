package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/parcelguard/internal/auth"
	"github.com/stwalsh4118/parcelguard/internal/config"
	"github.com/stwalsh4118/parcelguard/internal/database"
	"github.com/stwalsh4118/parcelguard/internal/events"
	"github.com/stwalsh4118/parcelguard/internal/geometry"
	"github.com/stwalsh4118/parcelguard/internal/handlers"
	"github.com/stwalsh4118/parcelguard/internal/logger"
	"github.com/stwalsh4118/parcelguard/internal/middleware"
	"github.com/stwalsh4118/parcelguard/internal/overlap"
	"github.com/stwalsh4118/parcelguard/internal/repository"
	"github.com/stwalsh4118/parcelguard/internal/services"
)

const (
	shutdownTimeout = 30 * time.Second
	startupTimeout  = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Server.Env)
	log.Info("Starting ParcelGuard API", map[string]interface{}{
		"version":        handlers.APIVersion,
		"environment":    cfg.Server.Env,
		"port":           cfg.Server.Port,
		"store":          cfg.Store.Driver,
		"severity_scope": cfg.Geometry.SeverityScope,
	})

	submitLimit, err := middleware.RateLimit(cfg.RateLimit.Submit)
	if err != nil {
		log.Fatal("Invalid submission rate limit", err, map[string]interface{}{
			"rate": cfg.RateLimit.Submit,
		})
	}

	store, closeStore := openStore(cfg, log)
	defer closeStore()

	engine := geometry.NewEngine(geometry.Config{
		EpsilonM2:  cfg.Geometry.EpsilonM2,
		PlotSizeM2: geometry.PlotSizeFromSquareFeet(cfg.Geometry.PlotSizeSqFt),
	})
	grid := overlap.NewGrid(cfg.Geometry.LockCellDegrees)

	publisher := events.New(cfg.Kafka, log)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error("Failed to close event publisher", err, nil)
		}
	}()

	gate := services.NewSubmissionGate(store, engine, grid, publisher, log, cfg.Geometry.SeverityScope)
	tickets := services.NewTicketService(store, engine, grid, publisher, log, cfg.Geometry.SeverityScope)
	parcels := services.NewParcelService(store, log)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Order matters: RequestID -> Logger -> Recovery -> CORS
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.CORS.Origins))

	handlers.Router{
		Health:        handlers.NewHealthHandler(store, tickets, cfg.Server.Env, cfg.Store.Driver),
		Parcels:       handlers.NewParcelHandler(gate, parcels, cfg.Auth.ReviewerRoles),
		Tickets:       handlers.NewTicketHandler(tickets),
		Verifier:      auth.NewVerifier(cfg.Auth),
		ReviewerRoles: cfg.Auth.ReviewerRoles,
		SubmitLimit:   submitLimit,
	}.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server listening", map[string]interface{}{
			"addr": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed to start", err, nil)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", err, map[string]interface{}{
			"timeout": shutdownTimeout.String(),
		})
	}

	log.Info("Server exited", nil)
}

// openStore connects the configured store and returns its cleanup func.
func openStore(cfg *config.Config, log *logger.Logger) (repository.Store, func()) {
	if cfg.Store.Driver == config.StoreDriverMemory {
		log.Warn("Using in-memory store; data is lost on restart", nil)
		return repository.NewMemoryStore(), func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	db, err := database.NewPostgresPool(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", err, map[string]interface{}{
			"host": cfg.Database.Host,
			"port": cfg.Database.Port,
			"name": cfg.Database.Name,
		})
	}

	log.Info("Database connection established", map[string]interface{}{
		"host":     cfg.Database.Host,
		"port":     cfg.Database.Port,
		"database": cfg.Database.Name,
		"pool_min": cfg.Database.PoolMin,
		"pool_max": cfg.Database.PoolMax,
	})

	if cfg.Database.Migrate {
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			log.Fatal("Failed to apply migrations", err, nil)
		}
		log.Info("Migrations applied", nil)
	}

	closeDB := func() {
		if stats := db.Stats(); stats != nil {
			log.Info("Closing database pool", map[string]interface{}{
				"acquired_conns": stats.AcquiredConns(),
				"total_conns":    stats.TotalConns(),
				"acquire_count":  stats.AcquireCount(),
			})
		}
		db.Close()
	}
	return repository.NewPostgresStore(db, cfg.Geometry.EpsilonM2), closeDB
}
