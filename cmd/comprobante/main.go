// Comprobante - OCR'd payment receipt validation for Colombian banks and wallets.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/condupay/comprobante/internal/api"
	"github.com/condupay/comprobante/internal/bankrules"
	"github.com/condupay/comprobante/internal/bus"
	"github.com/condupay/comprobante/internal/cache"
	"github.com/condupay/comprobante/internal/domain"
	"github.com/condupay/comprobante/internal/history"
	"github.com/condupay/comprobante/internal/repository"
	"github.com/condupay/comprobante/internal/validator"
	"github.com/condupay/comprobante/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("COMPROBANTE_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting comprobante",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("COMPROBANTE_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	if path := os.Getenv("COMPROBANTE_PROFILES"); path != "" {
		cfg.EntityProfilesPath = path
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Load entity profiles
	profiles, err := loadEntityProfiles(ctx, cfg, repo)
	if err != nil {
		slog.Error("failed to load entity profiles", "error", err)
		os.Exit(1)
	}
	table, err := bankrules.NewTable(profiles)
	if err != nil {
		slog.Error("failed to compile entity table", "error", err)
		os.Exit(1)
	}
	slog.Info("entity table compiled", "entities", table.EntityCount())

	// Initialize History Service
	historySvc := history.NewService(repo, cacheImpl)
	slog.Info("history service initialized")

	// Initialize Validator with historical checks wired in
	v := validator.New(cfg.Scoring, cfg.Anomaly, table, logger).
		WithHistory(historySvc.StatsGetter(), historySvc.DuplicateGetter())
	slog.Info("validator initialized")

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("COMPROBANTE_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, v)

		var tenantIDs []string
		if envTenants := os.Getenv("COMPROBANTE_TENANTS"); envTenants != "" {
			for _, id := range strings.Split(envTenants, ",") {
				if id = strings.TrimSpace(id); id != "" {
					tenantIDs = append(tenantIDs, id)
				}
			}
		}

		if err := asyncWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, v, historySvc, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("comprobante is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("comprobante shutdown complete")
}

// loadEntityProfiles resolves the entity rule table: an explicit profiles
// file wins, then profiles saved globally in the database, then the built-in
// defaults for the common Colombian banks and wallets.
func loadEntityProfiles(ctx context.Context, cfg *domain.Config, repo domain.Repository) ([]*domain.EntityProfile, error) {
	if cfg.EntityProfilesPath != "" {
		profiles, err := bankrules.LoadProfiles(cfg.EntityProfilesPath)
		if err != nil {
			return nil, err
		}
		slog.Info("entity profiles loaded from file",
			"path", cfg.EntityProfilesPath,
			"count", len(profiles),
		)
		return profiles, nil
	}

	profiles, err := repo.ListEntityProfiles(ctx, api.GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list entity profiles from database", "error", err)
	}
	if len(profiles) > 0 {
		slog.Info("entity profiles loaded from database", "count", len(profiles))
		return profiles, nil
	}

	slog.Info("using built-in entity profiles")
	return bankrules.DefaultProfiles(), nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ==============================================")
	fmt.Println("                 COMPROBANTE")
	fmt.Println("      Payment receipt validation engine")
	fmt.Println("  ==============================================")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /validate             - Validate an extracted receipt")
	fmt.Println("    POST /validate/engines     - Aggregate engine outputs and validate")
	fmt.Println("    GET  /validations/{id}     - Get validation outcome by ID")
	fmt.Println("    GET  /validations?status=  - List outcomes by status")
	fmt.Println("    GET  /receipts/{id}        - Get stored receipt by ID")
	fmt.Println("    GET  /entities             - List entity profiles")
	fmt.Println("    POST /entities             - Create an entity profile")
	fmt.Println("    PUT  /entities/{id}        - Update an entity profile")
	fmt.Println("    DELETE /entities/{id}      - Delete an entity profile")
	fmt.Println("    POST /entities/reload      - Hot-reload the entity table")
	fmt.Println("    GET  /health               - Health check")
	fmt.Println()
}
