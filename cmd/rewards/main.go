// Rewards - probabilistic reward determination for payment transactions.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/central-pay/rewards/internal/api"
	"github.com/central-pay/rewards/internal/bus"
	"github.com/central-pay/rewards/internal/cache"
	"github.com/central-pay/rewards/internal/domain"
	"github.com/central-pay/rewards/internal/repository"
	"github.com/central-pay/rewards/internal/reward"
	"github.com/central-pay/rewards/internal/rules"
	"github.com/central-pay/rewards/internal/tiers"
	"github.com/central-pay/rewards/internal/tracing"
	"github.com/central-pay/rewards/internal/worker"
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
	if os.Getenv("REWARDS_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting rewards service",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()
	if os.Getenv("REWARDS_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
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

	// Initialize tracing
	if _, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
	}); err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

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

	// Seed default reward rules on first run
	if err := rules.Seed(ctx, repo); err != nil {
		slog.Error("failed to seed reward rules", "error", err)
		os.Exit(1)
	}

	// Initialize tier cache and load the initial snapshot
	tierCache, err := tiers.New(repo)
	if err != nil {
		slog.Error("failed to initialize tier cache", "error", err)
		os.Exit(1)
	}
	if err := tierCache.Refresh(ctx); err != nil {
		slog.Error("failed to load reward tiers", "error", err)
		os.Exit(1)
	}
	tierCache.Start(ctx, cfg.Tiers.RefreshInterval)
	slog.Info("tier cache initialized", "tiers", tierCache.TierCount())

	// Initialize reward engine and rule admin service
	engine := reward.New(repo, tierCache, cacheImpl, busImpl)
	ruleSvc := rules.NewService(repo, tierCache)

	// Start the async transaction worker
	asyncWorker := worker.NewWorker(busImpl, engine)
	if err := asyncWorker.Start(); err != nil {
		slog.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// Initialize Server
	srv := api.NewServer(cfg, engine, ruleSvc, tierCache, repo, cacheImpl, busImpl, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("rewards service is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop the worker first so in-flight events drain
	if err := asyncWorker.Stop(); err != nil {
		slog.Error("failed to stop worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down tracing", "error", err)
	}

	slog.Info("rewards service shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ==============================================")
	fmt.Println("                  REWARDS")
	fmt.Println("     Reward Determination & Claim Engine")
	fmt.Println("  ==============================================")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /rewards                     - Determine a reward for a transaction")
	fmt.Println("    GET    /rewards/{id}                - Get reward by ID")
	fmt.Println("    POST   /rewards/{id}/claim          - Claim a reward")
	fmt.Println("    GET    /users/{userId}/rewards      - List a user's rewards")
	fmt.Println("    GET    /admin/reward-rules          - List reward rules")
	fmt.Println("    POST   /admin/reward-rules          - Create a reward rule")
	fmt.Println("    POST   /admin/reward-rules/bulk     - Create reward rules in bulk")
	fmt.Println("    POST   /admin/reward-rules/reload   - Hot-reload rules from database")
	fmt.Println("    GET    /health                      - Health check")
	fmt.Println("    GET    /ready                       - Readiness check")
	fmt.Println()
}
