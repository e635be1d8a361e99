// cmd/ipzone-server/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ipzone.io/internal/config"
	"ipzone.io/internal/engine"
	"ipzone.io/internal/logging"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	// Initialize structured logging
	logConfig := logging.DefaultConfig()
	logConfig.Level = logging.LogLevel(cfg.LogLevel)
	logConfig.Directory = cfg.LogDirectory
	logConfig.EnableConsole = cfg.EnableConsole
	if err := logging.Initialize(logConfig); err != nil {
		log.Fatalf("Logging initialization failed: %v", err)
	}
	defer logging.GetLogger().Close()

	log.Printf("Starting ipzone server")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := engine.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to construct engine: %v", err)
	}

	log.Printf("Connected to PostgreSQL database at %s:%d/%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName)

	if err := eng.Health(ctx); err != nil {
		log.Fatalf("Engine health check failed: %v", err)
	}

	log.Printf("Engine initialized: sync schedule=%s, outputs=%d, auth=%s",
		cfg.Sync.Schedule, len(cfg.Outputs), cfg.Auth.Mode)

	// Set up graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start background loops: zone rebuilds and the sync scheduler
	go eng.Run(ctx)

	// Start statistics reporting
	go reportStats(ctx, eng)

	// Wait for shutdown signal
	<-sigChan
	log.Printf("Received shutdown signal, starting graceful shutdown...")

	// Cancel context to stop the background loops
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	// Let the scheduler finish its current cycle
	select {
	case <-eng.Scheduler.Done():
	case <-shutdownCtx.Done():
		log.Printf("Scheduler did not stop before the shutdown timeout")
	}

	if err := eng.Close(); err != nil {
		log.Printf("Error during engine shutdown: %v", err)
	}

	select {
	case <-shutdownCtx.Done():
		log.Printf("Shutdown timeout exceeded")
	default:
		log.Printf("ipzone server shutdown completed")
	}
}

// reportStats periodically reports cache and logging statistics
func reportStats(ctx context.Context, eng *engine.Engine) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cacheStats := eng.Snapshots().Stats()
			log.Printf("Snapshot Cache - Entries: %d, Hits: %d, Misses: %d, Hit Rate: %.2f%%, Evictions: %d",
				cacheStats.L1Stats.Entries, cacheStats.L1Stats.Hits, cacheStats.L1Stats.Misses,
				cacheStats.L1Stats.HitRate, cacheStats.L1Stats.Evictions)

			logStats := logging.GetLogger().GetStats()
			log.Printf("Log Stats - Mutations: %v, Sync Cycles: %v, Errors: %v",
				logStats["mutations_logged"], logStats["sync_cycles_logged"], logStats["errors_logged"])
		}
	}
}
