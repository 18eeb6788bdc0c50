package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/opslane/workstream-coordinator/internal/audit"
	"github.com/opslane/workstream-coordinator/internal/common/config"
	"github.com/opslane/workstream-coordinator/internal/common/logger"
	"github.com/opslane/workstream-coordinator/internal/coordinator"
	"github.com/opslane/workstream-coordinator/internal/eventbus"
	"github.com/opslane/workstream-coordinator/internal/observer/httpapi"
	"github.com/opslane/workstream-coordinator/internal/worktree"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting workstream coordinator service...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Optionally connect the durable audit sink
	var auditSink *audit.Sink
	var auditIface coordinator.AuditSink
	if cfg.Audit.Enabled {
		auditSink, err = audit.NewSink(ctx, cfg.Audit, log)
		if err != nil {
			log.Fatal("failed to connect audit sink", zap.Error(err))
		}
		defer auditSink.Close()
		auditIface = auditSink
		log.Info("connected audit sink")
	}

	// 5. Optionally connect the external event bus
	var bus *eventbus.NATSBus
	var busIface coordinator.ExternalBus
	if cfg.Events.NatsURL != "" {
		bus, err = eventbus.Connect(cfg.Events, log)
		if err != nil {
			log.Fatal("failed to connect event bus", zap.Error(err))
		}
		defer bus.Close()
		busIface = bus
		log.Info("connected external event bus")
	}

	// 6. Initialize the working-copy provider
	worktreeBase := cfg.Worktree.ExpandedWorktreeBase(cfg.Coordinator.RepoPath)
	provider := worktree.NewProvider(cfg.Coordinator.RepoPath, worktreeBase, cfg.Worktree.BranchPrefix, log)
	if cfg.Coordinator.UseWorktrees {
		if err := provider.Ensure(ctx); err != nil {
			log.Warn("working-copy isolation unavailable, continuing without it", zap.Error(err))
		}
	}

	// 7. Initialize the coordinator
	coord := coordinator.New(coordinator.Config{
		ServerBaseURL: cfg.Coordinator.ServerBaseURL,
		RepoPath:      cfg.Coordinator.RepoPath,
		UseWorktrees:  cfg.Coordinator.UseWorktrees,
	}, provider, auditIface, busIface, log)

	// 8. Initialize the WebSocket fan-out hub
	hub := httpapi.NewHub(coord, log)

	// 9. Setup HTTP server with Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 10. Register API routes
	v1 := router.Group("/api/v1")
	httpapi.SetupRoutes(v1, coord, hub, log)

	// 11. Create HTTP server
	port := cfg.Server.Port
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 12. Start server in goroutine
	go func() {
		log.Info("HTTP server listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	// 13. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down workstream coordinator service...")

	// 14. Graceful shutdown
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	for _, ws := range coord.GetAllWorkstreams() {
		if err := coord.StopWorkstream(shutdownCtx, ws.ID, false); err != nil {
			log.Warn("error stopping workstream during shutdown",
				zap.String("workstream_id", ws.ID), zap.Error(err))
		}
	}

	log.Info("workstream coordinator service stopped")
}
