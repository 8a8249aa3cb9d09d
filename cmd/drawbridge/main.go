// Package main is the entry point for the drawbridge daemon: a single
// long-running process bridging the messaging gateway to per-project
// coding agent subprocesses. The HTTP server exposes a read-only
// status API; all control flows through the messaging transport.
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

	"github.com/drawbridge/drawbridge/internal/api"
	"github.com/drawbridge/drawbridge/internal/common/config"
	"github.com/drawbridge/drawbridge/internal/common/httpmw"
	"github.com/drawbridge/drawbridge/internal/common/logger"
	"github.com/drawbridge/drawbridge/internal/events"
	"github.com/drawbridge/drawbridge/internal/tracing"
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
	defer func() { _ = log.Sync() }()

	log.Info("Starting drawbridge...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Initialize event bus (in-memory by default, NATS if configured)
	eventBus, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer func() { _ = busCleanup() }()

	// 5. Open the embedded stores
	st, err := openStores(cfg)
	if err != nil {
		log.Fatal("Failed to open data stores", zap.Error(err), zap.String("data_dir", cfg.DB.DataDir))
	}
	defer st.Close()
	log.Info("Data stores opened", zap.String("data_dir", cfg.DB.DataDir))

	// 6. Build the services
	svcs := buildServices(cfg, st, eventBus, log)

	// 7. Crash recovery: park sessions that were ACTIVE when the
	// previous run died, before the gateway link comes up.
	if _, err := svcs.sessions.Recover(ctx); err != nil {
		log.Fatal("Crash recovery failed", zap.Error(err))
	}

	// 8. Connect the gateway link. A failed first dial is not fatal:
	// the manager keeps retrying in the background.
	if err := svcs.transport.Connect(ctx); err != nil {
		log.Warn("Initial gateway dial failed, retrying in background", zap.Error(err))
	}

	// 9. Start the daemon pumps
	pumps, pumpCtx := startPumps(ctx, svcs, cfg, log)

	// 10. HTTP status server
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(log, "status"))
	router.Use(httpmw.OtelTracing("status"))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "drawbridge",
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})
	api.SetupRoutes(router.Group("/api/v1"), api.Deps{
		Sessions:  svcs.sessions,
		Approvals: svcs.approvals,
		Transport: svcs.transport,
	}, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}
	go func() {
		log.Info("Status server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start status server", zap.Error(err))
		}
	}()

	// 11. Wait for a shutdown signal or a failed pump
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("Received signal, shutting down...", zap.String("signal", sig.String()))
	case <-pumpCtx.Done():
		log.Error("A daemon pump stopped, shutting down...")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Status server shutdown error", zap.Error(err))
	}
	if err := svcs.transport.Disconnect(); err != nil {
		log.Error("Transport disconnect error", zap.Error(err))
	}
	if err := svcs.processes.StopAll(); err != nil {
		log.Error("Failed to stop session processes", zap.Error(err))
	}
	if err := pumps.Wait(); err != nil {
		log.Error("Daemon pump error", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracing shutdown error", zap.Error(err))
	}

	log.Info("drawbridge stopped")
}
