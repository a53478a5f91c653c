package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/victorgomez09/suivi/internal/config"
	"github.com/victorgomez09/suivi/internal/logger"
	"github.com/victorgomez09/suivi/internal/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to main config file")
	customLogConfigs := flag.String("log-config", "", "comma-separated paths to custom provided log config files")
	flag.Parse()

	// initilize logging manager
	logManager, logger := initializeLogging(*customLogConfigs)
	defer closeLoggers(logManager)

	cfg, err := config.LoadAndValidate(*configPath, logger)
	if err != nil {
		logger.Fatal("Failed to load config", zap.String("path", *configPath), zap.Error(err))
	}

	errChan := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	builder := NewServerBuilder(cfg, logger, logManager)
	srv, err := builder.BuildServer(ctx, errChan)
	if err != nil {
		logger.Fatal("Failed to initialize server", zap.Error(err))
	}
	runServer(ctx, cancel, srv, errChan, cfg.Server.ShutdownGrace, logger)
}

// initializeLogging reads log.config.json plus any custom files and returns the root logger.
func initializeLogging(customLogConfigs string) (*logger.LoggerManager, *zap.Logger) {
	logConfigPaths := []string{"log.config.json"}
	for _, customConfig := range strings.Split(customLogConfigs, ",") {
		if tp := strings.TrimSpace(customConfig); tp != "" {
			logConfigPaths = append(logConfigPaths, tp)
		}
	}

	logManager, err := logger.NewLoggerManager(logConfigPaths)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	return logManager, logManager.GetLogger("suivi")
}

// Ensure that all logger buffers are flushed before the application exits.
func closeLoggers(logManager *logger.LoggerManager) {
	if err := logManager.Sync(); err != nil {
		log.Printf("Failed to sync loggers: %s", err)
	}
	if err := logManager.Close(); err != nil {
		log.Printf("Failed to close loggers: %s", err)
	}
}

// runServer starts the server and blocks until a signal or a listener error.
func runServer(
	ctx context.Context,
	cancel context.CancelFunc,
	srv *server.Server,
	errChan chan error,
	grace time.Duration,
	logger *zap.Logger,
) {
	if err := srv.Start(); err != nil {
		logger.Error("Failed to start listener", zap.String("addr", srv.Addr()), zap.Error(err))
		shutdown(srv, grace, logger)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Warn("Shutdown signal received. Initializing graceful shutdown")
	case err := <-errChan:
		logger.Error("Server error triggered shutdown", zap.Error(err))
	case <-ctx.Done():
	}
	cancel()
	shutdown(srv, grace, logger)
}

func shutdown(srv *server.Server, grace time.Duration, logger *zap.Logger) {
	if grace <= 0 {
		grace = server.ShutdownGracePeriod
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), grace)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Error during shutdown", zap.Error(err))
		return
	}
	logger.Info("Server shutdown completed")
}
