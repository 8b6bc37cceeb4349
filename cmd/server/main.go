package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eefei22/well-bot-EmotionRecognition/internal/aggregate"
	"github.com/eefei22/well-bot-EmotionRecognition/internal/config"
	"github.com/eefei22/well-bot-EmotionRecognition/internal/inference"
	"github.com/eefei22/well-bot-EmotionRecognition/internal/metrics"
	"github.com/eefei22/well-bot-EmotionRecognition/internal/queue"
	"github.com/eefei22/well-bot-EmotionRecognition/internal/server"
	"github.com/eefei22/well-bot-EmotionRecognition/internal/session"
	"github.com/eefei22/well-bot-EmotionRecognition/internal/store"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "well-bot-ser"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("address", cfg.Server.Address),
		slog.Int("gap_threshold", cfg.Session.GapThreshold),
		slog.Int("aggregation_window", cfg.Aggregation.Window),
		slog.String("inference_endpoint", cfg.Inference.Endpoint),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Open the durable result store
	resultStore, err := store.Open(logger, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		logger.Error("Failed to open result store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize inference client
	inferenceClient, err := inference.NewClient(inference.Config{
		Endpoint:      cfg.Inference.Endpoint,
		APIKey:        cfg.Inference.APIKey,
		Timeout:       cfg.Inference.GetTimeoutDuration(),
		MaxRetries:    cfg.Inference.MaxRetries,
		MaxConcurrent: cfg.Inference.MaxConcurrent,
	})
	if err != nil {
		logger.Error("Failed to create inference client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize session tracker
	tracker := session.NewTracker(logger, cfg.Session.GetGapThresholdDuration(), appMetrics)

	// Initialize queue manager and start the worker goroutine
	queueMgr := queue.NewManager(logger, inferenceClient, tracker, resultStore,
		cfg.Queue.MaxRecentResults, cfg.Queue.GetStopTimeoutDuration(), appMetrics)
	if err := queueMgr.Start(); err != nil {
		logger.Error("Failed to start queue worker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Open the aggregated result log and start the aggregator
	resultLog, err := aggregate.OpenResultLog(cfg.Aggregation.LogPath, cfg.Aggregation.MaxRecent)
	if err != nil {
		logger.Error("Failed to open aggregated result log", slog.String("error", err.Error()))
		os.Exit(1)
	}

	aggregator, err := aggregate.NewAggregator(logger, tracker, resultLog,
		cfg.Aggregation.GetWindowDuration(),
		cfg.Aggregation.GetMinWindowDuration(),
		cfg.Aggregation.GetMaxWindowDuration(),
		cfg.Aggregation.GetStopTimeoutDuration(),
		appMetrics)
	if err != nil {
		logger.Error("Failed to create aggregator", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := aggregator.Start(); err != nil {
		logger.Error("Failed to start aggregator", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize and start the HTTP API server
	httpServer := server.NewHTTPServer(logger, cfg, queueMgr, tracker, aggregator,
		resultStore, inferenceClient, appMetrics)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Stop the queue (lets the in-flight job finish) and the aggregator
	queueMgr.Stop()
	aggregator.Stop()

	// Close remaining resources
	if err := inferenceClient.Close(); err != nil {
		logger.Error("Error closing inference client", slog.String("error", err.Error()))
	}
	if err := resultLog.Close(); err != nil {
		logger.Error("Error closing result log", slog.String("error", err.Error()))
	}
	if err := resultStore.Close(); err != nil {
		logger.Error("Error closing result store", slog.String("error", err.Error()))
	}

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
