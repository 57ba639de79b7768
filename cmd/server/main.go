package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/folio/service/balance"
	"github.com/brojonat/folio/service/config"
	"github.com/brojonat/folio/service/metrics"
	natspkg "github.com/brojonat/folio/service/nats"
	"github.com/brojonat/folio/service/portfolio"
	"github.com/brojonat/folio/service/server"
	"github.com/brojonat/folio/service/solana"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"cluster", cfg.SolanaCluster,
	)

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// Initialize Solana RPC client
	// Note: For premium RPC endpoints, include API key in the URL
	solanaRPC := solana.NewRPCClient(cfg.SolanaRPCURL)
	solanaClient := solana.NewClient(solanaRPC, cfg.SolanaCluster, rpc.CommitmentType(cfg.RPCCommitment), m, logger)
	logger.Info("initialized solana RPC client", "url", cfg.SolanaRPCURL, "commitment", cfg.RPCCommitment)

	balances := balance.NewCache(solanaClient, logger)

	// NATS is optional: without it events are not published and SSE is disabled.
	var notifier portfolio.Notifier
	var events server.EventSource
	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to connect NATS publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		notifier = natspkg.NewNotifier(publisher, m, logger)

		subscriber, err := natspkg.NewSubscriber(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to connect NATS subscriber", "error", err)
			os.Exit(1)
		}
		defer subscriber.Close()
		events = subscriber

		logger.Info("connected to NATS", "url", cfg.NATSURL)
	} else {
		logger.Warn("NATS_URL not set, portfolio events will not be published")
	}

	aggregator := portfolio.NewAggregator(balances, solanaClient, portfolio.Config{
		ProgressHold: cfg.ProgressHold,
		Directory:    portfolio.DefaultDirectory(),
	}, notifier, m, logger)

	// Transaction submission requires a signer key.
	var submitter server.Submitter
	var signer solana.Signer
	if cfg.SubmissionEnabled() {
		keypair, err := solana.NewSendingKeypairSignerFromBase58(cfg.SignerPrivateKey, solanaClient)
		if err != nil {
			logger.Error("failed to load signer key", "error", err)
			os.Exit(1)
		}
		submitter = solana.NewSubmitter(solanaClient, m, logger)
		signer = keypair
	}

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, cfg, aggregator, balances, submitter, signer, events, m, logger)

	logger.Info("server initialized, all dependencies ready",
		"solana_rpc", cfg.SolanaRPCURL,
		"nats_url", cfg.NATSURL,
		"balance_poll_interval", cfg.BalancePollInterval,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}
		aggregator.Disconnect(shutdownCtx)

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
