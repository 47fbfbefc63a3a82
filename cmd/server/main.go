/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the technician wallet server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, WALLET_* env vars, flags)
  2. Build the zap logger
  3. Open PostgreSQL (if a database URL is set) or SQLite
  4. Create ledger services and the API handler
  5. Start the reconciliation auditor (if enabled)
  6. Start the HTTP server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the auditor
  4. Close database connection

EXAMPLES:
  # SQLite file, demo scenarios on
  WALLET_JWT_SECRET=dev ./server -db=./data/wallet.db -scenarios

  # PostgreSQL
  WALLET_JWT_SECRET=... ./server -database-url=postgres://wallet@db/wallet

SEE ALSO:
  - config/config.go: All settings
  - api/server.go: Router configuration
*/
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

	"github.com/warp/wallet-engine/api"
	"github.com/warp/wallet-engine/config"
	"github.com/warp/wallet-engine/ledger"
	"github.com/warp/wallet-engine/store/postgres"
	"github.com/warp/wallet-engine/store/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type closingStore interface {
	ledger.TxStore
	Close() error
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	clock := ledger.SystemClock{Location: loc}

	l := ledger.NewLedger(store, clock, logger.Named("ledger"))
	ws := ledger.NewWithdrawalService(store, clock, logger.Named("withdrawals"), ledger.WithdrawalOptions{
		AllowNegativeBalance: cfg.AllowNegativeBalance,
	})
	rep := ledger.NewReporter(store, clock, ledger.ReporterOptions{
		Location:           loc,
		LenientListFilters: cfg.LenientListFilters,
	})

	handler := api.NewHandler(store, ws, rep, l, logger.Named("api"))
	handler.JWTSecret = []byte(cfg.JWTSecret)

	router := api.NewRouter(handler, api.RouterOptions{
		JWTSecret:       []byte(cfg.JWTSecret),
		CORSOrigins:     cfg.CORSOrigins,
		EnableScenarios: cfg.EnableScenarios,
	})

	auditor := api.NewReconciliationAuditor(l, cfg.AuditInterval, logger.Named("auditor"))
	auditor.Start()
	defer auditor.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.Bool("scenarios", cfg.EnableScenarios),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (closingStore, error) {
	if cfg.DatabaseURL != "" {
		s, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres: %w", err)
		}
		return s, nil
	}
	s, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sqlite: %w", err)
	}
	return s, nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	zc := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
