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

	"github.com/mcclellann/loanledger/pkg/catalog"
	"github.com/mcclellann/loanledger/pkg/config"
	"github.com/mcclellann/loanledger/pkg/ledger"
	"github.com/mcclellann/loanledger/pkg/logging"
	"github.com/mcclellann/loanledger/pkg/metrics"
	"github.com/mcclellann/loanledger/pkg/notify"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "loanledger: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqliteStore, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize SQLite store: %w", err)
	}
	defer sqliteStore.Close()

	products, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}

	notifier := notify.Multi{notify.NewLogNotifier(logger)}
	redisNotifier, err := notify.DialRedis(ctx, cfg.RedisURL, cfg.NotifyList)
	if err != nil {
		return err
	}
	if redisNotifier != nil {
		defer redisNotifier.Close()
		notifier = append(notifier, redisNotifier)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := ledger.NewLedger(sqliteStore,
		ledger.WithLogger(logger),
		ledger.WithMetrics(metrics.New(registry)),
		ledger.WithNotifier(notifier),
		ledger.WithProducts(products),
		ledger.WithSettlementPolicy(cfg.Settlement),
		ledger.WithQuoteValidity(cfg.QuoteValidity),
		ledger.WithSweepConcurrency(cfg.SweepConcurrency),
	)
	defer svc.Wait()

	server := NewServer(svc, logger, registry)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting",
			zap.String("addr", cfg.Addr),
			zap.String("env", cfg.Environment),
			zap.Strings("products", products.Codes()),
			zap.Bool("redis", redisNotifier != nil),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	if cfg.SweepInterval > 0 {
		g.Go(func() error {
			runSweeps(gctx, svc, logger, cfg.SweepInterval)
			return nil
		})
	}
	return g.Wait()
}

// runSweeps assesses late fees across all open ledgers every interval until
// ctx is cancelled.
func runSweeps(ctx context.Context, svc *ledger.Ledger, logger *zap.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Debug("running late fee sweep")
			assessed, err := svc.SweepLateFees(ctx)
			if err != nil {
				logger.Error("late fee sweep failed", zap.Error(err))
				continue
			}
			logger.Info("late fee sweep complete", zap.Int("assessed", assessed))
		}
	}
}
