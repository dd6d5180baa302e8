package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/consentd/internal/cache"
	"github.com/alfredjeanlab/consentd/internal/config"
	"github.com/alfredjeanlab/consentd/internal/events"
	"github.com/alfredjeanlab/consentd/internal/indexer"
	"github.com/alfredjeanlab/consentd/internal/ledger"
	"github.com/alfredjeanlab/consentd/internal/query"
	"github.com/alfredjeanlab/consentd/internal/resolver"
	"github.com/alfredjeanlab/consentd/internal/server"
	"github.com/alfredjeanlab/consentd/internal/snapshot"
	"github.com/alfredjeanlab/consentd/internal/store"
	"github.com/alfredjeanlab/consentd/internal/store/postgres"
)

const shutdownTimeout = 10 * time.Second

// loadConfig reads the optional TOML file and the environment, then validates.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openStore connects the persisted index. A nil store means the index is
// disabled.
func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if !cfg.IndexEnabled() {
		logger.Info("event index disabled (CONSENTD_DATABASE_URL not set)")
		return nil, nil
	}
	st, err := postgres.New(cfg.DatabaseURL, cfg.ReadTimeout.D())
	if err != nil {
		return nil, err
	}
	logger.Info("event index enabled")
	return st, nil
}

func dialLedger(ctx context.Context, cfg *config.Config) (*ledger.EthClient, error) {
	return ledger.DialEth(ctx, cfg.LedgerRPCURL, cfg.ContractAddress,
		ledger.WithGenesisBlock(cfg.GenesisBlock),
		ledger.WithReadTimeout(cfg.ReadTimeout.D()),
	)
}

var serveCmd = &cobra.Command{
	Use:               "serve",
	Short:             "Start the consentd HTTP and gRPC servers",
	GroupID:           "system",
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := cfg.NewLogger(os.Stderr)
		slog.SetDefault(logger)
		ctx := context.Background()

		// Ledger.
		eth, err := dialLedger(ctx, cfg)
		if err != nil {
			return err
		}
		defer eth.Close()

		// Persisted index.
		st, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		if st != nil {
			defer func() {
				if err := st.Close(); err != nil {
					logger.Error("error closing store", "err", err)
				}
			}()
		}

		// Event bus.
		var publisher events.Publisher = &events.NoopPublisher{}
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				return err
			}
			publisher = pub
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			logger.Info("events disabled (CONSENTD_NATS_URL not set)")
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error("error closing publisher", "err", err)
			}
		}()

		// Cache.
		var backend cache.Backend
		if cfg.RedisURL != "" {
			rb, err := cache.NewRedisBackend(ctx, cfg.RedisURL)
			if err != nil {
				// The cache is optional; run uncached rather than refuse to start.
				logger.Warn("cache disabled: redis unreachable", "err", err)
			} else {
				backend = rb
				logger.Info("cache enabled")
			}
		}
		qc := cache.New(backend, logger)
		defer qc.Close()

		// Query stack.
		ix := indexer.New(eth, st, publisher, indexer.Config{
			GenesisBlock:  cfg.GenesisBlock,
			MaxBlockRange: cfg.MaxBlockRange,
		}, logger)
		res := resolver.New(ix, eth,
			resolver.WithBatchSize(cfg.BatchSize),
			resolver.WithLogger(logger),
		)
		svc := query.New(ix, res, qc, query.Config{MaxBlockRange: cfg.MaxBlockRange}, logger)
		srv := server.New(svc,
			server.WithReadTimeout(cfg.ReadTimeout.D()),
			server.WithLogger(logger),
			server.WithIndexEnabled(ix.Enabled()),
		)

		// gRPC.
		grpcServer := server.NewGRPCServer(srv, cfg.AuthToken)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		// HTTP.
		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.NewHTTPHandler(cfg.AuthToken),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		// Background index sync.
		var syncer *indexer.Syncer
		if st != nil && cfg.SyncInterval > 0 {
			syncer = indexer.NewSyncer(ix, cfg.SyncInterval.D(), logger)
			syncer.Start()
			logger.Info("index syncer started", "interval", cfg.SyncInterval.D())
		}

		// Snapshots.
		scheduler := startSnapshots(ctx, cfg, st, logger)

		// Write notifications from the transaction path invalidate the cache.
		var subCancel context.CancelFunc
		if cfg.NATSURL != "" {
			sub, err := events.NewNATSSubscriber(cfg.NATSURL)
			if err != nil {
				logger.Error("failed to create write-notification subscriber", "err", err)
			} else {
				var subCtx context.Context
				subCtx, subCancel = context.WithCancel(ctx)
				inv := events.NewInvalidator(svc, logger)
				go func() {
					if err := inv.Run(subCtx, sub); err != nil {
						logger.Error("invalidator error", "err", err)
					}
					sub.Close()
				}()
				logger.Info("cache invalidator started")
			}
		}

		logger.Info("consentd started",
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
			"contract", cfg.ContractAddress,
		)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		if subCancel != nil {
			subCancel()
			logger.Info("cache invalidator stopped")
		}
		if scheduler != nil {
			scheduler.Stop()
			logger.Info("snapshot scheduler stopped")
		}
		if syncer != nil {
			syncer.Stop()
			logger.Info("index syncer stopped")
		}

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		logger.Info("shutdown complete")
		return nil
	},
}

// startSnapshots starts the snapshot scheduler when an interval, an index and
// at least one destination are configured.
func startSnapshots(ctx context.Context, cfg *config.Config, st store.Store, logger *slog.Logger) *snapshot.Scheduler {
	if st == nil || cfg.SnapshotInterval <= 0 {
		return nil
	}
	var dests []snapshot.Destination
	if cfg.SnapshotS3Bucket != "" {
		d, err := snapshot.NewS3Destination(ctx,
			cfg.SnapshotS3Bucket,
			cfg.SnapshotS3Key,
			cfg.SnapshotS3Region,
			cfg.SnapshotS3Endpoint,
		)
		if err != nil {
			logger.Error("failed to create S3 snapshot destination", "err", err)
		} else {
			dests = append(dests, d)
			logger.Info("snapshot S3 destination enabled", "bucket", cfg.SnapshotS3Bucket, "key", cfg.SnapshotS3Key)
		}
	}
	if cfg.SnapshotFile != "" {
		dests = append(dests, snapshot.NewFileDestination(cfg.SnapshotFile))
		logger.Info("snapshot file destination enabled", "path", cfg.SnapshotFile)
	}
	if len(dests) == 0 {
		return nil
	}
	s := snapshot.NewScheduler(st, dests, cfg.SnapshotInterval.D(), logger)
	s.Start()
	logger.Info("snapshot scheduler started", "interval", cfg.SnapshotInterval.D())
	return s
}
