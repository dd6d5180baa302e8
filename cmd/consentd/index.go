package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/consentd/internal/events"
	"github.com/alfredjeanlab/consentd/internal/indexer"
)

var indexCmd = &cobra.Command{
	Use:     "index",
	Short:   "Inspect and maintain the persisted event index",
	GroupID: "index",
}

var indexWatermarksCmd = &cobra.Command{
	Use:   "watermarks",
	Short: "Show the highest fully indexed block per event type",
	RunE: func(cmd *cobra.Command, args []string) error {
		wms, err := consentClient.Watermarks(context.Background())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(os.Stdout, wms)
		}
		printWatermarkTable(os.Stdout, wms)
		return nil
	},
}

var indexSyncCmd = &cobra.Command{
	Use:               "sync",
	Short:             "Catch the index up with the ledger once and exit",
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.IndexEnabled() {
			return fmt.Errorf("index sync needs CONSENTD_DATABASE_URL")
		}
		logger := cfg.NewLogger(os.Stderr)
		ctx := context.Background()

		eth, err := dialLedger(ctx, cfg)
		if err != nil {
			return err
		}
		defer eth.Close()

		st, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		var publisher events.Publisher = &events.NoopPublisher{}
		if cfg.NATSURL != "" {
			if pub, err := events.NewNATSPublisher(cfg.NATSURL); err != nil {
				logger.Warn("index advance notifications disabled", "err", err)
			} else {
				publisher = pub
			}
		}
		defer publisher.Close()

		ix := indexer.New(eth, st, publisher, indexer.Config{
			GenesisBlock:  cfg.GenesisBlock,
			MaxBlockRange: cfg.MaxBlockRange,
		}, logger)
		results, syncErr := ix.SyncAll(ctx)
		if jsonOutput {
			if err := printJSON(os.Stdout, results); err != nil {
				return err
			}
		} else {
			printSyncResults(os.Stdout, results)
		}
		return syncErr
	},
}

func init() {
	indexCmd.AddCommand(indexWatermarksCmd, indexSyncCmd)
}
