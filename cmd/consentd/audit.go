package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/consentd/internal/indexer"
	"github.com/alfredjeanlab/consentd/internal/ledger"
	"github.com/alfredjeanlab/consentd/internal/model"
	"github.com/alfredjeanlab/consentd/internal/resolver"
	"github.com/alfredjeanlab/consentd/internal/snapshot"
	"github.com/alfredjeanlab/consentd/internal/ui"
)

var (
	auditAt       string
	auditRegion   string
	auditEndpoint string
)

// auditReport is the replayed state of one patient at a point in time.
type auditReport struct {
	Patient  string                `json:"patient"`
	At       time.Time             `json:"at"`
	Height   uint64                `json:"height"`
	Consents []model.ConsentRecord `json:"consents"`
	Pending  []model.AccessRequest `json:"pending_requests"`
	History  []model.Event         `json:"history"`
}

var auditCmd = &cobra.Command{
	Use:   "audit <snapshot> <patient>",
	Short: "Replay a patient's consent state from an index snapshot, offline",
	Long: `Replay a patient's consent state from an index snapshot without
contacting the ledger. The snapshot may be a local path or s3://bucket/key.`,
	GroupID:           "index",
	Args:              cobra.ExactArgs(2),
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		ui.SetColor(ui.ShouldUseColor())
		at := time.Now().UTC()
		if auditAt != "" {
			t, err := time.Parse(time.RFC3339, auditAt)
			if err != nil {
				return fmt.Errorf("--at: %w", err)
			}
			at = t
		}

		ctx := context.Background()
		src, err := snapshot.ParseLocation(ctx, args[0], auditRegion, auditEndpoint)
		if err != nil {
			return err
		}
		rc, err := src.Read(ctx)
		if err != nil {
			return err
		}
		defer rc.Close()

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		report, err := runAudit(ctx, rc, args[1], at, logger)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(os.Stdout, report)
		}
		printAudit(os.Stdout, report)
		return nil
	},
}

// runAudit loads a snapshot into an in-memory ledger and resolves the
// patient's state through the same indexer and resolver the server uses.
func runAudit(ctx context.Context, r io.Reader, patient string, at time.Time, logger *slog.Logger) (*auditReport, error) {
	patient, err := model.NormalizeAddress("patient", patient)
	if err != nil {
		return nil, err
	}
	snap, err := snapshot.ImportJSONL(r)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	l := ledger.NewMemoryLedger()
	l.Append(snap.Events...)
	l.SetHeight(snap.Height())

	ix := indexer.New(l, nil, nil, indexer.Config{}, logger)
	res := resolver.New(ix, nil,
		resolver.WithClock(func() time.Time { return at }),
		resolver.WithLogger(logger),
	)

	report := &auditReport{Patient: patient, At: at, Height: snap.Height()}
	if report.Consents, err = res.PatientConsents(ctx, patient, true); err != nil {
		return nil, err
	}
	if report.Pending, err = res.PendingRequests(ctx, resolver.PendingFilter{Patient: patient}); err != nil {
		return nil, err
	}
	if report.History, err = res.History(ctx, model.EventFilter{Patient: patient}); err != nil {
		return nil, err
	}
	return report, nil
}

func printAudit(w io.Writer, r *auditReport) {
	fmt.Fprintf(w, "%s %s as of %s (snapshot height %d)\n\n",
		ui.RenderAccent("Patient"), r.Patient, r.At.Format(time.RFC3339), r.Height)
	printConsentTable(w, r.Consents)
	fmt.Fprintln(w)
	printRequestTable(w, r.Pending)
	fmt.Fprintln(w)
	printEventTable(w, r.History)
}

func init() {
	auditCmd.Flags().StringVar(&auditAt, "at", "", "evaluate expiry at this RFC3339 time instead of now")
	auditCmd.Flags().StringVar(&auditRegion, "s3-region", "us-east-1", "AWS region for s3:// snapshots")
	auditCmd.Flags().StringVar(&auditEndpoint, "s3-endpoint", "", "S3-compatible endpoint for s3:// snapshots")
}
