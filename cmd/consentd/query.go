package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/consentd/internal/model"
	"github.com/alfredjeanlab/consentd/internal/server"
)

var statusCmd = &cobra.Command{
	Use:     "status <patient> <provider> <data-type>",
	Short:   "Check whether a patient currently consents to a provider for a data type",
	GroupID: "query",
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := consentClient.ConsentStatus(context.Background(), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(os.Stdout, st)
		}
		printStatus(os.Stdout, *st)
		return nil
	},
}

var includeInactive bool

var consentsCmd = &cobra.Command{
	Use:     "consents",
	Short:   "Show consent records",
	GroupID: "query",
}

var consentShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single consent record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := consentClient.Consent(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(os.Stdout, rec)
		}
		printConsentTable(os.Stdout, []model.ConsentRecord{*rec})
		return nil
	},
}

var consentPatientCmd = &cobra.Command{
	Use:   "patient <address>",
	Short: "List consents granted by a patient",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recs, err := consentClient.PatientConsents(context.Background(), args[0], includeInactive)
		return renderConsents(recs, err)
	},
}

var consentProviderCmd = &cobra.Command{
	Use:   "provider <address>",
	Short: "List consents granted to a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recs, err := consentClient.ProviderConsents(context.Background(), args[0], includeInactive)
		return renderConsents(recs, err)
	},
}

func renderConsents(recs []model.ConsentRecord, err error) error {
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(os.Stdout, recs)
	}
	printConsentTable(os.Stdout, recs)
	return nil
}

var (
	pendingPatient   string
	pendingRequester string
)

var requestsCmd = &cobra.Command{
	Use:     "requests",
	Short:   "Show access requests",
	GroupID: "query",
}

var requestShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single access request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := consentClient.AccessRequest(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(os.Stdout, req)
		}
		printRequestTable(os.Stdout, []model.AccessRequest{*req})
		return nil
	},
}

var requestPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List pending access requests for a patient and/or requester",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pendingPatient == "" && pendingRequester == "" {
			return fmt.Errorf("at least one of --patient or --requester is required")
		}
		reqs, err := consentClient.PendingRequests(context.Background(), pendingPatient, pendingRequester)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(os.Stdout, reqs)
		}
		printRequestTable(os.Stdout, reqs)
		return nil
	},
}

var (
	historyTypes []string
	historyFrom  string
	historyTo    string
)

var historyCmd = &cobra.Command{
	Use:     "history <patient>",
	Short:   "Show a patient's consent and access history, newest first",
	GroupID: "query",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := historyRequest(args[0], historyTypes, historyFrom, historyTo)
		if err != nil {
			return err
		}
		evs, err := consentClient.History(context.Background(), req)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(os.Stdout, evs)
		}
		printEventTable(os.Stdout, evs)
		return nil
	},
}

// historyRequest builds the request from flag values, rejecting unknown
// event types and malformed block numbers before anything is sent.
func historyRequest(patient string, types []string, from, to string) (*server.HistoryRequest, error) {
	req := &server.HistoryRequest{Patient: patient}
	for _, t := range types {
		et := model.EventType(t)
		if !et.IsValid() {
			return nil, fmt.Errorf("unknown event type %q", t)
		}
		req.Types = append(req.Types, et)
	}
	var err error
	if req.FromBlock, err = model.ParseBlock("from", from); err != nil {
		return nil, err
	}
	if req.ToBlock, err = model.ParseBlock("to", to); err != nil {
		return nil, err
	}
	return req, nil
}

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the consentd service",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := consentClient.Health(context.Background())
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}
		if jsonOutput {
			if err := printJSON(os.Stdout, h); err != nil {
				return err
			}
		} else {
			index := "disabled"
			if h.Index {
				index = "enabled"
			}
			fmt.Printf("Health: %s (index %s)\n", h.Status, index)
		}
		if h.Status != "ok" {
			return fmt.Errorf("unhealthy: %s", h.Status)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{consentPatientCmd, consentProviderCmd} {
		c.Flags().BoolVar(&includeInactive, "all", false, "include revoked and expired consents")
	}
	consentsCmd.AddCommand(consentShowCmd, consentPatientCmd, consentProviderCmd)

	requestPendingCmd.Flags().StringVar(&pendingPatient, "patient", "", "patient address")
	requestPendingCmd.Flags().StringVar(&pendingRequester, "requester", "", "requester address")
	requestsCmd.AddCommand(requestShowCmd, requestPendingCmd)

	historyCmd.Flags().StringSliceVar(&historyTypes, "type", nil, "event types to include (repeatable)")
	historyCmd.Flags().StringVar(&historyFrom, "from", "", "first block")
	historyCmd.Flags().StringVar(&historyTo, "to", "", "last block")
}
