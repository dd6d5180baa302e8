package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/consentd/internal/indexer"
	"github.com/alfredjeanlab/consentd/internal/model"
	"github.com/alfredjeanlab/consentd/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}

func formatID(id *uint64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatUint(*id, 10)
}

func consentState(c *model.ConsentRecord) string {
	switch {
	case c.IsExpired:
		return "expired"
	case c.IsActive:
		return "active"
	}
	return "revoked"
}

func printStatus(w io.Writer, st model.ConsentStatus) {
	answer := "no"
	if st.HasConsent {
		answer = "yes"
	}
	fmt.Fprintf(w, "Consent:     %s\n", ui.RenderState(answer))
	fmt.Fprintf(w, "Consent ID:  %s\n", formatID(st.ConsentID))
	if st.IsExpired {
		fmt.Fprintf(w, "Expired:     %s\n", ui.RenderState("expired"))
	}
	fmt.Fprintf(w, "Expires:     %s\n", formatTime(st.ExpirationTime))
}

func printConsentTable(w io.Writer, recs []model.ConsentRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tPATIENT\tPROVIDER\tDATA TYPES\tEXPIRES")
	for i := range recs {
		c := &recs[i]
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			c.ID,
			ui.RenderState(consentState(c)),
			c.Patient,
			c.Provider,
			strings.Join(c.DataTypes, ","),
			formatTime(c.ExpirationTime),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d consents\n", len(recs))
}

func printRequestTable(w io.Writer, reqs []model.AccessRequest) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPATIENT\tREQUESTER\tDATA TYPES\tREQUESTED")
	for i := range reqs {
		r := &reqs[i]
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			ui.RenderState(string(r.Status)),
			r.Patient,
			r.Requester,
			strings.Join(r.DataTypes, ","),
			formatTime(&r.Timestamp),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d requests\n", len(reqs))
}

func printEventTable(w io.Writer, evs []model.Event) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BLOCK\tTYPE\tCONSENT\tREQUEST\tCOUNTERPARTY\tTIME")
	for i := range evs {
		e := &evs[i]
		block := strconv.FormatUint(e.BlockNumber, 10)
		if e.IsSynthetic() {
			block = ui.RenderMuted("derived")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			block,
			e.Type,
			formatID(e.ConsentID),
			formatID(e.RequestID),
			e.Provider,
			formatTime(&e.Timestamp),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d events\n", len(evs))
}

func printWatermarkTable(w io.Writer, wms []model.Watermark) {
	if len(wms) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("index empty or disabled"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EVENT TYPE\tBLOCK\tUPDATED")
	for i := range wms {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", wms[i].EventType, wms[i].BlockNumber, formatTime(&wms[i].UpdatedAt))
	}
	tw.Flush()
}

func printSyncResults(w io.Writer, results []indexer.SyncResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EVENT TYPE\tFROM\tTO\tFETCHED\tINSERTED\tADVANCED")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%t\n", r.EventType, r.FromBlock, r.ToBlock, r.Fetched, r.Inserted, r.Advanced)
	}
	tw.Flush()
}
