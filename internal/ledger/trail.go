package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/dyluth/sevai/pkg/vault"
)

// TrailFormat is how a reasoning trail is written.
type TrailFormat string

const (
	TrailText TrailFormat = "text"
	TrailJSON TrailFormat = "json"
)

// ShowTrail fetches the trail rooted at executionID and writes it to w.
// An unknown execution id yields a vault.NotFoundError.
func ShowTrail(ctx context.Context, v *vault.Vault, executionID int64, format TrailFormat, w io.Writer) error {
	t, err := v.GetReasoningTrail(ctx, executionID)
	if err != nil {
		return err
	}

	switch format {
	case TrailJSON:
		data, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal trail to JSON: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	case TrailText, "":
		WriteTrail(w, t)
		return nil
	}
	return fmt.Errorf("unknown trail format: %s (use text or json)", format)
}

// WriteTrail renders a trail for reading in a terminal.
func WriteTrail(w io.Writer, t *vault.ReasoningTrail) {
	ex := t.Execution
	fmt.Fprintf(w, "Execution %d: %s\n", ex.ID, ex.AgentID)
	fmt.Fprintf(w, "  Recorded: %s\n", ex.Timestamp.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "  Input:    %d\n", ex.InputID)
	fmt.Fprintf(w, "  Duration: %.1fms\n", ex.DurationMS)
	fmt.Fprintf(w, "  Hash:     %s\n", ex.Hash)

	if len(t.CausalSteps) > 0 {
		fmt.Fprintf(w, "\nCausal steps (%d):\n", len(t.CausalSteps))
		for i, s := range t.CausalSteps {
			fmt.Fprintf(w, "  %d. %s → %s (%s, confidence: %.0f%%)\n", i+1, s.Premise, s.Conclusion, s.ReasoningType, s.Confidence*100)
			if refs := nonEmpty(s.EvidenceRefs); len(refs) > 0 {
				fmt.Fprintf(w, "     evidence: %s\n", strings.Join(refs, "; "))
			}
		}
	}

	if len(t.PolicyChecks) > 0 {
		fmt.Fprintf(w, "\nPolicy checks (%d):\n", len(t.PolicyChecks))
		for _, p := range t.PolicyChecks {
			fmt.Fprintf(w, "  [%s] %s", strings.ToUpper(p.Result), p.PolicyName)
			if d, ok := p.Details["description"].(string); ok && d != "" {
				fmt.Fprintf(w, ": %s", d)
			}
			fmt.Fprintln(w)
		}
	}

	if o := t.Output; o != nil {
		fmt.Fprintf(w, "\nOutput %d (confidence: %.1f%%):\n", o.ID, o.Confidence*100)
		fmt.Fprintf(w, "  %s\n", o.Conclusion)
		if len(o.RiskFlags) > 0 {
			fmt.Fprintf(w, "  Risk flags: %s\n", strings.Join(o.RiskFlags, ", "))
		}
		for _, r := range o.Recommendations {
			fmt.Fprintf(w, "  - %s\n", r)
		}
	} else {
		fmt.Fprintf(w, "\nNo output recorded for this execution.\n")
	}
}

// WriteVerify renders integrity reports as a table followed by every issue.
// It returns false when any chain is invalid.
func WriteVerify(w io.Writer, reports []*vault.VerifyReport) (bool, error) {
	ok := true
	table := tablewriter.NewWriter(w)
	table.Header("KIND", "RECORDS", "STATUS", "ISSUES")
	for _, r := range reports {
		status := "ok"
		if !r.Valid {
			status = "TAMPERED"
			ok = false
		}
		if err := table.Append([]string{string(r.Kind), fmt.Sprint(r.Records), status, fmt.Sprint(len(r.Issues))}); err != nil {
			return false, fmt.Errorf("failed to add table row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return false, fmt.Errorf("failed to render table: %w", err)
	}

	for _, r := range reports {
		for _, is := range r.Issues {
			fmt.Fprintf(w, "  %s %d: %s (%s)\n", r.Kind, is.ID, is.Problem, is.Detail)
		}
	}
	return ok, nil
}

func nonEmpty(ss []string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
