package ledger

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/dyluth/sevai/pkg/vault"
)

// Now is the clock used for relative ages. Tests pin it.
var Now = time.Now

// WriteTable writes entries as a table with one summary column per kind.
func WriteTable(w io.Writer, kind vault.Kind, entries []vault.Entry) error {
	if len(entries) == 0 {
		fmt.Fprintf(w, "No %s records found\n", kind)
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "AGE", "EXEC", "HASH", "SUMMARY")
	for _, e := range entries {
		row := []string{
			strconv.FormatInt(e.ID, 10),
			formatAge(e.Timestamp),
			formatExecution(executionOf(e)),
			shortHash(e.Hash),
			Summarize(e),
		}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("failed to add table row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	noun := "record"
	if len(entries) != 1 {
		noun = "records"
	}
	fmt.Fprintf(w, "\n%d %s %s\n", len(entries), kind, noun)
	return nil
}

// WriteJSONL writes one compact JSON entry per line.
func WriteJSONL(w io.Writer, entries []vault.Entry) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("failed to encode %s %d: %w", e.Kind, e.ID, err)
		}
	}
	return nil
}

// Summarize renders the interesting part of a payload in one short line.
// Undecodable payloads render as "-".
func Summarize(e vault.Entry) string {
	switch e.Kind {
	case vault.KindInput:
		var in vault.Input
		if e.Decode(&in) != nil {
			return "-"
		}
		return in.Source + ": " + excerpt(in.Content)
	case vault.KindAgentExecution:
		var a vault.AgentExecution
		if e.Decode(&a) != nil {
			return "-"
		}
		return fmt.Sprintf("%s (input %d, %.0fms)", a.AgentID, a.InputID, a.DurationMS)
	case vault.KindCausalStep:
		var c vault.CausalStep
		if e.Decode(&c) != nil {
			return "-"
		}
		return excerpt(fmt.Sprintf("%s → %s (%.0f%%)", c.Premise, c.Conclusion, c.Confidence*100))
	case vault.KindPolicyCheck:
		var p vault.PolicyCheck
		if e.Decode(&p) != nil {
			return "-"
		}
		return fmt.Sprintf("%s: %s", p.PolicyName, p.Result)
	case vault.KindOutput:
		var o vault.Output
		if e.Decode(&o) != nil {
			return "-"
		}
		s := fmt.Sprintf("%.0f%% %s", o.Confidence*100, excerpt(o.Conclusion))
		if len(o.RiskFlags) > 0 {
			s += " [" + strings.Join(o.RiskFlags, ",") + "]"
		}
		return s
	}
	return "-"
}

// excerpt keeps the first non-empty line, at most 40 runes.
func excerpt(s string) string {
	var line string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	if line == "" {
		return "-"
	}
	if r := []rune(line); len(r) > 40 {
		return string(r[:37]) + "..."
	}
	return line
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func formatExecution(id int64) string {
	if id == 0 {
		return "-"
	}
	return strconv.FormatInt(id, 10)
}

// formatAge renders a timestamp as "42s ago", "3m ago", "5h ago" or "2d ago".
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	diff := Now().Sub(t)
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
