package ledger

import (
	"context"
	"fmt"
	"io"

	"github.com/dyluth/sevai/pkg/vault"
)

// OutputFormat is how listings are written.
type OutputFormat string

const (
	// FormatTable is a human-readable table with truncated summaries.
	FormatTable OutputFormat = "table"
	// FormatJSONL writes complete entries as line-delimited JSON.
	FormatJSONL OutputFormat = "jsonl"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSONL:
		return FormatJSONL, nil
	}
	return "", fmt.Errorf("unknown output format: %s (use table or jsonl)", s)
}

// Query returns the entries of kind matching c in ascending id order.
func Query(ctx context.Context, v *vault.Vault, kind vault.Kind, c Criteria) ([]vault.Entry, error) {
	entries, err := v.List(ctx, kind, c.listOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", kind, err)
	}
	if !c.postFilters() {
		return entries, nil
	}

	matched := entries[:0]
	for _, e := range entries {
		if c.Matches(e) {
			matched = append(matched, e)
		}
	}
	if c.Limit > 0 && len(matched) > c.Limit {
		matched = matched[len(matched)-c.Limit:]
	}
	return matched, nil
}

// List queries the vault and writes the matches to w in format.
func List(ctx context.Context, v *vault.Vault, kind vault.Kind, c Criteria, format OutputFormat, w io.Writer) error {
	entries, err := Query(ctx, v, kind, c)
	if err != nil {
		return err
	}

	switch format {
	case FormatTable, "":
		return WriteTable(w, kind, entries)
	case FormatJSONL:
		if err := WriteJSONL(w, entries); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}
