// Package ledger lists, renders and checks the records held in a vault.
package ledger

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/dyluth/sevai/pkg/vault"
)

// Criteria filters ledger listings. All filters are ANDed together and zero
// values match everything.
type Criteria struct {
	Since time.Time // inclusive
	Until time.Time // exclusive
	// AgentGlob matches agent_id on agent executions, e.g. "causal_*".
	AgentGlob   string
	ExecutionID int64
	// Limit keeps the most recent matches.
	Limit int
}

// HasFilters reports whether any content filter is active.
func (c Criteria) HasFilters() bool {
	return !c.Since.IsZero() || !c.Until.IsZero() || c.AgentGlob != "" || c.ExecutionID != 0
}

// listOptions is the part of c the vault can apply while scanning.
func (c Criteria) listOptions() vault.ListOptions {
	opts := vault.ListOptions{Since: c.Since, Until: c.Until}
	if !c.postFilters() {
		opts.Limit = c.Limit
	}
	return opts
}

func (c Criteria) postFilters() bool {
	return c.AgentGlob != "" || c.ExecutionID != 0
}

// Matches applies the filters the vault cannot: agent id and execution id.
func (c Criteria) Matches(e vault.Entry) bool {
	if c.ExecutionID != 0 && executionOf(e) != c.ExecutionID {
		return false
	}

	if c.AgentGlob != "" {
		if e.Kind != vault.KindAgentExecution {
			return false
		}
		var payload struct {
			AgentID string `json:"agent_id"`
		}
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return false
		}
		matched, err := filepath.Match(c.AgentGlob, payload.AgentID)
		if err != nil || !matched {
			return false
		}
	}
	return true
}

// executionOf is the execution an entry belongs to. Agent executions belong
// to themselves.
func executionOf(e vault.Entry) int64 {
	if e.Kind == vault.KindAgentExecution {
		return e.ID
	}
	return e.ExecutionID
}
