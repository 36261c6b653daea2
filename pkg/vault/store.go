package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Head is the tail of one chain. The zero value is an empty chain.
type Head struct {
	LastID   int64  `json:"last_id"`
	LastHash string `json:"last_hash"`
}

// Entry is a record as persisted by a Store. Payload holds the canonical
// JSON of the kind-specific fields.
type Entry struct {
	Kind        Kind            `json:"kind"`
	ID          int64           `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	PrevHash    string          `json:"prev_hash"`
	Hash        string          `json:"hash"`
	ExecutionID int64           `json:"execution_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

// Meta returns the chain bookkeeping of e.
func (e Entry) Meta() Meta {
	return Meta{ID: e.ID, Timestamp: e.Timestamp, PrevHash: e.PrevHash, Hash: e.Hash}
}

// Decode unmarshals the payload into v.
func (e Entry) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s %d: %w", e.Kind, e.ID, err)
	}
	return nil
}

// BuildFunc produces the next entry of a chain from its current head. A
// store may call it more than once if the append is retried.
type BuildFunc func(head Head) (Entry, error)

// Store persists entries. Implementations must be safe for concurrent use
// and must run Append's head read, build and insert as one atomic unit.
type Store interface {
	// Append inserts the entry returned by build and advances the head.
	Append(ctx context.Context, kind Kind, build BuildFunc) (Entry, error)
	// Head returns the current tail of the chain.
	Head(ctx context.Context, kind Kind) (Head, error)
	// Get returns one entry or ErrNotFound.
	Get(ctx context.Context, kind Kind, id int64) (Entry, error)
	// Scan calls fn for every stored entry in ascending id order.
	Scan(ctx context.Context, kind Kind, fn func(Entry) error) error
	// ByExecution returns the entries linked to an execution id, ascending.
	ByExecution(ctx context.Context, kind Kind, executionID int64) ([]Entry, error)
	Ping(ctx context.Context) error
	Close() error
}
