package redisstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dyluth/sevai/pkg/vault"
)

// EntryToHash converts an entry to Redis hash fields. The payload is kept
// as its canonical JSON string.
func EntryToHash(e vault.Entry) map[string]interface{} {
	return map[string]interface{}{
		"id":           e.ID,
		"timestamp":    e.Timestamp.UTC().Format(vault.TimestampFormat),
		"prev_hash":    e.PrevHash,
		"hash":         e.Hash,
		"execution_id": e.ExecutionID,
		"payload":      string(e.Payload),
	}
}

// HashToEntry converts Redis hash fields back to an entry.
func HashToEntry(kind vault.Kind, hash map[string]string) (vault.Entry, error) {
	id, err := strconv.ParseInt(hash["id"], 10, 64)
	if err != nil {
		return vault.Entry{}, fmt.Errorf("invalid id field: %w", err)
	}

	ts, err := time.Parse(vault.TimestampFormat, hash["timestamp"])
	if err != nil {
		return vault.Entry{}, fmt.Errorf("invalid timestamp field: %w", err)
	}

	var executionID int64
	if v := hash["execution_id"]; v != "" {
		if executionID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return vault.Entry{}, fmt.Errorf("invalid execution_id field: %w", err)
		}
	}

	return vault.Entry{
		Kind:        kind,
		ID:          id,
		Timestamp:   ts,
		PrevHash:    hash["prev_hash"],
		Hash:        hash["hash"],
		ExecutionID: executionID,
		Payload:     json.RawMessage(hash["payload"]),
	}, nil
}
