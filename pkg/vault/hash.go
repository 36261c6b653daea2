package vault

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// TimestampFormat is how timestamps enter the hash and the stores.
const TimestampFormat = time.RFC3339Nano

// Canonical returns v as compact JSON with object keys sorted at every level.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	generic, err := decodeGeneric(raw)
	if err != nil {
		return nil, err
	}
	return marshalCompact(generic)
}

// ContentHash is the hex SHA-256 of the canonical JSON of v.
func ContentHash(v any) (string, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// ComputeHash hashes an entry's payload together with its id, timestamp
// and previous hash.
func ComputeHash(e Entry) (string, error) {
	generic, err := decodeGeneric(e.Payload)
	if err != nil {
		return "", fmt.Errorf("payload is not valid JSON: %w", err)
	}
	fields, ok := generic.(map[string]any)
	if !ok {
		return "", fmt.Errorf("payload must be a JSON object")
	}

	doc := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		doc[k] = v
	}
	doc["id"] = e.ID
	doc["timestamp"] = e.Timestamp.UTC().Format(TimestampFormat)
	doc["prev_hash"] = e.PrevHash

	b, err := marshalCompact(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// decodeGeneric keeps numbers as written so re-encoding is exact.
func decodeGeneric(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// marshalCompact relies on encoding/json sorting map keys.
func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
