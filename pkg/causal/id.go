package causal

import (
	"crypto/sha256"
	"encoding/base64"
)

// NewNodeID derives the content address of a (type, content) pair.
//
// The ID has the form "{type}:{base64url(sha256(type:content)[:12])}", so it is
// stable across processes and independent insertions of the same claim
// collapse onto one node.
func NewNodeID(t NodeType, content string) NodeID {
	sum := sha256.Sum256([]byte(string(t) + ":" + content))
	return NodeID(string(t) + ":" + base64.RawURLEncoding.EncodeToString(sum[:12]))
}
