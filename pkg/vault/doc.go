// Package vault is the append-only, hash-chained audit store for reasoning
// runs.
//
// Five record kinds are kept, each in its own chain: inputs, agent
// executions, causal steps, policy checks and outputs. Every record carries
// the SHA-256 hash of its canonical JSON form together with the hash of the
// record before it in the same chain, so editing or deleting any stored
// record is detectable by Verify.
//
// Persistence is delegated to a Store. Implementations live in the
// memstore, redisstore and sqlitestore subpackages; each must make the
// "read chain head, insert record" step a single atomic unit.
package vault
