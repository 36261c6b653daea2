// Package causal implements the directed causal graph at the centre of the
// reasoning engine.
//
// A Graph is an arena of typed nodes (symptom, diagnosis, treatment, outcome,
// evidence) and typed edges (causes, treated_by, leads_to, supports). Nodes are
// content-addressed: adding the same (type, content) pair twice yields the same
// node ID, so independent producers collapse onto one node without coordination.
//
// Edges are only accepted between nodes that already exist in the graph. A
// missing endpoint is reported as a *ReferenceError and leaves the graph
// unchanged.
//
// Acyclicity and weak connectivity are expected of a well-formed graph but are
// never enforced. Noisy producer output may legitimately introduce cycles or
// disconnected components; HasCycles and IsWeaklyConnected report them so the
// caller can flag the result.
//
// A Graph is not safe for concurrent mutation. The intended lifecycle is one
// builder goroutine that constructs and prunes the graph, after which it is
// treated as read-only (or copied with Clone) by scoring, bias detection and
// trail extraction.
package causal
