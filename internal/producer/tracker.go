package producer

import (
	"sort"
	"sync"
)

// TokenTracker accumulates token usage per producer. Safe for concurrent use.
type TokenTracker struct {
	mu    sync.Mutex
	usage map[string]TokenUsage
	calls map[string]int
}

// NewTokenTracker creates an empty tracker.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{
		usage: make(map[string]TokenUsage),
		calls: make(map[string]int),
	}
}

// Add records one call's usage for producer.
func (t *TokenTracker) Add(producer string, u TokenUsage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage[producer] = t.usage[producer].Add(u)
	t.calls[producer]++
}

// Usage returns the accumulated usage for producer.
func (t *TokenTracker) Usage(producer string) TokenUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage[producer]
}

// Calls returns the number of successful calls recorded for producer.
func (t *TokenTracker) Calls(producer string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[producer]
}

// Total returns usage summed across producers.
func (t *TokenTracker) Total() TokenUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total TokenUsage
	for _, u := range t.usage {
		total = total.Add(u)
	}
	return total
}

// Producers lists tracked producer names in sorted order.
func (t *TokenTracker) Producers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.usage))
	for name := range t.usage {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
