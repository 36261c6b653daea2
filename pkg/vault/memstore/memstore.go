// Package memstore is an in-process vault.Store. Data lives only as long as
// the Store value.
package memstore

import (
	"context"
	"sync"

	"github.com/dyluth/sevai/pkg/vault"
)

type chain struct {
	entries []vault.Entry
	head    vault.Head
}

// Store keeps every chain in memory behind one mutex.
type Store struct {
	mu       sync.Mutex
	chains   map[vault.Kind]*chain
	failures map[vault.Kind]error
}

var _ vault.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		chains:   make(map[vault.Kind]*chain),
		failures: make(map[vault.Kind]error),
	}
}

func (s *Store) chain(kind vault.Kind) *chain {
	c, ok := s.chains[kind]
	if !ok {
		c = &chain{}
		s.chains[kind] = c
	}
	return c
}

// Append builds and inserts the next entry while holding the lock.
func (s *Store) Append(ctx context.Context, kind vault.Kind, build vault.BuildFunc) (vault.Entry, error) {
	if err := ctx.Err(); err != nil {
		return vault.Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failures[kind]; err != nil {
		return vault.Entry{}, err
	}

	c := s.chain(kind)
	e, err := build(c.head)
	if err != nil {
		return vault.Entry{}, err
	}
	c.entries = append(c.entries, e)
	c.head = vault.Head{LastID: e.ID, LastHash: e.Hash}
	return e, nil
}

// Head returns the chain tail.
func (s *Store) Head(_ context.Context, kind vault.Kind) (vault.Head, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chain(kind).head, nil
}

// Get returns one entry.
func (s *Store) Get(_ context.Context, kind vault.Kind, id int64) (vault.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.chain(kind).entries {
		if e.ID == id {
			return e, nil
		}
	}
	return vault.Entry{}, vault.ErrNotFound
}

// Scan visits a snapshot of the chain so fn may call back into the store.
func (s *Store) Scan(ctx context.Context, kind vault.Kind, fn func(vault.Entry) error) error {
	s.mu.Lock()
	snapshot := append([]vault.Entry(nil), s.chain(kind).entries...)
	s.mu.Unlock()

	for _, e := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// ByExecution filters one chain by execution id.
func (s *Store) ByExecution(_ context.Context, kind vault.Kind, executionID int64) ([]vault.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []vault.Entry
	for _, e := range s.chain(kind).entries {
		if e.ExecutionID == executionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Tamper edits a stored entry in place without touching its hash. It
// reports whether the entry existed.
func (s *Store) Tamper(kind vault.Kind, id int64, edit func(*vault.Entry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chain(kind)
	for i := range c.entries {
		if c.entries[i].ID == id {
			edit(&c.entries[i])
			return true
		}
	}
	return false
}

// Remove deletes a stored entry without updating the head.
func (s *Store) Remove(kind vault.Kind, id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chain(kind)
	for i := range c.entries {
		if c.entries[i].ID == id {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return true
		}
	}
	return false
}

// FailAppends makes every later Append to kind return err. A nil err clears
// the failure.
func (s *Store) FailAppends(kind vault.Kind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, kind)
		return
	}
	s.failures[kind] = err
}
