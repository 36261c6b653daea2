// Package testutil holds shared test helpers: a conformance suite every
// vault.Store implementation runs, and container helpers for integration
// tests.
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/sevai/pkg/vault"
)

// StoreFactory returns a fresh, empty store. Cleanup is the factory's job.
type StoreFactory func(t *testing.T) vault.Store

// nextEntry chains a test entry onto head the same way the vault does.
func nextEntry(kind vault.Kind, executionID int64, payload string) vault.BuildFunc {
	return func(h vault.Head) (vault.Entry, error) {
		e := vault.Entry{
			Kind:        kind,
			ID:          h.LastID + 1,
			Timestamp:   time.Date(2026, 1, 2, 3, 4, 5, 6000, time.UTC),
			PrevHash:    h.LastHash,
			ExecutionID: executionID,
			Payload:     json.RawMessage(payload),
		}
		hash, err := vault.ComputeHash(e)
		if err != nil {
			return vault.Entry{}, err
		}
		e.Hash = hash
		return e, nil
	}
}

// RunStoreSuite exercises the vault.Store contract against newStore.
func RunStoreSuite(t *testing.T, newStore StoreFactory) {
	ctx := context.Background()

	t.Run("empty chain", func(t *testing.T) {
		s := newStore(t)
		head, err := s.Head(ctx, vault.KindInput)
		require.NoError(t, err)
		assert.Equal(t, vault.Head{}, head)

		_, err = s.Get(ctx, vault.KindInput, 1)
		assert.True(t, errors.Is(err, vault.ErrNotFound))

		var n int
		require.NoError(t, s.Scan(ctx, vault.KindInput, func(vault.Entry) error { n++; return nil }))
		assert.Zero(t, n)
	})

	t.Run("append chains ids and hashes", func(t *testing.T) {
		s := newStore(t)
		first, err := s.Append(ctx, vault.KindInput, nextEntry(vault.KindInput, 0, `{"n":1}`))
		require.NoError(t, err)
		second, err := s.Append(ctx, vault.KindInput, nextEntry(vault.KindInput, 0, `{"n":2}`))
		require.NoError(t, err)

		assert.Equal(t, int64(1), first.ID)
		assert.Equal(t, "", first.PrevHash)
		assert.Equal(t, int64(2), second.ID)
		assert.Equal(t, first.Hash, second.PrevHash)

		head, err := s.Head(ctx, vault.KindInput)
		require.NoError(t, err)
		assert.Equal(t, vault.Head{LastID: 2, LastHash: second.Hash}, head)

		got, err := s.Get(ctx, vault.KindInput, 2)
		require.NoError(t, err)
		assert.Equal(t, second.Hash, got.Hash)
		assert.Equal(t, second.PrevHash, got.PrevHash)
		assert.True(t, second.Timestamp.Equal(got.Timestamp))
		assert.JSONEq(t, `{"n":2}`, string(got.Payload))
	})

	t.Run("chains are independent per kind", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Append(ctx, vault.KindInput, nextEntry(vault.KindInput, 0, `{}`))
		require.NoError(t, err)
		out, err := s.Append(ctx, vault.KindOutput, nextEntry(vault.KindOutput, 1, `{}`))
		require.NoError(t, err)
		assert.Equal(t, int64(1), out.ID)
		assert.Equal(t, "", out.PrevHash)
	})

	t.Run("scan is ordered", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 5; i++ {
			_, err := s.Append(ctx, vault.KindCausalStep, nextEntry(vault.KindCausalStep, 1, fmt.Sprintf(`{"i":%d}`, i)))
			require.NoError(t, err)
		}
		var ids []int64
		require.NoError(t, s.Scan(ctx, vault.KindCausalStep, func(e vault.Entry) error {
			ids = append(ids, e.ID)
			return nil
		}))
		assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids)
	})

	t.Run("by execution", func(t *testing.T) {
		s := newStore(t)
		for _, exec := range []int64{1, 2, 1} {
			_, err := s.Append(ctx, vault.KindPolicyCheck, nextEntry(vault.KindPolicyCheck, exec, `{}`))
			require.NoError(t, err)
		}
		got, err := s.ByExecution(ctx, vault.KindPolicyCheck, 1)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, int64(1), got[0].ID)
		assert.Equal(t, int64(3), got[1].ID)

		none, err := s.ByExecution(ctx, vault.KindPolicyCheck, 99)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("failed build leaves nothing behind", func(t *testing.T) {
		s := newStore(t)
		boom := errors.New("boom")
		_, err := s.Append(ctx, vault.KindOutput, func(vault.Head) (vault.Entry, error) {
			return vault.Entry{}, boom
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, boom))

		head, err := s.Head(ctx, vault.KindOutput)
		require.NoError(t, err)
		assert.Equal(t, vault.Head{}, head)
	})

	t.Run("concurrent appends keep one unbroken chain", func(t *testing.T) {
		s := newStore(t)
		const writers, perWriter = 8, 10

		var wg sync.WaitGroup
		errs := make(chan error, writers*perWriter)
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					_, err := s.Append(ctx, vault.KindAgentExecution,
						nextEntry(vault.KindAgentExecution, 0, fmt.Sprintf(`{"w":%d,"i":%d}`, w, i)))
					errs <- err
				}
			}(w)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		var prev vault.Entry
		var n int64
		require.NoError(t, s.Scan(ctx, vault.KindAgentExecution, func(e vault.Entry) error {
			n++
			assert.Equal(t, n, e.ID)
			assert.Equal(t, prev.Hash, e.PrevHash, "record %d", e.ID)
			prev = e
			return nil
		}))
		assert.Equal(t, int64(writers*perWriter), n)
	})
}
