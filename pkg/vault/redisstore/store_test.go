package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/sevai/internal/testutil"
	"github.com/dyluth/sevai/pkg/vault"
)

// setupTestStore creates a store connected to a miniredis instance.
func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s, err := New(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s, mr
}

func TestNew(t *testing.T) {
	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := New(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})

	t.Run("rejects bad url", func(t *testing.T) {
		_, err := NewFromURL("not a url", "test-instance")
		assert.Error(t, err)
	})

	t.Run("pings", func(t *testing.T) {
		s, _ := setupTestStore(t)
		assert.NoError(t, s.Ping(context.Background()))
	})
}

func TestStoreContract(t *testing.T) {
	testutil.RunStoreSuite(t, func(t *testing.T) vault.Store {
		s, _ := setupTestStore(t)
		return s
	})
}

func TestKeyLayout(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()

	e, err := s.Append(ctx, vault.KindCausalStep, func(h vault.Head) (vault.Entry, error) {
		return vault.Entry{ID: h.LastID + 1, Hash: "abc", ExecutionID: 7, Payload: []byte(`{}`)}, nil
	})
	require.NoError(t, err)

	assert.True(t, mr.Exists("sevai:test-instance:causal_step:1"))
	seq, err := mr.Get("sevai:test-instance:causal_step:seq")
	require.NoError(t, err)
	assert.Equal(t, "1", seq)
	head, err := mr.Get("sevai:test-instance:causal_step:head")
	require.NoError(t, err)
	assert.Equal(t, e.Hash, head)

	members, err := mr.ZMembers("sevai:test-instance:causal_step:execution:7")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, members)
}

func TestScanSkipsDeletedRecords(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.Append(ctx, vault.KindInput, func(h vault.Head) (vault.Entry, error) {
			return vault.Entry{ID: h.LastID + 1, Hash: "h", Payload: []byte(`{}`)}, nil
		})
		require.NoError(t, err)
	}
	mr.Del(RecordKey("test-instance", vault.KindInput, 2))

	var ids []int64
	require.NoError(t, s.Scan(ctx, vault.KindInput, func(e vault.Entry) error {
		ids = append(ids, e.ID)
		return nil
	}))
	assert.Equal(t, []int64{1, 3}, ids)
}

func TestHashToEntryRejectsBadFields(t *testing.T) {
	_, err := HashToEntry(vault.KindInput, map[string]string{"id": "x"})
	assert.Error(t, err)

	_, err = HashToEntry(vault.KindInput, map[string]string{"id": "1", "timestamp": "yesterday"})
	assert.Error(t, err)
}
