package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/sevai/internal/testutil"
	"github.com/dyluth/sevai/pkg/vault"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	testutil.RunStoreSuite(t, func(t *testing.T) vault.Store { return openTestStore(t) })
}

func TestInMemoryDatabase(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Append(ctx, vault.KindInput, func(h vault.Head) (vault.Entry, error) {
		return vault.Entry{ID: h.LastID + 1, Hash: "h", Payload: []byte(`{}`)}, nil
	})
	require.NoError(t, err)

	head, err := s.Head(ctx, vault.KindInput)
	require.NoError(t, err)
	assert.Equal(t, int64(1), head.LastID)
	assert.NoError(t, s.Ping(ctx))
}

func TestReopenKeepsChain(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vault.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	first, err := s.Append(ctx, vault.KindOutput, func(h vault.Head) (vault.Entry, error) {
		return vault.Entry{ID: h.LastID + 1, Hash: "first", Payload: []byte(`{}`)}, nil
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	head, err := s.Head(ctx, vault.KindOutput)
	require.NoError(t, err)
	assert.Equal(t, vault.Head{LastID: first.ID, LastHash: "first"}, head)
}

func TestDuplicateIDRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	build := func(vault.Head) (vault.Entry, error) {
		return vault.Entry{ID: 1, Hash: "h", Payload: []byte(`{}`)}, nil
	}
	_, err := s.Append(ctx, vault.KindInput, build)
	require.NoError(t, err)

	// A second id 1 violates the primary key and must not move the head.
	_, err = s.Append(ctx, vault.KindInput, func(vault.Head) (vault.Entry, error) {
		return vault.Entry{ID: 1, Hash: "other", Payload: []byte(`{}`)}, nil
	})
	require.Error(t, err)

	head, err := s.Head(ctx, vault.KindInput)
	require.NoError(t, err)
	assert.Equal(t, "h", head.LastHash)

	// The connection is usable after the rollback.
	_, err = s.Append(ctx, vault.KindInput, func(h vault.Head) (vault.Entry, error) {
		return vault.Entry{ID: h.LastID + 1, Hash: "next", Payload: []byte(`{}`)}, nil
	})
	require.NoError(t, err)
}

func TestTamperedRowIsDetected(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	v := vault.New(s)

	_, err := v.LogInput(ctx, "test", "fever and cough", nil)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `UPDATE inputs SET payload = '{"content":"edited"}' WHERE id = 1`)
	require.NoError(t, err)

	r, err := v.Verify(ctx, vault.KindInput)
	require.NoError(t, err)
	assert.False(t, r.Valid)
	require.NotEmpty(t, r.Issues)
	assert.Equal(t, vault.ProblemHashMismatch, r.Issues[0].Problem)
}
