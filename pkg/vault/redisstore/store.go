// Package redisstore is a vault.Store on Redis.
//
// Each chain is a run of hashes plus two tail keys (seq and head). Appends
// WATCH both tail keys and write the record and the new tail in one
// MULTI/EXEC, retrying when another writer got there first.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/dyluth/sevai/pkg/vault"
)

// Retry policy for contended appends.
const (
	retryInitialInterval = 2 * time.Millisecond
	retryMaxInterval     = 100 * time.Millisecond
	retryMaxElapsed      = 10 * time.Second
	scanBatchSize        = 256
)

// Store provides instance-scoped Redis persistence for the vault.
// It is safe for concurrent use, including from several processes.
type Store struct {
	rdb          *redis.Client
	instanceName string
}

var _ vault.Store = (*Store)(nil)

// New creates a store for the specified instance.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: vault namespace (must not be empty)
//
// Returns an error if instanceName is empty.
func New(redisOpts *redis.Options, instanceName string) (*Store, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	return &Store{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// NewFromURL parses a redis:// URL and creates a store.
func NewFromURL(url, instanceName string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return New(opts, instanceName)
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Append runs read-head, build and write in one optimistic transaction.
func (s *Store) Append(ctx context.Context, kind vault.Kind, build vault.BuildFunc) (vault.Entry, error) {
	seqKey := SeqKey(s.instanceName, kind)
	headKey := HeadKey(s.instanceName, kind)

	var appended vault.Entry
	txf := func(tx *redis.Tx) error {
		// 1. Read the current tail under WATCH
		head, err := readHead(ctx, tx, seqKey, headKey)
		if err != nil {
			return err
		}

		// 2. Build the next entry
		e, err := build(head)
		if err != nil {
			return backoff.Permanent(err)
		}

		// 3. Write record, index and tail atomically
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, RecordKey(s.instanceName, kind, e.ID), EntryToHash(e))
			if e.ExecutionID != 0 {
				p.ZAdd(ctx, ExecutionIndexKey(s.instanceName, kind, e.ExecutionID), redis.Z{
					Score:  float64(e.ID),
					Member: e.ID,
				})
			}
			p.Set(ctx, seqKey, e.ID, 0)
			p.Set(ctx, headKey, e.Hash, 0)
			return nil
		})
		if err != nil {
			return err
		}
		appended = e
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = retryMaxInterval
	bo.MaxElapsedTime = retryMaxElapsed

	err := backoff.Retry(func() error {
		err := s.rdb.Watch(ctx, txf, seqKey, headKey)
		if err == nil || errors.Is(err, redis.TxFailedErr) {
			return err
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return vault.Entry{}, fmt.Errorf("failed to append %s record: %w", kind, err)
	}
	return appended, nil
}

func readHead(ctx context.Context, c redis.Cmdable, seqKey, headKey string) (vault.Head, error) {
	seq, err := c.Get(ctx, seqKey).Result()
	if errors.Is(err, redis.Nil) {
		return vault.Head{}, nil
	}
	if err != nil {
		return vault.Head{}, fmt.Errorf("failed to read chain sequence: %w", err)
	}
	lastID, err := strconv.ParseInt(seq, 10, 64)
	if err != nil {
		return vault.Head{}, fmt.Errorf("invalid chain sequence %q: %w", seq, err)
	}
	hash, err := c.Get(ctx, headKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return vault.Head{}, fmt.Errorf("failed to read chain head: %w", err)
	}
	return vault.Head{LastID: lastID, LastHash: hash}, nil
}

// Head returns the chain tail.
func (s *Store) Head(ctx context.Context, kind vault.Kind) (vault.Head, error) {
	return readHead(ctx, s.rdb, SeqKey(s.instanceName, kind), HeadKey(s.instanceName, kind))
}

// Get retrieves one record. Returns vault.ErrNotFound if it doesn't exist.
func (s *Store) Get(ctx context.Context, kind vault.Kind, id int64) (vault.Entry, error) {
	hashData, err := s.rdb.HGetAll(ctx, RecordKey(s.instanceName, kind, id)).Result()
	if err != nil {
		return vault.Entry{}, fmt.Errorf("failed to read record from Redis: %w", err)
	}

	// HGetAll returns an empty map for non-existent keys
	if len(hashData) == 0 {
		return vault.Entry{}, vault.ErrNotFound
	}

	e, err := HashToEntry(kind, hashData)
	if err != nil {
		return vault.Entry{}, fmt.Errorf("failed to deserialize record: %w", err)
	}
	return e, nil
}

// Scan reads ids 1..seq in pipelined batches. Missing ids are skipped so
// Verify can report them as gaps.
func (s *Store) Scan(ctx context.Context, kind vault.Kind, fn func(vault.Entry) error) error {
	head, err := s.Head(ctx, kind)
	if err != nil {
		return err
	}
	for start := int64(1); start <= head.LastID; start += scanBatchSize {
		end := min(start+scanBatchSize-1, head.LastID)
		ids := make([]int64, 0, end-start+1)
		for id := start; id <= end; id++ {
			ids = append(ids, id)
		}
		entries, err := s.fetch(ctx, kind, ids)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := fn(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// ByExecution resolves the execution index then fetches the records.
func (s *Store) ByExecution(ctx context.Context, kind vault.Kind, executionID int64) ([]vault.Entry, error) {
	members, err := s.rdb.ZRange(ctx, ExecutionIndexKey(s.instanceName, kind, executionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read execution index: %w", err)
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid execution index member %q: %w", m, err)
		}
		ids = append(ids, id)
	}
	return s.fetch(ctx, kind, ids)
}

func (s *Store) fetch(ctx context.Context, kind vault.Kind, ids []int64) ([]vault.Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, RecordKey(s.instanceName, kind, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read records from Redis: %w", err)
	}

	out := make([]vault.Entry, 0, len(ids))
	for _, cmd := range cmds {
		hash := cmd.Val()
		if len(hash) == 0 {
			continue
		}
		e, err := HashToEntry(kind, hash)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize record: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}
