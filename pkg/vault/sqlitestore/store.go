// Package sqlitestore is a vault.Store on SQLite via the pure-Go
// modernc.org/sqlite driver. One table per record kind, plus a heads table
// updated in the same transaction as each insert.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dyluth/sevai/pkg/vault"
)

var tables = map[vault.Kind]string{
	vault.KindInput:          "inputs",
	vault.KindAgentExecution: "agent_executions",
	vault.KindCausalStep:     "causal_steps",
	vault.KindPolicyCheck:    "policy_checks",
	vault.KindOutput:         "outputs",
}

const recordSchema = `CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY,
	timestamp TEXT NOT NULL,
	prev_hash TEXT NOT NULL,
	hash TEXT NOT NULL,
	execution_id INTEGER NOT NULL DEFAULT 0,
	payload TEXT NOT NULL
)`

const indexSchema = `CREATE INDEX IF NOT EXISTS idx_%[1]s_execution ON %[1]s(execution_id)`

const headSchema = `CREATE TABLE IF NOT EXISTS heads (
	kind TEXT PRIMARY KEY,
	last_id INTEGER NOT NULL,
	last_hash TEXT NOT NULL
)`

// Store is safe for concurrent use. Writes are serialised by a single
// connection and BEGIN IMMEDIATE.
type Store struct {
	db *sql.DB
}

var _ vault.Store = (*Store)(nil)

// Open opens or creates the database at path and applies the schema. Use
// ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared and makes
	// BEGIN IMMEDIATE the only writer lock needed.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{"PRAGMA busy_timeout = 5000", headSchema}
	for _, k := range vault.Kinds {
		stmts = append(stmts, fmt.Sprintf(recordSchema, tables[k]), fmt.Sprintf(indexSchema, tables[k]))
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func table(kind vault.Kind) (string, error) {
	t, ok := tables[kind]
	if !ok {
		return "", fmt.Errorf("unknown record kind %q", kind)
	}
	return t, nil
}

// Append inserts the next record inside BEGIN IMMEDIATE. Any failure rolls
// the transaction back.
func (s *Store) Append(ctx context.Context, kind vault.Kind, build vault.BuildFunc) (e vault.Entry, err error) {
	t, err := table(kind)
	if err != nil {
		return vault.Entry{}, err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return vault.Entry{}, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return vault.Entry{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			// Rollback must run even if ctx is done.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	head, err := readHead(ctx, conn, kind)
	if err != nil {
		return vault.Entry{}, err
	}
	e, err = build(head)
	if err != nil {
		return vault.Entry{}, err
	}

	_, err = conn.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, timestamp, prev_hash, hash, execution_id, payload) VALUES (?, ?, ?, ?, ?, ?)", t),
		e.ID, e.Timestamp.UTC().Format(vault.TimestampFormat), e.PrevHash, e.Hash, e.ExecutionID, string(e.Payload))
	if err != nil {
		return vault.Entry{}, fmt.Errorf("failed to insert %s record: %w", kind, err)
	}
	_, err = conn.ExecContext(ctx,
		`INSERT INTO heads (kind, last_id, last_hash) VALUES (?, ?, ?)
		 ON CONFLICT(kind) DO UPDATE SET last_id = excluded.last_id, last_hash = excluded.last_hash`,
		string(kind), e.ID, e.Hash)
	if err != nil {
		return vault.Entry{}, fmt.Errorf("failed to advance %s head: %w", kind, err)
	}

	if _, err = conn.ExecContext(ctx, "COMMIT"); err != nil {
		return vault.Entry{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return e, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readHead(ctx context.Context, q queryer, kind vault.Kind) (vault.Head, error) {
	var h vault.Head
	err := q.QueryRowContext(ctx, "SELECT last_id, last_hash FROM heads WHERE kind = ?", string(kind)).
		Scan(&h.LastID, &h.LastHash)
	if errors.Is(err, sql.ErrNoRows) {
		return vault.Head{}, nil
	}
	if err != nil {
		return vault.Head{}, fmt.Errorf("failed to read %s head: %w", kind, err)
	}
	return h, nil
}

// Head returns the chain tail.
func (s *Store) Head(ctx context.Context, kind vault.Kind) (vault.Head, error) {
	return readHead(ctx, s.db, kind)
}

// Get returns one record.
func (s *Store) Get(ctx context.Context, kind vault.Kind, id int64) (vault.Entry, error) {
	t, err := table(kind)
	if err != nil {
		return vault.Entry{}, err
	}
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id, timestamp, prev_hash, hash, execution_id, payload FROM %s WHERE id = ?", t), id)
	e, err := scanEntry(kind, row)
	if errors.Is(err, sql.ErrNoRows) {
		return vault.Entry{}, vault.ErrNotFound
	}
	return e, err
}

// Scan visits every record in id order.
func (s *Store) Scan(ctx context.Context, kind vault.Kind, fn func(vault.Entry) error) error {
	entries, err := s.query(ctx, kind, "ORDER BY id")
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// ByExecution returns the records linked to an execution.
func (s *Store) ByExecution(ctx context.Context, kind vault.Kind, executionID int64) ([]vault.Entry, error) {
	return s.query(ctx, kind, "WHERE execution_id = ? ORDER BY id", executionID)
}

// query materialises the rows before returning so callers can issue further
// queries on the single connection.
func (s *Store) query(ctx context.Context, kind vault.Kind, clause string, args ...any) ([]vault.Entry, error) {
	t, err := table(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id, timestamp, prev_hash, hash, execution_id, payload FROM %s %s", t, clause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s records: %w", kind, err)
	}
	defer rows.Close()

	var out []vault.Entry
	for rows.Next() {
		e, err := scanEntry(kind, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s records: %w", kind, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(kind vault.Kind, sc scanner) (vault.Entry, error) {
	var (
		e       = vault.Entry{Kind: kind}
		ts      string
		payload string
	)
	if err := sc.Scan(&e.ID, &ts, &e.PrevHash, &e.Hash, &e.ExecutionID, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return vault.Entry{}, err
		}
		return vault.Entry{}, fmt.Errorf("failed to scan %s record: %w", kind, err)
	}
	parsed, err := time.Parse(vault.TimestampFormat, ts)
	if err != nil {
		return vault.Entry{}, fmt.Errorf("invalid timestamp on %s %d: %w", kind, e.ID, err)
	}
	e.Timestamp = parsed
	e.Payload = json.RawMessage(payload)
	return e, nil
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
