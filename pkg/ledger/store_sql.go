package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Northlight-Labs/keel/pkg/contracts"
)

// SQLStore persists the chain via database/sql. It uses $1-style
// placeholders, which both Postgres and SQLite accept, so one
// implementation covers single-node and shared deployments.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// OpenPostgres opens a Postgres-backed chain store and ensures the
// schema.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres ledger: %w", err)
	}
	s := NewSQLStore(db)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens a SQLite-backed chain store and ensures the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite ledger: %w", err)
	}
	s := NewSQLStore(db)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

var ledgerSchema = []string{
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		sequence BIGINT PRIMARY KEY,
		kind TEXT NOT NULL,
		session_id TEXT,
		agent_ids TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		prev_hash TEXT NOT NULL,
		author TEXT,
		created_at TEXT NOT NULL,
		data TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_session ON ledger_entries(session_id)`,
	`CREATE TABLE IF NOT EXISTS ledger_agents (
		sequence BIGINT NOT NULL,
		agent_id TEXT NOT NULL,
		PRIMARY KEY (sequence, agent_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_agent ON ledger_agents(agent_id)`,
}

// Init creates the schema if missing. Statements run one at a time so
// both drivers behave identically.
func (s *SQLStore) Init(ctx context.Context) error {
	for _, stmt := range ledgerSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure ledger schema: %w", err)
		}
	}
	return nil
}

// Append implements Store. The entry row and its agent index rows
// commit in one transaction.
func (s *SQLStore) Append(ctx context.Context, e Entry) error {
	agents, err := json.Marshal(e.AgentIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal agent ids: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(sequence) FROM ledger_entries`).Scan(&maxSeq); err != nil {
		return fmt.Errorf("failed to read chain head: %w", err)
	}
	want := uint64(maxSeq.Int64) + 1
	if e.Sequence != want {
		return fmt.Errorf("%w: got sequence %d, want %d", ErrOutOfOrder, e.Sequence, want)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (sequence, kind, session_id, agent_ids, content_hash, prev_hash, author, created_at, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.Sequence, string(e.Kind), e.SessionID, string(agents), e.ContentHash, e.PrevHash,
		e.Author, e.Timestamp.UTC().Format(time.RFC3339Nano), string(e.Data))
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}

	for _, agent := range e.AgentIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_agents (sequence, agent_id) VALUES ($1, $2)`,
			e.Sequence, agent); err != nil {
			return fmt.Errorf("failed to index agent %s: %w", agent, err)
		}
	}
	return tx.Commit()
}

const entryColumns = `sequence, kind, session_id, agent_ids, content_hash, prev_hash, author, created_at, data`

func scanEntry(row interface{ Scan(...any) error }) (*Entry, error) {
	var (
		e         Entry
		kind      string
		agents    string
		createdAt string
		data      string
	)
	err := row.Scan(&e.Sequence, &kind, &e.SessionID, &agents, &e.ContentHash,
		&e.PrevHash, &e.Author, &createdAt, &data)
	if err != nil {
		return nil, err
	}
	e.Kind = EntryKind(kind)
	if err := json.Unmarshal([]byte(agents), &e.AgentIDs); err != nil {
		return nil, fmt.Errorf("corrupt agent index on entry %d: %w", e.Sequence, err)
	}
	if e.Timestamp, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("corrupt timestamp on entry %d: %w", e.Sequence, err)
	}
	e.Data = json.RawMessage(data)
	return &e, nil
}

// Head implements Store.
func (s *SQLStore) Head(ctx context.Context) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries ORDER BY sequence DESC LIMIT 1`)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: ledger empty", contracts.ErrNotFound)
	}
	return entry, err
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, seq uint64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE sequence = $1`, seq)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: entry %d", contracts.ErrNotFound, seq)
	}
	return entry, err
}

func (s *SQLStore) queryEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *entry)
	}
	return out, rows.Err()
}

// ByAgent implements Store.
func (s *SQLStore) ByAgent(ctx context.Context, agentID string) ([]Entry, error) {
	return s.queryEntries(ctx, `
		SELECT e.sequence, e.kind, e.session_id, e.agent_ids, e.content_hash, e.prev_hash, e.author, e.created_at, e.data
		FROM ledger_entries e
		JOIN ledger_agents a ON a.sequence = e.sequence
		WHERE a.agent_id = $1
		ORDER BY e.sequence
	`, agentID)
}

// BySession implements Store.
func (s *SQLStore) BySession(ctx context.Context, sessionID string) ([]Entry, error) {
	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE session_id = $1 ORDER BY sequence`,
		sessionID)
}

// All implements Store.
func (s *SQLStore) All(ctx context.Context) ([]Entry, error) {
	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries ORDER BY sequence`)
}

// Close closes the underlying handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
