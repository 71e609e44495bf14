package reputation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Northlight-Labs/keel/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists reputation records in SQLite. The wire JSON is
// stored whole alongside the CAS version column; alpha and agent_id
// are mirrored into columns for queries that should not parse JSON.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an opened database handle and runs migration.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS reputation_records (
        agent_id TEXT PRIMARY KEY,
        alpha REAL NOT NULL,
        beta REAL NOT NULL,
        last_updated TEXT NOT NULL,
        record JSON NOT NULL,
        version INTEGER NOT NULL
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, agentID string) (*contracts.ReputationRecord, error) {
	query := `SELECT record, version FROM reputation_records WHERE agent_id = ?`

	var raw []byte
	var version uint64
	err := s.db.QueryRowContext(ctx, query, agentID).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: agent %s", contracts.ErrNotFound, agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}

	var rec contracts.ReputationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", agentID, err)
	}
	rec.Version = version
	return &rec, nil
}

// Save implements Store with compare-and-swap on the version column.
func (s *SQLiteStore) Save(ctx context.Context, rec *contracts.ReputationRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	lastUpdated := rec.LastUpdated.UTC().Format(time.RFC3339Nano)

	if rec.Version == 0 {
		query := `INSERT INTO reputation_records
            (agent_id, alpha, beta, last_updated, record, version)
            VALUES (?, ?, ?, ?, ?, 1)
            ON CONFLICT(agent_id) DO NOTHING`
		res, err := s.db.ExecContext(ctx, query, rec.AgentID, rec.Alpha, rec.Beta, lastUpdated, raw)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: agent %s already exists", contracts.ErrConcurrentModification, rec.AgentID)
		}
		rec.Version = 1
		return nil
	}

	query := `UPDATE reputation_records
        SET alpha = ?, beta = ?, last_updated = ?, record = ?, version = version + 1
        WHERE agent_id = ? AND version = ?`
	res, err := s.db.ExecContext(ctx, query, rec.Alpha, rec.Beta, lastUpdated, raw, rec.AgentID, rec.Version)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: agent %s moved past version %d",
			contracts.ErrConcurrentModification, rec.AgentID, rec.Version)
	}
	rec.Version++
	return nil
}

// List implements Store, ordered by agent id.
func (s *SQLiteStore) List(ctx context.Context) ([]*contracts.ReputationRecord, error) {
	query := `SELECT record, version FROM reputation_records ORDER BY agent_id ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.ReputationRecord
	for rows.Next() {
		var raw []byte
		var version uint64
		if err := rows.Scan(&raw, &version); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var rec contracts.ReputationRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		rec.Version = version
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return out, nil
}
