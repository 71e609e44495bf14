package reputation

import (
	"context"
	"time"

	"github.com/Northlight-Labs/keel/pkg/contracts"
)

// Store persists reputation records with optimistic concurrency. Each
// record is a single-writer resource: Save succeeds only when the
// caller holds the version it loaded, so two concurrent updates to one
// agent serialize and the loser retries from a fresh Get.
//
// Version semantics: a record with Version 0 is new and Save fails if
// the agent already exists; otherwise Save fails with the
// concurrent-modification fault unless the stored version matches. On
// success the store bumps Version on the passed record.
type Store interface {
	Get(ctx context.Context, agentID string) (*contracts.ReputationRecord, error)
	Save(ctx context.Context, rec *contracts.ReputationRecord) error
	List(ctx context.Context) ([]*contracts.ReputationRecord, error)
}

// GetOrCreate loads an agent's record, minting the genesis record on
// first sight. The genesis record is persisted immediately so fork
// registration and session processing observe the same row.
func GetOrCreate(ctx context.Context, s Store, agentID string, now time.Time) (*contracts.ReputationRecord, error) {
	rec, err := s.Get(ctx, agentID)
	if err == nil {
		return rec, nil
	}
	if !contracts.IsNotFound(err) {
		return nil, err
	}
	rec = contracts.NewGenesisRecord(agentID, now)
	if err := s.Save(ctx, rec); err != nil {
		// Lost a creation race; the other writer's genesis is as good
		// as ours.
		if contracts.IsConcurrentModification(err) {
			return s.Get(ctx, agentID)
		}
		return nil, err
	}
	return rec, nil
}
