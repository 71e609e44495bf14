package ledger

import (
	"context"
	"errors"
)

// ErrOutOfOrder is returned when an appended entry does not extend the
// stored chain contiguously.
var ErrOutOfOrder = errors.New("ledger entry out of order")

// Store persists chained entries. Implementations only store and
// index; chaining and hashing belong to the Ledger, which is the
// store's single writer. All query results are ordered by sequence.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Head(ctx context.Context) (*Entry, error)
	Get(ctx context.Context, seq uint64) (*Entry, error)
	ByAgent(ctx context.Context, agentID string) ([]Entry, error)
	BySession(ctx context.Context, sessionID string) ([]Entry, error)
	All(ctx context.Context) ([]Entry, error)
}
