package storage

import (
	"context"

	"holderscope/internal/domain"
)

// CreditLedger meters the prepaid per-requester analysis quota.
// Debit and Credit must be atomic per requester: a concurrent
// read-then-write on the balance must never lose an update.
type CreditLedger interface {
	// CreateAccount registers a requester with an initial balance.
	// Returns ErrDuplicateKey if the requester already exists.
	CreateAccount(ctx context.Context, requesterID string, initial int64) error

	// Balance returns the current balance. Returns ErrNotFound if the
	// requester does not exist.
	Balance(ctx context.Context, requesterID string) (int64, error)

	// Debit atomically subtracts amount from the balance. Returns
	// ErrInsufficientCredits (balance unchanged) when it would go negative,
	// ErrNotFound for unknown requesters.
	Debit(ctx context.Context, requesterID string, amount int64) error

	// Credit atomically adds amount to the balance. Returns ErrNotFound
	// for unknown requesters.
	Credit(ctx context.Context, requesterID string, amount int64) error
}

// AnalysisLogStore records the terminal outcome of every admitted task.
type AnalysisLogStore interface {
	// Insert appends one audit entry.
	Insert(ctx context.Context, e *domain.AnalysisLogEntry) error

	// GetByRequester retrieves entries for a requester, ordered by
	// logged_at ASC.
	GetByRequester(ctx context.Context, requesterID string) ([]*domain.AnalysisLogEntry, error)
}

// HolderSnapshotStore archives holder attribute rows from completed
// analyses for later inspection. Writes are best-effort from the
// coordinator's perspective.
type HolderSnapshotStore interface {
	// InsertBulk adds all snapshot rows of one analysis.
	InsertBulk(ctx context.Context, rows []*domain.HolderSnapshot) error

	// GetByToken retrieves archived rows for a token, ordered by
	// snapshot_at ASC, balance_percent DESC.
	GetByToken(ctx context.Context, tokenAddress string) ([]*domain.HolderSnapshot, error)
}
