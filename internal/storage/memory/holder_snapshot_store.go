package memory

import (
	"context"
	"sort"
	"sync"

	"holderscope/internal/domain"
	"holderscope/internal/storage"
)

// HolderSnapshotStore is an in-memory implementation of storage.HolderSnapshotStore.
type HolderSnapshotStore struct {
	mu   sync.RWMutex
	rows []*domain.HolderSnapshot
}

// NewHolderSnapshotStore creates a new in-memory holder snapshot store.
func NewHolderSnapshotStore() *HolderSnapshotStore {
	return &HolderSnapshotStore{}
}

// InsertBulk adds all snapshot rows of one analysis.
func (s *HolderSnapshotStore) InsertBulk(_ context.Context, rows []*domain.HolderSnapshot) error {
	for _, r := range rows {
		if r == nil || r.TokenAddress == "" || r.Address == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		rowCopy := *r
		s.rows = append(s.rows, &rowCopy)
	}
	return nil
}

// GetByToken retrieves archived rows for a token.
func (s *HolderSnapshotStore) GetByToken(_ context.Context, tokenAddress string) ([]*domain.HolderSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.HolderSnapshot
	for _, r := range s.rows {
		if r.TokenAddress == tokenAddress {
			rowCopy := *r
			result = append(result, &rowCopy)
		}
	}

	// Sort by snapshot_at ASC, balance_percent DESC
	sort.Slice(result, func(i, j int) bool {
		if result[i].SnapshotAt != result[j].SnapshotAt {
			return result[i].SnapshotAt < result[j].SnapshotAt
		}
		return result[i].BalancePercent > result[j].BalancePercent
	})

	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.HolderSnapshotStore = (*HolderSnapshotStore)(nil)
