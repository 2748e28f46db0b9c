package memory

import (
	"context"
	"sort"
	"sync"

	"holderscope/internal/domain"
	"holderscope/internal/storage"
)

// AnalysisLogStore is an in-memory implementation of storage.AnalysisLogStore.
type AnalysisLogStore struct {
	mu      sync.RWMutex
	entries []*domain.AnalysisLogEntry
}

// NewAnalysisLogStore creates a new in-memory analysis log store.
func NewAnalysisLogStore() *AnalysisLogStore {
	return &AnalysisLogStore{}
}

// Insert appends one audit entry.
func (s *AnalysisLogStore) Insert(_ context.Context, e *domain.AnalysisLogEntry) error {
	if e == nil || e.RequesterID == "" || e.TokenAddress == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external mutation
	entryCopy := *e
	s.entries = append(s.entries, &entryCopy)
	return nil
}

// GetByRequester retrieves entries for a requester, ordered by logged_at ASC.
func (s *AnalysisLogStore) GetByRequester(_ context.Context, requesterID string) ([]*domain.AnalysisLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.AnalysisLogEntry
	for _, e := range s.entries {
		if e.RequesterID == requesterID {
			entryCopy := *e
			result = append(result, &entryCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].LoggedAt < result[j].LoggedAt
	})

	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.AnalysisLogStore = (*AnalysisLogStore)(nil)
