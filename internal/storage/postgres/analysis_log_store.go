package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"holderscope/internal/domain"
	"holderscope/internal/storage"
)

// AnalysisLogStore implements storage.AnalysisLogStore using PostgreSQL.
type AnalysisLogStore struct {
	pool *Pool
}

// NewAnalysisLogStore creates a new AnalysisLogStore.
func NewAnalysisLogStore(pool *Pool) *AnalysisLogStore {
	return &AnalysisLogStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AnalysisLogStore = (*AnalysisLogStore)(nil)

// Insert appends one audit entry.
func (s *AnalysisLogStore) Insert(ctx context.Context, e *domain.AnalysisLogEntry) error {
	if e == nil || e.RequesterID == "" || e.TokenAddress == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO analysis_log (
			requester_id, token_address, kind, status, detail, logged_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.pool.Exec(ctx, query,
		e.RequesterID,
		e.TokenAddress,
		string(e.Kind),
		string(e.Status),
		e.Detail,
		e.LoggedAt,
	)
	if err != nil {
		return fmt.Errorf("insert analysis log entry: %w", err)
	}
	return nil
}

// GetByRequester retrieves entries for a requester, ordered by logged_at ASC.
func (s *AnalysisLogStore) GetByRequester(ctx context.Context, requesterID string) ([]*domain.AnalysisLogEntry, error) {
	query := `
		SELECT requester_id, token_address, kind, status, detail, logged_at
		FROM analysis_log
		WHERE requester_id = $1
		ORDER BY logged_at ASC
	`

	rows, err := s.pool.Query(ctx, query, requesterID)
	if err != nil {
		return nil, fmt.Errorf("get analysis log by requester: %w", err)
	}
	defer rows.Close()

	return scanLogEntries(rows)
}

// scanLogEntries scans multiple rows into a slice of AnalysisLogEntry.
func scanLogEntries(rows pgx.Rows) ([]*domain.AnalysisLogEntry, error) {
	var entries []*domain.AnalysisLogEntry

	for rows.Next() {
		var e domain.AnalysisLogEntry
		var kindStr, statusStr string

		err := rows.Scan(
			&e.RequesterID,
			&e.TokenAddress,
			&kindStr,
			&statusStr,
			&e.Detail,
			&e.LoggedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan analysis log row: %w", err)
		}

		e.Kind = domain.AnalysisKind(kindStr)
		e.Status = domain.AnalysisStatus(statusStr)
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analysis log rows: %w", err)
	}

	return entries, nil
}
