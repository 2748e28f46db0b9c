package clickhouse

import (
	"context"
	"fmt"

	"holderscope/internal/domain"
	"holderscope/internal/storage"
)

// HolderSnapshotStore implements storage.HolderSnapshotStore using ClickHouse.
type HolderSnapshotStore struct {
	conn *Conn
}

// NewHolderSnapshotStore creates a new HolderSnapshotStore.
func NewHolderSnapshotStore(conn *Conn) *HolderSnapshotStore {
	return &HolderSnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.HolderSnapshotStore = (*HolderSnapshotStore)(nil)

// InsertBulk adds all snapshot rows of one analysis in a single batch.
func (s *HolderSnapshotStore) InsertBulk(ctx context.Context, rows []*domain.HolderSnapshot) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO holder_snapshots (
			token_address, kind, address, address_type,
			balance, balance_percent, age_days,
			has_base_nfts, has_eth_nfts,
			total_tx_count, recent_tx_count, snapshot_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range rows {
		err = batch.Append(
			r.TokenAddress, string(r.Kind), r.Address, string(r.AddressType),
			r.Balance, r.BalancePercent, int32(r.AgeDays),
			boolToUint8(r.HasBaseNFTs), boolToUint8(r.HasEthNFTs),
			int32(r.TotalTxCount), int32(r.RecentTxCount), uint64(r.SnapshotAt),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByToken retrieves archived rows for a token, ordered by snapshot_at ASC,
// balance_percent DESC.
func (s *HolderSnapshotStore) GetByToken(ctx context.Context, tokenAddress string) ([]*domain.HolderSnapshot, error) {
	query := `
		SELECT
			token_address, kind, address, address_type,
			balance, balance_percent, age_days,
			has_base_nfts, has_eth_nfts,
			total_tx_count, recent_tx_count, snapshot_at
		FROM holder_snapshots
		WHERE token_address = ?
		ORDER BY snapshot_at ASC, balance_percent DESC
	`

	rows, err := s.conn.Query(ctx, query, tokenAddress)
	if err != nil {
		return nil, fmt.Errorf("query by token: %w", err)
	}
	defer rows.Close()

	return scanHolderSnapshots(rows)
}

// boolToUint8 converts bool to ClickHouse UInt8.
func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// Rows interface for scanning
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanHolderSnapshots scans multiple rows into a slice.
func scanHolderSnapshots(rows chRows) ([]*domain.HolderSnapshot, error) {
	var snapshots []*domain.HolderSnapshot

	for rows.Next() {
		var snap domain.HolderSnapshot
		var kind, addressType string
		var ageDays, totalTxCount, recentTxCount int32
		var hasBaseNFTs, hasEthNFTs uint8
		var snapshotAt uint64

		err := rows.Scan(
			&snap.TokenAddress, &kind, &snap.Address, &addressType,
			&snap.Balance, &snap.BalancePercent, &ageDays,
			&hasBaseNFTs, &hasEthNFTs,
			&totalTxCount, &recentTxCount, &snapshotAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan holder snapshot row: %w", err)
		}

		snap.Kind = domain.AnalysisKind(kind)
		snap.AddressType = domain.AddressType(addressType)
		snap.AgeDays = int(ageDays)
		snap.HasBaseNFTs = hasBaseNFTs != 0
		snap.HasEthNFTs = hasEthNFTs != 0
		snap.TotalTxCount = int(totalTxCount)
		snap.RecentTxCount = int(recentTxCount)
		snap.SnapshotAt = int64(snapshotAt)

		snapshots = append(snapshots, &snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate holder snapshot rows: %w", err)
	}

	return snapshots, nil
}
