package postgres

import (
	"context"
	"fmt"

	"holderscope/internal/storage"
)

// CreditLedger implements storage.CreditLedger using PostgreSQL.
// Debit uses a single conditional UPDATE so concurrent debits against one
// requester serialize on the row lock and can never overdraw the balance.
type CreditLedger struct {
	pool *Pool
}

// NewCreditLedger creates a new CreditLedger.
func NewCreditLedger(pool *Pool) *CreditLedger {
	return &CreditLedger{pool: pool}
}

// Compile-time interface check.
var _ storage.CreditLedger = (*CreditLedger)(nil)

// CreateAccount registers a requester with an initial balance.
func (l *CreditLedger) CreateAccount(ctx context.Context, requesterID string, initial int64) error {
	if requesterID == "" || initial < 0 {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO credit_accounts (requester_id, credits, created_at, updated_at)
		VALUES ($1, $2, now(), now())
	`

	_, err := l.pool.Exec(ctx, query, requesterID, initial)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("create credit account: %w", err)
	}
	return nil
}

// Balance returns the current balance.
func (l *CreditLedger) Balance(ctx context.Context, requesterID string) (int64, error) {
	query := `SELECT credits FROM credit_accounts WHERE requester_id = $1`

	var balance int64
	err := l.pool.QueryRow(ctx, query, requesterID).Scan(&balance)
	if err != nil {
		if isNotFoundError(err) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("get credit balance: %w", err)
	}
	return balance, nil
}

// Debit atomically subtracts amount, rejecting overdrafts. The WHERE clause
// carries the balance check, so check and write happen in one statement.
func (l *CreditLedger) Debit(ctx context.Context, requesterID string, amount int64) error {
	if amount <= 0 {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE credit_accounts
		SET credits = credits - $2, updated_at = now()
		WHERE requester_id = $1 AND credits >= $2
	`

	tag, err := l.pool.Exec(ctx, query, requesterID, amount)
	if err != nil {
		return fmt.Errorf("debit credits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish unknown requester from insufficient balance.
		if _, err := l.Balance(ctx, requesterID); err != nil {
			return err
		}
		return storage.ErrInsufficientCredits
	}
	return nil
}

// Credit atomically adds amount.
func (l *CreditLedger) Credit(ctx context.Context, requesterID string, amount int64) error {
	if amount <= 0 {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE credit_accounts
		SET credits = credits + $2, updated_at = now()
		WHERE requester_id = $1
	`

	tag, err := l.pool.Exec(ctx, query, requesterID, amount)
	if err != nil {
		return fmt.Errorf("credit credits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
