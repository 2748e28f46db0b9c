package memory

import (
	"context"
	"sync"

	"holderscope/internal/storage"
)

// CreditLedger is an in-memory implementation of storage.CreditLedger.
type CreditLedger struct {
	mu       sync.Mutex
	balances map[string]int64
}

// NewCreditLedger creates a new in-memory credit ledger.
func NewCreditLedger() *CreditLedger {
	return &CreditLedger{
		balances: make(map[string]int64),
	}
}

// CreateAccount registers a requester with an initial balance.
func (l *CreditLedger) CreateAccount(_ context.Context, requesterID string, initial int64) error {
	if requesterID == "" || initial < 0 {
		return storage.ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.balances[requesterID]; exists {
		return storage.ErrDuplicateKey
	}
	l.balances[requesterID] = initial
	return nil
}

// Balance returns the current balance.
func (l *CreditLedger) Balance(_ context.Context, requesterID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal, exists := l.balances[requesterID]
	if !exists {
		return 0, storage.ErrNotFound
	}
	return bal, nil
}

// Debit atomically subtracts amount, rejecting overdrafts.
func (l *CreditLedger) Debit(_ context.Context, requesterID string, amount int64) error {
	if amount <= 0 {
		return storage.ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal, exists := l.balances[requesterID]
	if !exists {
		return storage.ErrNotFound
	}
	if bal < amount {
		return storage.ErrInsufficientCredits
	}
	l.balances[requesterID] = bal - amount
	return nil
}

// Credit atomically adds amount.
func (l *CreditLedger) Credit(_ context.Context, requesterID string, amount int64) error {
	if amount <= 0 {
		return storage.ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.balances[requesterID]; !exists {
		return storage.ErrNotFound
	}
	l.balances[requesterID] += amount
	return nil
}

// Verify interface compliance at compile time.
var _ storage.CreditLedger = (*CreditLedger)(nil)
