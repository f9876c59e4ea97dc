package wallet

import (
	"context"
	"sync"
)

// MemoryWallet keeps balances in process memory. Used for development and
// tests where no wallet service runs. New users start at the configured
// opening balance on first touch.
type MemoryWallet struct {
	mu             sync.Mutex
	balances       map[string]int64
	openingBalance int64
}

// NewMemoryWallet creates an in-memory wallet. Every user it has never seen
// starts with openingBalance.
func NewMemoryWallet(openingBalance int64) *MemoryWallet {
	return &MemoryWallet{
		balances:       make(map[string]int64),
		openingBalance: openingBalance,
	}
}

func (w *MemoryWallet) balance(userID string) int64 {
	if _, ok := w.balances[userID]; !ok {
		w.balances[userID] = w.openingBalance
	}
	return w.balances[userID]
}

func (w *MemoryWallet) CheckAndReserve(_ context.Context, userID string, amount int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.balance(userID) < amount {
		return ErrInsufficientFunds
	}
	w.balances[userID] -= amount
	return nil
}

func (w *MemoryWallet) Credit(_ context.Context, userID string, amount int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.balances[userID] = w.balance(userID) + amount
	return nil
}

func (w *MemoryWallet) Debit(_ context.Context, userID string, amount int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.balance(userID) < amount {
		return ErrInsufficientFunds
	}
	w.balances[userID] -= amount
	return nil
}

func (w *MemoryWallet) Balance(_ context.Context, userID string) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance(userID), nil
}
