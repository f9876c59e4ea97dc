// Package wallet is the client side of the external balance service. The
// engine never caches balances: every check, debit and credit goes through
// this interface so the wallet service stays the single owner of funds.
package wallet

import (
	"context"
	"errors"
)

var (
	// ErrInsufficientFunds indicates the user cannot cover the requested
	// amount.
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")

	// ErrUnavailable indicates the wallet service is unreachable or failing.
	ErrUnavailable = errors.New("wallet: unavailable")

	// ErrUnknownUser indicates the wallet has no account for the user.
	ErrUnknownUser = errors.New("wallet: unknown user")
)

// Wallet is the balance collaborator consumed by the engine.
type Wallet interface {
	// CheckAndReserve atomically verifies the user can cover amount and
	// debits it as a committed wager.
	CheckAndReserve(ctx context.Context, userID string, amount int64) error

	// Credit adds amount to the user's balance.
	Credit(ctx context.Context, userID string, amount int64) error

	// Debit removes amount from the user's balance.
	Debit(ctx context.Context, userID string, amount int64) error

	// Balance returns the user's current balance.
	Balance(ctx context.Context, userID string) (int64, error)
}
