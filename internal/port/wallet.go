package port

import (
	"context"
	"errors"

	"github.com/holiman/uint256"

	"github.com/rl1809/secondhand-shop/internal/core/domain"
)

// ErrAmountOutOfRange is returned by a Wallet that cannot represent an amount
// or the balance it would produce.
var ErrAmountOutOfRange = errors.New("amount exceeds wallet range")

// Wallet holds the external balances shops move funds between.
type Wallet interface {
	// Transfer moves amount from one account to another atomically. Nothing
	// changes when it returns an error.
	Transfer(ctx context.Context, from, to domain.Identity, amount *uint256.Int) error

	// Balance returns the account balance, zero for unknown accounts
	Balance(ctx context.Context, account domain.Identity) (*uint256.Int, error)
}
