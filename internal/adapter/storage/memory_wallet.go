package storage

import (
	"context"
	"sync"

	"github.com/holiman/uint256"

	"github.com/rl1809/secondhand-shop/internal/core/domain"
	"github.com/rl1809/secondhand-shop/internal/port"
)

// MemoryWallet is an in-process wallet for local runs and simulations.
type MemoryWallet struct {
	mu       sync.RWMutex
	balances map[domain.Identity]*uint256.Int
}

func NewMemoryWallet() *MemoryWallet {
	return &MemoryWallet{balances: make(map[domain.Identity]*uint256.Int)}
}

func (w *MemoryWallet) Deposit(ctx context.Context, account domain.Identity, amount *uint256.Int) error {
	if amount == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	sum, overflow := new(uint256.Int).AddOverflow(w.balanceLocked(account), amount)
	if overflow {
		return port.ErrAmountOutOfRange
	}
	w.balances[account] = sum
	return nil
}

func (w *MemoryWallet) Transfer(ctx context.Context, from, to domain.Identity, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	src := w.balanceLocked(from)
	if src.Lt(amount) {
		return ErrInsufficientFunds
	}
	dst, overflow := new(uint256.Int).AddOverflow(w.balanceLocked(to), amount)
	if overflow {
		return port.ErrAmountOutOfRange
	}
	w.balances[from] = new(uint256.Int).Sub(src, amount)
	w.balances[to] = dst
	return nil
}

func (w *MemoryWallet) Balance(ctx context.Context, account domain.Identity) (*uint256.Int, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.balanceLocked(account).Clone(), nil
}

func (w *MemoryWallet) balanceLocked(account domain.Identity) *uint256.Int {
	if b, ok := w.balances[account]; ok {
		return b
	}
	return uint256.NewInt(0)
}
