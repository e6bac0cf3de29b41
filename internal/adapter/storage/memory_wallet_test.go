package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/holiman/uint256"

	"github.com/rl1809/secondhand-shop/internal/port"
)

func TestMemoryWallet_Transfer(t *testing.T) {
	ctx := context.Background()
	wallet := NewMemoryWallet()
	wallet.Deposit(ctx, "buyer", uint256.NewInt(10))

	if err := wallet.Transfer(ctx, "buyer", "shop", uint256.NewInt(4)); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	got, _ := wallet.Balance(ctx, "buyer")
	if got.Uint64() != 6 {
		t.Errorf("expected 6, got %s", got.Dec())
	}
	got, _ = wallet.Balance(ctx, "shop")
	if got.Uint64() != 4 {
		t.Errorf("expected 4, got %s", got.Dec())
	}
}

func TestMemoryWallet_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	wallet := NewMemoryWallet()

	err := wallet.Transfer(ctx, "buyer", "shop", uint256.NewInt(1))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got: %v", err)
	}
	got, _ := wallet.Balance(ctx, "shop")
	if !got.IsZero() {
		t.Errorf("expected 0, got %s", got.Dec())
	}
}

func TestMemoryWallet_BalanceIsACopy(t *testing.T) {
	ctx := context.Background()
	wallet := NewMemoryWallet()
	wallet.Deposit(ctx, "buyer", uint256.NewInt(10))

	got, _ := wallet.Balance(ctx, "buyer")
	got.SetUint64(999)

	again, _ := wallet.Balance(ctx, "buyer")
	if again.Uint64() != 10 {
		t.Errorf("expected 10, got %s", again.Dec())
	}
}

func TestMemoryWallet_Concurrent(t *testing.T) {
	ctx := context.Background()
	wallet := NewMemoryWallet()
	wallet.Deposit(ctx, "buyer", uint256.NewInt(20))

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := wallet.Transfer(ctx, "buyer", "shop", uint256.NewInt(1)); err == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != 20 {
		t.Errorf("expected 20 successes, got %d", successCount.Load())
	}
	got, _ := wallet.Balance(ctx, "shop")
	if got.Uint64() != 20 {
		t.Errorf("expected 20, got %s", got.Dec())
	}
}

func TestMemoryWallet_CreditOverflow(t *testing.T) {
	ctx := context.Background()
	wallet := NewMemoryWallet()
	full := new(uint256.Int).SetAllOne()
	wallet.Deposit(ctx, "shop", full)
	wallet.Deposit(ctx, "buyer", uint256.NewInt(1))

	err := wallet.Transfer(ctx, "buyer", "shop", uint256.NewInt(1))
	if !errors.Is(err, port.ErrAmountOutOfRange) {
		t.Fatalf("expected ErrAmountOutOfRange, got: %v", err)
	}

	got, _ := wallet.Balance(ctx, "buyer")
	if got.Uint64() != 1 {
		t.Errorf("expected buyer balance untouched, got %s", got.Dec())
	}
}
