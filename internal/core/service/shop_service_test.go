package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/secondhand-shop/internal/core/domain"
)

const (
	seller = domain.Identity("seller-1")
	other  = domain.Identity("seller-2")
	buyer1 = domain.Identity("buyer-1")
	buyer2 = domain.Identity("buyer-2")
)

// Mock Wallet
type mockWallet struct {
	mu       sync.Mutex
	balances map[domain.Identity]*uint256.Int
	failNext error
	calls    int
}

func newMockWallet() *mockWallet {
	return &mockWallet{balances: make(map[domain.Identity]*uint256.Int)}
}

func (m *mockWallet) fund(account domain.Identity, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] = uint256.NewInt(amount)
}

func (m *mockWallet) Transfer(ctx context.Context, from, to domain.Identity, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	src := m.balanceLocked(from)
	if src.Lt(amount) {
		return errors.New("insufficient funds")
	}
	m.balances[from] = new(uint256.Int).Sub(src, amount)
	m.balances[to] = new(uint256.Int).Add(m.balanceLocked(to), amount)
	return nil
}

func (m *mockWallet) Balance(ctx context.Context, account domain.Identity) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(account).Clone(), nil
}

func (m *mockWallet) balanceLocked(account domain.Identity) *uint256.Int {
	if b, ok := m.balances[account]; ok {
		return b
	}
	return uint256.NewInt(0)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingEmitter) Emit(ctx context.Context, event domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEmitter) kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recordingEmitter) last() domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func amt(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

func newTestShop(t *testing.T) (*Shop, *mockWallet, *recordingEmitter) {
	t.Helper()
	wallet := newMockWallet()
	emitter := &recordingEmitter{}
	shop := NewShop(seller, wallet, WithEmitter(emitter), WithMetrics(NewMetrics(nil)))
	return shop, wallet, emitter
}

// acceptedOffer lists a sale, places an offer from buyer1 and accepts it.
func acceptedOffer(t *testing.T, shop *Shop, price uint64) uint64 {
	t.Helper()
	ctx := context.Background()
	saleID, err := shop.CreateSale(ctx, seller, "TV", amt(price*2))
	require.NoError(t, err)
	offerID, err := shop.AddOffer(ctx, buyer1, saleID, amt(price))
	require.NoError(t, err)
	require.NoError(t, shop.RespondToOffer(ctx, seller, offerID, true))
	return offerID
}

func TestShop_FullTransaction(t *testing.T) {
	ctx := context.Background()
	shop, wallet, emitter := newTestShop(t)

	const asking = 10_000_000_000_000_000
	const offered = 5_000_000_000_000_000
	wallet.fund(buyer1, offered)

	ownerBefore, err := shop.OwnerBalance(ctx)
	require.NoError(t, err)

	saleID, err := shop.CreateSale(ctx, seller, "Phone", amt(asking))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), saleID)

	sale, err := shop.GetSale(saleID)
	require.NoError(t, err)
	assert.Equal(t, "Phone", sale.Title)
	assert.Equal(t, amt(asking), sale.AskingPrice)
	assert.False(t, sale.Sold)

	offerID, err := shop.AddOffer(ctx, buyer1, saleID, amt(offered))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), offerID)

	offer, err := shop.GetOffer(offerID)
	require.NoError(t, err)
	assert.Equal(t, saleID, offer.SaleID)
	assert.Equal(t, amt(offered), offer.PriceOffered)
	assert.Equal(t, buyer1, offer.Buyer)
	assert.False(t, offer.Accepted)
	assert.Equal(t, domain.OfferStatePending, offer.State())

	require.NoError(t, shop.RespondToOffer(ctx, seller, offerID, true))
	offer, _ = shop.GetOffer(offerID)
	assert.True(t, offer.Accepted)

	require.NoError(t, shop.BuyTheSale(ctx, buyer1, offerID, amt(offered)))
	sale, _ = shop.GetSale(saleID)
	assert.True(t, sale.Sold)
	assert.Equal(t, amt(offered), shop.BlockedBalance())
	assert.True(t, shop.AvailableBalance().IsZero())

	contract, err := shop.ContractBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, amt(offered), contract)

	require.NoError(t, shop.ConfirmReceive(ctx, buyer1, offerID))
	assert.True(t, shop.BlockedBalance().IsZero())
	assert.Equal(t, amt(offered), shop.AvailableBalance())

	withdrawn, err := shop.Withdraw(ctx, seller)
	require.NoError(t, err)
	assert.Equal(t, amt(offered), withdrawn)
	assert.True(t, shop.AvailableBalance().IsZero())

	contract, err = shop.ContractBalance(ctx)
	require.NoError(t, err)
	assert.True(t, contract.IsZero())

	ownerAfter, err := shop.OwnerBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, new(uint256.Int).Add(ownerBefore, amt(offered)), ownerAfter)

	assert.Equal(t, []domain.EventKind{
		domain.EventCreateSale,
		domain.EventCreateOffer,
		domain.EventAcceptOffer,
		domain.EventPurchase,
		domain.EventBuy,
		domain.EventWithdraw,
	}, emitter.kinds())
	last := emitter.last()
	assert.Equal(t, seller, last.Actor)
	assert.Equal(t, amt(offered), last.Amount)
	assert.Equal(t, shop.Address(), last.Shop)
	assert.NotEmpty(t, last.ID)
}

func TestShop_EventPayloads(t *testing.T) {
	ctx := context.Background()
	shop, wallet, emitter := newTestShop(t)
	wallet.fund(buyer1, 100)

	saleID, _ := shop.CreateSale(ctx, seller, "TV", amt(100))
	created := emitter.last()
	assert.Equal(t, seller, created.Actor)
	assert.Equal(t, saleID, created.SaleID)

	offerID, _ := shop.AddOffer(ctx, buyer1, saleID, amt(40))
	offered := emitter.last()
	assert.Equal(t, buyer1, offered.Actor)
	assert.Equal(t, offerID, offered.OfferID)
	assert.Equal(t, amt(40), offered.Amount)

	require.NoError(t, shop.RespondToOffer(ctx, seller, offerID, true))
	accepted := emitter.last()
	assert.Equal(t, domain.EventAcceptOffer, accepted.Kind)
	assert.Equal(t, buyer1, accepted.Actor)
	assert.Equal(t, offerID, accepted.OfferID)

	require.NoError(t, shop.BuyTheSale(ctx, buyer1, offerID, amt(50)))
	purchased := emitter.last()
	assert.Equal(t, domain.EventPurchase, purchased.Kind)
	assert.Equal(t, amt(50), purchased.Amount)

	require.NoError(t, shop.ConfirmReceive(ctx, buyer1, offerID))
	bought := emitter.last()
	assert.Equal(t, domain.EventBuy, bought.Kind)
	assert.Equal(t, amt(50), bought.Amount)
}

func TestShop_OnlyOwnerCanCreateSale(t *testing.T) {
	shop, _, _ := newTestShop(t)
	_, err := shop.CreateSale(context.Background(), other, "TV", amt(10))
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = shop.CreateSale(context.Background(), "", "TV", amt(10))
	assert.ErrorIs(t, err, ErrAnonymousCaller)
}

func TestShop_SaleIDsAreSequential(t *testing.T) {
	ctx := context.Background()
	shop, _, _ := newTestShop(t)
	for want := uint64(1); want <= 3; want++ {
		id, err := shop.CreateSale(ctx, seller, "TV", amt(10))
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
	assert.Len(t, shop.Sales(), 3)
}

func TestShop_AddOffer(t *testing.T) {
	ctx := context.Background()

	t.Run("non existent sale", func(t *testing.T) {
		shop, _, _ := newTestShop(t)
		_, err := shop.AddOffer(ctx, buyer1, 1, amt(5))
		assert.ErrorIs(t, err, ErrSaleNotFound)
		_, err = shop.AddOffer(ctx, buyer1, 0, amt(5))
		assert.ErrorIs(t, err, ErrSaleNotFound)
	})

	t.Run("owner can't offer", func(t *testing.T) {
		shop, _, _ := newTestShop(t)
		_, err := shop.CreateSale(ctx, seller, "TV", amt(10))
		require.NoError(t, err)
		_, err = shop.AddOffer(ctx, seller, 1, amt(5))
		assert.ErrorIs(t, err, ErrOwnerCannotOffer)
	})

	t.Run("multiple buyers on one sale", func(t *testing.T) {
		shop, _, _ := newTestShop(t)
		saleID, _ := shop.CreateSale(ctx, seller, "TV", amt(10))
		first, err := shop.AddOffer(ctx, buyer1, saleID, amt(5))
		require.NoError(t, err)
		second, err := shop.AddOffer(ctx, buyer2, saleID, amt(500))
		require.NoError(t, err)
		assert.Equal(t, uint64(1), first)
		assert.Equal(t, uint64(2), second)
		assert.Len(t, shop.Offers(), 2)
	})

	t.Run("sold sale", func(t *testing.T) {
		shop, wallet, _ := newTestShop(t)
		wallet.fund(buyer1, 10)
		offerID := acceptedOffer(t, shop, 10)
		require.NoError(t, shop.BuyTheSale(ctx, buyer1, offerID, amt(10)))
		_, err := shop.AddOffer(ctx, buyer2, 1, amt(20))
		assert.ErrorIs(t, err, ErrSaleSold)
	})
}

func TestShop_RespondToOffer(t *testing.T) {
	ctx := context.Background()

	t.Run("non existent offer", func(t *testing.T) {
		shop, _, _ := newTestShop(t)
		_, err := shop.CreateSale(ctx, seller, "TV", amt(10))
		require.NoError(t, err)
		assert.ErrorIs(t, shop.RespondToOffer(ctx, seller, 1, true), ErrOfferNotFound)
	})

	t.Run("only owner", func(t *testing.T) {
		shop, _, _ := newTestShop(t)
		saleID, _ := shop.CreateSale(ctx, seller, "TV", amt(10))
		offerID, _ := shop.AddOffer(ctx, buyer1, saleID, amt(5))
		assert.ErrorIs(t, shop.RespondToOffer(ctx, other, offerID, true), ErrNotOwner)
	})

	t.Run("decline leaves offer pending", func(t *testing.T) {
		shop, _, emitter := newTestShop(t)
		saleID, _ := shop.CreateSale(ctx, seller, "TV", amt(10))
		offerID, _ := shop.AddOffer(ctx, buyer1, saleID, amt(5))
		before := len(emitter.kinds())

		require.NoError(t, shop.RespondToOffer(ctx, seller, offerID, false))
		offer, _ := shop.GetOffer(offerID)
		assert.False(t, offer.Accepted)
		assert.Equal(t, domain.OfferStatePending, offer.State())
		assert.Len(t, emitter.kinds(), before)

		assert.ErrorIs(t, shop.BuyTheSale(ctx, buyer1, offerID, amt(5)), ErrNotAccepted)
	})
}

func TestShop_BuyTheSale(t *testing.T) {
	ctx := context.Background()

	t.Run("non existent offer", func(t *testing.T) {
		shop, _, _ := newTestShop(t)
		_, err := shop.CreateSale(ctx, seller, "TV", amt(10))
		require.NoError(t, err)
		assert.ErrorIs(t, shop.BuyTheSale(ctx, buyer1, 1, amt(50000)), ErrOfferNotFound)
	})

	t.Run("not accepted", func(t *testing.T) {
		shop, _, _ := newTestShop(t)
		saleID, _ := shop.CreateSale(ctx, seller, "TV", amt(1000000))
		offerID, _ := shop.AddOffer(ctx, buyer1, saleID, amt(50000))
		assert.ErrorIs(t, shop.BuyTheSale(ctx, buyer1, offerID, amt(50000)), ErrNotAccepted)
	})

	t.Run("not the buyer", func(t *testing.T) {
		shop, wallet, _ := newTestShop(t)
		wallet.fund(buyer2, 50000)
		offerID := acceptedOffer(t, shop, 50000)
		assert.ErrorIs(t, shop.BuyTheSale(ctx, buyer2, offerID, amt(50000)), ErrNotTheBuyer)
	})

	t.Run("underpayment", func(t *testing.T) {
		shop, wallet, _ := newTestShop(t)
		wallet.fund(buyer1, 50000)
		offerID := acceptedOffer(t, shop, 50000)
		assert.ErrorIs(t, shop.BuyTheSale(ctx, buyer1, offerID, amt(49999)), ErrInsufficientPayment)
		assert.Zero(t, wallet.calls)
		assert.True(t, shop.BlockedBalance().IsZero())
	})

	t.Run("overpayment is kept in full", func(t *testing.T) {
		shop, wallet, _ := newTestShop(t)
		wallet.fund(buyer1, 80)
		offerID := acceptedOffer(t, shop, 50)
		require.NoError(t, shop.BuyTheSale(ctx, buyer1, offerID, amt(80)))
		assert.Equal(t, amt(80), shop.BlockedBalance())
		offer, _ := shop.GetOffer(offerID)
		assert.Equal(t, amt(80), offer.Paid)
		assert.Equal(t, domain.OfferStatePurchased, offer.State())
	})

	t.Run("sale bought once", func(t *testing.T) {
		shop, wallet, _ := newTestShop(t)
		wallet.fund(buyer1, 100)
		wallet.fund(buyer2, 100)
		saleID, _ := shop.CreateSale(ctx, seller, "TV", amt(10))
		first, _ := shop.AddOffer(ctx, buyer1, saleID, amt(10))
		second, _ := shop.AddOffer(ctx, buyer2, saleID, amt(20))
		require.NoError(t, shop.RespondToOffer(ctx, seller, first, true))
		require.NoError(t, shop.RespondToOffer(ctx, seller, second, true))

		require.NoError(t, shop.BuyTheSale(ctx, buyer1, first, amt(10)))
		assert.ErrorIs(t, shop.BuyTheSale(ctx, buyer2, second, amt(20)), ErrSaleSold)
		assert.ErrorIs(t, shop.BuyTheSale(ctx, buyer1, first, amt(10)), ErrSaleSold)
		assert.Equal(t, amt(10), shop.BlockedBalance())
	})

	t.Run("failed transfer leaves ledger untouched", func(t *testing.T) {
		shop, wallet, emitter := newTestShop(t)
		offerID := acceptedOffer(t, shop, 50)
		before := len(emitter.kinds())

		err := shop.BuyTheSale(ctx, buyer1, offerID, amt(50))
		assert.ErrorIs(t, err, ErrTransferFailed)

		sale, _ := shop.GetSale(1)
		assert.False(t, sale.Sold)
		offer, _ := shop.GetOffer(offerID)
		assert.False(t, offer.Purchased)
		assert.True(t, offer.Paid.IsZero())
		assert.True(t, shop.BlockedBalance().IsZero())
		assert.Len(t, emitter.kinds(), before)

		wallet.fund(buyer1, 50)
		require.NoError(t, shop.BuyTheSale(ctx, buyer1, offerID, amt(50)))
	})
}

func TestShop_ConfirmReceive(t *testing.T) {
	ctx := context.Background()

	t.Run("non existent offer", func(t *testing.T) {
		shop, _, _ := newTestShop(t)
		assert.ErrorIs(t, shop.ConfirmReceive(ctx, buyer1, 1), ErrOfferNotFound)
	})

	t.Run("not the buyer", func(t *testing.T) {
		shop, wallet, _ := newTestShop(t)
		wallet.fund(buyer1, 50)
		offerID := acceptedOffer(t, shop, 50)
		require.NoError(t, shop.BuyTheSale(ctx, buyer1, offerID, amt(50)))
		assert.ErrorIs(t, shop.ConfirmReceive(ctx, buyer2, offerID), ErrNotTheBuyer)
		assert.ErrorIs(t, shop.ConfirmReceive(ctx, seller, offerID), ErrNotTheBuyer)
	})

	t.Run("before purchase", func(t *testing.T) {
		shop, _, _ := newTestShop(t)
		offerID := acceptedOffer(t, shop, 50)
		assert.ErrorIs(t, shop.ConfirmReceive(ctx, buyer1, offerID), ErrNotPurchased)
		assert.True(t, shop.AvailableBalance().IsZero())
	})

	t.Run("twice", func(t *testing.T) {
		shop, wallet, _ := newTestShop(t)
		wallet.fund(buyer1, 50)
		offerID := acceptedOffer(t, shop, 50)
		require.NoError(t, shop.BuyTheSale(ctx, buyer1, offerID, amt(50)))
		require.NoError(t, shop.ConfirmReceive(ctx, buyer1, offerID))
		assert.ErrorIs(t, shop.ConfirmReceive(ctx, buyer1, offerID), ErrAlreadyReleased)
		assert.Equal(t, amt(50), shop.AvailableBalance())
		assert.True(t, shop.BlockedBalance().IsZero())

		offer, _ := shop.GetOffer(offerID)
		assert.Equal(t, domain.OfferStateReleased, offer.State())
	})
}

func TestShop_Withdraw(t *testing.T) {
	ctx := context.Background()

	t.Run("only owner", func(t *testing.T) {
		shop, wallet, _ := newTestShop(t)
		wallet.fund(buyer1, 50000)
		offerID := acceptedOffer(t, shop, 50000)
		require.NoError(t, shop.BuyTheSale(ctx, buyer1, offerID, amt(50000)))
		_, err := shop.Withdraw(ctx, other)
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("blocked funds stay in custody", func(t *testing.T) {
		shop, wallet, _ := newTestShop(t)
		wallet.fund(buyer1, 50)
		offerID := acceptedOffer(t, shop, 50)
		require.NoError(t, shop.BuyTheSale(ctx, buyer1, offerID, amt(50)))

		withdrawn, err := shop.Withdraw(ctx, seller)
		require.NoError(t, err)
		assert.True(t, withdrawn.IsZero())
		contract, _ := shop.ContractBalance(ctx)
		assert.Equal(t, amt(50), contract)
	})

	t.Run("twice in a row", func(t *testing.T) {
		shop, wallet, emitter := newTestShop(t)
		wallet.fund(buyer1, 50)
		offerID := acceptedOffer(t, shop, 50)
		require.NoError(t, shop.BuyTheSale(ctx, buyer1, offerID, amt(50)))
		require.NoError(t, shop.ConfirmReceive(ctx, buyer1, offerID))

		first, err := shop.Withdraw(ctx, seller)
		require.NoError(t, err)
		assert.Equal(t, amt(50), first)
		events := len(emitter.kinds())

		second, err := shop.Withdraw(ctx, seller)
		require.NoError(t, err)
		assert.True(t, second.IsZero())
		assert.True(t, shop.AvailableBalance().IsZero())
		assert.True(t, shop.BlockedBalance().IsZero())
		assert.Len(t, emitter.kinds(), events)
	})

	t.Run("failed transfer keeps available", func(t *testing.T) {
		shop, wallet, _ := newTestShop(t)
		wallet.fund(buyer1, 50)
		offerID := acceptedOffer(t, shop, 50)
		require.NoError(t, shop.BuyTheSale(ctx, buyer1, offerID, amt(50)))
		require.NoError(t, shop.ConfirmReceive(ctx, buyer1, offerID))

		wallet.failNext = errors.New("bank offline")
		_, err := shop.Withdraw(ctx, seller)
		assert.ErrorIs(t, err, ErrTransferFailed)
		assert.Equal(t, amt(50), shop.AvailableBalance())

		withdrawn, err := shop.Withdraw(ctx, seller)
		require.NoError(t, err)
		assert.Equal(t, amt(50), withdrawn)
	})
}

func TestShop_UnknownReads(t *testing.T) {
	shop, _, _ := newTestShop(t)
	_, err := shop.GetSale(0)
	assert.ErrorIs(t, err, ErrSaleNotFound)
	_, err = shop.GetOffer(7)
	assert.ErrorIs(t, err, ErrOfferNotFound)
}

func TestShop_ConcurrentPurchaseSingleWinner(t *testing.T) {
	ctx := context.Background()
	shop, wallet, _ := newTestShop(t)

	saleID, err := shop.CreateSale(ctx, seller, "Bike", amt(100))
	require.NoError(t, err)

	const buyers = 20
	offers := make([]uint64, buyers)
	identities := make([]domain.Identity, buyers)
	for i := 0; i < buyers; i++ {
		identities[i] = domain.Identity("buyer-" + string(rune('a'+i)))
		wallet.fund(identities[i], 100)
		offers[i], err = shop.AddOffer(ctx, identities[i], saleID, amt(100))
		require.NoError(t, err)
		require.NoError(t, shop.RespondToOffer(ctx, seller, offers[i], true))
	}

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := shop.BuyTheSale(ctx, identities[i], offers[i], amt(100)); err == nil {
				successCount.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), successCount.Load())
	assert.Equal(t, amt(100), shop.BlockedBalance())
	contract, _ := shop.ContractBalance(ctx)
	assert.Equal(t, amt(100), contract)
}

func TestShop_LedgerNeverExceedsCustody(t *testing.T) {
	ctx := context.Background()
	shop, wallet, _ := newTestShop(t)

	check := func() {
		t.Helper()
		held, err := shop.ContractBalance(ctx)
		require.NoError(t, err)
		total := new(uint256.Int).Add(shop.BlockedBalance(), shop.AvailableBalance())
		assert.False(t, held.Lt(total), "ledger %s exceeds custody %s", total.Dec(), held.Dec())
	}

	for i := uint64(1); i <= 3; i++ {
		buyer := domain.Identity("buyer-" + string(rune('0'+i)))
		wallet.fund(buyer, 10*i)
		saleID, err := shop.CreateSale(ctx, seller, "Lamp", amt(10))
		require.NoError(t, err)
		offerID, err := shop.AddOffer(ctx, buyer, saleID, amt(10*i))
		require.NoError(t, err)
		require.NoError(t, shop.RespondToOffer(ctx, seller, offerID, true))
		check()
		require.NoError(t, shop.BuyTheSale(ctx, buyer, offerID, amt(10*i)))
		check()
		if i%2 == 1 {
			require.NoError(t, shop.ConfirmReceive(ctx, buyer, offerID))
			check()
		}
		_, err = shop.Withdraw(ctx, seller)
		require.NoError(t, err)
		check()
	}

	assert.Equal(t, amt(20), shop.BlockedBalance())
	owner, _ := shop.OwnerBalance(ctx)
	assert.Equal(t, amt(40), owner)
}
