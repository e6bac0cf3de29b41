package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/rl1809/secondhand-shop/internal/core/domain"
	"github.com/rl1809/secondhand-shop/internal/port"
)

const (
	opCreateSale     = "createSale"
	opAddOffer       = "addOffer"
	opRespondToOffer = "responseToOffer"
	opBuyTheSale     = "buyTheSale"
	opConfirmReceive = "comfirmReceive"
	opWithdraw       = "withdraw"
)

// Shop is the escrow state machine of a single seller. Every operation holds
// the shop lock for its whole duration, wallet transfers included, so no
// caller observes a partially applied change. Events are handed to the
// emitter only after the lock is released.
type Shop struct {
	mu sync.Mutex

	owner   domain.Identity
	address domain.Identity

	nextSaleID  uint64
	nextOfferID uint64
	sales       map[uint64]*domain.Sale
	offers      map[uint64]*domain.Offer

	blocked   *uint256.Int
	available *uint256.Int

	pending []domain.Event

	wallet  port.Wallet
	emitter port.EventEmitter
	metrics *Metrics
	log     *zap.Logger
	now     func() time.Time
}

type ShopOption func(*Shop)

func WithEmitter(emitter port.EventEmitter) ShopOption {
	return func(s *Shop) {
		if emitter != nil {
			s.emitter = emitter
		}
	}
}

func WithMetrics(m *Metrics) ShopOption {
	return func(s *Shop) { s.metrics = m }
}

func WithLogger(log *zap.Logger) ShopOption {
	return func(s *Shop) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source stamped on events.
func WithClock(now func() time.Time) ShopOption {
	return func(s *Shop) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAddress fixes the custody account identity instead of generating one.
func WithAddress(address domain.Identity) ShopOption {
	return func(s *Shop) {
		if !address.IsZero() {
			s.address = address
		}
	}
}

func NewShop(owner domain.Identity, wallet port.Wallet, opts ...ShopOption) *Shop {
	s := &Shop{
		owner:       owner,
		address:     domain.Identity("shop:" + uuid.NewString()),
		nextSaleID:  1,
		nextOfferID: 1,
		sales:       make(map[uint64]*domain.Sale),
		offers:      make(map[uint64]*domain.Offer),
		blocked:     uint256.NewInt(0),
		available:   uint256.NewInt(0),
		wallet:      wallet,
		emitter:     port.NoopEmitter{},
		log:         zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.Stringer("shop", s.address), zap.Stringer("owner", owner))
	return s
}

func (s *Shop) Owner() domain.Identity {
	return s.owner
}

// Address is the wallet account holding the shop's custody funds.
func (s *Shop) Address() domain.Identity {
	return s.address
}

func (s *Shop) CreateSale(ctx context.Context, caller domain.Identity, title string, askingPrice *uint256.Int) (id uint64, err error) {
	defer func() { s.observe(opCreateSale, caller, err) }()

	s.mu.Lock()
	defer s.unlock(ctx)

	if err := s.requireOwner(caller); err != nil {
		return 0, err
	}

	id = s.nextSaleID
	s.nextSaleID++
	s.sales[id] = &domain.Sale{
		ID:          id,
		Title:       title,
		AskingPrice: amountOrZero(askingPrice),
	}

	s.log.Info("sale created", zap.Uint64("sale_id", id), zap.String("title", title))
	s.emit(ctx, domain.Event{Kind: domain.EventCreateSale, Actor: s.owner, SaleID: id})
	return id, nil
}

// AddOffer registers a buyer's price for an unsold sale. The price is not
// checked against the asking price.
func (s *Shop) AddOffer(ctx context.Context, caller domain.Identity, saleID uint64, priceOffered *uint256.Int) (id uint64, err error) {
	defer func() { s.observe(opAddOffer, caller, err) }()

	if caller.IsZero() {
		return 0, ErrAnonymousCaller
	}

	s.mu.Lock()
	defer s.unlock(ctx)

	if caller == s.owner {
		return 0, ErrOwnerCannotOffer
	}
	sale, ok := s.sales[saleID]
	if !ok {
		return 0, ErrSaleNotFound
	}
	if sale.Sold {
		return 0, ErrSaleSold
	}

	price := amountOrZero(priceOffered)
	id = s.nextOfferID
	s.nextOfferID++
	s.offers[id] = &domain.Offer{
		ID:           id,
		SaleID:       saleID,
		PriceOffered: price,
		Buyer:        caller,
		Paid:         uint256.NewInt(0),
	}

	s.log.Info("offer created",
		zap.Uint64("offer_id", id),
		zap.Uint64("sale_id", saleID),
		zap.Stringer("buyer", caller),
		zap.String("price", price.Dec()),
	)
	s.emit(ctx, domain.Event{
		Kind:    domain.EventCreateOffer,
		Actor:   caller,
		SaleID:  saleID,
		OfferID: id,
		Amount:  price.Clone(),
	})
	return id, nil
}

// RespondToOffer records the owner's answer. Declining leaves the offer
// pending, exactly as if it was never answered.
func (s *Shop) RespondToOffer(ctx context.Context, caller domain.Identity, offerID uint64, accept bool) (err error) {
	defer func() { s.observe(opRespondToOffer, caller, err) }()

	s.mu.Lock()
	defer s.unlock(ctx)

	if err := s.requireOwner(caller); err != nil {
		return err
	}
	offer, ok := s.offers[offerID]
	if !ok {
		return ErrOfferNotFound
	}
	if !accept {
		s.log.Debug("offer declined", zap.Uint64("offer_id", offerID))
		return nil
	}

	offer.Accepted = true
	s.log.Info("offer accepted", zap.Uint64("offer_id", offerID), zap.Stringer("buyer", offer.Buyer))
	s.emit(ctx, domain.Event{
		Kind:    domain.EventAcceptOffer,
		Actor:   offer.Buyer,
		SaleID:  offer.SaleID,
		OfferID: offerID,
	})
	return nil
}

// BuyTheSale pays for an accepted offer. The payment is moved from the buyer's
// wallet into custody before any ledger change, and stays blocked until the
// buyer confirms receipt.
func (s *Shop) BuyTheSale(ctx context.Context, caller domain.Identity, offerID uint64, payment *uint256.Int) (err error) {
	defer func() { s.observe(opBuyTheSale, caller, err) }()

	payment = amountOrZero(payment)

	s.mu.Lock()
	defer s.unlock(ctx)

	offer, ok := s.offers[offerID]
	if !ok {
		return ErrOfferNotFound
	}
	if !offer.Accepted {
		return ErrNotAccepted
	}
	if caller != offer.Buyer {
		return ErrNotTheBuyer
	}
	sale := s.sales[offer.SaleID]
	if sale.Sold {
		return ErrSaleSold
	}
	if payment.Lt(offer.PriceOffered) {
		return ErrInsufficientPayment
	}
	blocked, overflow := new(uint256.Int).AddOverflow(s.blocked, payment)
	if overflow {
		return ErrAmountOverflow
	}
	if _, overflow := new(uint256.Int).AddOverflow(blocked, s.available); overflow {
		return ErrAmountOverflow
	}

	if err := s.transfer(ctx, caller, s.address, payment); err != nil {
		return err
	}

	sale.Sold = true
	offer.Purchased = true
	offer.Paid = payment.Clone()
	s.blocked = blocked
	s.metrics.SetBalances(s.address, s.blocked, s.available)

	s.log.Info("sale purchased",
		zap.Uint64("offer_id", offerID),
		zap.Uint64("sale_id", sale.ID),
		zap.Stringer("buyer", caller),
		zap.String("amount", payment.Dec()),
	)
	s.emit(ctx, domain.Event{
		Kind:    domain.EventPurchase,
		Actor:   caller,
		SaleID:  sale.ID,
		OfferID: offerID,
		Amount:  payment.Clone(),
	})
	return nil
}

// ConfirmReceive releases the amount paid for an offer from blocked to
// available. Each purchased offer can be released once.
func (s *Shop) ConfirmReceive(ctx context.Context, caller domain.Identity, offerID uint64) (err error) {
	defer func() { s.observe(opConfirmReceive, caller, err) }()

	s.mu.Lock()
	defer s.unlock(ctx)

	offer, ok := s.offers[offerID]
	if !ok {
		return ErrOfferNotFound
	}
	if caller != offer.Buyer {
		return ErrNotTheBuyer
	}
	if !offer.Purchased {
		return ErrNotPurchased
	}
	if offer.Released {
		return ErrAlreadyReleased
	}

	amount := offer.Paid.Clone()
	offer.Released = true
	s.blocked = new(uint256.Int).Sub(s.blocked, amount)
	s.available = new(uint256.Int).Add(s.available, amount)
	s.metrics.SetBalances(s.address, s.blocked, s.available)

	s.log.Info("receipt confirmed",
		zap.Uint64("offer_id", offerID),
		zap.Stringer("buyer", caller),
		zap.String("amount", amount.Dec()),
	)
	s.emit(ctx, domain.Event{
		Kind:    domain.EventBuy,
		Actor:   caller,
		SaleID:  offer.SaleID,
		OfferID: offerID,
		Amount:  amount,
	})
	return nil
}

// Withdraw pays the whole available balance out to the owner and returns the
// amount moved. With nothing available it moves nothing and returns zero.
func (s *Shop) Withdraw(ctx context.Context, caller domain.Identity) (amount *uint256.Int, err error) {
	defer func() { s.observe(opWithdraw, caller, err) }()

	s.mu.Lock()
	defer s.unlock(ctx)

	if err := s.requireOwner(caller); err != nil {
		return nil, err
	}
	if s.available.IsZero() {
		return uint256.NewInt(0), nil
	}

	amount = s.available.Clone()
	if err := s.transfer(ctx, s.address, s.owner, amount); err != nil {
		return nil, err
	}
	s.available = uint256.NewInt(0)
	s.metrics.SetBalances(s.address, s.blocked, s.available)

	s.log.Info("funds withdrawn", zap.String("amount", amount.Dec()))
	s.emit(ctx, domain.Event{Kind: domain.EventWithdraw, Actor: s.owner, Amount: amount.Clone()})
	return amount, nil
}

func (s *Shop) GetSale(id uint64) (domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return domain.Sale{}, ErrSaleNotFound
	}
	return sale.Clone(), nil
}

func (s *Shop) GetOffer(id uint64) (domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, ok := s.offers[id]
	if !ok {
		return domain.Offer{}, ErrOfferNotFound
	}
	return offer.Clone(), nil
}

// Sales lists every sale ordered by id.
func (s *Shop) Sales() []domain.Sale {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		out = append(out, sale.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Offers lists every offer ordered by id.
func (s *Shop) Offers() []domain.Offer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Offer, 0, len(s.offers))
	for _, offer := range s.offers {
		out = append(out, offer.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Shop) BlockedBalance() *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocked.Clone()
}

func (s *Shop) AvailableBalance() *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available.Clone()
}

// ContractBalance returns the funds actually held in the custody account.
func (s *Shop) ContractBalance(ctx context.Context) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallet.Balance(ctx, s.address)
}

// OwnerBalance returns the owner's external wallet balance.
func (s *Shop) OwnerBalance(ctx context.Context) (*uint256.Int, error) {
	return s.wallet.Balance(ctx, s.owner)
}

func (s *Shop) Balances(ctx context.Context) (domain.Balances, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contract, err := s.wallet.Balance(ctx, s.address)
	if err != nil {
		return domain.Balances{}, fmt.Errorf("contract balance: %w", err)
	}
	owner, err := s.wallet.Balance(ctx, s.owner)
	if err != nil {
		return domain.Balances{}, fmt.Errorf("owner balance: %w", err)
	}
	return domain.Balances{
		Blocked:   s.blocked.Clone(),
		Available: s.available.Clone(),
		Contract:  contract,
		Owner:     owner,
	}, nil
}

func (s *Shop) requireOwner(caller domain.Identity) error {
	if caller.IsZero() {
		return ErrAnonymousCaller
	}
	if caller != s.owner {
		return ErrNotOwner
	}
	return nil
}

func (s *Shop) transfer(ctx context.Context, from, to domain.Identity, amount *uint256.Int) error {
	if err := s.wallet.Transfer(ctx, from, to, amount); err != nil {
		s.log.Warn("transfer failed",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
			zap.String("amount", amount.Dec()),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

// emit records an event for delivery once the lock is released. Callers hold s.mu.
func (s *Shop) emit(ctx context.Context, event domain.Event) {
	event.ID = uuid.NewString()
	event.Shop = s.address
	event.OccurredAt = s.now().UTC()
	s.pending = append(s.pending, event)
}

// unlock releases the shop lock, then delivers the events recorded while it
// was held.
func (s *Shop) unlock(ctx context.Context) {
	events := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, event := range events {
		s.emitter.Emit(ctx, event)
	}
}

func (s *Shop) observe(op string, caller domain.Identity, err error) {
	s.metrics.ObserveOperation(op, err)
	if err != nil {
		s.log.Debug("operation rejected", zap.String("op", op), zap.Stringer("caller", caller), zap.Error(err))
	}
}

func amountOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return v.Clone()
}
