package service

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/rl1809/secondhand-shop/internal/core/domain"
	"github.com/rl1809/secondhand-shop/internal/port"
)

// Registry maps each owner to at most one shop. Entries are never removed.
type Registry struct {
	mu    sync.RWMutex
	owner domain.Identity
	shops map[domain.Identity]*Shop

	wallet   port.Wallet
	shopOpts []ShopOption
	log      *zap.Logger
}

// NewRegistry creates a registry recorded as deployed by owner. The options
// are applied to every shop it creates.
func NewRegistry(owner domain.Identity, wallet port.Wallet, log *zap.Logger, shopOpts ...ShopOption) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		owner:    owner,
		shops:    make(map[domain.Identity]*Shop),
		wallet:   wallet,
		shopOpts: append([]ShopOption{WithLogger(log)}, shopOpts...),
		log:      log,
	}
}

func (r *Registry) Owner() domain.Identity {
	return r.owner
}

func (r *Registry) CreateShop(ctx context.Context, caller domain.Identity) (*Shop, error) {
	if caller.IsZero() {
		return nil, ErrAnonymousCaller
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.shops[caller]; ok {
		r.log.Debug("duplicate shop rejected", zap.Stringer("owner", caller))
		return nil, ErrDuplicateShop
	}

	shop := NewShop(caller, r.wallet, r.shopOpts...)
	r.shops[caller] = shop
	r.log.Info("shop created", zap.Stringer("owner", caller), zap.Stringer("shop", shop.Address()))
	return shop, nil
}

func (r *Registry) GetShop(owner domain.Identity) (*Shop, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	shop, ok := r.shops[owner]
	return shop, ok
}

// Shops lists all shops ordered by owner.
func (r *Registry) Shops() []*Shop {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Shop, 0, len(r.shops))
	for _, shop := range r.shops {
		out = append(out, shop)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner() < out[j].Owner() })
	return out
}
