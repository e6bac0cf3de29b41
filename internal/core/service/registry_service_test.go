package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/secondhand-shop/internal/core/domain"
)

func TestRegistry_Owner(t *testing.T) {
	registry := NewRegistry("creator", newMockWallet(), nil)
	assert.Equal(t, domain.Identity("creator"), registry.Owner())
}

func TestRegistry_CreateShop(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry("creator", newMockWallet(), nil, WithMetrics(NewMetrics(nil)))

	shop, err := registry.CreateShop(ctx, seller)
	require.NoError(t, err)
	assert.Equal(t, seller, shop.Owner())
	assert.NotEqual(t, seller, shop.Address())

	got, ok := registry.GetShop(seller)
	require.True(t, ok)
	assert.Same(t, shop, got)

	_, err = registry.CreateShop(ctx, seller)
	assert.ErrorIs(t, err, ErrDuplicateShop)

	got, _ = registry.GetShop(seller)
	assert.Same(t, shop, got)
}

func TestRegistry_GetShopMissing(t *testing.T) {
	registry := NewRegistry("creator", newMockWallet(), nil)
	shop, ok := registry.GetShop(buyer1)
	assert.False(t, ok)
	assert.Nil(t, shop)
}

func TestRegistry_AnonymousCaller(t *testing.T) {
	registry := NewRegistry("creator", newMockWallet(), nil)
	_, err := registry.CreateShop(context.Background(), " ")
	assert.ErrorIs(t, err, ErrAnonymousCaller)
	assert.Empty(t, registry.Shops())
}

func TestRegistry_ShopsAreIndependent(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry("creator", newMockWallet(), nil)

	first, err := registry.CreateShop(ctx, seller)
	require.NoError(t, err)
	second, err := registry.CreateShop(ctx, other)
	require.NoError(t, err)
	assert.NotEqual(t, first.Address(), second.Address())

	_, err = first.CreateSale(ctx, seller, "TV", amt(10))
	require.NoError(t, err)
	_, err = second.CreateSale(ctx, seller, "TV", amt(10))
	assert.ErrorIs(t, err, ErrNotOwner)

	id, err := second.CreateSale(ctx, other, "Radio", amt(5))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	shops := registry.Shops()
	require.Len(t, shops, 2)
	assert.Equal(t, seller, shops[0].Owner())
	assert.Equal(t, other, shops[1].Owner())
}
