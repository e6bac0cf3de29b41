package handler

import (
	"errors"
	"strings"

	"github.com/holiman/uint256"

	"github.com/rl1809/secondhand-shop/internal/core/domain"
	"github.com/rl1809/secondhand-shop/internal/core/service"
)

var errInvalidAmount = errors.New("amount must be a non-negative decimal integer")

// Amounts travel as decimal strings; they don't fit JSON numbers.

type ShopView struct {
	Owner   string `json:"owner"`
	Address string `json:"address"`
}

type SaleView struct {
	ID          uint64 `json:"id"`
	Title       string `json:"title"`
	AskingPrice string `json:"asking_price"`
	Sold        bool   `json:"sold"`
}

type OfferView struct {
	ID           uint64 `json:"id"`
	SaleID       uint64 `json:"sale_id"`
	PriceOffered string `json:"price_offered"`
	Buyer        string `json:"buyer"`
	Accepted     bool   `json:"accepted"`
	State        string `json:"state"`
	Paid         string `json:"paid"`
}

type BalancesView struct {
	Blocked   string `json:"blocked"`
	Available string `json:"available"`
	Contract  string `json:"contract"`
	Owner     string `json:"owner"`
}

func shopView(s *service.Shop) ShopView {
	return ShopView{Owner: s.Owner().String(), Address: s.Address().String()}
}

func saleView(s domain.Sale) SaleView {
	return SaleView{ID: s.ID, Title: s.Title, AskingPrice: s.AskingPrice.Dec(), Sold: s.Sold}
}

func offerView(o domain.Offer) OfferView {
	return OfferView{
		ID:           o.ID,
		SaleID:       o.SaleID,
		PriceOffered: o.PriceOffered.Dec(),
		Buyer:        o.Buyer.String(),
		Accepted:     o.Accepted,
		State:        string(o.State()),
		Paid:         o.Paid.Dec(),
	}
}

func balancesView(b domain.Balances) BalancesView {
	return BalancesView{
		Blocked:   b.Blocked.Dec(),
		Available: b.Available.Dec(),
		Contract:  b.Contract.Dec(),
		Owner:     b.Owner.Dec(),
	}
}

func parseAmount(raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errInvalidAmount
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, errInvalidAmount
	}
	return v, nil
}
