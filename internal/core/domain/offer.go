package domain

import "github.com/holiman/uint256"

type OfferState string

const (
	OfferStatePending   OfferState = "pending"
	OfferStateAccepted  OfferState = "accepted"
	OfferStatePurchased OfferState = "purchased"
	OfferStateReleased  OfferState = "released"
)

// Offer is a buyer's proposed price against a sale. Paid holds the amount
// received by a successful purchase and stays zero until then.
type Offer struct {
	ID           uint64
	SaleID       uint64
	PriceOffered *uint256.Int
	Buyer        Identity
	Accepted     bool
	Purchased    bool
	Released     bool
	Paid         *uint256.Int
}

func (o *Offer) State() OfferState {
	switch {
	case o.Released:
		return OfferStateReleased
	case o.Purchased:
		return OfferStatePurchased
	case o.Accepted:
		return OfferStateAccepted
	default:
		return OfferStatePending
	}
}

// Clone returns a deep copy so callers can't mutate shop state.
func (o *Offer) Clone() Offer {
	clone := *o
	clone.PriceOffered = cloneAmount(o.PriceOffered)
	clone.Paid = cloneAmount(o.Paid)
	return clone
}
