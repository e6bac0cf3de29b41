package domain

import (
	"time"

	"github.com/holiman/uint256"
)

type EventKind string

const (
	EventCreateSale  EventKind = "CreateSale"
	EventCreateOffer EventKind = "CreateOffer"
	EventAcceptOffer EventKind = "AcceptOffer"
	EventPurchase    EventKind = "Purchase"
	EventBuy         EventKind = "Buy"
	EventWithdraw    EventKind = "Withdraw"
)

// Event is a notification emitted by a shop after a committed state change.
// SaleID, OfferID and Amount are zero when the kind doesn't carry them.
type Event struct {
	ID         string
	Kind       EventKind
	Shop       Identity
	Actor      Identity
	SaleID     uint64
	OfferID    uint64
	Amount     *uint256.Int
	OccurredAt time.Time
}
