package service

import "errors"

var (
	ErrAnonymousCaller     = errors.New("caller identity required")
	ErrDuplicateShop       = errors.New("you can only have one shop")
	ErrNotOwner            = errors.New("owner only can run this operation")
	ErrOwnerCannotOffer    = errors.New("owner can not create offer")
	ErrSaleNotFound        = errors.New("sale does not exist")
	ErrSaleSold            = errors.New("sale already sold")
	ErrOfferNotFound       = errors.New("offer does not exist")
	ErrNotAccepted         = errors.New("offer not accepted by owner")
	ErrNotTheBuyer         = errors.New("caller is not the buyer")
	ErrInsufficientPayment = errors.New("payment below offered price")
	ErrNotPurchased        = errors.New("offer not purchased")
	ErrAlreadyReleased     = errors.New("receipt already confirmed")
	ErrAmountOverflow      = errors.New("amount overflow")
	ErrTransferFailed      = errors.New("fund transfer failed")
)
