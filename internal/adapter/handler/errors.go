package handler

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/rl1809/secondhand-shop/internal/core/service"
	"github.com/rl1809/secondhand-shop/internal/port"
)

var (
	errShopNotFound     = errors.New("shop does not exist")
	errDuplicateRequest = errors.New("duplicate request")
)

type errorClass struct {
	target error
	http   int
	grpc   codes.Code
}

var errorClasses = []errorClass{
	{service.ErrAnonymousCaller, http.StatusUnauthorized, codes.Unauthenticated},
	{service.ErrNotOwner, http.StatusForbidden, codes.PermissionDenied},
	{service.ErrOwnerCannotOffer, http.StatusForbidden, codes.PermissionDenied},
	{service.ErrNotTheBuyer, http.StatusForbidden, codes.PermissionDenied},
	{service.ErrSaleNotFound, http.StatusNotFound, codes.NotFound},
	{service.ErrOfferNotFound, http.StatusNotFound, codes.NotFound},
	{errShopNotFound, http.StatusNotFound, codes.NotFound},
	{service.ErrDuplicateShop, http.StatusConflict, codes.AlreadyExists},
	{errDuplicateRequest, http.StatusConflict, codes.AlreadyExists},
	{service.ErrNotAccepted, http.StatusConflict, codes.FailedPrecondition},
	{service.ErrSaleSold, http.StatusConflict, codes.FailedPrecondition},
	{service.ErrNotPurchased, http.StatusConflict, codes.FailedPrecondition},
	{service.ErrAlreadyReleased, http.StatusConflict, codes.FailedPrecondition},
	{service.ErrInsufficientPayment, http.StatusUnprocessableEntity, codes.InvalidArgument},
	{service.ErrAmountOverflow, http.StatusUnprocessableEntity, codes.InvalidArgument},
	{errInvalidAmount, http.StatusBadRequest, codes.InvalidArgument},
	{port.ErrAmountOutOfRange, http.StatusUnprocessableEntity, codes.InvalidArgument},
	{service.ErrTransferFailed, http.StatusBadGateway, codes.Unavailable},
}

// classify maps err to transport codes and a client-safe message. Wrapped
// causes are never exposed.
func classify(err error) (int, codes.Code, string) {
	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			return c.http, c.grpc, c.target.Error()
		}
	}
	return http.StatusInternalServerError, codes.Internal, "internal error"
}
