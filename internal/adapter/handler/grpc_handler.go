package handler

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/secondhand-shop/internal/core/domain"
	"github.com/rl1809/secondhand-shop/internal/core/service"
	"github.com/rl1809/secondhand-shop/internal/port"
)

const (
	shopServiceName = "secondhand.v1.ShopService"
	callerMetadata  = "x-caller-identity"
	idempotencyMeta = "idempotency-key"
)

type ShopRef struct {
	Owner string `json:"owner"`
}

type SaleRef struct {
	Owner  string `json:"owner"`
	SaleID uint64 `json:"sale_id"`
}

type OfferRef struct {
	Owner   string `json:"owner"`
	OfferID uint64 `json:"offer_id"`
}

type CreateSaleRequest struct {
	Owner       string `json:"owner"`
	Title       string `json:"title"`
	AskingPrice string `json:"asking_price"`
}

type CreateSaleResponse struct {
	SaleID uint64 `json:"sale_id"`
}

type AddOfferRequest struct {
	Owner        string `json:"owner"`
	SaleID       uint64 `json:"sale_id"`
	PriceOffered string `json:"price_offered"`
}

type AddOfferResponse struct {
	OfferID uint64 `json:"offer_id"`
}

type RespondToOfferRequest struct {
	Owner   string `json:"owner"`
	OfferID uint64 `json:"offer_id"`
	Accept  bool   `json:"accept"`
}

type BuyTheSaleRequest struct {
	Owner   string `json:"owner"`
	OfferID uint64 `json:"offer_id"`
	Payment string `json:"payment"`
}

type WithdrawResponse struct {
	Amount string `json:"amount"`
}

type Empty struct{}

type ListShopsResponse struct {
	Shops []ShopView `json:"shops"`
}

type ListSalesResponse struct {
	Sales []SaleView `json:"sales"`
}

type ListOffersResponse struct {
	Offers []OfferView `json:"offers"`
}

type ShopServiceServer interface {
	CreateShop(context.Context, *Empty) (*ShopView, error)
	ListShops(context.Context, *Empty) (*ListShopsResponse, error)
	GetShop(context.Context, *ShopRef) (*ShopView, error)
	CreateSale(context.Context, *CreateSaleRequest) (*CreateSaleResponse, error)
	ListSales(context.Context, *ShopRef) (*ListSalesResponse, error)
	GetSale(context.Context, *SaleRef) (*SaleView, error)
	AddOffer(context.Context, *AddOfferRequest) (*AddOfferResponse, error)
	ListOffers(context.Context, *ShopRef) (*ListOffersResponse, error)
	GetOffer(context.Context, *OfferRef) (*OfferView, error)
	RespondToOffer(context.Context, *RespondToOfferRequest) (*Empty, error)
	BuyTheSale(context.Context, *BuyTheSaleRequest) (*Empty, error)
	ConfirmReceive(context.Context, *OfferRef) (*Empty, error)
	Withdraw(context.Context, *ShopRef) (*WithdrawResponse, error)
	GetBalances(context.Context, *ShopRef) (*BalancesView, error)
}

var ShopServiceDesc = grpc.ServiceDesc{
	ServiceName: shopServiceName,
	HandlerType: (*ShopServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateShop", ShopServiceServer.CreateShop),
		unary("ListShops", ShopServiceServer.ListShops),
		unary("GetShop", ShopServiceServer.GetShop),
		unary("CreateSale", ShopServiceServer.CreateSale),
		unary("ListSales", ShopServiceServer.ListSales),
		unary("GetSale", ShopServiceServer.GetSale),
		unary("AddOffer", ShopServiceServer.AddOffer),
		unary("ListOffers", ShopServiceServer.ListOffers),
		unary("GetOffer", ShopServiceServer.GetOffer),
		unary("RespondToOffer", ShopServiceServer.RespondToOffer),
		unary("BuyTheSale", ShopServiceServer.BuyTheSale),
		unary("ConfirmReceive", ShopServiceServer.ConfirmReceive),
		unary("Withdraw", ShopServiceServer.Withdraw),
		unary("GetBalances", ShopServiceServer.GetBalances),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "secondhand/v1/shop.proto",
}

func RegisterShopServiceServer(s grpc.ServiceRegistrar, srv ShopServiceServer) {
	s.RegisterService(&ShopServiceDesc, srv)
}

func unary[Req, Resp any](name string, call func(ShopServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ShopServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + shopServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(ShopServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

type GRPCHandler struct {
	registry    *service.Registry
	idempotency idempotencyGuard
	log         *zap.Logger
}

// NewGRPCHandler serves the registry over gRPC. cache may be nil, which
// disables idempotency-key checks.
func NewGRPCHandler(registry *service.Registry, cache port.CacheRepository, log *zap.Logger) *GRPCHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &GRPCHandler{
		registry:    registry,
		idempotency: idempotencyGuard{cache: cache, log: log},
		log:         log,
	}
}

func (h *GRPCHandler) CreateShop(ctx context.Context, _ *Empty) (*ShopView, error) {
	caller, err := callerFromContext(ctx)
	if err != nil {
		return nil, h.toStatus(err)
	}
	settle, err := h.claim(ctx, caller)
	if err != nil {
		return nil, h.toStatus(err)
	}
	shop, err := h.registry.CreateShop(ctx, caller)
	settle(err)
	if err != nil {
		return nil, h.toStatus(err)
	}
	view := shopView(shop)
	return &view, nil
}

func (h *GRPCHandler) ListShops(ctx context.Context, _ *Empty) (*ListShopsResponse, error) {
	shops := h.registry.Shops()
	resp := &ListShopsResponse{Shops: make([]ShopView, 0, len(shops))}
	for _, s := range shops {
		resp.Shops = append(resp.Shops, shopView(s))
	}
	return resp, nil
}

func (h *GRPCHandler) GetShop(ctx context.Context, req *ShopRef) (*ShopView, error) {
	shop, err := h.shop(req.Owner)
	if err != nil {
		return nil, h.toStatus(err)
	}
	view := shopView(shop)
	return &view, nil
}

func (h *GRPCHandler) CreateSale(ctx context.Context, req *CreateSaleRequest) (*CreateSaleResponse, error) {
	shop, caller, err := h.command(ctx, req.Owner)
	if err != nil {
		return nil, h.toStatus(err)
	}
	price, err := parseAmount(req.AskingPrice)
	if err != nil {
		return nil, h.toStatus(err)
	}
	settle, err := h.claim(ctx, caller)
	if err != nil {
		return nil, h.toStatus(err)
	}
	id, err := shop.CreateSale(ctx, caller, req.Title, price)
	settle(err)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &CreateSaleResponse{SaleID: id}, nil
}

func (h *GRPCHandler) ListSales(ctx context.Context, req *ShopRef) (*ListSalesResponse, error) {
	shop, err := h.shop(req.Owner)
	if err != nil {
		return nil, h.toStatus(err)
	}
	sales := shop.Sales()
	resp := &ListSalesResponse{Sales: make([]SaleView, 0, len(sales))}
	for _, s := range sales {
		resp.Sales = append(resp.Sales, saleView(s))
	}
	return resp, nil
}

func (h *GRPCHandler) GetSale(ctx context.Context, req *SaleRef) (*SaleView, error) {
	shop, err := h.shop(req.Owner)
	if err != nil {
		return nil, h.toStatus(err)
	}
	sale, err := shop.GetSale(req.SaleID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	view := saleView(sale)
	return &view, nil
}

func (h *GRPCHandler) AddOffer(ctx context.Context, req *AddOfferRequest) (*AddOfferResponse, error) {
	shop, caller, err := h.command(ctx, req.Owner)
	if err != nil {
		return nil, h.toStatus(err)
	}
	price, err := parseAmount(req.PriceOffered)
	if err != nil {
		return nil, h.toStatus(err)
	}
	settle, err := h.claim(ctx, caller)
	if err != nil {
		return nil, h.toStatus(err)
	}
	id, err := shop.AddOffer(ctx, caller, req.SaleID, price)
	settle(err)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &AddOfferResponse{OfferID: id}, nil
}

func (h *GRPCHandler) ListOffers(ctx context.Context, req *ShopRef) (*ListOffersResponse, error) {
	shop, err := h.shop(req.Owner)
	if err != nil {
		return nil, h.toStatus(err)
	}
	offers := shop.Offers()
	resp := &ListOffersResponse{Offers: make([]OfferView, 0, len(offers))}
	for _, o := range offers {
		resp.Offers = append(resp.Offers, offerView(o))
	}
	return resp, nil
}

func (h *GRPCHandler) GetOffer(ctx context.Context, req *OfferRef) (*OfferView, error) {
	shop, err := h.shop(req.Owner)
	if err != nil {
		return nil, h.toStatus(err)
	}
	offer, err := shop.GetOffer(req.OfferID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	view := offerView(offer)
	return &view, nil
}

func (h *GRPCHandler) RespondToOffer(ctx context.Context, req *RespondToOfferRequest) (*Empty, error) {
	shop, caller, err := h.command(ctx, req.Owner)
	if err != nil {
		return nil, h.toStatus(err)
	}
	settle, err := h.claim(ctx, caller)
	if err != nil {
		return nil, h.toStatus(err)
	}
	err = shop.RespondToOffer(ctx, caller, req.OfferID, req.Accept)
	settle(err)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &Empty{}, nil
}

func (h *GRPCHandler) BuyTheSale(ctx context.Context, req *BuyTheSaleRequest) (*Empty, error) {
	shop, caller, err := h.command(ctx, req.Owner)
	if err != nil {
		return nil, h.toStatus(err)
	}
	payment, err := parseAmount(req.Payment)
	if err != nil {
		return nil, h.toStatus(err)
	}
	settle, err := h.claim(ctx, caller)
	if err != nil {
		return nil, h.toStatus(err)
	}
	err = shop.BuyTheSale(ctx, caller, req.OfferID, payment)
	settle(err)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &Empty{}, nil
}

func (h *GRPCHandler) ConfirmReceive(ctx context.Context, req *OfferRef) (*Empty, error) {
	shop, caller, err := h.command(ctx, req.Owner)
	if err != nil {
		return nil, h.toStatus(err)
	}
	settle, err := h.claim(ctx, caller)
	if err != nil {
		return nil, h.toStatus(err)
	}
	err = shop.ConfirmReceive(ctx, caller, req.OfferID)
	settle(err)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &Empty{}, nil
}

func (h *GRPCHandler) Withdraw(ctx context.Context, req *ShopRef) (*WithdrawResponse, error) {
	shop, caller, err := h.command(ctx, req.Owner)
	if err != nil {
		return nil, h.toStatus(err)
	}
	settle, err := h.claim(ctx, caller)
	if err != nil {
		return nil, h.toStatus(err)
	}
	amount, err := shop.Withdraw(ctx, caller)
	settle(err)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &WithdrawResponse{Amount: amount.Dec()}, nil
}

func (h *GRPCHandler) GetBalances(ctx context.Context, req *ShopRef) (*BalancesView, error) {
	shop, err := h.shop(req.Owner)
	if err != nil {
		return nil, h.toStatus(err)
	}
	balances, err := shop.Balances(ctx)
	if err != nil {
		return nil, h.toStatus(err)
	}
	view := balancesView(balances)
	return &view, nil
}

func (h *GRPCHandler) shop(owner string) (*service.Shop, error) {
	shop, ok := h.registry.GetShop(domain.Identity(owner))
	if !ok {
		return nil, errShopNotFound
	}
	return shop, nil
}

func (h *GRPCHandler) command(ctx context.Context, owner string) (*service.Shop, domain.Identity, error) {
	caller, err := callerFromContext(ctx)
	if err != nil {
		return nil, "", err
	}
	shop, err := h.shop(owner)
	if err != nil {
		return nil, "", err
	}
	return shop, caller, nil
}

// claim applies the idempotency-key metadata value, if any, to the command.
func (h *GRPCHandler) claim(ctx context.Context, caller domain.Identity) (func(error), error) {
	var key string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(idempotencyMeta); len(values) > 0 {
			key = values[0]
		}
	}
	return h.idempotency.claim(ctx, caller, key)
}

func (h *GRPCHandler) toStatus(err error) error {
	_, code, message := classify(err)
	if code == codes.Internal {
		h.log.Error("rpc failed", zap.Error(err))
	}
	return status.Error(code, message)
}

func callerFromContext(ctx context.Context) (domain.Identity, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", service.ErrAnonymousCaller
	}
	values := md.Get(callerMetadata)
	if len(values) == 0 {
		return "", service.ErrAnonymousCaller
	}
	caller := domain.Identity(strings.TrimSpace(values[0]))
	if caller.IsZero() {
		return "", service.ErrAnonymousCaller
	}
	return caller, nil
}
