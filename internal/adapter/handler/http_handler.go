package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rl1809/secondhand-shop/internal/core/domain"
	"github.com/rl1809/secondhand-shop/internal/core/service"
	"github.com/rl1809/secondhand-shop/internal/port"
)

const (
	callerHeader         = "X-Caller-Identity"
	idempotencyKeyHeader = "Idempotency-Key"
)

type HTTPHandler struct {
	registry    *service.Registry
	idempotency idempotencyGuard
	log         *zap.Logger
}

type HTTPResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type CreateSaleHTTPRequest struct {
	Title       string `json:"title"`
	AskingPrice string `json:"asking_price"`
}

type AddOfferHTTPRequest struct {
	PriceOffered string `json:"price_offered"`
}

type RespondHTTPRequest struct {
	Accept bool `json:"accept"`
}

type PurchaseHTTPRequest struct {
	Payment string `json:"payment"`
}

// NewHTTPHandler serves the registry over REST. cache may be nil, which
// disables Idempotency-Key checks.
func NewHTTPHandler(registry *service.Registry, cache port.CacheRepository, log *zap.Logger) *HTTPHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPHandler{
		registry:    registry,
		idempotency: idempotencyGuard{cache: cache, log: log},
		log:         log,
	}
}

func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("GET /registry/owner", h.RegistryOwner)
	mux.HandleFunc("POST /shops", h.CreateShop)
	mux.HandleFunc("GET /shops", h.ListShops)
	mux.HandleFunc("GET /shops/{owner}", h.GetShop)
	mux.HandleFunc("POST /shops/{owner}/sales", h.CreateSale)
	mux.HandleFunc("GET /shops/{owner}/sales", h.ListSales)
	mux.HandleFunc("GET /shops/{owner}/sales/{id}", h.GetSale)
	mux.HandleFunc("POST /shops/{owner}/sales/{id}/offers", h.AddOffer)
	mux.HandleFunc("GET /shops/{owner}/offers", h.ListOffers)
	mux.HandleFunc("GET /shops/{owner}/offers/{id}", h.GetOffer)
	mux.HandleFunc("POST /shops/{owner}/offers/{id}/response", h.RespondToOffer)
	mux.HandleFunc("POST /shops/{owner}/offers/{id}/purchase", h.BuyTheSale)
	mux.HandleFunc("POST /shops/{owner}/offers/{id}/confirm", h.ConfirmReceive)
	mux.HandleFunc("POST /shops/{owner}/withdraw", h.Withdraw)
	mux.HandleFunc("GET /shops/{owner}/balances", h.Balances)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) RegistryOwner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HTTPResponse{Success: true, Data: map[string]string{"owner": h.registry.Owner().String()}})
}

func (h *HTTPHandler) CreateShop(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	settle, ok := h.guard(w, r, caller)
	if !ok {
		return
	}
	shop, err := h.registry.CreateShop(r.Context(), caller)
	settle(err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, HTTPResponse{Success: true, Message: "shop created", Data: shopView(shop)})
}

func (h *HTTPHandler) ListShops(w http.ResponseWriter, r *http.Request) {
	shops := h.registry.Shops()
	views := make([]ShopView, 0, len(shops))
	for _, s := range shops {
		views = append(views, shopView(s))
	}
	writeJSON(w, http.StatusOK, HTTPResponse{Success: true, Data: views})
}

func (h *HTTPHandler) GetShop(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shopFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, HTTPResponse{Success: true, Data: shopView(shop)})
}

func (h *HTTPHandler) CreateSale(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shopFor(w, r)
	if !ok {
		return
	}
	var req CreateSaleHTTPRequest
	if !decodeBody(w, r, &req) {
		return
	}
	price, err := parseAmount(req.AskingPrice)
	if err != nil {
		h.writeError(w, err)
		return
	}
	caller := callerFrom(r)
	settle, ok := h.guard(w, r, caller)
	if !ok {
		return
	}

	id, err := shop.CreateSale(r.Context(), caller, req.Title, price)
	settle(err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, HTTPResponse{Success: true, Message: "sale created", Data: map[string]uint64{"sale_id": id}})
}

func (h *HTTPHandler) ListSales(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shopFor(w, r)
	if !ok {
		return
	}
	sales := shop.Sales()
	views := make([]SaleView, 0, len(sales))
	for _, s := range sales {
		views = append(views, saleView(s))
	}
	writeJSON(w, http.StatusOK, HTTPResponse{Success: true, Data: views})
}

func (h *HTTPHandler) GetSale(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shopFor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sale, err := shop.GetSale(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HTTPResponse{Success: true, Data: saleView(sale)})
}

func (h *HTTPHandler) AddOffer(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shopFor(w, r)
	if !ok {
		return
	}
	saleID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req AddOfferHTTPRequest
	if !decodeBody(w, r, &req) {
		return
	}
	price, err := parseAmount(req.PriceOffered)
	if err != nil {
		h.writeError(w, err)
		return
	}
	caller := callerFrom(r)
	settle, ok := h.guard(w, r, caller)
	if !ok {
		return
	}

	id, err := shop.AddOffer(r.Context(), caller, saleID, price)
	settle(err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, HTTPResponse{Success: true, Message: "offer created", Data: map[string]uint64{"offer_id": id}})
}

func (h *HTTPHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shopFor(w, r)
	if !ok {
		return
	}
	offers := shop.Offers()
	views := make([]OfferView, 0, len(offers))
	for _, o := range offers {
		views = append(views, offerView(o))
	}
	writeJSON(w, http.StatusOK, HTTPResponse{Success: true, Data: views})
}

func (h *HTTPHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shopFor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	offer, err := shop.GetOffer(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HTTPResponse{Success: true, Data: offerView(offer)})
}

func (h *HTTPHandler) RespondToOffer(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shopFor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req RespondHTTPRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller := callerFrom(r)
	settle, ok := h.guard(w, r, caller)
	if !ok {
		return
	}

	err := shop.RespondToOffer(r.Context(), caller, id, req.Accept)
	settle(err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	message := "offer declined"
	if req.Accept {
		message = "offer accepted"
	}
	writeJSON(w, http.StatusOK, HTTPResponse{Success: true, Message: message})
}

func (h *HTTPHandler) BuyTheSale(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shopFor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req PurchaseHTTPRequest
	if !decodeBody(w, r, &req) {
		return
	}
	payment, err := parseAmount(req.Payment)
	if err != nil {
		h.writeError(w, err)
		return
	}
	caller := callerFrom(r)
	settle, ok := h.guard(w, r, caller)
	if !ok {
		return
	}

	err = shop.BuyTheSale(r.Context(), caller, id, payment)
	settle(err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HTTPResponse{Success: true, Message: "sale purchased"})
}

func (h *HTTPHandler) ConfirmReceive(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shopFor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	caller := callerFrom(r)
	settle, ok := h.guard(w, r, caller)
	if !ok {
		return
	}

	err := shop.ConfirmReceive(r.Context(), caller, id)
	settle(err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HTTPResponse{Success: true, Message: "receipt confirmed"})
}

func (h *HTTPHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shopFor(w, r)
	if !ok {
		return
	}
	caller := callerFrom(r)
	settle, ok := h.guard(w, r, caller)
	if !ok {
		return
	}

	amount, err := shop.Withdraw(r.Context(), caller)
	settle(err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HTTPResponse{Success: true, Message: "withdrawn", Data: map[string]string{"amount": amount.Dec()}})
}

func (h *HTTPHandler) Balances(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shopFor(w, r)
	if !ok {
		return
	}
	balances, err := shop.Balances(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HTTPResponse{Success: true, Data: balancesView(balances)})
}

// guard rejects anonymous callers and replayed Idempotency-Key values. The
// returned settle func releases the key again if the command fails.
func (h *HTTPHandler) guard(w http.ResponseWriter, r *http.Request, caller domain.Identity) (func(error), bool) {
	if caller.IsZero() {
		h.writeError(w, service.ErrAnonymousCaller)
		return nil, false
	}
	settle, err := h.idempotency.claim(r.Context(), caller, r.Header.Get(idempotencyKeyHeader))
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return settle, true
}

func (h *HTTPHandler) shopFor(w http.ResponseWriter, r *http.Request) (*service.Shop, bool) {
	shop, ok := h.registry.GetShop(domain.Identity(r.PathValue("owner")))
	if !ok {
		h.writeError(w, errShopNotFound)
		return nil, false
	}
	return shop, true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status, _, message := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, HTTPResponse{Success: false, Message: message})
}

func callerFrom(r *http.Request) domain.Identity {
	return domain.Identity(strings.TrimSpace(r.Header.Get(callerHeader)))
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, HTTPResponse{Success: false, Message: "invalid id"})
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, HTTPResponse{Success: false, Message: "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
