package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/doxvl/legalization-api/internal/platform/httpx"
	"github.com/doxvl/legalization-api/internal/services"
)

const maxOrderBodySize = 32 * 1024

// OrderHandlers serves the public order form and status lookup.
type OrderHandlers struct {
	orders        services.OrderService
	createLimiter rateLimiter
	lookupLimiter rateLimiter
}

// OrderOption customises OrderHandlers.
type OrderOption func(*OrderHandlers)

// WithOrderCreateRateLimit budgets order submissions per client address.
func WithOrderCreateRateLimit(limit int, window time.Duration) OrderOption {
	return func(h *OrderHandlers) {
		h.createLimiter = newSlidingRateLimiter(limit, window, nil)
	}
}

// WithOrderLookupRateLimit budgets status lookups per client address.
func WithOrderLookupRateLimit(limit int, window time.Duration) OrderOption {
	return func(h *OrderHandlers) {
		h.lookupLimiter = newSlidingRateLimiter(limit, window, nil)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(rateLimitByClientIP("order-create", h.createLimiter)).Post("/", h.createOrder)
	r.With(rateLimitByClientIP("order-status", h.lookupLimiter)).Post("/status", h.orderStatus)
}

type selectionRequest struct {
	Country       string   `json:"country"`
	Services      []string `json:"services"`
	Quantity      int      `json:"quantity"`
	Expedited     bool     `json:"expedited"`
	ScannedCopies bool     `json:"scannedCopies"`
	PickupService bool     `json:"pickupService"`
	ReturnService string   `json:"returnService"`
}

func (s selectionRequest) toCommand() services.PriceQuoteCommand {
	return services.PriceQuoteCommand{
		Country:       s.Country,
		Services:      trimmed(s.Services),
		Quantity:      s.Quantity,
		Expedited:     s.Expedited,
		ScannedCopies: s.ScannedCopies,
		PickupService: s.PickupService,
		ReturnService: s.ReturnService,
	}
}

type customerRequest struct {
	FirstName string         `json:"firstName"`
	LastName  string         `json:"lastName"`
	Email     string         `json:"email"`
	Phone     string         `json:"phone"`
	Address   addressPayload `json:"address"`
}

type createOrderRequest struct {
	selectionRequest
	DocumentType  string          `json:"documentType"`
	CustomerInfo  customerRequest `json:"customerInfo"`
	PickupAddress *addressPayload `json:"pickupAddress"`
	Locale        string          `json:"locale"`
	Notes         string          `json:"notes"`
}

type createOrderResponse struct {
	OrderID              string            `json:"orderId"`
	OrderNumber          string            `json:"orderNumber"`
	Status               string            `json:"status"`
	Currency             string            `json:"currency"`
	PricingBreakdown     []lineItemPayload `json:"pricingBreakdown"`
	TotalPrice           int64             `json:"totalPrice"`
	HasUnconfirmedPrices bool              `json:"hasUnconfirmedPrices"`
	UnresolvedServices   []string          `json:"unresolvedServices,omitempty"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	var req createOrderRequest
	if err := decodeJSONBody(w, r, maxOrderBodySize, &req); err != nil {
		writeInvalidRequest(ctx, w, err.Error())
		return
	}

	cmd := services.CreateOrderCommand{
		Selection:    req.selectionRequest.toCommand(),
		DocumentType: req.DocumentType,
		Customer: services.CustomerInfo{
			FirstName: req.CustomerInfo.FirstName,
			LastName:  req.CustomerInfo.LastName,
			Email:     req.CustomerInfo.Email,
			Phone:     req.CustomerInfo.Phone,
			Address:   req.CustomerInfo.Address.toDomain(),
		},
		Locale: req.Locale,
		Notes:  req.Notes,
	}
	if req.PickupAddress != nil {
		addr := req.PickupAddress.toDomain()
		cmd.PickupAddress = &addr
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, createOrderResponse{
		OrderID:              order.ID,
		OrderNumber:          order.OrderNumber,
		Status:               string(order.Status),
		Currency:             order.Currency,
		PricingBreakdown:     buildLineItems(order.Pricing.Breakdown),
		TotalPrice:           order.Pricing.TotalPrice,
		HasUnconfirmedPrices: order.Pricing.HasUnconfirmedPrices,
		UnresolvedServices:   serviceCodes(order.Pricing.UnresolvedServices),
	})
}

type orderStatusRequest struct {
	OrderNumber string `json:"orderNumber"`
	Email       string `json:"email"`
}

type orderStatusResponse struct {
	Order *publicOrderPayload `json:"order"`
}

func (h *OrderHandlers) orderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	var req orderStatusRequest
	if err := decodeJSONBody(w, r, maxOrderBodySize, &req); err != nil {
		writeInvalidRequest(ctx, w, err.Error())
		return
	}
	order, err := h.orders.LookupStatus(ctx, services.OrderStatusQuery{OrderNumber: req.OrderNumber, Email: req.Email})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderStatusResponse{Order: buildPublicOrder(&order)})
}
