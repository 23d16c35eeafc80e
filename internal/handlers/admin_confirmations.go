package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/doxvl/legalization-api/internal/platform/auth"
	"github.com/doxvl/legalization-api/internal/platform/httpx"
	"github.com/doxvl/legalization-api/internal/services"
)

const maxSendBodySize = 64 * 1024

// AdminConfirmationHandlers lets staff send confirmations and audit the tokens of an order.
type AdminConfirmationHandlers struct {
	authn           *auth.Authenticator
	confirmations   services.ConfirmationService
	sendMiddlewares []func(http.Handler) http.Handler
	limiter         rateLimiter
}

// AdminConfirmationOption customises AdminConfirmationHandlers.
type AdminConfirmationOption func(*AdminConfirmationHandlers)

// WithAdminSendMiddlewares wraps the send endpoints, typically with idempotency.
func WithAdminSendMiddlewares(mw ...func(http.Handler) http.Handler) AdminConfirmationOption {
	return func(h *AdminConfirmationHandlers) {
		h.sendMiddlewares = append(h.sendMiddlewares, mw...)
	}
}

// WithAdminSendRateLimit budgets sends per staff member.
func WithAdminSendRateLimit(limit int, window time.Duration) AdminConfirmationOption {
	return func(h *AdminConfirmationHandlers) {
		h.limiter = newSlidingRateLimiter(limit, window, nil)
	}
}

// NewAdminConfirmationHandlers constructs the staff confirmation endpoints.
func NewAdminConfirmationHandlers(authn *auth.Authenticator, confirmations services.ConfirmationService, opts ...AdminConfirmationOption) *AdminConfirmationHandlers {
	h := &AdminConfirmationHandlers{authn: authn, confirmations: confirmations}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /admin endpoints.
func (h *AdminConfirmationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Get("/orders/{orderRef}/confirmations", h.listConfirmations)
	r.Group(func(send chi.Router) {
		send.Use(rateLimit("staff-send", h.limiter, actorKey))
		for _, mw := range h.sendMiddlewares {
			if mw != nil {
				send.Use(mw)
			}
		}
		send.Post("/orders/{orderRef}/embassy-price-confirmations", h.sendEmbassyPrice)
		send.Post("/orders/{orderRef}/address-confirmations", h.sendAddress)
		send.Post("/orders/{orderRef}/quotes", h.sendQuote)
	})
}

type sendEmbassyPriceRequest struct {
	ConfirmedEmbassyPrice int64 `json:"confirmedEmbassyPrice"`
	ConfirmedTotalPrice   int64 `json:"confirmedTotalPrice"`
}

type sendAddressRequest struct {
	Type    string          `json:"type"`
	Address *addressPayload `json:"address"`
}

type quoteLineRequest struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
	VATRate     int    `json:"vatRate"`
}

type sendQuoteRequest struct {
	LineItems []quoteLineRequest `json:"lineItems"`
	Message   string             `json:"message"`
}

type sendResponse struct {
	Kind      string `json:"kind"`
	Token     string `json:"token"`
	URL       string `json:"url"`
	ExpiresAt string `json:"expiresAt"`
}

type confirmationListResponse struct {
	Items []confirmationSummaryPayload `json:"items"`
}

func (h *AdminConfirmationHandlers) sendEmbassyPrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, orderRef, ok := h.orderRequest(ctx, w, r)
	if !ok {
		return
	}
	var req sendEmbassyPriceRequest
	if err := decodeJSONBody(w, r, maxSendBodySize, &req); err != nil {
		writeInvalidRequest(ctx, w, err.Error())
		return
	}
	result, err := h.confirmations.SendEmbassyPrice(ctx, services.SendEmbassyPriceCommand{
		OrderRef:       orderRef,
		ConfirmedPrice: req.ConfirmedEmbassyPrice,
		ConfirmedTotal: req.ConfirmedTotalPrice,
		ActorID:        actor,
	})
	writeSendResult(ctx, w, result, err)
}

func (h *AdminConfirmationHandlers) sendAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, orderRef, ok := h.orderRequest(ctx, w, r)
	if !ok {
		return
	}
	handleAddressSend(ctx, w, r, h.confirmations, actor, orderRef)
}

func (h *AdminConfirmationHandlers) sendQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, orderRef, ok := h.orderRequest(ctx, w, r)
	if !ok {
		return
	}
	var req sendQuoteRequest
	if err := decodeJSONBody(w, r, maxSendBodySize, &req); err != nil {
		writeInvalidRequest(ctx, w, err.Error())
		return
	}
	lines := make([]services.QuoteLineInput, 0, len(req.LineItems))
	for _, line := range req.LineItems {
		lines = append(lines, services.QuoteLineInput{
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			VATRate:     line.VATRate,
		})
	}
	result, err := h.confirmations.SendQuote(ctx, services.SendQuoteCommand{
		OrderRef:  orderRef,
		LineItems: lines,
		Message:   req.Message,
		ActorID:   actor,
	})
	writeSendResult(ctx, w, result, err)
}

func (h *AdminConfirmationHandlers) listConfirmations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, orderRef, ok := h.orderRequest(ctx, w, r); ok {
		items, err := h.confirmations.ListForOrder(ctx, orderRef)
		if err != nil {
			writeConfirmationError(ctx, w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, confirmationListResponse{Items: buildConfirmationSummaries(items)})
	}
}

// orderRequest resolves the acting staff member and the order reference.
func (h *AdminConfirmationHandlers) orderRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, string, bool) {
	if h.confirmations == nil {
		writeServiceUnavailable(ctx, w, "confirmation")
		return "", "", false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", "", false
	}
	orderRef := strings.TrimSpace(chi.URLParam(r, "orderRef"))
	if orderRef == "" {
		writeInvalidRequest(ctx, w, "order reference is required")
		return "", "", false
	}
	return identity.ActorID(), orderRef, true
}

func handleAddressSend(ctx context.Context, w http.ResponseWriter, r *http.Request, confirmations services.ConfirmationService, actor, orderRef string) {
	var req sendAddressRequest
	if err := decodeJSONBody(w, r, maxSendBodySize, &req); err != nil {
		writeInvalidRequest(ctx, w, err.Error())
		return
	}
	cmd := services.SendAddressCommand{OrderRef: orderRef, Type: req.Type, ActorID: actor}
	if req.Address != nil {
		addr := req.Address.toDomain()
		cmd.Address = &addr
	}
	result, err := confirmations.SendAddress(ctx, cmd)
	writeSendResult(ctx, w, result, err)
}

func writeSendResult(ctx context.Context, w http.ResponseWriter, result services.SendResult, err error) {
	if err != nil {
		writeConfirmationError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, sendResponse{
		Kind:      string(result.Kind),
		Token:     result.Token,
		URL:       result.URL,
		ExpiresAt: formatTime(result.ExpiresAt),
	})
}
