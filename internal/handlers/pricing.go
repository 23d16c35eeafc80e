package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/doxvl/legalization-api/internal/platform/httpx"
	"github.com/doxvl/legalization-api/internal/services"
)

// PricingHandlers previews prices without persisting anything.
type PricingHandlers struct {
	pricing services.PricingService
	limiter rateLimiter
}

// PricingOption customises PricingHandlers.
type PricingOption func(*PricingHandlers)

// WithPricingRateLimit budgets previews per client address.
func WithPricingRateLimit(limit int, window time.Duration) PricingOption {
	return func(h *PricingHandlers) {
		h.limiter = newSlidingRateLimiter(limit, window, nil)
	}
}

// NewPricingHandlers constructs the pricing preview endpoint.
func NewPricingHandlers(pricing services.PricingService, opts ...PricingOption) *PricingHandlers {
	h := &PricingHandlers{pricing: pricing}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers POST /quote.
func (h *PricingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(rateLimitByClientIP("pricing", h.limiter)).Post("/quote", h.quote)
}

func (h *PricingHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pricing == nil {
		writeServiceUnavailable(ctx, w, "pricing")
		return
	}
	var req selectionRequest
	if err := decodeJSONBody(w, r, 0, &req); err != nil {
		writeInvalidRequest(ctx, w, err.Error())
		return
	}
	result, err := h.pricing.Quote(ctx, req.toCommand())
	if err != nil {
		writePricingError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildPriceResult(result))
}
