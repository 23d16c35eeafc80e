package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/doxvl/legalization-api/internal/platform/auth"
	"github.com/doxvl/legalization-api/internal/platform/httpx"
	"github.com/doxvl/legalization-api/internal/services"
)

// InternalConfirmationHandlers serves server-to-server requests from the order-management subsystem.
// Authentication is applied by the router's /internal middlewares.
type InternalConfirmationHandlers struct {
	confirmations services.ConfirmationService
}

// NewInternalConfirmationHandlers constructs the internal endpoints.
func NewInternalConfirmationHandlers(confirmations services.ConfirmationService) *InternalConfirmationHandlers {
	return &InternalConfirmationHandlers{confirmations: confirmations}
}

// Routes registers the /internal endpoints.
func (h *InternalConfirmationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/{orderRef}/address-confirmations", h.sendAddress)
}

func (h *InternalConfirmationHandlers) sendAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.confirmations == nil {
		writeServiceUnavailable(ctx, w, "confirmation")
		return
	}
	service, ok := auth.ServiceIdentityFromContext(ctx)
	if !ok || service == nil {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "service authentication required", http.StatusUnauthorized))
		return
	}
	orderRef := strings.TrimSpace(chi.URLParam(r, "orderRef"))
	if orderRef == "" {
		writeInvalidRequest(ctx, w, "order reference is required")
		return
	}
	handleAddressSend(ctx, w, r, h.confirmations, service.ActorID(), orderRef)
}
