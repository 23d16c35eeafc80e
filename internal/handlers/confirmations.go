package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/doxvl/legalization-api/internal/domain"
	"github.com/doxvl/legalization-api/internal/platform/httpx"
	"github.com/doxvl/legalization-api/internal/services"
)

const maxRespondBodySize = 8 * 1024

// ConfirmationHandlers serves the public token pages under /confirmation.
type ConfirmationHandlers struct {
	confirmations services.ConfirmationService
	limiter       rateLimiter
}

// ConfirmationOption customises ConfirmationHandlers.
type ConfirmationOption func(*ConfirmationHandlers)

// WithConfirmationRateLimit budgets token requests per client address. A zero limit disables it.
func WithConfirmationRateLimit(limit int, window time.Duration) ConfirmationOption {
	return func(h *ConfirmationHandlers) {
		h.limiter = newSlidingRateLimiter(limit, window, nil)
	}
}

// NewConfirmationHandlers constructs the public confirmation endpoints.
func NewConfirmationHandlers(confirmations services.ConfirmationService, opts ...ConfirmationOption) *ConfirmationHandlers {
	h := &ConfirmationHandlers{confirmations: confirmations}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers GET and POST /{kind}/{token}.
func (h *ConfirmationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(rateLimitByClientIP("confirmation", h.limiter))
	r.Get("/{kind}/{token}", h.view)
	r.Post("/{kind}/{token}", h.respond)
}

type confirmationResponse struct {
	Confirmation confirmationPayload `json:"confirmation"`
	Order        *publicOrderPayload `json:"order"`
}

func (h *ConfirmationHandlers) view(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.confirmations == nil {
		writeServiceUnavailable(ctx, w, "confirmation")
		return
	}
	kind, token, ok := confirmationTarget(r)
	if !ok {
		writeConfirmationError(ctx, w, services.ErrConfirmationNotFound)
		return
	}

	view, err := h.confirmations.View(ctx, kind, token)
	if err != nil {
		writeConfirmationError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, confirmationResponse{
		Confirmation: buildConfirmationPayload(view),
		Order:        buildPublicOrder(view.Order),
	})
}

type respondRequest struct {
	Action         string          `json:"action"`
	UpdatedAddress *addressPayload `json:"updatedAddress"`
	DeclineReason  string          `json:"declineReason"`
}

type respondResponse struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	Status           string `json:"status"`
	AlreadyProcessed bool   `json:"alreadyProcessed,omitempty"`
}

func (h *ConfirmationHandlers) respond(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.confirmations == nil {
		writeServiceUnavailable(ctx, w, "confirmation")
		return
	}
	kind, token, ok := confirmationTarget(r)
	if !ok {
		writeConfirmationError(ctx, w, services.ErrConfirmationNotFound)
		return
	}

	var req respondRequest
	if err := decodeJSONBody(w, r, maxRespondBodySize, &req); err != nil {
		writeInvalidRequest(ctx, w, err.Error())
		return
	}
	if strings.TrimSpace(req.Action) == "" {
		writeInvalidRequest(ctx, w, "action is required")
		return
	}

	cmd := services.RespondCommand{
		Kind:          kind,
		Token:         token,
		Action:        req.Action,
		DeclineReason: req.DeclineReason,
	}
	if req.UpdatedAddress != nil {
		addr := req.UpdatedAddress.toDomain()
		cmd.UpdatedAddress = &addr
	}

	result, err := h.confirmations.Respond(ctx, cmd)
	if err != nil {
		writeConfirmationError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, respondResponse{
		Success:          true,
		Message:          result.Message,
		Status:           string(result.Status),
		AlreadyProcessed: result.AlreadyProcessed,
	})
}

// confirmationTarget parses the path. An unknown kind reads as an invalid link.
func confirmationTarget(r *http.Request) (domain.ConfirmationKind, string, bool) {
	kind, ok := domain.ParseConfirmationKind(chi.URLParam(r, "kind"))
	if !ok {
		return "", "", false
	}
	return kind, strings.TrimSpace(chi.URLParam(r, "token")), true
}
