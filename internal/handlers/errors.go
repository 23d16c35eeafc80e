package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/doxvl/legalization-api/internal/platform/httpx"
	"github.com/doxvl/legalization-api/internal/services"
)

const invalidLinkMessage = "invalid or expired link"

func writeServiceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

func writeInvalidRequest(ctx context.Context, w http.ResponseWriter, message string) {
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
}

// writeConfirmationError maps workflow sentinels. NotFound never says why the link is invalid.
func writeConfirmationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrConfirmationNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("confirmation_not_found", invalidLinkMessage, http.StatusNotFound))
	case errors.Is(err, services.ErrConfirmationExpired):
		httpx.WriteError(ctx, w, httpx.NewError("confirmation_expired", "the link has expired, contact us for a new confirmation link", http.StatusGone))
	case errors.Is(err, services.ErrConfirmationConflict):
		httpx.WriteError(ctx, w, httpx.NewError("confirmation_already_processed", "this confirmation was already answered", http.StatusBadRequest))
	case errors.Is(err, services.ErrConfirmationInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", sentinelDetail(err, services.ErrConfirmationInvalidInput), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrConfirmationUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("confirmation_unavailable", "confirmation store unavailable, retry later", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", sentinelDetail(err, services.ErrOrderInvalidInput), http.StatusBadRequest))
	case errors.Is(err, services.ErrPricingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_selection", sentinelDetail(err, services.ErrPricingInvalidInput), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderUnavailable), errors.Is(err, services.ErrPricingUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_unavailable", "order store unavailable, retry later", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
	}
}

func writePricingError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPricingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_selection", sentinelDetail(err, services.ErrPricingInvalidInput), http.StatusBadRequest))
	case errors.Is(err, services.ErrPricingUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("pricing_unavailable", "pricing rules unavailable, retry later", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
	}
}

// sentinelDetail strips the sentinel prefix so clients see only the validation detail.
func sentinelDetail(err, sentinel error) string {
	msg := err.Error()
	prefix := sentinel.Error() + ": "
	if idx := strings.Index(msg, prefix); idx >= 0 {
		msg = msg[idx+len(prefix):]
	}
	if msg == sentinel.Error() {
		return "invalid request"
	}
	return msg
}
