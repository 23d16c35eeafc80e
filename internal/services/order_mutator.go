package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/doxvl/legalization-api/internal/domain"
	"github.com/doxvl/legalization-api/internal/repositories"
)

var (
	// ErrOrderNotFound indicates the referenced order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidInput indicates the order request is malformed.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderUnavailable indicates the order store failed in a retry-safe way.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

// OrderMutatorDeps bundles collaborators required to construct an order mutator.
type OrderMutatorDeps struct {
	Orders repositories.OrderRepository
	Clock  func() time.Time
	Logger func(context.Context, string, map[string]any)
}

// OrderMutator applies confirmation outcomes onto orders. Every operation is idempotent:
// re-applying an outcome to an order already in the target state writes nothing and succeeds.
type OrderMutator struct {
	orders repositories.OrderRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewOrderMutator constructs an OrderMutator.
func NewOrderMutator(deps OrderMutatorDeps) (*OrderMutator, error) {
	if deps.Orders == nil {
		return nil, errors.New("order mutator: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &OrderMutator{
		orders: deps.Orders,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ApplyConfirmedPrice resolves the embassy TBC line with the confirmed amount.
func (m *OrderMutator) ApplyConfirmedPrice(ctx context.Context, orderID string, payload domain.EmbassyPricePayload) (Order, bool, error) {
	order, changed, err := m.mutate(ctx, orderID, func(order domain.Order) (domain.OrderPatch, error) {
		return confirmedPricePatch(order, payload, m.clock())
	})
	if err == nil && changed && order.Pricing.TotalPrice != payload.ConfirmedTotal {
		m.logger(ctx, "order.embassy_total_mismatch", map[string]any{
			"orderId":        orderID,
			"computedTotal":  order.Pricing.TotalPrice,
			"confirmedTotal": payload.ConfirmedTotal,
		})
	}
	return order, changed, err
}

// DeclineEmbassyPrice cancels the order without touching its pricing.
func (m *OrderMutator) DeclineEmbassyPrice(ctx context.Context, orderID string) (Order, bool, error) {
	return m.mutate(ctx, orderID, func(order domain.Order) (domain.OrderPatch, error) {
		return declinedEmbassyPricePatch(order, m.clock()), nil
	})
}

// ApplyAddress marks the address confirmed. A non-nil corrected address replaces the stored one first.
func (m *OrderMutator) ApplyAddress(ctx context.Context, orderID string, addressType domain.AddressType, corrected *domain.Address) (Order, bool, error) {
	return m.mutate(ctx, orderID, func(order domain.Order) (domain.OrderPatch, error) {
		return addressPatch(order, addressType, corrected, m.clock())
	})
}

// ApplyQuote merges the quote outcome into the order's quote sub-record.
func (m *OrderMutator) ApplyQuote(ctx context.Context, orderID string, outcome domain.OrderQuote) (Order, bool, error) {
	return m.mutate(ctx, orderID, func(order domain.Order) (domain.OrderPatch, error) {
		return quotePatch(order, outcome, m.clock()), nil
	})
}

// SentMarker describes a confirmation that was just sent for an order.
type SentMarker struct {
	Kind        domain.ConfirmationKind
	AddressType domain.AddressType
	Quote       *domain.OrderQuote
}

// MarkConfirmationSent records on the order that a confirmation is pending.
func (m *OrderMutator) MarkConfirmationSent(ctx context.Context, orderID string, marker SentMarker) (Order, bool, error) {
	return m.mutate(ctx, orderID, func(order domain.Order) (domain.OrderPatch, error) {
		return sentPatch(order, marker, m.clock())
	})
}

func (m *OrderMutator) mutate(ctx context.Context, orderID string, fn repositories.OrderMutation) (Order, bool, error) {
	order, changed, err := m.orders.Mutate(ctx, orderID, fn)
	if err != nil {
		return Order{}, false, translateOrderError(err)
	}
	return order, changed, nil
}

func confirmedPricePatch(order domain.Order, payload domain.EmbassyPricePayload, now time.Time) (domain.OrderPatch, error) {
	if payload.ConfirmedPrice < 0 {
		return domain.OrderPatch{}, fmt.Errorf("%w: confirmed price must not be negative", ErrOrderInvalidInput)
	}
	if order.EmbassyPrice.Confirmed && order.EmbassyPrice.ConfirmedPrice == payload.ConfirmedPrice && !hasEmbassyTBCLine(order.Pricing.Breakdown) {
		return domain.OrderPatch{}, nil
	}

	// The confirmed price replaces the embassy line whether it is still TBC or carries a
	// price confirmed in an earlier round.
	breakdown := append([]domain.LineItem(nil), order.Pricing.Breakdown...)
	resolved := false
	for i, line := range breakdown {
		if line.Code != domain.LineEmbassyOfficial {
			continue
		}
		breakdown[i].Quantity = 1
		breakdown[i].UnitPrice = payload.ConfirmedPrice
		breakdown[i].Total = payload.ConfirmedPrice
		breakdown[i].IsTBC = false
		resolved = true
		break
	}
	if !resolved {
		breakdown = append(breakdown, domain.LineItem{
			Code:        domain.LineEmbassyOfficial,
			Description: "Ambassadens officiella avgift",
			Quantity:    1,
			UnitPrice:   payload.ConfirmedPrice,
			Total:       payload.ConfirmedPrice,
		})
	}

	pricing := domain.OrderPricing{
		Breakdown:          breakdown,
		TotalPrice:         domain.SumLines(breakdown),
		UnresolvedServices: append([]domain.ServiceCode(nil), order.Pricing.UnresolvedServices...),
	}
	pricing.HasUnconfirmedPrices = domain.HasTBCLines(breakdown) || len(pricing.UnresolvedServices) > 0

	state := order.EmbassyPrice
	state.Pending = false
	state.Confirmed = true
	state.ConfirmedAt = &now
	state.ConfirmedPrice = payload.ConfirmedPrice

	return domain.OrderPatch{
		Pricing:      &pricing,
		EmbassyPrice: &state,
		UpdatedAt:    &now,
	}, nil
}

func declinedEmbassyPricePatch(order domain.Order, now time.Time) domain.OrderPatch {
	if order.Status == domain.OrderStatusCancelled && order.EmbassyPrice.Declined {
		return domain.OrderPatch{}
	}
	status := domain.OrderStatusCancelled
	reason := domain.EmbassyDeclineReason
	state := order.EmbassyPrice
	state.Pending = false
	state.Declined = true
	state.DeclinedAt = &now
	return domain.OrderPatch{
		Status:             &status,
		CancellationReason: &reason,
		EmbassyPrice:       &state,
		UpdatedAt:          &now,
	}
}

func addressPatch(order domain.Order, addressType domain.AddressType, corrected *domain.Address, now time.Time) (domain.OrderPatch, error) {
	var (
		state   domain.AddressConfirmationState
		current *domain.Address
	)
	switch addressType {
	case domain.AddressTypePickup:
		state = order.PickupConfirmation
		current = order.PickupAddress
	case domain.AddressTypeReturn:
		state = order.ReturnConfirmation
		ret := order.ReturnAddress()
		current = &ret
	default:
		return domain.OrderPatch{}, fmt.Errorf("%w: unknown address type %q", ErrOrderInvalidInput, addressType)
	}

	var next *domain.Address
	if corrected != nil {
		normalized := corrected.Normalize()
		if err := normalized.Validate(); err != nil {
			return domain.OrderPatch{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		if current == nil || *current != normalized {
			next = &normalized
		}
	}
	if next == nil && state.Confirmed {
		return domain.OrderPatch{}, nil
	}

	state.Confirmed = true
	state.ConfirmedAt = &now
	if next != nil {
		state.UpdatedByCustomer = true
	}

	patch := domain.OrderPatch{UpdatedAt: &now}
	if addressType == domain.AddressTypePickup {
		patch.PickupConfirmation = &state
		patch.PickupAddress = next
	} else {
		patch.ReturnConfirmation = &state
		patch.ReturnAddress = next
	}
	return patch, nil
}

func quotePatch(order domain.Order, outcome domain.OrderQuote, now time.Time) domain.OrderPatch {
	if existing := order.Quote; existing != nil && existing.Token == outcome.Token && existing.Status == outcome.Status {
		return domain.OrderPatch{}
	}
	quote := outcome
	quote.LineItems = append([]domain.QuoteLineItem(nil), outcome.LineItems...)
	return domain.OrderPatch{Quote: &quote, UpdatedAt: &now}
}

func sentPatch(order domain.Order, marker SentMarker, now time.Time) (domain.OrderPatch, error) {
	patch := domain.OrderPatch{UpdatedAt: &now}
	switch marker.Kind {
	case domain.ConfirmationKindEmbassyPrice:
		state := order.EmbassyPrice
		state.Pending = true
		state.SentAt = &now
		state.Confirmed = false
		state.ConfirmedAt = nil
		patch.EmbassyPrice = &state
	case domain.ConfirmationKindAddress:
		state := domain.AddressConfirmationState{SentAt: &now}
		switch marker.AddressType {
		case domain.AddressTypePickup:
			patch.PickupConfirmation = &state
		case domain.AddressTypeReturn:
			patch.ReturnConfirmation = &state
		default:
			return domain.OrderPatch{}, fmt.Errorf("%w: unknown address type %q", ErrOrderInvalidInput, marker.AddressType)
		}
	case domain.ConfirmationKindQuote:
		if marker.Quote == nil {
			return domain.OrderPatch{}, fmt.Errorf("%w: quote is required", ErrOrderInvalidInput)
		}
		if existing := order.Quote; existing != nil && existing.Token == marker.Quote.Token {
			return domain.OrderPatch{}, nil
		}
		quote := *marker.Quote
		patch.Quote = &quote
	default:
		return domain.OrderPatch{}, fmt.Errorf("%w: unknown confirmation kind %q", ErrOrderInvalidInput, marker.Kind)
	}
	return patch, nil
}

func hasEmbassyTBCLine(lines []domain.LineItem) bool {
	for _, line := range lines {
		if line.Code == domain.LineEmbassyOfficial && line.IsTBC {
			return true
		}
	}
	return false
}

func translateOrderError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrOrderInvalidInput) || errors.Is(err, ErrOrderNotFound) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %w", errStoreConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
}

// errStoreConflict marks a lost optimistic race that callers classify by re-reading.
var errStoreConflict = errors.New("store conflict")
