package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	domain "github.com/doxvl/legalization-api/internal/domain"
	"github.com/doxvl/legalization-api/internal/repositories"
)

const (
	orderEventCreated = "order.created"

	orderIDPrefix       = "ord_"
	maxOrderNotesLength = 2000
	maxDocumentTypeLen  = 120
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Pricing     PricingService
	Counters    CounterService
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	pricing  PricingService
	counters CounterService
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing service is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:   deps.Orders,
		pricing:  deps.Pricing,
		counters: deps.Counters,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	customer, err := normalizeCustomer(cmd.Customer)
	if err != nil {
		return Order{}, err
	}

	var pickup *domain.Address
	if cmd.PickupAddress != nil {
		addr := cmd.PickupAddress.Normalize()
		if err := addr.Validate(); err != nil {
			return Order{}, fmt.Errorf("%w: pickup address: %v", ErrOrderInvalidInput, err)
		}
		pickup = &addr
	}
	if cmd.Selection.PickupService && pickup == nil {
		addr := customer.Address
		pickup = &addr
	}

	documentType := strings.TrimSpace(cmd.DocumentType)
	if utf8.RuneCountInString(documentType) > maxDocumentTypeLen {
		return Order{}, fmt.Errorf("%w: document type is too long", ErrOrderInvalidInput)
	}
	notes := strings.TrimSpace(cmd.Notes)
	if utf8.RuneCountInString(notes) > maxOrderNotesLength {
		return Order{}, fmt.Errorf("%w: notes exceed %d characters", ErrOrderInvalidInput, maxOrderNotesLength)
	}

	selection, price, err := s.pricing.PriceSelection(ctx, cmd.Selection)
	if err != nil {
		switch {
		case errors.Is(err, ErrPricingInvalidInput):
			return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		default:
			return Order{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	number, err := s.counters.NextOrderNumber(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("%w: order number: %v", ErrOrderUnavailable, err)
	}

	now := s.clock()
	order := Order{
		ID:            s.nextOrderID(),
		OrderNumber:   number,
		Country:       selection.Country,
		Services:      selection.Services,
		Quantity:      selection.Quantity,
		DocumentType:  documentType,
		AddOns:        selection.AddOns,
		Customer:      customer,
		PickupAddress: pickup,
		Locale:        matchLocale(cmd.Locale).String(),
		Status:        domain.OrderStatusPending,
		Currency:      price.Currency,
		Pricing: domain.OrderPricing{
			Breakdown:            price.LineItems,
			TotalPrice:           price.Total,
			HasUnconfirmedPrices: price.HasUnconfirmedPrices(),
			UnresolvedServices:   price.UnresolvedServices,
		},
		Notes:     notes,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, translateOrderError(err)
	}

	s.logger(ctx, orderEventCreated, map[string]any{
		"orderId":              order.ID,
		"orderNumber":          order.OrderNumber,
		"country":              string(order.Country),
		"totalPrice":           order.Pricing.TotalPrice,
		"hasUnconfirmedPrices": order.Pricing.HasUnconfirmedPrices,
	})
	return order, nil
}

// LookupStatus treats an email mismatch exactly like an unknown order number.
func (s *orderService) LookupStatus(ctx context.Context, query OrderStatusQuery) (Order, error) {
	number := strings.ToUpper(strings.TrimSpace(query.OrderNumber))
	email := strings.TrimSpace(query.Email)
	if number == "" || email == "" {
		return Order{}, fmt.Errorf("%w: order number and email are required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByNumber(ctx, number)
	if err != nil {
		return Order{}, translateOrderError(err)
	}
	if !strings.EqualFold(strings.TrimSpace(order.Customer.Email), email) {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (s *orderService) ResolveOrder(ctx context.Context, orderRef string) (Order, error) {
	return resolveOrder(ctx, s.orders, orderRef)
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

// resolveOrder accepts a document id or a human-facing order number.
func resolveOrder(ctx context.Context, orders repositories.OrderRepository, orderRef string) (Order, error) {
	ref := strings.TrimSpace(orderRef)
	if ref == "" {
		return Order{}, fmt.Errorf("%w: order reference is required", ErrOrderInvalidInput)
	}
	order, err := orders.FindByID(ctx, ref)
	if err == nil {
		return order, nil
	}
	if err = translateOrderError(err); !errors.Is(err, ErrOrderNotFound) {
		return Order{}, err
	}
	order, err = orders.FindByNumber(ctx, strings.ToUpper(ref))
	if err != nil {
		return Order{}, translateOrderError(err)
	}
	return order, nil
}

func normalizeCustomer(in CustomerInfo) (CustomerInfo, error) {
	out := CustomerInfo{
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Email:     strings.TrimSpace(in.Email),
		Phone:     strings.TrimSpace(in.Phone),
		Address:   in.Address.Normalize(),
	}
	if out.FirstName == "" || out.LastName == "" {
		return CustomerInfo{}, fmt.Errorf("%w: customer name is required", ErrOrderInvalidInput)
	}
	parsed, err := mail.ParseAddress(out.Email)
	if err != nil {
		return CustomerInfo{}, fmt.Errorf("%w: customer email is invalid", ErrOrderInvalidInput)
	}
	out.Email = parsed.Address
	if err := out.Address.Validate(); err != nil {
		return CustomerInfo{}, fmt.Errorf("%w: customer address: %v", ErrOrderInvalidInput, err)
	}
	return out, nil
}

// noopUnitOfWork runs callbacks without a transaction.
type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
