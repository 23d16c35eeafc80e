package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OrderStatus enumerates order lifecycle states maintained by the order-management subsystem.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was received and awaits processing.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates staff started working on the documents.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the documents are on their way back.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the documents reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCompleted indicates the order is closed.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled indicates the order was cancelled.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// EmbassyDeclineReason is recorded on an order cancelled because the customer declined the embassy price.
const EmbassyDeclineReason = "Customer declined embassy price"

// ErrInvalidAddress is returned when an address lacks a required component.
var ErrInvalidAddress = errors.New("domain: invalid address")

// Address is a postal address used for pickup or return shipping.
type Address struct {
	Street      string
	PostalCode  string
	City        string
	Country     string
	CompanyName string
	ContactName string
	Phone       string
}

// Normalize trims whitespace from every component.
func (a Address) Normalize() Address {
	return Address{
		Street:      strings.TrimSpace(a.Street),
		PostalCode:  strings.TrimSpace(a.PostalCode),
		City:        strings.TrimSpace(a.City),
		Country:     strings.TrimSpace(a.Country),
		CompanyName: strings.TrimSpace(a.CompanyName),
		ContactName: strings.TrimSpace(a.ContactName),
		Phone:       strings.TrimSpace(a.Phone),
	}
}

// Validate requires street, postal code and city.
func (a Address) Validate() error {
	var missing []string
	if strings.TrimSpace(a.Street) == "" {
		missing = append(missing, "street")
	}
	if strings.TrimSpace(a.PostalCode) == "" {
		missing = append(missing, "postalCode")
	}
	if strings.TrimSpace(a.City) == "" {
		missing = append(missing, "city")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidAddress, strings.Join(missing, ", "))
	}
	return nil
}

// CustomerInfo holds the contact details captured with the order. Address doubles as the return address.
type CustomerInfo struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Address   Address
}

// FullName joins first and last name.
func (c CustomerInfo) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
}

// OrderPricing is the priced snapshot stored on an order.
type OrderPricing struct {
	Breakdown            []LineItem
	TotalPrice           int64
	HasUnconfirmedPrices bool
	UnresolvedServices   []ServiceCode
}

// EmbassyPriceState tracks the embassy-price confirmation outcome on an order.
type EmbassyPriceState struct {
	Pending        bool
	SentAt         *time.Time
	Confirmed      bool
	ConfirmedAt    *time.Time
	ConfirmedPrice int64
	Declined       bool
	DeclinedAt     *time.Time
}

// AddressConfirmationState tracks an address confirmation outcome on an order.
type AddressConfirmationState struct {
	SentAt            *time.Time
	Confirmed         bool
	ConfirmedAt       *time.Time
	UpdatedByCustomer bool
}

// QuoteStatus enumerates the quote sub-record states.
type QuoteStatus string

const (
	QuoteStatusSent     QuoteStatus = "sent"
	QuoteStatusAccepted QuoteStatus = "accepted"
	QuoteStatusDeclined QuoteStatus = "declined"
)

// OrderQuote is the negotiated quote merged onto an order, independent of the pricing breakdown.
type OrderQuote struct {
	Status        QuoteStatus
	Token         string
	SentAt        time.Time
	RespondedAt   *time.Time
	TotalAmount   int64
	LineItems     []QuoteLineItem
	DeclineReason string
}

// Order is the subset of the order aggregate read and patched by the pricing and confirmation engine.
type Order struct {
	ID                 string
	OrderNumber        string
	Country            CountryCode
	Services           []ServiceCode
	Quantity           int
	DocumentType       string
	AddOns             AddOns
	Customer           CustomerInfo
	PickupAddress      *Address
	Locale             string
	Status             OrderStatus
	CancellationReason string
	Currency           string
	Pricing            OrderPricing
	EmbassyPrice       EmbassyPriceState
	PickupConfirmation AddressConfirmationState
	ReturnConfirmation AddressConfirmationState
	Quote              *OrderQuote
	Notes              string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ReturnAddress returns the customer address used for return shipping.
func (o Order) ReturnAddress() Address {
	return o.Customer.Address
}

// PriceConsistent reports whether the stored total satisfies the breakdown invariant.
func (o Order) PriceConsistent() bool {
	if o.Pricing.HasUnconfirmedPrices {
		return true
	}
	return o.Pricing.TotalPrice == SumLines(o.Pricing.Breakdown)
}

// OrderPatch lists the order fields a mutation changes. Nil fields are left untouched.
type OrderPatch struct {
	Pricing            *OrderPricing
	Status             *OrderStatus
	CancellationReason *string
	EmbassyPrice       *EmbassyPriceState
	PickupAddress      *Address
	ReturnAddress      *Address
	PickupConfirmation *AddressConfirmationState
	ReturnConfirmation *AddressConfirmationState
	Quote              *OrderQuote
	UpdatedAt          *time.Time
}

// IsEmpty reports whether the patch changes nothing besides the timestamp.
func (p OrderPatch) IsEmpty() bool {
	return p.Pricing == nil &&
		p.Status == nil &&
		p.CancellationReason == nil &&
		p.EmbassyPrice == nil &&
		p.PickupAddress == nil &&
		p.ReturnAddress == nil &&
		p.PickupConfirmation == nil &&
		p.ReturnConfirmation == nil &&
		p.Quote == nil
}

// WithPatch returns a copy of the order with the patch applied.
func (o Order) WithPatch(p OrderPatch) Order {
	out := o
	if p.Pricing != nil {
		pricing := *p.Pricing
		pricing.Breakdown = append([]LineItem(nil), p.Pricing.Breakdown...)
		pricing.UnresolvedServices = append([]ServiceCode(nil), p.Pricing.UnresolvedServices...)
		out.Pricing = pricing
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.CancellationReason != nil {
		out.CancellationReason = *p.CancellationReason
	}
	if p.EmbassyPrice != nil {
		out.EmbassyPrice = *p.EmbassyPrice
	}
	if p.PickupAddress != nil {
		addr := *p.PickupAddress
		out.PickupAddress = &addr
	}
	if p.ReturnAddress != nil {
		out.Customer.Address = *p.ReturnAddress
	}
	if p.PickupConfirmation != nil {
		out.PickupConfirmation = *p.PickupConfirmation
	}
	if p.ReturnConfirmation != nil {
		out.ReturnConfirmation = *p.ReturnConfirmation
	}
	if p.Quote != nil {
		quote := *p.Quote
		quote.LineItems = append([]QuoteLineItem(nil), p.Quote.LineItems...)
		out.Quote = &quote
	}
	if p.UpdatedAt != nil {
		out.UpdatedAt = *p.UpdatedAt
	}
	return out
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
