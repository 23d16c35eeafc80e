package domain

import (
	"strings"
	"time"
)

// ConfirmationKind discriminates the three token-gated workflows.
type ConfirmationKind string

const (
	ConfirmationKindEmbassyPrice ConfirmationKind = "embassyPrice"
	ConfirmationKindAddress      ConfirmationKind = "address"
	ConfirmationKindQuote        ConfirmationKind = "quote"
)

var confirmationKindAliases = map[string]ConfirmationKind{
	"embassyprice":  ConfirmationKindEmbassyPrice,
	"embassy-price": ConfirmationKindEmbassyPrice,
	"embassy_price": ConfirmationKindEmbassyPrice,
	"address":       ConfirmationKindAddress,
	"quote":         ConfirmationKindQuote,
}

// ParseConfirmationKind accepts camel, kebab and snake case spellings.
func ParseConfirmationKind(raw string) (ConfirmationKind, bool) {
	kind, ok := confirmationKindAliases[strings.ToLower(strings.TrimSpace(raw))]
	return kind, ok
}

// ConfirmationStatus is the stored token state. Expiry is evaluated at read time and never stored.
type ConfirmationStatus string

const (
	ConfirmationStatusSent      ConfirmationStatus = "sent"
	ConfirmationStatusConfirmed ConfirmationStatus = "confirmed"
	ConfirmationStatusDeclined  ConfirmationStatus = "declined"
)

// ConfirmationAction is the customer's response to a token.
type ConfirmationAction string

const (
	ActionConfirm ConfirmationAction = "confirm"
	ActionDecline ConfirmationAction = "decline"
	ActionUpdate  ConfirmationAction = "update"
)

// ParseConfirmationAction normalises the action; "accept" is an alias of confirm.
func ParseConfirmationAction(raw string) (ConfirmationAction, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "confirm", "accept":
		return ActionConfirm, true
	case "decline":
		return ActionDecline, true
	case "update":
		return ActionUpdate, true
	default:
		return "", false
	}
}

// TargetStatus is the token status the action leads to.
func (a ConfirmationAction) TargetStatus() ConfirmationStatus {
	if a == ActionDecline {
		return ConfirmationStatusDeclined
	}
	return ConfirmationStatusConfirmed
}

// Confirmation is a token record carrying a kind-specific payload.
type Confirmation[P any] struct {
	ID            string
	Token         string
	Kind          ConfirmationKind
	OrderID       string
	OrderNumber   string
	CustomerEmail string
	CustomerName  string
	Locale        string
	Payload       P
	Status        ConfirmationStatus
	CreatedBy     string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	RespondedAt   *time.Time
	DeclineReason string
	// UpdateTime is the store revision observed on read; zero for records not yet persisted.
	UpdateTime time.Time
}

// IsExpired reports whether now has reached the expiry instant.
func (c Confirmation[P]) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// IsTerminal reports whether the token was already acted on.
func (c Confirmation[P]) IsTerminal() bool {
	return c.Status != ConfirmationStatusSent
}

// Summary drops the payload for audit listings.
func (c Confirmation[P]) Summary() ConfirmationSummary {
	return ConfirmationSummary{
		Token:         c.Token,
		Kind:          c.Kind,
		OrderID:       c.OrderID,
		OrderNumber:   c.OrderNumber,
		Status:        c.Status,
		CreatedBy:     c.CreatedBy,
		CreatedAt:     c.CreatedAt,
		ExpiresAt:     c.ExpiresAt,
		RespondedAt:   c.RespondedAt,
		DeclineReason: c.DeclineReason,
	}
}

// ConfirmationUpdate is the terminal transition applied to a token.
type ConfirmationUpdate[P any] struct {
	Status        ConfirmationStatus
	RespondedAt   time.Time
	DeclineReason string
	// Payload replaces the stored payload when non-nil.
	Payload *P
}

// ConfirmationSummary is a kind-agnostic view of a token.
type ConfirmationSummary struct {
	Token         string
	Kind          ConfirmationKind
	OrderID       string
	OrderNumber   string
	Status        ConfirmationStatus
	CreatedBy     string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	RespondedAt   *time.Time
	DeclineReason string
}

// EmbassyPricePayload carries a confirmed embassy fee and the resulting order total.
type EmbassyPricePayload struct {
	ConfirmedPrice    int64
	ConfirmedTotal    int64
	OriginalTotal     int64
	OriginalBreakdown []LineItem
	Country           CountryCode
}

// AddressType selects which order address a confirmation covers.
type AddressType string

const (
	AddressTypePickup AddressType = "pickup"
	AddressTypeReturn AddressType = "return"
)

// ParseAddressType validates an address type.
func ParseAddressType(raw string) (AddressType, bool) {
	switch AddressType(strings.ToLower(strings.TrimSpace(raw))) {
	case AddressTypePickup:
		return AddressTypePickup, true
	case AddressTypeReturn:
		return AddressTypeReturn, true
	default:
		return "", false
	}
}

// AddressPayload carries the proposed address. Updated marks a customer correction.
type AddressPayload struct {
	Type    AddressType
	Address Address
	Updated bool
}

// QuoteLineItem is one row of a negotiated quote. VATRate is a whole percentage.
type QuoteLineItem struct {
	Description string
	Quantity    int
	UnitPrice   int64
	Total       int64
	VATRate     int
}

// QuotePayload carries an itemised quote.
type QuotePayload struct {
	LineItems   []QuoteLineItem
	TotalAmount int64
	Message     string
}

// QuoteTotal sums quantity times unit price across the items.
func QuoteTotal(items []QuoteLineItem) int64 {
	var total int64
	for _, item := range items {
		total += int64(item.Quantity) * item.UnitPrice
	}
	return total
}
