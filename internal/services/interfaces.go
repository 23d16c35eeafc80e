package services

import (
	"context"
	"time"

	domain "github.com/doxvl/legalization-api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order               = domain.Order
	Address             = domain.Address
	CustomerInfo        = domain.CustomerInfo
	PricingRule         = domain.PricingRule
	PriceResult         = domain.PriceResult
	ServiceSelection    = domain.ServiceSelection
	ConfirmationKind    = domain.ConfirmationKind
	ConfirmationStatus  = domain.ConfirmationStatus
	ConfirmationSummary = domain.ConfirmationSummary
	SystemHealthReport  = domain.SystemHealthReport
)

// PricingService prices selections against the rules effective now and manages rule versions.
type PricingService interface {
	Quote(ctx context.Context, cmd PriceQuoteCommand) (PriceResult, error)
	// PriceSelection parses and prices a selection, returning both for callers that persist the order.
	PriceSelection(ctx context.Context, cmd PriceQuoteCommand) (ServiceSelection, PriceResult, error)
	ListRules(ctx context.Context, country string) ([]PricingRule, error)
	PublishRule(ctx context.Context, cmd PublishRuleCommand) (PricingRule, error)
}

// PriceQuoteCommand is the raw, unparsed selection received at the boundary.
type PriceQuoteCommand struct {
	Country       string
	Services      []string
	Quantity      int
	Expedited     bool
	ScannedCopies bool
	PickupService bool
	ReturnService string
}

// PublishRuleCommand describes a new pricing rule version.
type PublishRuleCommand struct {
	Country        string
	Service        string
	OfficialFee    int64
	ServiceFee     int64
	OfficialFeeTBC bool
	Currency       string
	ProcessingDays int
	EffectiveFrom  time.Time
	ActorID        string
}

// OrderService creates orders from the public form and resolves them for other flows.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	LookupStatus(ctx context.Context, cmd OrderStatusQuery) (Order, error)
	ResolveOrder(ctx context.Context, orderRef string) (Order, error)
}

// CreateOrderCommand carries the public order form.
type CreateOrderCommand struct {
	Selection     PriceQuoteCommand
	DocumentType  string
	Customer      CustomerInfo
	PickupAddress *Address
	Locale        string
	Notes         string
}

// OrderStatusQuery authenticates a status lookup by order number and email.
type OrderStatusQuery struct {
	OrderNumber string
	Email       string
}

// CounterService issues human-facing sequence numbers.
type CounterService interface {
	NextOrderNumber(ctx context.Context) (string, error)
}

// ConfirmationService runs the token-gated confirmation workflows.
type ConfirmationService interface {
	View(ctx context.Context, kind ConfirmationKind, token string) (ConfirmationView, error)
	Respond(ctx context.Context, cmd RespondCommand) (RespondResult, error)
	SendEmbassyPrice(ctx context.Context, cmd SendEmbassyPriceCommand) (SendResult, error)
	SendAddress(ctx context.Context, cmd SendAddressCommand) (SendResult, error)
	SendQuote(ctx context.Context, cmd SendQuoteCommand) (SendResult, error)
	ListForOrder(ctx context.Context, orderRef string) ([]ConfirmationSummary, error)
}

// ConfirmationView is what the public page renders for a token.
// Payload holds one of domain.EmbassyPricePayload, domain.AddressPayload or domain.QuotePayload.
type ConfirmationView struct {
	Kind          ConfirmationKind
	Status        ConfirmationStatus
	CreatedAt     time.Time
	ExpiresAt     time.Time
	RespondedAt   *time.Time
	DeclineReason string
	Payload       any
	Order         *Order
}

// RespondCommand is a customer action against a token.
type RespondCommand struct {
	Kind           ConfirmationKind
	Token          string
	Action         string
	UpdatedAddress *Address
	DeclineReason  string
}

// RespondResult reports the outcome of a customer action.
type RespondResult struct {
	Kind             ConfirmationKind
	Status           ConfirmationStatus
	Message          string
	AlreadyProcessed bool
}

// SendEmbassyPriceCommand asks the customer to approve a confirmed embassy fee.
type SendEmbassyPriceCommand struct {
	OrderRef       string
	ConfirmedPrice int64
	ConfirmedTotal int64
	ActorID        string
}

// SendAddressCommand asks the customer to confirm a pickup or return address.
// A nil Address proposes the one currently stored on the order.
type SendAddressCommand struct {
	OrderRef string
	Type     string
	Address  *Address
	ActorID  string
}

// QuoteLineInput is one staff-entered quote row.
type QuoteLineInput struct {
	Description string
	Quantity    int
	UnitPrice   int64
	VATRate     int
}

// SendQuoteCommand sends a negotiated quote.
type SendQuoteCommand struct {
	OrderRef  string
	LineItems []QuoteLineInput
	Message   string
	ActorID   string
}

// SendResult is returned to staff after a confirmation was created and queued.
type SendResult struct {
	Kind      ConfirmationKind
	Token     string
	URL       string
	ExpiresAt time.Time
}

// ConfirmationNotifier hands the customer email off for delivery.
type ConfirmationNotifier interface {
	NotifyConfirmationSent(ctx context.Context, notice ConfirmationNotice) error
}

// ConfirmationNotice carries what the email needs. Payload mirrors ConfirmationView.Payload.
type ConfirmationNotice struct {
	Kind      ConfirmationKind
	Order     Order
	Email     string
	Name      string
	Locale    string
	URL       string
	ExpiresAt time.Time
	Payload   any
}

// Confirmation event types published to the order-management subsystem.
const (
	EventConfirmationSent      = "confirmation.sent"
	EventConfirmationResponded = "confirmation.responded"
)

// ConfirmationEvent is published after a confirmation was sent or answered.
type ConfirmationEvent struct {
	Type        string             `json:"type"`
	Kind        ConfirmationKind   `json:"kind"`
	OrderID     string             `json:"orderId"`
	OrderNumber string             `json:"orderNumber"`
	Status      ConfirmationStatus `json:"status"`
	Action      string             `json:"action,omitempty"`
	ActorID     string             `json:"actorId,omitempty"`
	OccurredAt  time.Time          `json:"occurredAt"`
}

// EventPublisher emits confirmation lifecycle events.
type EventPublisher interface {
	PublishConfirmationEvent(ctx context.Context, event ConfirmationEvent) (string, error)
}

// SystemService backs the liveness and readiness endpoints.
type SystemService interface {
	// Liveness never touches dependencies.
	Liveness(ctx context.Context) SystemHealthReport
	// HealthReport probes every registered dependency.
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}
