package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/text/language"

	domain "github.com/doxvl/legalization-api/internal/domain"
	"github.com/doxvl/legalization-api/internal/repositories"
)

var (
	// ErrConfirmationNotFound covers unknown tokens and tokens of another kind alike.
	ErrConfirmationNotFound = errors.New("confirmation: not found")
	// ErrConfirmationExpired indicates the token passed its expiry while still unanswered.
	ErrConfirmationExpired = errors.New("confirmation: expired")
	// ErrConfirmationConflict indicates the token was already answered with a different outcome.
	ErrConfirmationConflict = errors.New("confirmation: already processed")
	// ErrConfirmationInvalidInput indicates a malformed token, action or payload.
	ErrConfirmationInvalidInput = errors.New("confirmation: invalid input")
	// ErrConfirmationUnavailable indicates a retry-safe store failure.
	ErrConfirmationUnavailable = errors.New("confirmation: unavailable")
)

const (
	confirmationMetricNamespace = "github.com/doxvl/legalization-api/confirmations"
	maxDeclineReasonLength      = 1000
	maxQuoteMessageLength       = 5000
	maxQuoteLines               = 50
	defaultAddressCountry       = "Sverige"
)

// ConfirmationTTLs holds the token lifetime per workflow kind. Zero expires tokens immediately.
type ConfirmationTTLs struct {
	EmbassyPrice time.Duration
	Address      time.Duration
	Quote        time.Duration
}

// ConfirmationLinks builds the public URLs mailed to customers.
type ConfirmationLinks struct {
	BaseURL          string
	EmbassyPricePath string
	AddressPath      string
	QuotePath        string
}

// URL returns the public page URL for a token.
func (l ConfirmationLinks) URL(kind domain.ConfirmationKind, token string) string {
	var path string
	switch kind {
	case domain.ConfirmationKindEmbassyPrice:
		path = l.EmbassyPricePath
	case domain.ConfirmationKindAddress:
		path = l.AddressPath
	case domain.ConfirmationKindQuote:
		path = l.QuotePath
	}
	base := strings.TrimRight(strings.TrimSpace(l.BaseURL), "/")
	path = "/" + strings.Trim(strings.TrimSpace(path), "/")
	return base + path + "/" + token
}

// ConfirmationServiceDeps bundles collaborators required to construct the confirmation service.
type ConfirmationServiceDeps struct {
	EmbassyPrices repositories.ConfirmationRepository[domain.EmbassyPricePayload]
	Addresses     repositories.ConfirmationRepository[domain.AddressPayload]
	Quotes        repositories.ConfirmationRepository[domain.QuotePayload]
	Orders        repositories.OrderRepository
	Mutator       *OrderMutator
	UnitOfWork    repositories.UnitOfWork
	Notifier      ConfirmationNotifier
	Events        EventPublisher
	TTLs          ConfirmationTTLs
	Links         ConfirmationLinks
	Meter         metric.Meter
	Clock         func() time.Time
	Logger        func(context.Context, string, map[string]any)
	NewToken      func() (string, error)
}

type confirmationService struct {
	orders    repositories.OrderRepository
	mutator   *OrderMutator
	uow       repositories.UnitOfWork
	notifier  ConfirmationNotifier
	events    EventPublisher
	links     ConfirmationLinks
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
	newToken  func() (string, error)
	sent      metric.Int64Counter
	responded metric.Int64Counter

	embassy *workflow[domain.EmbassyPricePayload]
	address *workflow[domain.AddressPayload]
	quote   *workflow[domain.QuotePayload]
	runners map[domain.ConfirmationKind]confirmationRunner
}

var _ ConfirmationService = (*confirmationService)(nil)

// NewConfirmationService wires the three confirmation workflows.
func NewConfirmationService(deps ConfirmationServiceDeps) (ConfirmationService, error) {
	switch {
	case deps.EmbassyPrices == nil || deps.Addresses == nil || deps.Quotes == nil:
		return nil, errors.New("confirmation service: confirmation repositories are required")
	case deps.Orders == nil:
		return nil, errors.New("confirmation service: order repository is required")
	case deps.Mutator == nil:
		return nil, errors.New("confirmation service: order mutator is required")
	case deps.Notifier == nil:
		return nil, errors.New("confirmation service: notifier is required")
	case strings.TrimSpace(deps.Links.BaseURL) == "":
		return nil, errors.New("confirmation service: public base url is required")
	}
	if deps.TTLs.EmbassyPrice < 0 || deps.TTLs.Address < 0 || deps.TTLs.Quote < 0 {
		return nil, errors.New("confirmation service: ttl must not be negative")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	uow := deps.UnitOfWork
	if uow == nil {
		uow = noopUnitOfWork{}
	}
	newToken := deps.NewToken
	if newToken == nil {
		newToken = randomToken
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(confirmationMetricNamespace)
	}
	sent, err := meter.Int64Counter(
		"confirmations.sent",
		metric.WithDescription("Confirmation tokens created and mailed"),
	)
	if err != nil {
		return nil, fmt.Errorf("confirmation service: sent counter: %w", err)
	}
	responded, err := meter.Int64Counter(
		"confirmations.responded",
		metric.WithDescription("Customer responses to confirmation tokens by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("confirmation service: responded counter: %w", err)
	}

	s := &confirmationService{
		orders:   deps.Orders,
		mutator:  deps.Mutator,
		uow:      uow,
		notifier: deps.Notifier,
		events:   deps.Events,
		links:    deps.Links,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:    logger,
		newToken:  newToken,
		sent:      sent,
		responded: responded,
	}

	s.embassy = &workflow[domain.EmbassyPricePayload]{
		kind:     domain.ConfirmationKindEmbassyPrice,
		store:    deps.EmbassyPrices,
		ttl:      deps.TTLs.EmbassyPrice,
		strategy: s.embassyStrategy(),
		uow:      uow,
		clock:    s.clock,
	}
	s.address = &workflow[domain.AddressPayload]{
		kind:     domain.ConfirmationKindAddress,
		store:    deps.Addresses,
		ttl:      deps.TTLs.Address,
		strategy: s.addressStrategy(),
		uow:      uow,
		clock:    s.clock,
	}
	s.quote = &workflow[domain.QuotePayload]{
		kind:     domain.ConfirmationKindQuote,
		store:    deps.Quotes,
		ttl:      deps.TTLs.Quote,
		strategy: s.quoteStrategy(),
		uow:      uow,
		clock:    s.clock,
	}
	s.runners = map[domain.ConfirmationKind]confirmationRunner{
		domain.ConfirmationKindEmbassyPrice: s.embassy,
		domain.ConfirmationKindAddress:      s.address,
		domain.ConfirmationKindQuote:        s.quote,
	}
	return s, nil
}

func (s *confirmationService) embassyStrategy() workflowStrategy[domain.EmbassyPricePayload] {
	return workflowStrategy[domain.EmbassyPricePayload]{
		actions: []domain.ConfirmationAction{domain.ActionConfirm, domain.ActionDecline},
		prepare: func(_ domain.Confirmation[domain.EmbassyPricePayload], cmd RespondCommand, action domain.ConfirmationAction, now time.Time) (domain.ConfirmationUpdate[domain.EmbassyPricePayload], error) {
			update := domain.ConfirmationUpdate[domain.EmbassyPricePayload]{Status: action.TargetStatus(), RespondedAt: now}
			if action == domain.ActionDecline {
				reason, err := cleanDeclineReason(cmd.DeclineReason)
				if err != nil {
					return update, err
				}
				update.DeclineReason = reason
			}
			return update, nil
		},
		apply: func(ctx context.Context, rec domain.Confirmation[domain.EmbassyPricePayload], update domain.ConfirmationUpdate[domain.EmbassyPricePayload], _ time.Time) error {
			var err error
			if update.Status == domain.ConfirmationStatusDeclined {
				_, _, err = s.mutator.DeclineEmbassyPrice(ctx, rec.OrderID)
			} else {
				_, _, err = s.mutator.ApplyConfirmedPrice(ctx, rec.OrderID, rec.Payload)
			}
			return err
		},
		message: func(status domain.ConfirmationStatus, _ domain.EmbassyPricePayload, lang language.Tag) string {
			if status == domain.ConfirmationStatusDeclined {
				return localized(lang,
					"Beställningen har avböjts. Kontakta oss om du har frågor.",
					"The order has been declined. Please contact us if you have any questions.")
			}
			return localized(lang,
				"Priset har bekräftats! Vi fortsätter nu med din beställning.",
				"The price has been confirmed! We will now proceed with your order.")
		},
	}
}

func (s *confirmationService) addressStrategy() workflowStrategy[domain.AddressPayload] {
	return workflowStrategy[domain.AddressPayload]{
		actions: []domain.ConfirmationAction{domain.ActionConfirm, domain.ActionUpdate},
		prepare: func(rec domain.Confirmation[domain.AddressPayload], cmd RespondCommand, action domain.ConfirmationAction, now time.Time) (domain.ConfirmationUpdate[domain.AddressPayload], error) {
			update := domain.ConfirmationUpdate[domain.AddressPayload]{Status: domain.ConfirmationStatusConfirmed, RespondedAt: now}
			if action == domain.ActionConfirm {
				if err := rec.Payload.Address.Validate(); err != nil {
					return update, fmt.Errorf("%w: %v", ErrConfirmationInvalidInput, err)
				}
				return update, nil
			}
			if cmd.UpdatedAddress == nil {
				return update, fmt.Errorf("%w: updated address is required", ErrConfirmationInvalidInput)
			}
			corrected := cmd.UpdatedAddress.Normalize()
			if corrected.Country == "" {
				corrected.Country = defaultAddressCountry
			}
			if err := corrected.Validate(); err != nil {
				return update, fmt.Errorf("%w: %v", ErrConfirmationInvalidInput, err)
			}
			payload := rec.Payload
			payload.Address = corrected
			payload.Updated = true
			update.Payload = &payload
			return update, nil
		},
		apply: func(ctx context.Context, rec domain.Confirmation[domain.AddressPayload], update domain.ConfirmationUpdate[domain.AddressPayload], _ time.Time) error {
			var corrected *domain.Address
			if update.Payload != nil && update.Payload.Updated {
				addr := update.Payload.Address
				corrected = &addr
			}
			_, _, err := s.mutator.ApplyAddress(ctx, rec.OrderID, rec.Payload.Type, corrected)
			return err
		},
		message: func(_ domain.ConfirmationStatus, payload domain.AddressPayload, lang language.Tag) string {
			if payload.Updated {
				return localized(lang, "Adressen har uppdaterats och bekräftats!", "The address has been updated and confirmed!")
			}
			return localized(lang, "Adressen har bekräftats!", "The address has been confirmed!")
		},
	}
}

func (s *confirmationService) quoteStrategy() workflowStrategy[domain.QuotePayload] {
	return workflowStrategy[domain.QuotePayload]{
		actions: []domain.ConfirmationAction{domain.ActionConfirm, domain.ActionDecline},
		prepare: func(_ domain.Confirmation[domain.QuotePayload], cmd RespondCommand, action domain.ConfirmationAction, now time.Time) (domain.ConfirmationUpdate[domain.QuotePayload], error) {
			update := domain.ConfirmationUpdate[domain.QuotePayload]{Status: action.TargetStatus(), RespondedAt: now}
			if action == domain.ActionDecline {
				reason, err := cleanDeclineReason(cmd.DeclineReason)
				if err != nil {
					return update, err
				}
				update.DeclineReason = reason
			}
			return update, nil
		},
		apply: func(ctx context.Context, rec domain.Confirmation[domain.QuotePayload], update domain.ConfirmationUpdate[domain.QuotePayload], now time.Time) error {
			outcome := domain.OrderQuote{
				Status:      domain.QuoteStatusAccepted,
				Token:       rec.Token,
				SentAt:      rec.CreatedAt,
				RespondedAt: &now,
				TotalAmount: rec.Payload.TotalAmount,
				LineItems:   rec.Payload.LineItems,
			}
			if update.Status == domain.ConfirmationStatusDeclined {
				outcome.Status = domain.QuoteStatusDeclined
				outcome.DeclineReason = update.DeclineReason
			}
			_, _, err := s.mutator.ApplyQuote(ctx, rec.OrderID, outcome)
			return err
		},
		message: func(status domain.ConfirmationStatus, _ domain.QuotePayload, lang language.Tag) string {
			if status == domain.ConfirmationStatusDeclined {
				return localized(lang,
					"Offerten har avböjts. Kontakta oss om du har frågor.",
					"Quote declined. Please contact us if you have any questions.")
			}
			return localized(lang,
				"Offerten är godkänd! Vi fortsätter med din beställning.",
				"Quote accepted! We will proceed with your order.")
		},
	}
}

func (s *confirmationService) View(ctx context.Context, kind ConfirmationKind, token string) (ConfirmationView, error) {
	runner, ok := s.runners[kind]
	if !ok {
		return ConfirmationView{}, ErrConfirmationNotFound
	}
	canonical, err := canonicalToken(token)
	if err != nil {
		return ConfirmationView{}, err
	}
	view, orderID, err := runner.view(ctx, canonical)
	if err != nil {
		return ConfirmationView{}, err
	}
	order, err := s.orders.FindByID(ctx, orderID)
	switch {
	case err == nil:
		view.Order = &order
	case errors.Is(translateOrderError(err), ErrOrderNotFound):
		// The page still renders the token when its order is gone.
	default:
		return ConfirmationView{}, fmt.Errorf("%w: %v", ErrConfirmationUnavailable, err)
	}
	return view, nil
}

func (s *confirmationService) Respond(ctx context.Context, cmd RespondCommand) (RespondResult, error) {
	runner, ok := s.runners[cmd.Kind]
	if !ok {
		return RespondResult{}, ErrConfirmationNotFound
	}
	canonical, err := canonicalToken(cmd.Token)
	if err != nil {
		return RespondResult{}, err
	}
	cmd.Token = canonical

	result, outcome, err := runner.respond(ctx, cmd)
	s.recordResponse(ctx, cmd.Kind, responseOutcomeLabel(result, err))
	if err != nil {
		return RespondResult{}, err
	}
	if result.AlreadyProcessed {
		return result, nil
	}

	s.logger(ctx, "confirmation.responded", map[string]any{
		"kind":        string(cmd.Kind),
		"orderId":     outcome.orderID,
		"orderNumber": outcome.orderNumber,
		"status":      string(result.Status),
		"action":      cmd.Action,
	})
	s.publish(ctx, ConfirmationEvent{
		Type:        EventConfirmationResponded,
		Kind:        cmd.Kind,
		OrderID:     outcome.orderID,
		OrderNumber: outcome.orderNumber,
		Status:      result.Status,
		Action:      strings.ToLower(strings.TrimSpace(cmd.Action)),
		OccurredAt:  s.clock(),
	})
	return result, nil
}

func (s *confirmationService) SendEmbassyPrice(ctx context.Context, cmd SendEmbassyPriceCommand) (SendResult, error) {
	if cmd.ConfirmedPrice <= 0 {
		return SendResult{}, fmt.Errorf("%w: confirmed embassy price must be positive", ErrConfirmationInvalidInput)
	}
	if cmd.ConfirmedTotal < cmd.ConfirmedPrice {
		return SendResult{}, fmt.Errorf("%w: confirmed total must cover the embassy price", ErrConfirmationInvalidInput)
	}
	order, err := s.orderForSend(ctx, cmd.OrderRef)
	if err != nil {
		return SendResult{}, err
	}
	if order.Status == domain.OrderStatusCancelled {
		return SendResult{}, fmt.Errorf("%w: order is cancelled", ErrConfirmationInvalidInput)
	}
	payload := domain.EmbassyPricePayload{
		ConfirmedPrice:    cmd.ConfirmedPrice,
		ConfirmedTotal:    cmd.ConfirmedTotal,
		OriginalTotal:     order.Pricing.TotalPrice,
		OriginalBreakdown: append([]domain.LineItem(nil), order.Pricing.Breakdown...),
		Country:           order.Country,
	}
	return sendConfirmation(ctx, s, s.embassy, order, payload, cmd.ActorID, func(string, time.Time) SentMarker {
		return SentMarker{Kind: domain.ConfirmationKindEmbassyPrice}
	})
}

func (s *confirmationService) SendAddress(ctx context.Context, cmd SendAddressCommand) (SendResult, error) {
	addressType, ok := domain.ParseAddressType(cmd.Type)
	if !ok {
		return SendResult{}, fmt.Errorf("%w: type must be pickup or return", ErrConfirmationInvalidInput)
	}
	order, err := s.orderForSend(ctx, cmd.OrderRef)
	if err != nil {
		return SendResult{}, err
	}

	var proposed domain.Address
	if cmd.Address != nil {
		proposed = cmd.Address.Normalize()
		if err := proposed.Validate(); err != nil {
			return SendResult{}, fmt.Errorf("%w: %v", ErrConfirmationInvalidInput, err)
		}
	} else {
		proposed = proposedAddress(order, addressType)
	}
	if proposed.Country == "" {
		proposed.Country = defaultAddressCountry
	}
	if proposed.ContactName == "" {
		proposed.ContactName = order.Customer.FullName()
	}
	if proposed.Phone == "" {
		proposed.Phone = order.Customer.Phone
	}

	payload := domain.AddressPayload{Type: addressType, Address: proposed}
	return sendConfirmation(ctx, s, s.address, order, payload, cmd.ActorID, func(string, time.Time) SentMarker {
		return SentMarker{Kind: domain.ConfirmationKindAddress, AddressType: addressType}
	})
}

func (s *confirmationService) SendQuote(ctx context.Context, cmd SendQuoteCommand) (SendResult, error) {
	items, err := buildQuoteLines(cmd.LineItems)
	if err != nil {
		return SendResult{}, err
	}
	message := strings.TrimSpace(cmd.Message)
	if utf8.RuneCountInString(message) > maxQuoteMessageLength {
		return SendResult{}, fmt.Errorf("%w: message exceeds %d characters", ErrConfirmationInvalidInput, maxQuoteMessageLength)
	}
	order, err := s.orderForSend(ctx, cmd.OrderRef)
	if err != nil {
		return SendResult{}, err
	}
	payload := domain.QuotePayload{
		LineItems:   items,
		TotalAmount: domain.QuoteTotal(items),
		Message:     message,
	}
	return sendConfirmation(ctx, s, s.quote, order, payload, cmd.ActorID, func(token string, now time.Time) SentMarker {
		return SentMarker{
			Kind: domain.ConfirmationKindQuote,
			Quote: &domain.OrderQuote{
				Status:      domain.QuoteStatusSent,
				Token:       token,
				SentAt:      now,
				TotalAmount: payload.TotalAmount,
				LineItems:   items,
			},
		}
	})
}

func (s *confirmationService) ListForOrder(ctx context.Context, orderRef string) ([]ConfirmationSummary, error) {
	order, err := resolveOrder(ctx, s.orders, orderRef)
	if err != nil {
		return nil, err
	}
	var out []ConfirmationSummary
	for _, kind := range []domain.ConfirmationKind{domain.ConfirmationKindEmbassyPrice, domain.ConfirmationKindAddress, domain.ConfirmationKindQuote} {
		summaries, err := s.runners[kind].list(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, summaries...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// sendConfirmation marks the order, stores the token and queues the email in one unit of work,
// then publishes the sent event.
func sendConfirmation[P any](ctx context.Context, s *confirmationService, w *workflow[P], order Order, payload P, actorID string, marker func(token string, now time.Time) SentMarker) (SendResult, error) {
	token, err := s.newToken()
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: generate token: %v", ErrConfirmationUnavailable, err)
	}
	url := s.links.URL(w.kind, token)

	var created domain.Confirmation[P]
	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		now := s.clock()
		if _, _, err := s.mutator.MarkConfirmationSent(ctx, order.ID, marker(token, now)); err != nil {
			return err
		}
		rec, err := w.create(ctx, order, token, payload, actorID, now)
		if err != nil {
			return err
		}
		created = rec
		return s.notifier.NotifyConfirmationSent(ctx, ConfirmationNotice{
			Kind:      w.kind,
			Order:     order,
			Email:     order.Customer.Email,
			Name:      order.Customer.FullName(),
			Locale:    order.Locale,
			URL:       url,
			ExpiresAt: rec.ExpiresAt,
			Payload:   payload,
		})
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrOrderNotFound):
			return SendResult{}, ErrOrderNotFound
		case errors.Is(err, ErrOrderInvalidInput):
			return SendResult{}, fmt.Errorf("%w: %v", ErrConfirmationInvalidInput, err)
		case errors.Is(err, ErrConfirmationInvalidInput), errors.Is(err, ErrConfirmationUnavailable):
			return SendResult{}, err
		default:
			return SendResult{}, fmt.Errorf("%w: %v", ErrConfirmationUnavailable, err)
		}
	}

	s.sent.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(w.kind))))
	s.logger(ctx, "confirmation.sent", map[string]any{
		"kind":        string(w.kind),
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"expiresAt":   created.ExpiresAt,
		"actorId":     actorID,
	})
	s.publish(ctx, ConfirmationEvent{
		Type:        EventConfirmationSent,
		Kind:        w.kind,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      domain.ConfirmationStatusSent,
		ActorID:     actorID,
		OccurredAt:  created.CreatedAt,
	})
	return SendResult{Kind: w.kind, Token: token, URL: url, ExpiresAt: created.ExpiresAt}, nil
}

func (s *confirmationService) orderForSend(ctx context.Context, orderRef string) (Order, error) {
	order, err := resolveOrder(ctx, s.orders, orderRef)
	if err != nil {
		return Order{}, err
	}
	email := strings.TrimSpace(order.Customer.Email)
	if email == "" {
		return Order{}, fmt.Errorf("%w: customer has no email address", ErrConfirmationInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return Order{}, fmt.Errorf("%w: customer email is invalid", ErrConfirmationInvalidInput)
	}
	order.Customer.Email = email
	return order, nil
}

// publish is best effort; the response already committed.
func (s *confirmationService) publish(ctx context.Context, event ConfirmationEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishConfirmationEvent(ctx, event); err != nil {
		s.logger(ctx, "confirmation.publish_failed", map[string]any{
			"type":    event.Type,
			"kind":    string(event.Kind),
			"orderId": event.OrderID,
			"error":   err.Error(),
		})
	}
}

func (s *confirmationService) recordResponse(ctx context.Context, kind ConfirmationKind, outcome string) {
	s.responded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("outcome", outcome),
	))
}

func responseOutcomeLabel(result RespondResult, err error) string {
	switch {
	case err == nil && result.AlreadyProcessed:
		return "already_processed"
	case err == nil:
		return string(result.Status)
	case errors.Is(err, ErrConfirmationExpired):
		return "expired"
	case errors.Is(err, ErrConfirmationConflict):
		return "conflict"
	case errors.Is(err, ErrConfirmationNotFound):
		return "not_found"
	case errors.Is(err, ErrConfirmationInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}

func proposedAddress(order Order, addressType domain.AddressType) domain.Address {
	customer := order.Customer.Address
	if addressType == domain.AddressTypeReturn || order.PickupAddress == nil {
		return customer
	}
	pickup := *order.PickupAddress
	if pickup.Street == "" {
		pickup.Street = customer.Street
	}
	if pickup.PostalCode == "" {
		pickup.PostalCode = customer.PostalCode
	}
	if pickup.City == "" {
		pickup.City = customer.City
	}
	if pickup.CompanyName == "" {
		pickup.CompanyName = customer.CompanyName
	}
	return pickup
}

func buildQuoteLines(inputs []QuoteLineInput) ([]domain.QuoteLineItem, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one quote line is required", ErrConfirmationInvalidInput)
	}
	if len(inputs) > maxQuoteLines {
		return nil, fmt.Errorf("%w: at most %d quote lines are allowed", ErrConfirmationInvalidInput, maxQuoteLines)
	}
	items := make([]domain.QuoteLineItem, 0, len(inputs))
	for i, in := range inputs {
		description := strings.TrimSpace(in.Description)
		switch {
		case description == "":
			return nil, fmt.Errorf("%w: line %d description is required", ErrConfirmationInvalidInput, i+1)
		case in.Quantity < 1:
			return nil, fmt.Errorf("%w: line %d quantity must be at least 1", ErrConfirmationInvalidInput, i+1)
		case in.UnitPrice < 0:
			return nil, fmt.Errorf("%w: line %d unit price must not be negative", ErrConfirmationInvalidInput, i+1)
		case in.VATRate < 0 || in.VATRate > 100:
			return nil, fmt.Errorf("%w: line %d vat rate must be between 0 and 100", ErrConfirmationInvalidInput, i+1)
		}
		items = append(items, domain.QuoteLineItem{
			Description: description,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			Total:       int64(in.Quantity) * in.UnitPrice,
			VATRate:     in.VATRate,
		})
	}
	return items, nil
}

func cleanDeclineReason(raw string) (string, error) {
	reason := strings.TrimSpace(raw)
	if utf8.RuneCountInString(reason) > maxDeclineReasonLength {
		return "", fmt.Errorf("%w: decline reason exceeds %d characters", ErrConfirmationInvalidInput, maxDeclineReasonLength)
	}
	return reason, nil
}

// canonicalToken accepts only the 36 character UUID text form and lower-cases it.
func canonicalToken(raw string) (string, error) {
	token := strings.TrimSpace(raw)
	if len(token) != 36 {
		return "", fmt.Errorf("%w: malformed token", ErrConfirmationInvalidInput)
	}
	parsed, err := uuid.Parse(token)
	if err != nil {
		return "", fmt.Errorf("%w: malformed token", ErrConfirmationInvalidInput)
	}
	return parsed.String(), nil
}

func randomToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
