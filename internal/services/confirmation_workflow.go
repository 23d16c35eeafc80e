package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/language"

	domain "github.com/doxvl/legalization-api/internal/domain"
	"github.com/doxvl/legalization-api/internal/repositories"
)

// workflowStrategy holds the kind-specific parts of a confirmation workflow.
type workflowStrategy[P any] struct {
	actions []domain.ConfirmationAction
	// prepare validates the request against the record and builds the terminal update.
	prepare func(rec domain.Confirmation[P], cmd RespondCommand, action domain.ConfirmationAction, now time.Time) (domain.ConfirmationUpdate[P], error)
	// apply writes the outcome onto the order. It must be idempotent.
	apply func(ctx context.Context, rec domain.Confirmation[P], update domain.ConfirmationUpdate[P], now time.Time) error
	// message is the customer-facing text for a terminal status.
	message func(status domain.ConfirmationStatus, payload P, lang language.Tag) string
}

func (s workflowStrategy[P]) allows(action domain.ConfirmationAction) bool {
	for _, allowed := range s.actions {
		if allowed == action {
			return true
		}
	}
	return false
}

// respondOutcome carries what the service needs after a response for events and metrics.
type respondOutcome struct {
	orderID     string
	orderNumber string
}

// confirmationRunner is the kind-erased view of a workflow used by the service.
type confirmationRunner interface {
	view(ctx context.Context, token string) (ConfirmationView, string, error)
	respond(ctx context.Context, cmd RespondCommand) (RespondResult, respondOutcome, error)
	list(ctx context.Context, orderID string) ([]ConfirmationSummary, error)
}

// workflow is the shared sent -> confirmed|declined state machine for one payload type.
type workflow[P any] struct {
	kind     domain.ConfirmationKind
	store    repositories.ConfirmationRepository[P]
	ttl      time.Duration
	strategy workflowStrategy[P]
	uow      repositories.UnitOfWork
	clock    func() time.Time
}

var _ confirmationRunner = (*workflow[domain.QuotePayload])(nil)

func (w *workflow[P]) lookup(ctx context.Context, token string) (domain.Confirmation[P], error) {
	rec, err := w.store.FindByToken(ctx, token)
	if err != nil {
		return domain.Confirmation[P]{}, translateConfirmationError(err)
	}
	// A token of another kind is reported exactly like an unknown token.
	if rec.Kind != w.kind {
		return domain.Confirmation[P]{}, ErrConfirmationNotFound
	}
	return rec, nil
}

func (w *workflow[P]) view(ctx context.Context, token string) (ConfirmationView, string, error) {
	rec, err := w.lookup(ctx, token)
	if err != nil {
		return ConfirmationView{}, "", err
	}
	if rec.IsExpired(w.clock()) {
		return ConfirmationView{}, "", ErrConfirmationExpired
	}
	return ConfirmationView{
		Kind:          rec.Kind,
		Status:        rec.Status,
		CreatedAt:     rec.CreatedAt,
		ExpiresAt:     rec.ExpiresAt,
		RespondedAt:   rec.RespondedAt,
		DeclineReason: rec.DeclineReason,
		Payload:       rec.Payload,
	}, rec.OrderID, nil
}

// respond runs lookup, validation, order mutation and token transition in one unit of work.
// The order mutation precedes the transition so a failed transition never leaves a terminal
// token without its order effect.
func (w *workflow[P]) respond(ctx context.Context, cmd RespondCommand) (RespondResult, respondOutcome, error) {
	action, ok := domain.ParseConfirmationAction(cmd.Action)
	if !ok || !w.strategy.allows(action) {
		return RespondResult{}, respondOutcome{}, fmt.Errorf("%w: unsupported action %q", ErrConfirmationInvalidInput, cmd.Action)
	}

	var (
		result  RespondResult
		outcome respondOutcome
	)
	err := w.uow.RunInTx(ctx, func(ctx context.Context) error {
		result = RespondResult{}
		now := w.clock()

		rec, err := w.lookup(ctx, cmd.Token)
		if err != nil {
			return err
		}
		outcome = respondOutcome{orderID: rec.OrderID, orderNumber: rec.OrderNumber}

		// Expiry wins over every state, answered tokens included.
		if rec.IsExpired(now) {
			return ErrConfirmationExpired
		}
		if rec.IsTerminal() {
			result, err = w.alreadyProcessed(rec, action)
			return err
		}

		update, err := w.strategy.prepare(rec, cmd, action, now)
		if err != nil {
			return err
		}
		if err := w.strategy.apply(ctx, rec, update, now); err != nil {
			return translateMutationError(err)
		}
		updated, err := w.store.Transition(ctx, rec, update)
		if err != nil {
			return translateConfirmationError(err)
		}
		result = RespondResult{
			Kind:    w.kind,
			Status:  updated.Status,
			Message: w.strategy.message(updated.Status, updated.Payload, matchLocale(rec.Locale)),
		}
		return nil
	})
	if err == nil {
		return result, outcome, nil
	}
	if !isStoreConflict(err) {
		return RespondResult{}, outcome, err
	}

	// Lost the race: classify against the winner's committed state.
	rec, lookupErr := w.lookup(ctx, cmd.Token)
	if lookupErr != nil {
		return RespondResult{}, outcome, lookupErr
	}
	if rec.IsExpired(w.clock()) {
		return RespondResult{}, outcome, ErrConfirmationExpired
	}
	if !rec.IsTerminal() {
		return RespondResult{}, outcome, fmt.Errorf("%w: concurrent update", ErrConfirmationUnavailable)
	}
	result, err = w.alreadyProcessed(rec, action)
	return result, outcome, err
}

func (w *workflow[P]) alreadyProcessed(rec domain.Confirmation[P], action domain.ConfirmationAction) (RespondResult, error) {
	if rec.Status != action.TargetStatus() {
		return RespondResult{}, fmt.Errorf("%w: already %s", ErrConfirmationConflict, rec.Status)
	}
	return RespondResult{
		Kind:             w.kind,
		Status:           rec.Status,
		Message:          w.strategy.message(rec.Status, rec.Payload, matchLocale(rec.Locale)),
		AlreadyProcessed: true,
	}, nil
}

func (w *workflow[P]) create(ctx context.Context, order Order, token string, payload P, actorID string, now time.Time) (domain.Confirmation[P], error) {
	rec := domain.Confirmation[P]{
		Token:         token,
		Kind:          w.kind,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.Customer.Email,
		CustomerName:  order.Customer.FullName(),
		Locale:        order.Locale,
		Payload:       payload,
		Status:        domain.ConfirmationStatusSent,
		CreatedBy:     actorID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(w.ttl),
	}
	created, err := w.store.Create(ctx, rec)
	if err != nil {
		return domain.Confirmation[P]{}, translateConfirmationError(err)
	}
	return created, nil
}

func (w *workflow[P]) list(ctx context.Context, orderID string) ([]ConfirmationSummary, error) {
	records, err := w.store.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, translateConfirmationError(err)
	}
	out := make([]ConfirmationSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Summary())
	}
	return out, nil
}

func translateConfirmationError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrConfirmationNotFound
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %w", errStoreConflict, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrConfirmationUnavailable, err)
}

func translateMutationError(err error) error {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return ErrConfirmationNotFound
	case errors.Is(err, ErrOrderInvalidInput):
		return fmt.Errorf("%w: %v", ErrConfirmationInvalidInput, err)
	case errors.Is(err, errStoreConflict):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrConfirmationUnavailable, err)
	}
}

func isStoreConflict(err error) bool {
	if errors.Is(err, errStoreConflict) {
		return true
	}
	if errors.Is(err, ErrConfirmationConflict) || errors.Is(err, ErrConfirmationExpired) ||
		errors.Is(err, ErrConfirmationNotFound) || errors.Is(err, ErrConfirmationInvalidInput) {
		return false
	}
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
