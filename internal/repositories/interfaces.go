package repositories

import (
	"context"
	"time"

	domain "github.com/doxvl/legalization-api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PricingRuleRepository stores versioned pricing rules. Published versions are never rewritten.
type PricingRuleRepository interface {
	// ListEffective returns, per service, the highest active version effective at the given instant.
	ListEffective(ctx context.Context, country domain.CountryCode, at time.Time) ([]domain.PricingRule, error)
	ListVersions(ctx context.Context, key domain.RuleKey) ([]domain.PricingRule, error)
	// Publish stores the rule as the next version for its key and returns the stored rule.
	Publish(ctx context.Context, rule domain.PricingRule) (domain.PricingRule, error)
}

// OrderMutation computes the patch for an order. Returning an empty patch skips the write.
type OrderMutation func(order domain.Order) (domain.OrderPatch, error)

// OrderRepository persists the order fields owned by the pricing and confirmation engine.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	// Mutate reads the order, applies fn and writes only the patched fields in one atomic step.
	// It reports whether a write happened.
	Mutate(ctx context.Context, orderID string, fn OrderMutation) (domain.Order, bool, error)
}

// ConfirmationRepository stores token records of one workflow kind.
type ConfirmationRepository[P any] interface {
	Create(ctx context.Context, record domain.Confirmation[P]) (domain.Confirmation[P], error)
	FindByToken(ctx context.Context, token string) (domain.Confirmation[P], error)
	// Transition moves a sent record to a terminal status as one conditional write against the
	// revision observed on read. It returns a conflict error when the record changed or is no longer sent.
	Transition(ctx context.Context, record domain.Confirmation[P], update domain.ConfirmationUpdate[P]) (domain.Confirmation[P], error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Confirmation[P], error)
}

// MailQueueRepository hands email off to the external dispatch collection.
type MailQueueRepository interface {
	Enqueue(ctx context.Context, message domain.MailMessage) (string, error)
}

// CounterRepository provides atomic sequence increments.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes dependency health information for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
