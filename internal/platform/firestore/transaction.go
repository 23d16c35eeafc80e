package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/doxvl/legalization-api/internal/repositories"
)

// TxFunc runs inside a transaction. It may run more than once when Firestore retries on contention.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption tunes a transaction.
type TxOption func(*txSettings)

type txSettings struct {
	attempts int
	timeout  time.Duration
}

var defaultTxSettings = txSettings{attempts: 5, timeout: 15 * time.Second}

// WithTxAttempts caps how many times a contended transaction is retried.
func WithTxAttempts(n int) TxOption {
	return func(s *txSettings) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// WithTxTimeout bounds the whole transaction, retries included. A shorter caller deadline wins.
func WithTxTimeout(d time.Duration) TxOption {
	return func(s *txSettings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

type txKey struct{}

// TxFromContext returns the transaction bound to ctx by RunTransaction.
func TxFromContext(ctx context.Context) (*firestore.Transaction, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txKey{}).(*firestore.Transaction)
	return tx, ok && tx != nil
}

// RunTransaction runs fn in a transaction on client and binds it to the callback context so
// repository calls join it. Called with a ctx that already carries a transaction, fn joins that
// one instead of nesting.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	if client == nil || fn == nil {
		return WrapError("transaction", errors.New("firestore: client and function are required"))
	}
	if tx, ok := TxFromContext(ctx); ok {
		return fn(ctx, tx)
	}

	settings := defaultTxSettings
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > settings.timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.timeout)
		defer cancel()
	}

	err := client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(context.WithValue(ctx, txKey{}, tx), tx)
	}, firestore.MaxAttempts(settings.attempts))
	return WrapError("transaction", err)
}

// UnitOfWork adapts Provider transactions to repositories.UnitOfWork.
type UnitOfWork struct {
	provider *Provider
	opts     []TxOption
}

var _ repositories.UnitOfWork = (*UnitOfWork)(nil)

func NewUnitOfWork(provider *Provider, opts ...TxOption) *UnitOfWork {
	return &UnitOfWork{provider: provider, opts: opts}
}

// RunInTx runs fn in a transaction. fn may be retried, so side effects outside the store belong
// after RunInTx returns.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if u == nil || u.provider == nil {
		return WrapError("transaction", errors.New("firestore: unit of work not initialised"))
	}
	return u.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	}, u.opts...)
}
