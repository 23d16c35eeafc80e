package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/doxvl/legalization-api/internal/platform/firestore"
	"github.com/doxvl/legalization-api/internal/repositories"
)

const countersCollection = "counters"

// counterDocument is counters/{id}. MaxValue is set by operators to cap a sequence.
type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	MaxValue     *int64    `firestore:"maxValue,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func (d counterDocument) advance(id string, step int64) (int64, error) {
	next := d.CurrentValue + step
	if d.MaxValue != nil && next > *d.MaxValue {
		return 0, fmt.Errorf("%w: counter %s passed max value %d", repositories.ErrCounterExhausted, id, *d.MaxValue)
	}
	return next, nil
}

// CounterRepository hands out gap-free sequence values from Firestore transactions.
type CounterRepository struct {
	uow      *pfirestore.UnitOfWork
	counters *pfirestore.BaseRepository[counterDocument]
	clock    func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		uow:      pfirestore.NewUnitOfWork(provider),
		counters: pfirestore.NewBaseRepository[counterDocument](provider, countersCollection),
		clock:    time.Now,
	}, nil
}

// Next adds step to the counter and returns the new value. An absent counter starts at zero.
// Called inside a unit of work it joins the caller's transaction.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	switch {
	case id == "":
		return 0, fmt.Errorf("%w: counter id is required", repositories.ErrCounterInvalidInput)
	case step <= 0:
		return 0, fmt.Errorf("%w: step must be positive, got %d", repositories.ErrCounterInvalidInput, step)
	}

	var value int64
	err := r.uow.RunInTx(ctx, func(ctx context.Context) error {
		now := r.clock().UTC()
		doc, err := r.counters.Get(ctx, id)
		if pfirestore.IsNotFound(err) {
			value = step
			_, err = r.counters.Create(ctx, id, counterDocument{CurrentValue: step, UpdatedAt: now})
			return err
		}
		if err != nil {
			return err
		}
		if value, err = doc.Data.advance(id, step); err != nil {
			return err
		}
		_, err = r.counters.Update(ctx, id, []firestore.Update{
			{Path: "currentValue", Value: value},
			{Path: "updatedAt", Value: now},
		})
		return err
	})
	if err != nil {
		if errors.Is(err, repositories.ErrCounterExhausted) {
			return 0, err
		}
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return value, nil
}
