package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/doxvl/legalization-api/internal/repositories"
)

const (
	orderCounterID     = "orders"
	orderNumberPrefix  = "SWE"
	orderNumberDigits  = 6
	maxOrderNumberSeed = 999999
)

var (
	// ErrCounterInvalidInput indicates the caller supplied invalid counter parameters.
	ErrCounterInvalidInput = repositories.ErrCounterInvalidInput
	// ErrCounterExhausted indicates the order sequence cannot increment further.
	ErrCounterExhausted = repositories.ErrCounterExhausted
)

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	// CounterID overrides the counters document used for order numbers.
	CounterID string
	Prefix    string
}

type counterService struct {
	repo      repositories.CounterRepository
	counterID string
	prefix    string
}

// NewCounterService constructs a service that issues order numbers on top of the repository.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	counterID := strings.TrimSpace(deps.CounterID)
	if counterID == "" {
		counterID = orderCounterID
	}
	prefix := strings.TrimSpace(deps.Prefix)
	if prefix == "" {
		prefix = orderNumberPrefix
	}
	return &counterService{repo: deps.Repository, counterID: counterID, prefix: prefix}, nil
}

// NextOrderNumber returns the next SWE-prefixed, zero padded order number.
func (s *counterService) NextOrderNumber(ctx context.Context) (string, error) {
	value, err := s.repo.Next(ctx, s.counterID, 1)
	if err != nil {
		return "", fmt.Errorf("counter service: next order number: %w", err)
	}
	if value > maxOrderNumberSeed {
		return "", fmt.Errorf("%w: order sequence passed %d", ErrCounterExhausted, maxOrderNumberSeed)
	}
	return formatOrderNumber(s.prefix, value), nil
}

func formatOrderNumber(prefix string, value int64) string {
	return fmt.Sprintf("%s%0*d", prefix, orderNumberDigits, value)
}
