package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/doxvl/legalization-api/internal/domain"
	"github.com/doxvl/legalization-api/internal/repositories"
)

var (
	// ErrPricingUnavailable indicates the rule store could not be reached.
	ErrPricingUnavailable = errors.New("pricing: unavailable")
)

// PricingServiceDeps bundles collaborators required to construct a pricing service.
type PricingServiceDeps struct {
	Rules  repositories.PricingRuleRepository
	Fees   domain.FeeSchedule
	Clock  func() time.Time
	Logger func(context.Context, string, map[string]any)
}

type pricingService struct {
	rules  repositories.PricingRuleRepository
	fees   domain.FeeSchedule
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

var _ PricingService = (*pricingService)(nil)

// NewPricingService constructs the pricing service.
func NewPricingService(deps PricingServiceDeps) (PricingService, error) {
	if deps.Rules == nil {
		return nil, errors.New("pricing service: rule repository is required")
	}
	if err := validateFees(deps.Fees); err != nil {
		return nil, err
	}
	if strings.TrimSpace(deps.Fees.Currency) == "" {
		return nil, errors.New("pricing service: currency is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &pricingService{
		rules: deps.Rules,
		fees:  deps.Fees,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *pricingService) Quote(ctx context.Context, cmd PriceQuoteCommand) (PriceResult, error) {
	_, result, err := s.PriceSelection(ctx, cmd)
	return result, err
}

func (s *pricingService) PriceSelection(ctx context.Context, cmd PriceQuoteCommand) (ServiceSelection, PriceResult, error) {
	selection, err := ParseSelection(cmd, s.fees)
	if err != nil {
		return ServiceSelection{}, PriceResult{}, err
	}
	result, err := s.price(ctx, selection)
	if err != nil {
		return ServiceSelection{}, PriceResult{}, err
	}
	return selection, result, nil
}

// price resolves the rule set once and runs the calculator against it.
func (s *pricingService) price(ctx context.Context, selection domain.ServiceSelection) (PriceResult, error) {
	rules, err := s.rules.ListEffective(ctx, selection.Country, s.clock())
	if err != nil {
		return PriceResult{}, fmt.Errorf("%w: %v", ErrPricingUnavailable, err)
	}
	result, err := ComputeOrderPrice(selection, domain.NewRuleSet(selection.Country, rules), s.fees)
	if err != nil {
		return PriceResult{}, err
	}
	if len(result.UnresolvedServices) > 0 {
		s.logger(ctx, "pricing.unresolved_services", map[string]any{
			"country":  string(selection.Country),
			"services": result.UnresolvedServices,
		})
	}
	return result, nil
}

func (s *pricingService) ListRules(ctx context.Context, country string) ([]PricingRule, error) {
	code, err := domain.ParseCountryCode(country)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPricingInvalidInput, err)
	}
	rules, err := s.rules.ListEffective(ctx, code, s.clock())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPricingUnavailable, err)
	}
	return rules, nil
}

func (s *pricingService) PublishRule(ctx context.Context, cmd PublishRuleCommand) (PricingRule, error) {
	country, err := domain.ParseCountryCode(cmd.Country)
	if err != nil {
		return PricingRule{}, fmt.Errorf("%w: %v", ErrPricingInvalidInput, err)
	}
	service, err := domain.ParseServiceCode(cmd.Service)
	if err != nil {
		return PricingRule{}, fmt.Errorf("%w: %v", ErrPricingInvalidInput, err)
	}
	if cmd.OfficialFee < 0 || cmd.ServiceFee < 0 {
		return PricingRule{}, fmt.Errorf("%w: fees must not be negative", ErrPricingInvalidInput)
	}
	if cmd.OfficialFeeTBC && cmd.OfficialFee != 0 {
		return PricingRule{}, fmt.Errorf("%w: a to-be-confirmed official fee must be 0", ErrPricingInvalidInput)
	}
	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.fees.Currency
	}
	effective := cmd.EffectiveFrom.UTC()
	if cmd.EffectiveFrom.IsZero() {
		effective = s.clock()
	}

	rule := domain.PricingRule{
		Country:        country,
		Service:        service,
		OfficialFee:    cmd.OfficialFee,
		ServiceFee:     cmd.ServiceFee,
		OfficialFeeTBC: cmd.OfficialFeeTBC,
		Currency:       currency,
		ProcessingDays: cmd.ProcessingDays,
		EffectiveFrom:  effective,
		Active:         true,
		UpdatedBy:      strings.TrimSpace(cmd.ActorID),
	}
	stored, err := s.rules.Publish(ctx, rule)
	if err != nil {
		return PricingRule{}, fmt.Errorf("%w: %v", ErrPricingUnavailable, err)
	}
	s.logger(ctx, "pricing.rule_published", map[string]any{
		"rule":          stored.Key().String(),
		"version":       stored.Version,
		"effectiveFrom": stored.EffectiveFrom,
	})
	return stored, nil
}

// ParseSelection converts raw input into a typed selection, validating the return tier against the fee schedule.
func ParseSelection(cmd PriceQuoteCommand, fees domain.FeeSchedule) (domain.ServiceSelection, error) {
	country, err := domain.ParseCountryCode(cmd.Country)
	if err != nil {
		return domain.ServiceSelection{}, fmt.Errorf("%w: %v", ErrPricingInvalidInput, err)
	}
	services, err := domain.ParseServiceCodes(cmd.Services)
	if err != nil {
		return domain.ServiceSelection{}, fmt.Errorf("%w: %v", ErrPricingInvalidInput, err)
	}
	if cmd.Quantity < 1 {
		return domain.ServiceSelection{}, fmt.Errorf("%w: quantity must be at least 1", ErrPricingInvalidInput)
	}
	tier, err := parseReturnTier(cmd.ReturnService, fees)
	if err != nil {
		return domain.ServiceSelection{}, err
	}
	return domain.ServiceSelection{
		Country:  country,
		Services: services,
		Quantity: cmd.Quantity,
		AddOns: domain.AddOns{
			Expedited:     cmd.Expedited,
			ScannedCopies: cmd.ScannedCopies,
			PickupService: cmd.PickupService,
			ReturnService: tier,
		},
	}, nil
}

func parseReturnTier(raw string, fees domain.FeeSchedule) (domain.ReturnTier, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" || value == "none" {
		return domain.ReturnNone, nil
	}
	tier := domain.ReturnTier(value)
	if _, ok := fees.ReturnFee(tier); !ok {
		return "", fmt.Errorf("%w: unknown return service %q", ErrPricingInvalidInput, raw)
	}
	return tier, nil
}
