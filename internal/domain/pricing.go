package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// ServiceCode identifies a legalization service that can be ordered.
type ServiceCode string

const (
	ServiceApostille    ServiceCode = "apostille"
	ServiceNotarization ServiceCode = "notarization"
	ServiceChamber      ServiceCode = "chamber"
	ServiceEmbassy      ServiceCode = "embassy"
	ServiceUD           ServiceCode = "ud"
	ServiceTranslation  ServiceCode = "translation"
)

// LineCode identifies a pricing line. Service lines reuse the ServiceCode value.
type LineCode string

const (
	LineEmbassyOfficial LineCode = "embassy_official"
	LineScannedCopies   LineCode = "scanned_copies"
	LinePickupService   LineCode = "pickup_service"
	LineReturnService   LineCode = "return_service"
	LineExpress         LineCode = "express"
)

var (
	// ErrUnknownService is returned when a service code is outside the supported set.
	ErrUnknownService = errors.New("domain: unknown service")
	// ErrInvalidCountry is returned when a country code cannot be parsed as an ISO 3166 country.
	ErrInvalidCountry = errors.New("domain: invalid country code")
	// ErrInvalidSelection is returned when a service selection violates its shape constraints.
	ErrInvalidSelection = errors.New("domain: invalid service selection")
)

var serviceAliases = map[string]ServiceCode{
	"apostille":          ServiceApostille,
	"notarization":       ServiceNotarization,
	"notarisering":       ServiceNotarization,
	"chamber":            ServiceChamber,
	"chamber_commerce":   ServiceChamber,
	"embassy":            ServiceEmbassy,
	"ud":                 ServiceUD,
	"utrikesdepartement": ServiceUD,
	"translation":        ServiceTranslation,
}

// ParseServiceCode maps raw input to a known service.
func ParseServiceCode(raw string) (ServiceCode, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if code, ok := serviceAliases[key]; ok {
		return code, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownService, raw)
}

// ParseServiceCodes parses an ordered, non-empty, duplicate-free service list.
func ParseServiceCodes(raw []string) ([]ServiceCode, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: at least one service is required", ErrInvalidSelection)
	}
	out := make([]ServiceCode, 0, len(raw))
	seen := make(map[ServiceCode]struct{}, len(raw))
	for _, value := range raw {
		code, err := ParseServiceCode(value)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			return nil, fmt.Errorf("%w: service %s listed twice", ErrInvalidSelection, code)
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out, nil
}

// CountryCode is an upper-case ISO 3166-1 alpha-2 code.
type CountryCode string

// ParseCountryCode normalises alpha-2, alpha-3 or numeric region codes to alpha-2.
func ParseCountryCode(raw string) (CountryCode, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCountry)
	}
	region, err := language.ParseRegion(trimmed)
	if err != nil || !region.IsCountry() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCountry, raw)
	}
	return CountryCode(region.String()), nil
}

// RuleKey addresses a pricing rule by country and service.
type RuleKey struct {
	Country CountryCode
	Service ServiceCode
}

// String renders the key in the legacy document id form, e.g. "SE_apostille".
func (k RuleKey) String() string {
	return string(k.Country) + "_" + string(k.Service)
}

// PricingRule describes the fee structure for one service in one country.
type PricingRule struct {
	Country        CountryCode
	Service        ServiceCode
	Version        int
	OfficialFee    int64
	ServiceFee     int64
	OfficialFeeTBC bool
	Currency       string
	ProcessingDays int
	EffectiveFrom  time.Time
	Active         bool
	UpdatedBy      string
}

// Key returns the lookup key for the rule.
func (r PricingRule) Key() RuleKey {
	return RuleKey{Country: r.Country, Service: r.Service}
}

// BasePrice is the per-document price charged for the service.
func (r PricingRule) BasePrice() int64 {
	return r.OfficialFee + r.ServiceFee
}

// RuleSet is the resolved set of effective rules for one country.
type RuleSet struct {
	Country CountryCode
	Rules   map[ServiceCode]PricingRule
}

// Lookup returns the rule for the service if one is effective.
func (s RuleSet) Lookup(service ServiceCode) (PricingRule, bool) {
	if s.Rules == nil {
		return PricingRule{}, false
	}
	rule, ok := s.Rules[service]
	return rule, ok
}

// ReturnTier identifies the selected return-shipping option.
type ReturnTier string

// ReturnNone means no return shipping was selected.
const ReturnNone ReturnTier = ""

// AddOns captures the optional surcharges selected on an order.
type AddOns struct {
	Expedited     bool
	ScannedCopies bool
	PickupService bool
	ReturnService ReturnTier
}

// ServiceSelection is the calculator input derived from an order.
type ServiceSelection struct {
	Country  CountryCode
	Services []ServiceCode
	Quantity int
	AddOns   AddOns
}

// Validate checks the selection shape.
func (s ServiceSelection) Validate() error {
	if s.Country == "" {
		return fmt.Errorf("%w: country is required", ErrInvalidSelection)
	}
	if len(s.Services) == 0 {
		return fmt.Errorf("%w: at least one service is required", ErrInvalidSelection)
	}
	if s.Quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidSelection)
	}
	return nil
}

// FeeSchedule holds the configurable flat surcharges.
type FeeSchedule struct {
	Currency          string
	ScannedCopiesFee  int64
	PickupFee         int64
	ExpressFee        int64
	ReturnServiceFees map[ReturnTier]int64
}

// ReturnFee resolves the fee for a tier.
func (f FeeSchedule) ReturnFee(tier ReturnTier) (int64, bool) {
	if f.ReturnServiceFees == nil {
		return 0, false
	}
	fee, ok := f.ReturnServiceFees[tier]
	return fee, ok
}

// LineItem is one priced component of an order total.
type LineItem struct {
	Code        LineCode
	Description string
	Quantity    int
	UnitPrice   int64
	Total       int64
	IsTBC       bool
}

// PriceResult is the output of the price calculator.
type PriceResult struct {
	Currency           string
	LineItems          []LineItem
	Total              int64
	UnresolvedServices []ServiceCode
}

// HasUnconfirmedPrices reports whether the total must not be treated as final.
func (r PriceResult) HasUnconfirmedPrices() bool {
	if len(r.UnresolvedServices) > 0 {
		return true
	}
	return HasTBCLines(r.LineItems)
}

// HasTBCLines reports whether any line still awaits a confirmed amount.
func HasTBCLines(lines []LineItem) bool {
	for _, line := range lines {
		if line.IsTBC {
			return true
		}
	}
	return false
}

// SumLines totals the line items.
func SumLines(lines []LineItem) int64 {
	var total int64
	for _, line := range lines {
		total += line.Total
	}
	return total
}

// EffectiveRules picks, per service, the highest active version whose EffectiveFrom is not after at.
// The result is ordered by service code.
func EffectiveRules(versions []PricingRule, at time.Time) []PricingRule {
	best := make(map[ServiceCode]PricingRule)
	for _, rule := range versions {
		if !rule.Active || rule.EffectiveFrom.After(at) {
			continue
		}
		current, ok := best[rule.Service]
		if !ok || rule.Version > current.Version {
			best[rule.Service] = rule
		}
	}
	out := make([]PricingRule, 0, len(best))
	for _, rule := range best {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// NewRuleSet indexes rules of one country by service.
func NewRuleSet(country CountryCode, rules []PricingRule) RuleSet {
	set := RuleSet{Country: country, Rules: make(map[ServiceCode]PricingRule, len(rules))}
	for _, rule := range rules {
		if rule.Country != country {
			continue
		}
		set.Rules[rule.Service] = rule
	}
	return set
}
