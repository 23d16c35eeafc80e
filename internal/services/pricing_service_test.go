package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/doxvl/legalization-api/internal/domain"
)

type stubRuleRepository struct {
	rules     []domain.PricingRule
	published []domain.PricingRule
	err       error
}

func (s *stubRuleRepository) ListEffective(_ context.Context, country domain.CountryCode, at time.Time) ([]domain.PricingRule, error) {
	if s.err != nil {
		return nil, s.err
	}
	var versions []domain.PricingRule
	for _, rule := range s.rules {
		if rule.Country == country {
			versions = append(versions, rule)
		}
	}
	return domain.EffectiveRules(versions, at), nil
}

func (s *stubRuleRepository) ListVersions(_ context.Context, key domain.RuleKey) ([]domain.PricingRule, error) {
	var out []domain.PricingRule
	for _, rule := range s.rules {
		if rule.Key() == key {
			out = append(out, rule)
		}
	}
	return out, s.err
}

func (s *stubRuleRepository) Publish(_ context.Context, rule domain.PricingRule) (domain.PricingRule, error) {
	if s.err != nil {
		return domain.PricingRule{}, s.err
	}
	var version int
	for _, existing := range s.rules {
		if existing.Key() == rule.Key() && existing.Version > version {
			version = existing.Version
		}
	}
	rule.Version = version + 1
	s.rules = append(s.rules, rule)
	s.published = append(s.published, rule)
	return rule, nil
}

var pricingNow = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func newTestPricingService(t *testing.T, repo *stubRuleRepository) PricingService {
	t.Helper()
	svc, err := NewPricingService(PricingServiceDeps{
		Rules: repo,
		Fees:  testFees(),
		Clock: func() time.Time { return pricingNow },
	})
	if err != nil {
		t.Fatalf("NewPricingService: %v", err)
	}
	return svc
}

func TestPricingServiceQuoteUsesEffectiveVersion(t *testing.T) {
	repo := &stubRuleRepository{rules: []domain.PricingRule{
		{Country: "SE", Service: domain.ServiceApostille, Version: 1, OfficialFee: 400, ServiceFee: 900, Currency: "SEK", Active: true, EffectiveFrom: pricingNow.AddDate(-1, 0, 0)},
		{Country: "SE", Service: domain.ServiceApostille, Version: 2, OfficialFee: 440, ServiceFee: 999, Currency: "SEK", Active: true, EffectiveFrom: pricingNow.AddDate(0, -1, 0)},
		{Country: "SE", Service: domain.ServiceApostille, Version: 3, OfficialFee: 500, ServiceFee: 999, Currency: "SEK", Active: true, EffectiveFrom: pricingNow.AddDate(0, 1, 0)},
	}}
	svc := newTestPricingService(t, repo)

	result, err := svc.Quote(context.Background(), PriceQuoteCommand{Country: "se", Services: []string{"apostille"}, Quantity: 1, ReturnService: "postnord-rek"})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if result.LineItems[0].UnitPrice != 1439 {
		t.Fatalf("expected version 2 base price 1439, got %d", result.LineItems[0].UnitPrice)
	}
	if result.Total != 1439+85 {
		t.Fatalf("unexpected total %d", result.Total)
	}
}

func TestPricingServiceQuoteRejectsBoundaryInput(t *testing.T) {
	svc := newTestPricingService(t, &stubRuleRepository{})
	cases := map[string]PriceQuoteCommand{
		"unknown service": {Country: "SE", Services: []string{"teleportation"}, Quantity: 1},
		"bad country":     {Country: "Sweden", Services: []string{"apostille"}, Quantity: 1},
		"zero quantity":   {Country: "SE", Services: []string{"apostille"}},
		"unknown tier":    {Country: "SE", Services: []string{"apostille"}, Quantity: 1, ReturnService: "zeppelin"},
	}
	for name, cmd := range cases {
		if _, err := svc.Quote(context.Background(), cmd); !errors.Is(err, ErrPricingInvalidInput) {
			t.Fatalf("%s: expected invalid input, got %v", name, err)
		}
	}
}

func TestPricingServiceQuoteStoreFailure(t *testing.T) {
	svc := newTestPricingService(t, &stubRuleRepository{err: errors.New("deadline exceeded")})
	_, err := svc.Quote(context.Background(), PriceQuoteCommand{Country: "SE", Services: []string{"apostille"}, Quantity: 1})
	if !errors.Is(err, ErrPricingUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestPricingServicePublishRuleAppendsVersion(t *testing.T) {
	repo := &stubRuleRepository{rules: []domain.PricingRule{
		{Country: "SE", Service: domain.ServiceApostille, Version: 1, OfficialFee: 440, ServiceFee: 999, Currency: "SEK", Active: true},
	}}
	svc := newTestPricingService(t, repo)

	rule, err := svc.PublishRule(context.Background(), PublishRuleCommand{
		Country:     "SE",
		Service:     "apostille",
		OfficialFee: 460,
		ServiceFee:  999,
		ActorID:     "ops",
	})
	if err != nil {
		t.Fatalf("PublishRule: %v", err)
	}
	if rule.Version != 2 || rule.Currency != "SEK" || !rule.EffectiveFrom.Equal(pricingNow) || !rule.Active {
		t.Fatalf("unexpected published rule %#v", rule)
	}
	if repo.rules[0].OfficialFee != 440 {
		t.Fatalf("existing version must not change")
	}

	_, err = svc.PublishRule(context.Background(), PublishRuleCommand{Country: "AO", Service: "embassy", OfficialFee: 100, OfficialFeeTBC: true})
	if !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected invalid input for TBC rule with a fee, got %v", err)
	}
}
