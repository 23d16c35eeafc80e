package services

import (
	"errors"
	"reflect"
	"testing"

	domain "github.com/doxvl/legalization-api/internal/domain"
)

func testFees() domain.FeeSchedule {
	return domain.FeeSchedule{
		Currency:         "SEK",
		ScannedCopiesFee: 200,
		PickupFee:        450,
		ExpressFee:       500,
		ReturnServiceFees: map[domain.ReturnTier]int64{
			"postnord-rek": 85,
			"dhl-europe":   250,
			"own-delivery": 0,
		},
	}
}

func swedishRules() domain.RuleSet {
	return domain.NewRuleSet("SE", []domain.PricingRule{
		{Country: "SE", Service: domain.ServiceApostille, OfficialFee: 440, ServiceFee: 999, Currency: "SEK", Version: 1, Active: true},
		{Country: "SE", Service: domain.ServiceNotarization, OfficialFee: 320, ServiceFee: 999, Currency: "SEK", Version: 1, Active: true},
	})
}

func TestComputeOrderPriceSwedishApostilleAndNotarization(t *testing.T) {
	selection := domain.ServiceSelection{
		Country:  "SE",
		Services: []domain.ServiceCode{domain.ServiceApostille, domain.ServiceNotarization},
		Quantity: 2,
	}

	result, err := ComputeOrderPrice(selection, swedishRules(), testFees())
	if err != nil {
		t.Fatalf("ComputeOrderPrice: %v", err)
	}
	if len(result.LineItems) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(result.LineItems))
	}
	if line := result.LineItems[0]; line.Code != "apostille" || line.UnitPrice != 1439 || line.Total != 2878 {
		t.Fatalf("unexpected apostille line %#v", line)
	}
	if line := result.LineItems[1]; line.Code != "notarization" || line.UnitPrice != 1319 || line.Total != 2638 {
		t.Fatalf("unexpected notarization line %#v", line)
	}
	if result.Total != 5516 {
		t.Fatalf("expected total 5516, got %d", result.Total)
	}
	if result.HasUnconfirmedPrices() {
		t.Fatalf("expected confirmed prices")
	}

	selection.AddOns.ScannedCopies = true
	result, err = ComputeOrderPrice(selection, swedishRules(), testFees())
	if err != nil {
		t.Fatalf("ComputeOrderPrice with scanned copies: %v", err)
	}
	last := result.LineItems[len(result.LineItems)-1]
	if last.Code != domain.LineScannedCopies || last.Total != 400 {
		t.Fatalf("unexpected scanned copies line %#v", last)
	}
	if result.Total != 5916 {
		t.Fatalf("expected total 5916, got %d", result.Total)
	}
}

func TestComputeOrderPriceReportsUnresolvedServices(t *testing.T) {
	rules := domain.NewRuleSet("NO", []domain.PricingRule{
		{Country: "NO", Service: domain.ServiceApostille, OfficialFee: 300, ServiceFee: 800, Currency: "SEK", Active: true},
	})
	selection := domain.ServiceSelection{
		Country:  "NO",
		Services: []domain.ServiceCode{domain.ServiceApostille, domain.ServiceChamber},
		Quantity: 1,
	}

	result, err := ComputeOrderPrice(selection, rules, testFees())
	if err != nil {
		t.Fatalf("ComputeOrderPrice: %v", err)
	}
	if len(result.LineItems) != 1 || result.LineItems[0].Code != "apostille" {
		t.Fatalf("expected one apostille line, got %#v", result.LineItems)
	}
	if !reflect.DeepEqual(result.UnresolvedServices, []domain.ServiceCode{domain.ServiceChamber}) {
		t.Fatalf("expected chamber unresolved, got %v", result.UnresolvedServices)
	}
	if !result.HasUnconfirmedPrices() {
		t.Fatalf("expected unconfirmed prices flag")
	}
	if result.Total != 1100 {
		t.Fatalf("expected total 1100, got %d", result.Total)
	}
}

func TestComputeOrderPriceEmbassyTBCLine(t *testing.T) {
	rules := domain.NewRuleSet("AO", []domain.PricingRule{
		{Country: "AO", Service: domain.ServiceEmbassy, ServiceFee: 1500, OfficialFeeTBC: true, Currency: "SEK", Active: true},
	})
	selection := domain.ServiceSelection{
		Country:  "AO",
		Services: []domain.ServiceCode{domain.ServiceEmbassy},
		Quantity: 2,
	}

	result, err := ComputeOrderPrice(selection, rules, testFees())
	if err != nil {
		t.Fatalf("ComputeOrderPrice: %v", err)
	}
	if len(result.LineItems) != 2 {
		t.Fatalf("expected service and TBC lines, got %#v", result.LineItems)
	}
	if line := result.LineItems[0]; line.Total != 3000 || line.IsTBC {
		t.Fatalf("unexpected service fee line %#v", line)
	}
	if line := result.LineItems[1]; line.Code != domain.LineEmbassyOfficial || !line.IsTBC || line.Total != 0 {
		t.Fatalf("unexpected TBC line %#v", line)
	}
	if result.Total != 3000 {
		t.Fatalf("expected total 3000, got %d", result.Total)
	}
	if !result.HasUnconfirmedPrices() {
		t.Fatalf("expected unconfirmed prices flag for TBC line")
	}
}

func TestComputeOrderPriceSurchargeOrder(t *testing.T) {
	selection := domain.ServiceSelection{
		Country:  "SE",
		Services: []domain.ServiceCode{domain.ServiceApostille},
		Quantity: 3,
		AddOns: domain.AddOns{
			Expedited:     true,
			ScannedCopies: true,
			PickupService: true,
			ReturnService: "dhl-europe",
		},
	}

	result, err := ComputeOrderPrice(selection, swedishRules(), testFees())
	if err != nil {
		t.Fatalf("ComputeOrderPrice: %v", err)
	}
	var codes []domain.LineCode
	for _, line := range result.LineItems {
		codes = append(codes, line.Code)
	}
	want := []domain.LineCode{"apostille", domain.LineScannedCopies, domain.LinePickupService, domain.LineReturnService, domain.LineExpress}
	if !reflect.DeepEqual(codes, want) {
		t.Fatalf("expected line order %v, got %v", want, codes)
	}
	if result.Total != 4317+600+450+250+500 {
		t.Fatalf("unexpected total %d", result.Total)
	}
	if result.Total != domain.SumLines(result.LineItems) {
		t.Fatalf("total must equal sum of lines")
	}
}

func TestComputeOrderPriceIsDeterministic(t *testing.T) {
	selection := domain.ServiceSelection{
		Country:  "SE",
		Services: []domain.ServiceCode{domain.ServiceNotarization, domain.ServiceApostille, domain.ServiceChamber},
		Quantity: 4,
		AddOns:   domain.AddOns{ScannedCopies: true, ReturnService: "postnord-rek"},
	}
	first, err := ComputeOrderPrice(selection, swedishRules(), testFees())
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := ComputeOrderPrice(selection, swedishRules(), testFees())
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs: %#v vs %#v", i, first, again)
		}
	}
}

func TestComputeOrderPriceRejectsInvalidInput(t *testing.T) {
	base := domain.ServiceSelection{Country: "SE", Services: []domain.ServiceCode{domain.ServiceApostille}, Quantity: 1}

	cases := map[string]func() (domain.ServiceSelection, domain.RuleSet, domain.FeeSchedule){
		"zero quantity": func() (domain.ServiceSelection, domain.RuleSet, domain.FeeSchedule) {
			sel := base
			sel.Quantity = 0
			return sel, swedishRules(), testFees()
		},
		"no services": func() (domain.ServiceSelection, domain.RuleSet, domain.FeeSchedule) {
			sel := base
			sel.Services = nil
			return sel, swedishRules(), testFees()
		},
		"duplicate service": func() (domain.ServiceSelection, domain.RuleSet, domain.FeeSchedule) {
			sel := base
			sel.Services = []domain.ServiceCode{domain.ServiceApostille, domain.ServiceApostille}
			return sel, swedishRules(), testFees()
		},
		"foreign rules": func() (domain.ServiceSelection, domain.RuleSet, domain.FeeSchedule) {
			return base, domain.RuleSet{Country: "NO"}, testFees()
		},
		"unknown return tier": func() (domain.ServiceSelection, domain.RuleSet, domain.FeeSchedule) {
			sel := base
			sel.AddOns.ReturnService = "carrier-pigeon"
			return sel, swedishRules(), testFees()
		},
		"negative fee": func() (domain.ServiceSelection, domain.RuleSet, domain.FeeSchedule) {
			fees := testFees()
			fees.PickupFee = -1
			return base, swedishRules(), fees
		},
	}
	for name, build := range cases {
		sel, rules, fees := build()
		if _, err := ComputeOrderPrice(sel, rules, fees); !errors.Is(err, ErrPricingInvalidInput) {
			t.Fatalf("%s: expected ErrPricingInvalidInput, got %v", name, err)
		}
	}
}
