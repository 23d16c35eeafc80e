package services

import (
	"errors"
	"fmt"

	domain "github.com/doxvl/legalization-api/internal/domain"
)

var (
	// ErrPricingInvalidInput signals a malformed selection, fee schedule or rule set.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
)

var serviceLabels = map[domain.ServiceCode]string{
	domain.ServiceApostille:    "Apostille",
	domain.ServiceNotarization: "Notarisering",
	domain.ServiceChamber:      "Handelskammarens legalisering",
	domain.ServiceEmbassy:      "Ambassadlegalisering",
	domain.ServiceUD:           "Utrikesdepartementets legalisering",
	domain.ServiceTranslation:  "Auktoriserad översättning",
}

// ComputeOrderPrice turns a service selection into ordered line items.
//
// Services without an effective rule are reported in UnresolvedServices instead of failing.
// Surcharges follow the service lines in a fixed order: scanned copies, pickup, return, express.
// The function has no side effects and returns identical output for identical input.
func ComputeOrderPrice(selection domain.ServiceSelection, rules domain.RuleSet, fees domain.FeeSchedule) (domain.PriceResult, error) {
	if err := selection.Validate(); err != nil {
		return domain.PriceResult{}, fmt.Errorf("%w: %v", ErrPricingInvalidInput, err)
	}
	if rules.Country != "" && rules.Country != selection.Country {
		return domain.PriceResult{}, fmt.Errorf("%w: rules for %s cannot price %s", ErrPricingInvalidInput, rules.Country, selection.Country)
	}
	if err := validateFees(fees); err != nil {
		return domain.PriceResult{}, err
	}

	qty := int64(selection.Quantity)
	result := domain.PriceResult{Currency: fees.Currency}
	seen := make(map[domain.ServiceCode]struct{}, len(selection.Services))

	for _, service := range selection.Services {
		if _, dup := seen[service]; dup {
			return domain.PriceResult{}, fmt.Errorf("%w: service %s listed twice", ErrPricingInvalidInput, service)
		}
		seen[service] = struct{}{}

		rule, ok := rules.Lookup(service)
		if !ok || (rule.Currency != "" && fees.Currency != "" && rule.Currency != fees.Currency) {
			result.UnresolvedServices = append(result.UnresolvedServices, service)
			continue
		}

		label := serviceLabel(service)
		if rule.OfficialFeeTBC {
			result.LineItems = append(result.LineItems,
				domain.LineItem{
					Code:        domain.LineCode(service),
					Description: label + " (serviceavgift)",
					Quantity:    selection.Quantity,
					UnitPrice:   rule.ServiceFee,
					Total:       rule.ServiceFee * qty,
				},
				domain.LineItem{
					Code:        domain.LineEmbassyOfficial,
					Description: "Ambassadens officiella avgift",
					Quantity:    selection.Quantity,
					IsTBC:       true,
				},
			)
			continue
		}

		unit := rule.BasePrice()
		result.LineItems = append(result.LineItems, domain.LineItem{
			Code:        domain.LineCode(service),
			Description: label,
			Quantity:    selection.Quantity,
			UnitPrice:   unit,
			Total:       unit * qty,
		})
	}

	addOns := selection.AddOns
	if addOns.ScannedCopies {
		result.LineItems = append(result.LineItems, domain.LineItem{
			Code:        domain.LineScannedCopies,
			Description: "Skannade kopior",
			Quantity:    selection.Quantity,
			UnitPrice:   fees.ScannedCopiesFee,
			Total:       fees.ScannedCopiesFee * qty,
		})
	}
	if addOns.PickupService {
		result.LineItems = append(result.LineItems, flatLine(domain.LinePickupService, "Upphämtning av dokument", fees.PickupFee))
	}
	if addOns.ReturnService != domain.ReturnNone {
		fee, ok := fees.ReturnFee(addOns.ReturnService)
		if !ok {
			return domain.PriceResult{}, fmt.Errorf("%w: unknown return service %q", ErrPricingInvalidInput, addOns.ReturnService)
		}
		result.LineItems = append(result.LineItems, flatLine(domain.LineReturnService, "Returfrakt ("+string(addOns.ReturnService)+")", fee))
	}
	if addOns.Expedited {
		result.LineItems = append(result.LineItems, flatLine(domain.LineExpress, "Expresshantering", fees.ExpressFee))
	}

	result.Total = domain.SumLines(result.LineItems)
	return result, nil
}

func flatLine(code domain.LineCode, description string, fee int64) domain.LineItem {
	return domain.LineItem{
		Code:        code,
		Description: description,
		Quantity:    1,
		UnitPrice:   fee,
		Total:       fee,
	}
}

func serviceLabel(service domain.ServiceCode) string {
	if label, ok := serviceLabels[service]; ok {
		return label
	}
	return string(service)
}

func validateFees(fees domain.FeeSchedule) error {
	if fees.ScannedCopiesFee < 0 || fees.PickupFee < 0 || fees.ExpressFee < 0 {
		return fmt.Errorf("%w: fees must not be negative", ErrPricingInvalidInput)
	}
	for tier, fee := range fees.ReturnServiceFees {
		if fee < 0 {
			return fmt.Errorf("%w: return fee for %s must not be negative", ErrPricingInvalidInput, tier)
		}
	}
	return nil
}
