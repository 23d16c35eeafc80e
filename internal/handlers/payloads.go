package handlers

import (
	domain "github.com/doxvl/legalization-api/internal/domain"
	"github.com/doxvl/legalization-api/internal/services"
)

type addressPayload struct {
	Street      string `json:"street"`
	PostalCode  string `json:"postalCode"`
	City        string `json:"city"`
	Country     string `json:"country,omitempty"`
	CompanyName string `json:"companyName,omitempty"`
	ContactName string `json:"contactName,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

func (p addressPayload) toDomain() domain.Address {
	return domain.Address{
		Street:      p.Street,
		PostalCode:  p.PostalCode,
		City:        p.City,
		Country:     p.Country,
		CompanyName: p.CompanyName,
		ContactName: p.ContactName,
		Phone:       p.Phone,
	}.Normalize()
}

func buildAddressPayload(a domain.Address) addressPayload {
	return addressPayload{
		Street:      a.Street,
		PostalCode:  a.PostalCode,
		City:        a.City,
		Country:     a.Country,
		CompanyName: a.CompanyName,
		ContactName: a.ContactName,
		Phone:       a.Phone,
	}
}

type lineItemPayload struct {
	Service     string `json:"service"`
	Description string `json:"description,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
	Total       int64  `json:"total"`
	IsTBC       bool   `json:"isTBC,omitempty"`
}

func buildLineItems(items []domain.LineItem) []lineItemPayload {
	out := make([]lineItemPayload, 0, len(items))
	for _, item := range items {
		out = append(out, lineItemPayload{
			Service:     string(item.Code),
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Total:       item.Total,
			IsTBC:       item.IsTBC,
		})
	}
	return out
}

func serviceCodes(codes []domain.ServiceCode) []string {
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		out = append(out, string(code))
	}
	return out
}

type priceResultPayload struct {
	Currency             string            `json:"currency"`
	PricingBreakdown     []lineItemPayload `json:"pricingBreakdown"`
	TotalPrice           int64             `json:"totalPrice"`
	HasUnconfirmedPrices bool              `json:"hasUnconfirmedPrices"`
	UnresolvedServices   []string          `json:"unresolvedServices,omitempty"`
}

func buildPriceResult(result domain.PriceResult) priceResultPayload {
	return priceResultPayload{
		Currency:             result.Currency,
		PricingBreakdown:     buildLineItems(result.LineItems),
		TotalPrice:           result.Total,
		HasUnconfirmedPrices: result.HasUnconfirmedPrices(),
		UnresolvedServices:   serviceCodes(result.UnresolvedServices),
	}
}

// publicOrderPayload is the order subset shown on token pages and status lookups.
// It never carries the customer email or phone.
type publicOrderPayload struct {
	OrderNumber          string            `json:"orderNumber"`
	Status               string            `json:"status"`
	CustomerName         string            `json:"customerName"`
	Country              string            `json:"country"`
	Services             []string          `json:"services"`
	Quantity             int               `json:"quantity"`
	Locale               string            `json:"locale,omitempty"`
	Currency             string            `json:"currency"`
	PricingBreakdown     []lineItemPayload `json:"pricingBreakdown"`
	TotalPrice           int64             `json:"totalPrice"`
	HasUnconfirmedPrices bool              `json:"hasUnconfirmedPrices"`
	CreatedAt            string            `json:"createdAt,omitempty"`
	UpdatedAt            string            `json:"updatedAt,omitempty"`
}

func buildPublicOrder(order *domain.Order) *publicOrderPayload {
	if order == nil {
		return nil
	}
	return &publicOrderPayload{
		OrderNumber:          order.OrderNumber,
		Status:               string(order.Status),
		CustomerName:         order.Customer.FullName(),
		Country:              string(order.Country),
		Services:             serviceCodes(order.Services),
		Quantity:             order.Quantity,
		Locale:               order.Locale,
		Currency:             order.Currency,
		PricingBreakdown:     buildLineItems(order.Pricing.Breakdown),
		TotalPrice:           order.Pricing.TotalPrice,
		HasUnconfirmedPrices: order.Pricing.HasUnconfirmedPrices,
		CreatedAt:            formatTime(order.CreatedAt),
		UpdatedAt:            formatTime(order.UpdatedAt),
	}
}

type quoteLinePayload struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
	Total       int64  `json:"total"`
	VATRate     int    `json:"vatRate"`
}

type confirmationPayload struct {
	Kind          string `json:"kind"`
	Status        string `json:"status"`
	CreatedAt     string `json:"createdAt"`
	ExpiresAt     string `json:"expiresAt"`
	RespondedAt   string `json:"respondedAt,omitempty"`
	DeclineReason string `json:"declineReason,omitempty"`
	Payload       any    `json:"payload"`
}

type embassyPriceDetails struct {
	ConfirmedEmbassyPrice    int64             `json:"confirmedEmbassyPrice"`
	ConfirmedTotalPrice      int64             `json:"confirmedTotalPrice"`
	OriginalTotalPrice       int64             `json:"originalTotalPrice"`
	OriginalPricingBreakdown []lineItemPayload `json:"originalPricingBreakdown"`
	CountryCode              string            `json:"countryCode,omitempty"`
}

type addressDetails struct {
	Type              string         `json:"type"`
	Address           addressPayload `json:"address"`
	UpdatedByCustomer bool           `json:"updatedByCustomer"`
}

type quoteDetails struct {
	LineItems   []quoteLinePayload `json:"lineItems"`
	TotalAmount int64              `json:"totalAmount"`
	Message     string             `json:"message,omitempty"`
}

func buildConfirmationPayload(view services.ConfirmationView) confirmationPayload {
	return confirmationPayload{
		Kind:          string(view.Kind),
		Status:        string(view.Status),
		CreatedAt:     formatTime(view.CreatedAt),
		ExpiresAt:     formatTime(view.ExpiresAt),
		RespondedAt:   formatTimePtr(view.RespondedAt),
		DeclineReason: view.DeclineReason,
		Payload:       buildConfirmationDetails(view.Payload),
	}
}

func buildConfirmationDetails(payload any) any {
	switch p := payload.(type) {
	case domain.EmbassyPricePayload:
		return embassyPriceDetails{
			ConfirmedEmbassyPrice:    p.ConfirmedPrice,
			ConfirmedTotalPrice:      p.ConfirmedTotal,
			OriginalTotalPrice:       p.OriginalTotal,
			OriginalPricingBreakdown: buildLineItems(p.OriginalBreakdown),
			CountryCode:              string(p.Country),
		}
	case domain.AddressPayload:
		return addressDetails{
			Type:              string(p.Type),
			Address:           buildAddressPayload(p.Address),
			UpdatedByCustomer: p.Updated,
		}
	case domain.QuotePayload:
		lines := make([]quoteLinePayload, 0, len(p.LineItems))
		for _, line := range p.LineItems {
			lines = append(lines, quoteLinePayload{
				Description: line.Description,
				Quantity:    line.Quantity,
				UnitPrice:   line.UnitPrice,
				Total:       line.Total,
				VATRate:     line.VATRate,
			})
		}
		return quoteDetails{LineItems: lines, TotalAmount: p.TotalAmount, Message: p.Message}
	default:
		return nil
	}
}

type confirmationSummaryPayload struct {
	Token         string `json:"token"`
	Kind          string `json:"kind"`
	Status        string `json:"status"`
	CreatedBy     string `json:"createdBy,omitempty"`
	CreatedAt     string `json:"createdAt"`
	ExpiresAt     string `json:"expiresAt"`
	RespondedAt   string `json:"respondedAt,omitempty"`
	DeclineReason string `json:"declineReason,omitempty"`
}

func buildConfirmationSummaries(items []services.ConfirmationSummary) []confirmationSummaryPayload {
	out := make([]confirmationSummaryPayload, 0, len(items))
	for _, item := range items {
		out = append(out, confirmationSummaryPayload{
			Token:         item.Token,
			Kind:          string(item.Kind),
			Status:        string(item.Status),
			CreatedBy:     item.CreatedBy,
			CreatedAt:     formatTime(item.CreatedAt),
			ExpiresAt:     formatTime(item.ExpiresAt),
			RespondedAt:   formatTimePtr(item.RespondedAt),
			DeclineReason: item.DeclineReason,
		})
	}
	return out
}
