package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	domain "github.com/doxvl/legalization-api/internal/domain"
	"github.com/doxvl/legalization-api/internal/services"
)

type fakePricingService struct {
	quoteFn func(ctx context.Context, cmd services.PriceQuoteCommand) (services.PriceResult, error)
}

func (f *fakePricingService) Quote(ctx context.Context, cmd services.PriceQuoteCommand) (services.PriceResult, error) {
	return f.quoteFn(ctx, cmd)
}

func (f *fakePricingService) PriceSelection(ctx context.Context, cmd services.PriceQuoteCommand) (services.ServiceSelection, services.PriceResult, error) {
	result, err := f.quoteFn(ctx, cmd)
	return services.ServiceSelection{}, result, err
}

func (f *fakePricingService) ListRules(context.Context, string) ([]services.PricingRule, error) {
	return nil, nil
}

func (f *fakePricingService) PublishRule(context.Context, services.PublishRuleCommand) (services.PricingRule, error) {
	return services.PricingRule{}, nil
}

var _ services.PricingService = (*fakePricingService)(nil)

func TestPricingHandlersQuote(t *testing.T) {
	var got services.PriceQuoteCommand
	svc := &fakePricingService{
		quoteFn: func(_ context.Context, cmd services.PriceQuoteCommand) (services.PriceResult, error) {
			got = cmd
			return services.PriceResult{
				Currency: "SEK",
				LineItems: []domain.LineItem{
					{Code: "apostille", Quantity: 1, UnitPrice: 1439, Total: 1439},
				},
				Total:              1439,
				UnresolvedServices: []domain.ServiceCode{domain.ServiceChamber},
			}, nil
		},
	}
	router := NewRouter(WithPricingRoutes(NewPricingHandlers(svc).Routes))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/pricing/quote", bytes.NewBufferString(`{"country":"SE","services":["apostille","chamber"],"quantity":1}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.Country != "SE" || len(got.Services) != 2 {
		t.Fatalf("unexpected command %#v", got)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["totalPrice"] != float64(1439) || body["hasUnconfirmedPrices"] != true {
		t.Fatalf("unexpected body %#v", body)
	}
	unresolved, _ := body["unresolvedServices"].([]any)
	if len(unresolved) != 1 || unresolved[0] != "chamber" {
		t.Fatalf("expected chamber unresolved, got %v", body["unresolvedServices"])
	}
}

func TestPricingHandlersQuoteInvalid(t *testing.T) {
	svc := &fakePricingService{
		quoteFn: func(context.Context, services.PriceQuoteCommand) (services.PriceResult, error) {
			return services.PriceResult{}, fmt.Errorf("%w: quantity must be at least 1", services.ErrPricingInvalidInput)
		},
	}
	router := NewRouter(WithPricingRoutes(NewPricingHandlers(svc).Routes))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/pricing/quote", bytes.NewBufferString(`{"country":"SE","services":["apostille"],"quantity":0}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if body["message"] != "quantity must be at least 1" {
		t.Fatalf("unexpected message %v", body["message"])
	}
}
