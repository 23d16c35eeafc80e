package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/doxvl/legalization-api/internal/domain"
	"github.com/doxvl/legalization-api/internal/services"
)

type fakeOrderService struct {
	createFn func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error)
	lookupFn func(ctx context.Context, query services.OrderStatusQuery) (services.Order, error)
}

func (f *fakeOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	return f.createFn(ctx, cmd)
}

func (f *fakeOrderService) LookupStatus(ctx context.Context, query services.OrderStatusQuery) (services.Order, error) {
	return f.lookupFn(ctx, query)
}

func (f *fakeOrderService) ResolveOrder(context.Context, string) (services.Order, error) {
	return services.Order{}, services.ErrOrderNotFound
}

var _ services.OrderService = (*fakeOrderService)(nil)

const createOrderBody = `{
  "country": "SE",
  "services": ["apostille", " notarization "],
  "quantity": 2,
  "scannedCopies": true,
  "returnService": "postnord-rek",
  "documentType": "birthCertificate",
  "customerInfo": {
    "firstName": "Anna",
    "lastName": "Berg",
    "email": "anna@example.se",
    "address": {"street": "Storgatan 1", "postalCode": "111 22", "city": "Stockholm"}
  },
  "locale": "sv"
}`

func TestOrderHandlersCreate(t *testing.T) {
	var got services.CreateOrderCommand
	svc := &fakeOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			got = cmd
			return services.Order{
				ID:          "01HZX",
				OrderNumber: "SWE000101",
				Status:      domain.OrderStatusPending,
				Currency:    "SEK",
				Pricing: domain.OrderPricing{
					Breakdown: []domain.LineItem{
						{Code: "apostille", Quantity: 2, UnitPrice: 1439, Total: 2878},
						{Code: "notarization", Quantity: 2, UnitPrice: 1319, Total: 2638},
						{Code: domain.LineScannedCopies, Quantity: 2, UnitPrice: 200, Total: 400},
						{Code: domain.LineReturnService, Quantity: 1, UnitPrice: 85, Total: 85},
					},
					TotalPrice: 6001,
				},
			}, nil
		},
	}
	router := NewRouter(WithOrderRoutes(NewOrderHandlers(svc).Routes))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString(createOrderBody)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	sel := got.Selection
	if sel.Country != "SE" || len(sel.Services) != 2 || sel.Services[1] != "notarization" || sel.Quantity != 2 || !sel.ScannedCopies || sel.ReturnService != "postnord-rek" {
		t.Fatalf("unexpected selection %#v", sel)
	}
	if got.Customer.Email != "anna@example.se" || got.Customer.Address.City != "Stockholm" || got.PickupAddress != nil {
		t.Fatalf("unexpected customer %#v", got)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["orderNumber"] != "SWE000101" || body["totalPrice"] != float64(6001) || body["hasUnconfirmedPrices"] != false {
		t.Fatalf("unexpected body %#v", body)
	}
}

func TestOrderHandlersCreateErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "validation", err: fmt.Errorf("%w: customer email is invalid", services.ErrOrderInvalidInput), wantStatus: http.StatusBadRequest, wantCode: "invalid_request"},
		{name: "unknown service", err: fmt.Errorf("%w: unknown service", services.ErrPricingInvalidInput), wantStatus: http.StatusBadRequest, wantCode: "invalid_selection"},
		{name: "store down", err: fmt.Errorf("%w: deadline", services.ErrOrderUnavailable), wantStatus: http.StatusServiceUnavailable, wantCode: "order_unavailable"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeOrderService{
				createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}
			router := NewRouter(WithOrderRoutes(NewOrderHandlers(svc).Routes))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString(createOrderBody)))
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rr.Code)
			}
			var body map[string]any
			_ = json.Unmarshal(rr.Body.Bytes(), &body)
			if body["error"] != tc.wantCode {
				t.Fatalf("expected %s, got %v", tc.wantCode, body["error"])
			}
		})
	}
}

func TestOrderHandlersCreateRateLimited(t *testing.T) {
	calls := 0
	svc := &fakeOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			calls++
			return services.Order{ID: "x"}, nil
		},
	}
	router := NewRouter(WithOrderRoutes(NewOrderHandlers(svc, WithOrderCreateRateLimit(3, time.Minute)).Routes))

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString(createOrderBody))
		req.Header.Set("X-Forwarded-For", "203.0.113.50")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[2] != http.StatusCreated || codes[3] != http.StatusTooManyRequests {
		t.Fatalf("expected 3 allowed then 429, got %v", codes)
	}
	if calls != 3 {
		t.Fatalf("rejected request must not reach the service, got %d calls", calls)
	}
}

func TestOrderHandlersStatus(t *testing.T) {
	var got services.OrderStatusQuery
	svc := &fakeOrderService{
		lookupFn: func(_ context.Context, query services.OrderStatusQuery) (services.Order, error) {
			got = query
			if query.Email != "ANNA@example.se" {
				return services.Order{}, services.ErrOrderNotFound
			}
			return services.Order{OrderNumber: "SWE000044", Status: domain.OrderStatusProcessing, Customer: domain.CustomerInfo{FirstName: "Anna", Email: "anna@example.se"}}, nil
		},
	}
	router := NewRouter(WithOrderRoutes(NewOrderHandlers(svc).Routes))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/orders/status", bytes.NewBufferString(`{"orderNumber":"SWE000044","email":"ANNA@example.se"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.OrderNumber != "SWE000044" {
		t.Fatalf("unexpected query %#v", got)
	}
	var body struct {
		Order map[string]any `json:"order"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Order["status"] != "processing" {
		t.Fatalf("unexpected order %#v", body.Order)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/orders/status", bytes.NewBufferString(`{"orderNumber":"SWE000044","email":"other@example.se"}`)))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected email mismatch to read as 404, got %d", rr.Code)
	}
}
