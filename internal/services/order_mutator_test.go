package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/doxvl/legalization-api/internal/domain"
)

func newTestMutator(t *testing.T, orders *memoryOrderRepository) *OrderMutator {
	t.Helper()
	mutator, err := NewOrderMutator(OrderMutatorDeps{Orders: orders, Clock: func() time.Time { return fixtureStart }})
	if err != nil {
		t.Fatalf("NewOrderMutator: %v", err)
	}
	return mutator
}

func TestOrderMutatorConfirmedPriceIsIdempotent(t *testing.T) {
	orders := newMemoryOrderRepository(embassyOrder())
	mutator := newTestMutator(t, orders)
	payload := domain.EmbassyPricePayload{ConfirmedPrice: 1450, ConfirmedTotal: 1600}

	order, changed, err := mutator.ApplyConfirmedPrice(context.Background(), "ord_1", payload)
	if err != nil || !changed {
		t.Fatalf("first apply: changed=%v err=%v", changed, err)
	}
	if order.Pricing.TotalPrice != 1600 || !order.EmbassyPrice.Confirmed {
		t.Fatalf("unexpected order after confirm %#v", order.Pricing)
	}

	_, changed, err = mutator.ApplyConfirmedPrice(context.Background(), "ord_1", payload)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if changed || orders.writeCount() != 1 {
		t.Fatalf("expected second apply to be a no-op, writes=%d", orders.writeCount())
	}
}

func TestOrderMutatorResentEmbassyPriceReplacesConfirmedLine(t *testing.T) {
	orders := newMemoryOrderRepository(embassyOrder())
	mutator := newTestMutator(t, orders)
	ctx := context.Background()

	if _, _, err := mutator.ApplyConfirmedPrice(ctx, "ord_1", domain.EmbassyPricePayload{ConfirmedPrice: 1450, ConfirmedTotal: 1600}); err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if _, _, err := mutator.MarkConfirmationSent(ctx, "ord_1", SentMarker{Kind: domain.ConfirmationKindEmbassyPrice}); err != nil {
		t.Fatalf("re-send: %v", err)
	}
	order, changed, err := mutator.ApplyConfirmedPrice(ctx, "ord_1", domain.EmbassyPricePayload{ConfirmedPrice: 2000, ConfirmedTotal: 2150})
	if err != nil || !changed {
		t.Fatalf("second confirm: changed=%v err=%v", changed, err)
	}
	if order.EmbassyPrice.ConfirmedPrice != 2000 || order.Pricing.TotalPrice != 2150 {
		t.Fatalf("expected confirmed 2000 and total 2150, got %d / %d", order.EmbassyPrice.ConfirmedPrice, order.Pricing.TotalPrice)
	}
	embassyLines := 0
	for _, line := range order.Pricing.Breakdown {
		if line.Code != domain.LineEmbassyOfficial {
			continue
		}
		embassyLines++
		if line.UnitPrice != 2000 || line.Total != 2000 || line.IsTBC {
			t.Fatalf("embassy line not replaced: %#v", line)
		}
	}
	if embassyLines != 1 {
		t.Fatalf("expected exactly one embassy line, got %d", embassyLines)
	}
}

func TestOrderMutatorConfirmedPriceWithoutTBCLineAppends(t *testing.T) {
	order := embassyOrder()
	order.Pricing.Breakdown = order.Pricing.Breakdown[:2]
	order.Pricing.HasUnconfirmedPrices = false
	orders := newMemoryOrderRepository(order)
	mutator := newTestMutator(t, orders)

	updated, _, err := mutator.ApplyConfirmedPrice(context.Background(), "ord_1", domain.EmbassyPricePayload{ConfirmedPrice: 700, ConfirmedTotal: 850})
	if err != nil {
		t.Fatalf("ApplyConfirmedPrice: %v", err)
	}
	if len(updated.Pricing.Breakdown) != 3 || updated.Pricing.TotalPrice != 850 {
		t.Fatalf("expected appended embassy line and total 850, got %#v", updated.Pricing)
	}
}

func TestOrderMutatorKeepsFlagWhileServicesUnresolved(t *testing.T) {
	order := embassyOrder()
	order.Pricing.UnresolvedServices = []domain.ServiceCode{domain.ServiceChamber}
	mutator := newTestMutator(t, newMemoryOrderRepository(order))

	updated, _, err := mutator.ApplyConfirmedPrice(context.Background(), "ord_1", domain.EmbassyPricePayload{ConfirmedPrice: 1450, ConfirmedTotal: 1600})
	if err != nil {
		t.Fatalf("ApplyConfirmedPrice: %v", err)
	}
	if !updated.Pricing.HasUnconfirmedPrices {
		t.Fatalf("unresolved services must keep the unconfirmed flag")
	}
}

func TestOrderMutatorDeclineAndAddress(t *testing.T) {
	orders := newMemoryOrderRepository(embassyOrder())
	mutator := newTestMutator(t, orders)
	ctx := context.Background()

	if _, changed, err := mutator.DeclineEmbassyPrice(ctx, "ord_1"); err != nil || !changed {
		t.Fatalf("decline: changed=%v err=%v", changed, err)
	}
	if _, changed, err := mutator.DeclineEmbassyPrice(ctx, "ord_1"); err != nil || changed {
		t.Fatalf("repeat decline must be a no-op: changed=%v err=%v", changed, err)
	}

	if _, changed, err := mutator.ApplyAddress(ctx, "ord_1", domain.AddressTypeReturn, nil); err != nil || !changed {
		t.Fatalf("confirm return address: changed=%v err=%v", changed, err)
	}
	if _, changed, err := mutator.ApplyAddress(ctx, "ord_1", domain.AddressTypeReturn, nil); err != nil || changed {
		t.Fatalf("repeat address confirm must be a no-op: changed=%v err=%v", changed, err)
	}
	_, _, err := mutator.ApplyAddress(ctx, "ord_1", domain.AddressTypePickup, &domain.Address{Street: "Gatan 1"})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for incomplete address, got %v", err)
	}
	if _, _, err := mutator.DeclineEmbassyPrice(ctx, "missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderMutatorQuoteOutcome(t *testing.T) {
	orders := newMemoryOrderRepository(embassyOrder())
	mutator := newTestMutator(t, orders)
	ctx := context.Background()
	responded := fixtureStart

	outcome := domain.OrderQuote{Status: domain.QuoteStatusDeclined, Token: "tok", RespondedAt: &responded, DeclineReason: "för dyrt"}
	updated, changed, err := mutator.ApplyQuote(ctx, "ord_1", outcome)
	if err != nil || !changed {
		t.Fatalf("ApplyQuote: changed=%v err=%v", changed, err)
	}
	if updated.Quote.DeclineReason != "för dyrt" || updated.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected quote outcome %#v status %s", updated.Quote, updated.Status)
	}
	if _, changed, _ := mutator.ApplyQuote(ctx, "ord_1", outcome); changed {
		t.Fatalf("repeat quote outcome must be a no-op")
	}
}
