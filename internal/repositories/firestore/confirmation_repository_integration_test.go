//go:build integration

package firestore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	domain "github.com/doxvl/legalization-api/internal/domain"
	pfirestore "github.com/doxvl/legalization-api/internal/platform/firestore"
	"github.com/doxvl/legalization-api/internal/repositories"
)

func TestConfirmationRepositoryTransitionIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "confirmations-test")
	repo, err := NewEmbassyPriceConfirmationRepository(provider)
	if err != nil {
		t.Fatalf("new confirmation repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	created, err := repo.Create(ctx, domain.Confirmation[domain.EmbassyPricePayload]{
		Token:         "6f1c2f4e-8c1b-4b55-9d55-0a6b1b0b9f10",
		OrderID:       "ord_1",
		OrderNumber:   "SWE000044",
		CustomerEmail: "anna@example.se",
		Payload:       domain.EmbassyPricePayload{ConfirmedPrice: 1450, ConfirmedTotal: 1600},
		Status:        domain.ConfirmationStatusSent,
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.Kind != domain.ConfirmationKindEmbassyPrice {
		t.Fatalf("expected id and kind assigned, got %#v", created)
	}

	found, err := repo.FindByToken(ctx, created.Token)
	if err != nil {
		t.Fatalf("find by token: %v", err)
	}
	if found.Payload.ConfirmedTotal != 1600 || found.UpdateTime.IsZero() {
		t.Fatalf("unexpected record %#v", found)
	}

	// Two writers holding the same revision: exactly one wins.
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Transition(ctx, found, domain.ConfirmationUpdate[domain.EmbassyPricePayload]{
				Status:      domain.ConfirmationStatusConfirmed,
				RespondedAt: now.Add(time.Minute),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case pfirestore.IsConflict(err):
				conflicts++
			default:
				t.Errorf("transition: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || conflicts != 1 {
		t.Fatalf("expected one win and one conflict, got %d/%d", wins, conflicts)
	}

	again, err := repo.FindByToken(ctx, created.Token)
	if err != nil {
		t.Fatalf("find after transition: %v", err)
	}
	if again.Status != domain.ConfirmationStatusConfirmed || again.RespondedAt == nil {
		t.Fatalf("expected confirmed record, got %#v", again)
	}
	if _, err := repo.Transition(ctx, again, domain.ConfirmationUpdate[domain.EmbassyPricePayload]{Status: domain.ConfirmationStatusDeclined, RespondedAt: now}); !pfirestore.IsConflict(err) {
		t.Fatalf("expected conflict on terminal record, got %v", err)
	}

	if _, err := repo.FindByToken(ctx, "00000000-0000-4000-8000-000000000000"); !pfirestore.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	listed, err := repo.ListByOrder(ctx, "ord_1")
	if err != nil {
		t.Fatalf("list by order: %v", err)
	}
	if len(listed) != 1 || listed[0].Token != created.Token {
		t.Fatalf("unexpected listing %#v", listed)
	}
}

func TestOrderRepositoryMutateInUnitOfWorkIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "orders-test")
	orders, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	order := domain.Order{
		ID:          "ord_int",
		OrderNumber: "SWE000100",
		Country:     "AO",
		Services:    []domain.ServiceCode{domain.ServiceEmbassy},
		Quantity:    1,
		Status:      domain.OrderStatusPending,
		Currency:    "SEK",
		Customer: domain.CustomerInfo{
			FirstName: "Anna",
			Email:     "anna@example.se",
			Address:   domain.Address{Street: "Storgatan 1", PostalCode: "111 22", City: "Stockholm"},
		},
		Pricing: domain.OrderPricing{
			Breakdown: []domain.LineItem{
				{Code: "embassy", Quantity: 1, UnitPrice: 150, Total: 150},
				{Code: domain.LineEmbassyOfficial, Quantity: 1, IsTBC: true},
			},
			TotalPrice:           150,
			HasUnconfirmedPrices: true,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := orders.Insert(ctx, order); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := orders.Insert(ctx, order); !pfirestore.IsConflict(err) {
		t.Fatalf("expected conflict on duplicate insert, got %v", err)
	}

	byNumber, err := orders.FindByNumber(ctx, "SWE000100")
	if err != nil || byNumber.ID != "ord_int" {
		t.Fatalf("find by number: %v %#v", err, byNumber)
	}

	uow := pfirestore.NewUnitOfWork(provider)
	status := domain.OrderStatusCancelled
	var changed bool
	err = uow.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		_, changed, err = orders.Mutate(ctx, "ord_int", func(domain.Order) (domain.OrderPatch, error) {
			return domain.OrderPatch{Status: &status, UpdatedAt: &now}, nil
		})
		return err
	})
	if err != nil || !changed {
		t.Fatalf("mutate in unit of work: changed=%v err=%v", changed, err)
	}

	stored, err := orders.FindByID(ctx, "ord_int")
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if stored.Status != domain.OrderStatusCancelled || len(stored.Pricing.Breakdown) != 2 || stored.Customer.Address.City != "Stockholm" {
		t.Fatalf("mutation must patch only the status, got %#v", stored)
	}

	sentinel := errors.New("rejected")
	if _, _, err := orders.Mutate(ctx, "ord_int", func(domain.Order) (domain.OrderPatch, error) {
		return domain.OrderPatch{}, sentinel
	}); !errors.Is(err, sentinel) {
		t.Fatalf("expected mutation error to surface, got %v", err)
	}
}

func TestCounterRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "counter-test")
	repo, err := NewCounterRepository(provider)
	if err != nil {
		t.Fatalf("new counter repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	const workers = 16
	results := make([]int64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			value, err := repo.Next(ctx, "orders", 1)
			if err != nil {
				t.Errorf("next(%d): %v", idx, err)
				return
			}
			results[idx] = value
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, val := range results {
		if val != int64(i+1) {
			t.Fatalf("expected sequence %d at position %d, got %d", i+1, i, val)
		}
	}

	_, err = repo.Next(ctx, "orders", 0)
	if !errors.Is(err, repositories.ErrCounterInvalidInput) {
		t.Fatalf("expected invalid input for zero step, got %v", err)
	}
}

func TestPricingRuleRepositoryPublishIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "pricing-test")
	repo, err := NewPricingRuleRepository(provider)
	if err != nil {
		t.Fatalf("new pricing repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	past := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	rule := domain.PricingRule{Country: "SE", Service: domain.ServiceApostille, OfficialFee: 440, ServiceFee: 999, Currency: "SEK", Active: true, EffectiveFrom: past}
	first, err := repo.Publish(ctx, rule)
	if err != nil || first.Version != 1 {
		t.Fatalf("publish v1: %v %#v", err, first)
	}
	rule.OfficialFee = 460
	second, err := repo.Publish(ctx, rule)
	if err != nil || second.Version != 2 {
		t.Fatalf("publish v2: %v %#v", err, second)
	}

	effective, err := repo.ListEffective(ctx, "SE", time.Now().UTC())
	if err != nil {
		t.Fatalf("list effective: %v", err)
	}
	if len(effective) != 1 || effective[0].Version != 2 || effective[0].BasePrice() != 1459 {
		t.Fatalf("unexpected effective rules %#v", effective)
	}
	versions, err := repo.ListVersions(ctx, rule.Key())
	if err != nil || len(versions) != 2 || versions[0].OfficialFee != 440 {
		t.Fatalf("expected both versions preserved: %v %#v", err, versions)
	}
}
