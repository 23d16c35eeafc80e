package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/doxvl/legalization-api/internal/domain"
)

type recordingMailQueue struct {
	messages []domain.MailMessage
	err      error
}

func (q *recordingMailQueue) Enqueue(_ context.Context, msg domain.MailMessage) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.messages = append(q.messages, msg)
	return "mail-1", nil
}

func newTestNotifier(t *testing.T, queue *recordingMailQueue) *MailNotifier {
	t.Helper()
	notifier, err := NewMailNotifier(MailNotifierDeps{Queue: queue, Clock: func() time.Time { return fixtureStart }})
	if err != nil {
		t.Fatalf("NewMailNotifier: %v", err)
	}
	return notifier
}

func TestMailNotifierEmbassyPriceSwedish(t *testing.T) {
	queue := &recordingMailQueue{}
	notifier := newTestNotifier(t, queue)

	err := notifier.NotifyConfirmationSent(context.Background(), ConfirmationNotice{
		Kind:      domain.ConfirmationKindEmbassyPrice,
		Order:     embassyOrder(),
		Email:     "anna@example.se",
		Name:      "Anna Svensson",
		Locale:    "sv",
		URL:       "https://doxvl.se/confirm-embassy-price/abc",
		ExpiresAt: fixtureStart.Add(14 * 24 * time.Hour),
		Payload:   domain.EmbassyPricePayload{ConfirmedPrice: 1450, ConfirmedTotal: 1600, OriginalTotal: 150},
	})
	if err != nil {
		t.Fatalf("NotifyConfirmationSent: %v", err)
	}
	if len(queue.messages) != 1 {
		t.Fatalf("expected one queued message, got %d", len(queue.messages))
	}
	msg := queue.messages[0]
	if msg.Status != domain.MailStatusPending || msg.To != "anna@example.se" || msg.OrderID != "ord_1" {
		t.Fatalf("unexpected message header %#v", msg)
	}
	if msg.Subject != "Bekräfta ambassadens avgift för order SWE000044" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	for _, want := range []string{"Hej Anna Svensson,", "https://doxvl.se/confirm-embassy-price/abc", "2026-05-18"} {
		if !strings.Contains(msg.HTML, want) {
			t.Fatalf("expected body to contain %q", want)
		}
	}
}

func TestMailNotifierQuoteSanitizesMessage(t *testing.T) {
	queue := &recordingMailQueue{}
	notifier := newTestNotifier(t, queue)

	err := notifier.NotifyConfirmationSent(context.Background(), ConfirmationNotice{
		Kind:   domain.ConfirmationKindQuote,
		Order:  embassyOrder(),
		Email:  "anna@example.se",
		Name:   "<b>Anna</b>",
		Locale: "en",
		URL:    "https://doxvl.se/quote/abc",
		Payload: domain.QuotePayload{
			LineItems:   []domain.QuoteLineItem{{Description: "Legalisation", Quantity: 1, UnitPrice: 900, Total: 900}},
			TotalAmount: 900,
			Message:     "Thanks!\n<script>alert(1)</script><strong>Note</strong>",
		},
	})
	if err != nil {
		t.Fatalf("NotifyConfirmationSent: %v", err)
	}
	body := queue.messages[0].HTML
	if strings.Contains(body, "<script>") || strings.Contains(body, "<b>Anna</b>") {
		t.Fatalf("expected unsafe markup removed or escaped, got %s", body)
	}
	if !strings.Contains(body, "Thanks!<br>") || !strings.Contains(body, "<strong>Note</strong>") {
		t.Fatalf("expected allowed formatting kept, got %s", body)
	}
	if queue.messages[0].Subject != "Quote for order SWE000044" {
		t.Fatalf("unexpected subject %q", queue.messages[0].Subject)
	}
}

func TestMailNotifierErrors(t *testing.T) {
	queue := &recordingMailQueue{err: errors.New("unavailable")}
	notifier := newTestNotifier(t, queue)
	notice := ConfirmationNotice{Kind: domain.ConfirmationKindAddress, Order: embassyOrder(), Payload: domain.AddressPayload{Type: domain.AddressTypePickup}}
	if err := notifier.NotifyConfirmationSent(context.Background(), notice); err == nil {
		t.Fatalf("expected enqueue failure to surface")
	}

	notice.Payload = "unexpected"
	if err := notifier.NotifyConfirmationSent(context.Background(), notice); err == nil {
		t.Fatalf("expected unsupported payload error")
	}
}
