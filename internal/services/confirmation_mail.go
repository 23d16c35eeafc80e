package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/doxvl/legalization-api/internal/domain"
	"github.com/doxvl/legalization-api/internal/repositories"
)

var confirmationMailTemplate = template.Must(template.New("confirmation").Parse(`<!DOCTYPE html>
<html lang="{{.Lang}}">
<body style="font-family: Arial, sans-serif; color: #1f2937; max-width: 600px; margin: 0 auto;">
<h2>{{.Heading}}</h2>
<p>{{.Greeting}}</p>
<p>{{.Intro}}</p>
{{if .Rows}}<table style="width: 100%; border-collapse: collapse; margin: 16px 0;">
{{range .Rows}}<tr><td style="padding: 6px 0; color: #6b7280;">{{.Label}}</td><td style="padding: 6px 0; text-align: right;{{if .Strong}} font-weight: bold;{{end}}">{{.Value}}</td></tr>
{{end}}</table>{{end}}
{{if .Message}}<div style="background: #f3f4f6; padding: 12px; border-radius: 6px;">{{.Message}}</div>{{end}}
<p style="margin: 24px 0;"><a href="{{.URL}}" style="background: #0e4a84; color: #ffffff; padding: 12px 20px; border-radius: 6px; text-decoration: none;">{{.Button}}</a></p>
<p style="color: #6b7280; font-size: 13px;">{{.Expiry}}</p>
<p>{{.Footer}}<br>{{.Brand}}</p>
</body>
</html>
`))

type mailRow struct {
	Label  string
	Value  string
	Strong bool
}

type mailContent struct {
	Lang     string
	Subject  string
	Heading  string
	Greeting string
	Intro    string
	Rows     []mailRow
	Message  template.HTML
	Button   string
	URL      string
	Expiry   string
	Footer   string
	Brand    string
}

// MailNotifierDeps bundles collaborators required to construct a mail notifier.
type MailNotifierDeps struct {
	Queue repositories.MailQueueRepository
	Brand string
	Clock func() time.Time
}

// MailNotifier renders confirmation emails and enqueues them for the external dispatcher.
type MailNotifier struct {
	queue  repositories.MailQueueRepository
	brand  string
	clock  func() time.Time
	policy *bluemonday.Policy
}

var _ ConfirmationNotifier = (*MailNotifier)(nil)

// NewMailNotifier constructs a MailNotifier.
func NewMailNotifier(deps MailNotifierDeps) (*MailNotifier, error) {
	if deps.Queue == nil {
		return nil, errors.New("mail notifier: queue repository is required")
	}
	brand := strings.TrimSpace(deps.Brand)
	if brand == "" {
		brand = "DOX Visumpartner"
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &MailNotifier{
		queue: deps.Queue,
		brand: brand,
		clock: func() time.Time {
			return clock().UTC()
		},
		policy: newQuoteMessagePolicy(),
	}, nil
}

// NotifyConfirmationSent renders the email for the notice and writes it to the mail queue.
func (n *MailNotifier) NotifyConfirmationSent(ctx context.Context, notice ConfirmationNotice) error {
	content, err := n.compose(notice)
	if err != nil {
		return err
	}
	var body bytes.Buffer
	if err := confirmationMailTemplate.Execute(&body, content); err != nil {
		return fmt.Errorf("mail notifier: render %s: %w", notice.Kind, err)
	}
	_, err = n.queue.Enqueue(ctx, domain.MailMessage{
		To:        notice.Email,
		Subject:   content.Subject,
		HTML:      body.String(),
		Status:    domain.MailStatusPending,
		OrderID:   notice.Order.ID,
		Kind:      notice.Kind,
		CreatedAt: n.clock(),
	})
	if err != nil {
		return fmt.Errorf("mail notifier: enqueue: %w", err)
	}
	return nil
}

func (n *MailNotifier) compose(notice ConfirmationNotice) (mailContent, error) {
	lang := matchLocale(notice.Locale)
	printer := message.NewPrinter(lang)
	currency := notice.Order.Currency
	if currency == "" {
		currency = "SEK"
	}
	amount := func(v int64) string {
		return formatAmount(printer, v, currency)
	}

	name := strings.TrimSpace(notice.Name)
	if name == "" {
		name = localized(lang, "kund", "customer")
	}
	content := mailContent{
		Lang:     lang.String(),
		Greeting: localized(lang, "Hej "+name+",", "Hello "+name+","),
		URL:      notice.URL,
		Expiry:   expiryLine(lang, notice.ExpiresAt),
		Footer:   localized(lang, "Med vänliga hälsningar,", "Kind regards,"),
		Brand:    n.brand,
	}
	number := notice.Order.OrderNumber

	switch payload := notice.Payload.(type) {
	case domain.EmbassyPricePayload:
		content.Subject = localized(lang, "Bekräfta ambassadens avgift för order "+number, "Confirm the embassy fee for order "+number)
		content.Heading = localized(lang, "Ambassadens avgift är fastställd", "The embassy fee has been confirmed")
		content.Intro = localized(lang,
			"Ambassaden har meddelat sin officiella avgift för din beställning. Granska det uppdaterade priset och bekräfta eller avböj via knappen nedan.",
			"The embassy has confirmed its official fee for your order. Please review the updated price and confirm or decline using the button below.")
		content.Rows = []mailRow{
			{Label: localized(lang, "Ambassadens avgift", "Embassy fee"), Value: amount(payload.ConfirmedPrice)},
			{Label: localized(lang, "Tidigare pris", "Previous price"), Value: amount(payload.OriginalTotal)},
			{Label: localized(lang, "Nytt totalpris", "New total"), Value: amount(payload.ConfirmedTotal), Strong: true},
		}
		content.Button = localized(lang, "Granska priset", "Review the price")
	case domain.AddressPayload:
		pickup := payload.Type == domain.AddressTypePickup
		if pickup {
			content.Subject = localized(lang, "Bekräfta upphämtningsadress för order "+number, "Confirm the pickup address for order "+number)
			content.Heading = localized(lang, "Bekräfta upphämtningsadress", "Confirm your pickup address")
		} else {
			content.Subject = localized(lang, "Bekräfta returadress för order "+number, "Confirm the return address for order "+number)
			content.Heading = localized(lang, "Bekräfta returadress", "Confirm your return address")
		}
		content.Intro = localized(lang,
			"Kontrollera att adressen nedan stämmer. Du kan bekräfta den som den är eller uppdatera den.",
			"Please check that the address below is correct. You can confirm it as is or update it.")
		addr := payload.Address
		content.Rows = []mailRow{
			{Label: localized(lang, "Adress", "Address"), Value: addr.Street},
			{Label: localized(lang, "Postnummer och ort", "Postal code and city"), Value: strings.TrimSpace(addr.PostalCode + " " + addr.City)},
			{Label: localized(lang, "Land", "Country"), Value: addr.Country},
		}
		if addr.CompanyName != "" {
			content.Rows = append([]mailRow{{Label: localized(lang, "Företag", "Company"), Value: addr.CompanyName}}, content.Rows...)
		}
		content.Button = localized(lang, "Bekräfta adressen", "Confirm the address")
	case domain.QuotePayload:
		content.Subject = localized(lang, "Offert för order "+number, "Quote for order "+number)
		content.Heading = localized(lang, "Din offert", "Your quote")
		content.Intro = localized(lang,
			"Här är offerten för din beställning. Godkänn eller avböj den via knappen nedan.",
			"Here is the quote for your order. Accept or decline it using the button below.")
		for _, item := range payload.LineItems {
			label := item.Description
			if item.Quantity > 1 {
				label = fmt.Sprintf("%s (%d × %s)", item.Description, item.Quantity, amount(item.UnitPrice))
			}
			content.Rows = append(content.Rows, mailRow{Label: label, Value: amount(item.Total)})
		}
		content.Rows = append(content.Rows, mailRow{Label: localized(lang, "Totalt", "Total"), Value: amount(payload.TotalAmount), Strong: true})
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			content.Message = template.HTML(n.policy.Sanitize(strings.ReplaceAll(msg, "\n", "<br>")))
		}
		content.Button = localized(lang, "Visa offerten", "View the quote")
	default:
		return mailContent{}, fmt.Errorf("mail notifier: unsupported payload %T for %s", notice.Payload, notice.Kind)
	}
	return content, nil
}

func formatAmount(printer *message.Printer, value int64, currency string) string {
	if strings.EqualFold(currency, "SEK") {
		return printer.Sprintf("%d kr", value)
	}
	return printer.Sprintf("%d %s", value, currency)
}

func expiryLine(lang language.Tag, expiresAt time.Time) string {
	if expiresAt.IsZero() {
		return ""
	}
	date := expiresAt.In(stockholm()).Format("2006-01-02")
	return localized(lang, "Länken är giltig till och med "+date+".", "The link is valid until "+date+".")
}

func stockholm() *time.Location {
	loc, err := time.LoadLocation("Europe/Stockholm")
	if err != nil {
		return time.UTC
	}
	return loc
}

func newQuoteMessagePolicy() *bluemonday.Policy {
	policy := bluemonday.NewPolicy()
	policy.AllowElements("br", "b", "strong", "i", "em")
	return policy
}
