package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/doxvl/legalization-api/internal/domain"
	pfirestore "github.com/doxvl/legalization-api/internal/platform/firestore"
	"github.com/doxvl/legalization-api/internal/repositories"
)

const ordersCollection = "orders"

type orderDocument struct {
	OrderNumber        string                   `firestore:"orderNumber"`
	Country            string                   `firestore:"country"`
	Services           []string                 `firestore:"services"`
	Quantity           int                      `firestore:"quantity"`
	DocumentType       string                   `firestore:"documentType,omitempty"`
	AddOns             addOnsDocument           `firestore:"addOns"`
	Customer           customerDocument         `firestore:"customerInfo"`
	PickupAddress      *addressDocument         `firestore:"pickupAddress,omitempty"`
	Locale             string                   `firestore:"locale,omitempty"`
	Status             string                   `firestore:"status"`
	CancellationReason string                   `firestore:"cancellationReason,omitempty"`
	Currency           string                   `firestore:"currency"`
	PricingBreakdown   []lineItemDocument       `firestore:"pricingBreakdown"`
	TotalPrice         int64                    `firestore:"totalPrice"`
	HasUnconfirmed     bool                     `firestore:"hasUnconfirmedPrices"`
	UnresolvedServices []string                 `firestore:"unresolvedServices,omitempty"`
	EmbassyPrice       embassyStateDocument     `firestore:"embassyPrice"`
	PickupConfirmation addressConfirmationState `firestore:"pickupAddressConfirmation"`
	ReturnConfirmation addressConfirmationState `firestore:"returnAddressConfirmation"`
	Quote              *quoteDocument           `firestore:"quote,omitempty"`
	Notes              string                   `firestore:"additionalNotes,omitempty"`
	CreatedAt          time.Time                `firestore:"createdAt"`
	UpdatedAt          time.Time                `firestore:"updatedAt"`
}

type addOnsDocument struct {
	Expedited     bool   `firestore:"expedited"`
	ScannedCopies bool   `firestore:"scannedCopies"`
	PickupService bool   `firestore:"pickupService"`
	ReturnService string `firestore:"returnService,omitempty"`
}

type customerDocument struct {
	FirstName string          `firestore:"firstName"`
	LastName  string          `firestore:"lastName"`
	Email     string          `firestore:"email"`
	Phone     string          `firestore:"phone,omitempty"`
	Address   addressDocument `firestore:"address"`
}

type addressDocument struct {
	Street      string `firestore:"street"`
	PostalCode  string `firestore:"postalCode"`
	City        string `firestore:"city"`
	Country     string `firestore:"country,omitempty"`
	CompanyName string `firestore:"companyName,omitempty"`
	ContactName string `firestore:"contactName,omitempty"`
	Phone       string `firestore:"phone,omitempty"`
}

type lineItemDocument struct {
	Service     string `firestore:"service"`
	Description string `firestore:"description"`
	Quantity    int    `firestore:"quantity"`
	UnitPrice   int64  `firestore:"unitPrice"`
	Total       int64  `firestore:"total"`
	IsTBC       bool   `firestore:"isTBC"`
}

type embassyStateDocument struct {
	Pending        bool       `firestore:"pendingEmbassyPrice"`
	SentAt         *time.Time `firestore:"embassyPriceConfirmationSentAt,omitempty"`
	Confirmed      bool       `firestore:"embassyPriceConfirmed"`
	ConfirmedAt    *time.Time `firestore:"embassyPriceConfirmedAt,omitempty"`
	ConfirmedPrice int64      `firestore:"confirmedEmbassyPrice,omitempty"`
	Declined       bool       `firestore:"embassyPriceDeclined"`
	DeclinedAt     *time.Time `firestore:"embassyPriceDeclinedAt,omitempty"`
}

type addressConfirmationState struct {
	SentAt            *time.Time `firestore:"sentAt,omitempty"`
	Confirmed         bool       `firestore:"confirmed"`
	ConfirmedAt       *time.Time `firestore:"confirmedAt,omitempty"`
	UpdatedByCustomer bool       `firestore:"updatedByCustomer"`
}

type quoteLineDocument struct {
	Description string `firestore:"description"`
	Quantity    int    `firestore:"quantity"`
	UnitPrice   int64  `firestore:"unitPrice"`
	Total       int64  `firestore:"total"`
	VATRate     int    `firestore:"vatRate"`
}

type quoteDocument struct {
	Status        string              `firestore:"status"`
	Token         string              `firestore:"token"`
	SentAt        time.Time           `firestore:"sentAt"`
	RespondedAt   *time.Time          `firestore:"respondedAt,omitempty"`
	TotalAmount   int64               `firestore:"totalAmount"`
	LineItems     []quoteLineDocument `firestore:"lineItems"`
	DeclineReason string              `firestore:"declineReason,omitempty"`
}

// OrderRepository persists the pricing and confirmation fields of orders in Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection),
	}, nil
}

// Insert creates the order document and fails with a conflict when the id is taken.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	_, err := r.base.Create(ctx, id, encodeOrder(order))
	return err
}

// FindByID loads an order by document id.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// FindByNumber loads an order by its human-facing number.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	number := strings.TrimSpace(orderNumber)
	doc, err := r.base.QueryFirst(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderNumber", "==", number)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// Mutate reads the order inside a transaction, applies fn and updates only the patched fields.
// It joins the transaction already bound to ctx.
func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn repositories.OrderMutation) (domain.Order, bool, error) {
	if fn == nil {
		return domain.Order{}, false, errors.New("order repository: mutation is required")
	}
	id := strings.TrimSpace(orderID)

	var (
		result  domain.Order
		changed bool
	)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		changed = false
		doc, err := r.base.Get(ctx, id)
		if err != nil {
			return err
		}
		current := decodeOrder(doc.ID, doc.Data)
		patch, err := fn(current)
		if err != nil {
			return err
		}
		if patch.IsEmpty() {
			result = current
			return nil
		}
		if _, err := r.base.Update(ctx, id, orderPatchUpdates(patch)); err != nil {
			return err
		}
		result = current.WithPatch(patch)
		changed = true
		return nil
	})
	if err != nil {
		return domain.Order{}, false, err
	}
	return result, changed, nil
}

func orderPatchUpdates(p domain.OrderPatch) []firestore.Update {
	var updates []firestore.Update
	if p.Pricing != nil {
		updates = append(updates,
			firestore.Update{Path: "pricingBreakdown", Value: encodeLineItems(p.Pricing.Breakdown)},
			firestore.Update{Path: "totalPrice", Value: p.Pricing.TotalPrice},
			firestore.Update{Path: "hasUnconfirmedPrices", Value: p.Pricing.HasUnconfirmedPrices},
			firestore.Update{Path: "unresolvedServices", Value: serviceStrings(p.Pricing.UnresolvedServices)},
		)
	}
	if p.Status != nil {
		updates = append(updates, firestore.Update{Path: "status", Value: string(*p.Status)})
	}
	if p.CancellationReason != nil {
		updates = append(updates, firestore.Update{Path: "cancellationReason", Value: *p.CancellationReason})
	}
	if p.EmbassyPrice != nil {
		updates = append(updates, firestore.Update{Path: "embassyPrice", Value: encodeEmbassyState(*p.EmbassyPrice)})
	}
	if p.PickupAddress != nil {
		updates = append(updates, firestore.Update{Path: "pickupAddress", Value: encodeAddress(*p.PickupAddress)})
	}
	if p.ReturnAddress != nil {
		updates = append(updates, firestore.Update{Path: "customerInfo.address", Value: encodeAddress(*p.ReturnAddress)})
	}
	if p.PickupConfirmation != nil {
		updates = append(updates, firestore.Update{Path: "pickupAddressConfirmation", Value: encodeAddressConfirmation(*p.PickupConfirmation)})
	}
	if p.ReturnConfirmation != nil {
		updates = append(updates, firestore.Update{Path: "returnAddressConfirmation", Value: encodeAddressConfirmation(*p.ReturnConfirmation)})
	}
	if p.Quote != nil {
		updates = append(updates, firestore.Update{Path: "quote", Value: encodeQuote(*p.Quote)})
	}
	if p.UpdatedAt != nil {
		updates = append(updates, firestore.Update{Path: "updatedAt", Value: p.UpdatedAt.UTC()})
	}
	return updates
}

func encodeOrder(o domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:  o.OrderNumber,
		Country:      string(o.Country),
		Services:     serviceStrings(o.Services),
		Quantity:     o.Quantity,
		DocumentType: o.DocumentType,
		AddOns: addOnsDocument{
			Expedited:     o.AddOns.Expedited,
			ScannedCopies: o.AddOns.ScannedCopies,
			PickupService: o.AddOns.PickupService,
			ReturnService: string(o.AddOns.ReturnService),
		},
		Customer: customerDocument{
			FirstName: o.Customer.FirstName,
			LastName:  o.Customer.LastName,
			Email:     o.Customer.Email,
			Phone:     o.Customer.Phone,
			Address:   encodeAddress(o.Customer.Address),
		},
		Locale:             o.Locale,
		Status:             string(o.Status),
		CancellationReason: o.CancellationReason,
		Currency:           o.Currency,
		PricingBreakdown:   encodeLineItems(o.Pricing.Breakdown),
		TotalPrice:         o.Pricing.TotalPrice,
		HasUnconfirmed:     o.Pricing.HasUnconfirmedPrices,
		UnresolvedServices: serviceStrings(o.Pricing.UnresolvedServices),
		EmbassyPrice:       encodeEmbassyState(o.EmbassyPrice),
		PickupConfirmation: encodeAddressConfirmation(o.PickupConfirmation),
		ReturnConfirmation: encodeAddressConfirmation(o.ReturnConfirmation),
		Notes:              o.Notes,
		CreatedAt:          o.CreatedAt.UTC(),
		UpdatedAt:          o.UpdatedAt.UTC(),
	}
	if o.PickupAddress != nil {
		addr := encodeAddress(*o.PickupAddress)
		doc.PickupAddress = &addr
	}
	if o.Quote != nil {
		quote := encodeQuote(*o.Quote)
		doc.Quote = &quote
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:           id,
		OrderNumber:  doc.OrderNumber,
		Country:      domain.CountryCode(doc.Country),
		Services:     serviceCodes(doc.Services),
		Quantity:     doc.Quantity,
		DocumentType: doc.DocumentType,
		AddOns: domain.AddOns{
			Expedited:     doc.AddOns.Expedited,
			ScannedCopies: doc.AddOns.ScannedCopies,
			PickupService: doc.AddOns.PickupService,
			ReturnService: domain.ReturnTier(doc.AddOns.ReturnService),
		},
		Customer: domain.CustomerInfo{
			FirstName: doc.Customer.FirstName,
			LastName:  doc.Customer.LastName,
			Email:     doc.Customer.Email,
			Phone:     doc.Customer.Phone,
			Address:   decodeAddress(doc.Customer.Address),
		},
		Locale:             doc.Locale,
		Status:             domain.OrderStatus(doc.Status),
		CancellationReason: doc.CancellationReason,
		Currency:           doc.Currency,
		Pricing: domain.OrderPricing{
			Breakdown:            decodeLineItems(doc.PricingBreakdown),
			TotalPrice:           doc.TotalPrice,
			HasUnconfirmedPrices: doc.HasUnconfirmed,
			UnresolvedServices:   serviceCodes(doc.UnresolvedServices),
		},
		EmbassyPrice: domain.EmbassyPriceState{
			Pending:        doc.EmbassyPrice.Pending,
			SentAt:         utcPtr(doc.EmbassyPrice.SentAt),
			Confirmed:      doc.EmbassyPrice.Confirmed,
			ConfirmedAt:    utcPtr(doc.EmbassyPrice.ConfirmedAt),
			ConfirmedPrice: doc.EmbassyPrice.ConfirmedPrice,
			Declined:       doc.EmbassyPrice.Declined,
			DeclinedAt:     utcPtr(doc.EmbassyPrice.DeclinedAt),
		},
		PickupConfirmation: decodeAddressConfirmation(doc.PickupConfirmation),
		ReturnConfirmation: decodeAddressConfirmation(doc.ReturnConfirmation),
		Notes:              doc.Notes,
		CreatedAt:          doc.CreatedAt.UTC(),
		UpdatedAt:          doc.UpdatedAt.UTC(),
	}
	if doc.PickupAddress != nil {
		addr := decodeAddress(*doc.PickupAddress)
		order.PickupAddress = &addr
	}
	if doc.Quote != nil {
		quote := decodeQuote(*doc.Quote)
		order.Quote = &quote
	}
	return order
}

func encodeAddress(a domain.Address) addressDocument {
	return addressDocument{
		Street:      a.Street,
		PostalCode:  a.PostalCode,
		City:        a.City,
		Country:     a.Country,
		CompanyName: a.CompanyName,
		ContactName: a.ContactName,
		Phone:       a.Phone,
	}
}

func decodeAddress(a addressDocument) domain.Address {
	return domain.Address{
		Street:      a.Street,
		PostalCode:  a.PostalCode,
		City:        a.City,
		Country:     a.Country,
		CompanyName: a.CompanyName,
		ContactName: a.ContactName,
		Phone:       a.Phone,
	}
}

func encodeLineItems(lines []domain.LineItem) []lineItemDocument {
	out := make([]lineItemDocument, 0, len(lines))
	for _, line := range lines {
		out = append(out, lineItemDocument{
			Service:     string(line.Code),
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Total:       line.Total,
			IsTBC:       line.IsTBC,
		})
	}
	return out
}

func decodeLineItems(lines []lineItemDocument) []domain.LineItem {
	if len(lines) == 0 {
		return nil
	}
	out := make([]domain.LineItem, 0, len(lines))
	for _, line := range lines {
		out = append(out, domain.LineItem{
			Code:        domain.LineCode(line.Service),
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Total:       line.Total,
			IsTBC:       line.IsTBC,
		})
	}
	return out
}

func encodeQuoteLines(items []domain.QuoteLineItem) []quoteLineDocument {
	out := make([]quoteLineDocument, 0, len(items))
	for _, item := range items {
		out = append(out, quoteLineDocument(item))
	}
	return out
}

func decodeQuoteLines(items []quoteLineDocument) []domain.QuoteLineItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]domain.QuoteLineItem, 0, len(items))
	for _, item := range items {
		out = append(out, domain.QuoteLineItem(item))
	}
	return out
}

func encodeEmbassyState(s domain.EmbassyPriceState) embassyStateDocument {
	return embassyStateDocument{
		Pending:        s.Pending,
		SentAt:         utcPtr(s.SentAt),
		Confirmed:      s.Confirmed,
		ConfirmedAt:    utcPtr(s.ConfirmedAt),
		ConfirmedPrice: s.ConfirmedPrice,
		Declined:       s.Declined,
		DeclinedAt:     utcPtr(s.DeclinedAt),
	}
}

func encodeAddressConfirmation(s domain.AddressConfirmationState) addressConfirmationState {
	return addressConfirmationState{
		SentAt:            utcPtr(s.SentAt),
		Confirmed:         s.Confirmed,
		ConfirmedAt:       utcPtr(s.ConfirmedAt),
		UpdatedByCustomer: s.UpdatedByCustomer,
	}
}

func decodeAddressConfirmation(s addressConfirmationState) domain.AddressConfirmationState {
	return domain.AddressConfirmationState{
		SentAt:            utcPtr(s.SentAt),
		Confirmed:         s.Confirmed,
		ConfirmedAt:       utcPtr(s.ConfirmedAt),
		UpdatedByCustomer: s.UpdatedByCustomer,
	}
}

func encodeQuote(q domain.OrderQuote) quoteDocument {
	return quoteDocument{
		Status:        string(q.Status),
		Token:         q.Token,
		SentAt:        q.SentAt.UTC(),
		RespondedAt:   utcPtr(q.RespondedAt),
		TotalAmount:   q.TotalAmount,
		LineItems:     encodeQuoteLines(q.LineItems),
		DeclineReason: q.DeclineReason,
	}
}

func decodeQuote(q quoteDocument) domain.OrderQuote {
	return domain.OrderQuote{
		Status:        domain.QuoteStatus(q.Status),
		Token:         q.Token,
		SentAt:        q.SentAt.UTC(),
		RespondedAt:   utcPtr(q.RespondedAt),
		TotalAmount:   q.TotalAmount,
		LineItems:     decodeQuoteLines(q.LineItems),
		DeclineReason: q.DeclineReason,
	}
}

func serviceStrings(codes []domain.ServiceCode) []string {
	if len(codes) == 0 {
		return nil
	}
	out := make([]string, len(codes))
	for i, code := range codes {
		out[i] = string(code)
	}
	return out
}

func serviceCodes(raw []string) []domain.ServiceCode {
	if len(raw) == 0 {
		return nil
	}
	out := make([]domain.ServiceCode, len(raw))
	for i, value := range raw {
		out[i] = domain.ServiceCode(value)
	}
	return out
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
