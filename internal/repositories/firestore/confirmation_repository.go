package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"

	domain "github.com/doxvl/legalization-api/internal/domain"
	pfirestore "github.com/doxvl/legalization-api/internal/platform/firestore"
	"github.com/doxvl/legalization-api/internal/repositories"
)

const (
	embassyPriceConfirmationsCollection = "embassyPriceConfirmations"
	addressConfirmationsCollection      = "addressConfirmations"
	quotesCollection                    = "quotes"
)

type confirmationDocument[D any] struct {
	Token         string     `firestore:"token"`
	Kind          string     `firestore:"kind"`
	OrderID       string     `firestore:"orderId"`
	OrderNumber   string     `firestore:"orderNumber"`
	CustomerEmail string     `firestore:"customerEmail"`
	CustomerName  string     `firestore:"customerName,omitempty"`
	Locale        string     `firestore:"locale,omitempty"`
	Payload       D          `firestore:"payload"`
	Status        string     `firestore:"status"`
	CreatedBy     string     `firestore:"createdBy,omitempty"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	ExpiresAt     time.Time  `firestore:"expiresAt"`
	RespondedAt   *time.Time `firestore:"respondedAt,omitempty"`
	DeclineReason string     `firestore:"declineReason,omitempty"`
}

type embassyPricePayloadDocument struct {
	ConfirmedPrice    int64              `firestore:"confirmedPrice"`
	ConfirmedTotal    int64              `firestore:"confirmedTotal"`
	OriginalTotal     int64              `firestore:"originalTotal"`
	OriginalBreakdown []lineItemDocument `firestore:"originalBreakdown"`
	Country           string             `firestore:"country,omitempty"`
}

type addressPayloadDocument struct {
	Type    string          `firestore:"type"`
	Address addressDocument `firestore:"address"`
	Updated bool            `firestore:"updatedByCustomer"`
}

type quotePayloadDocument struct {
	LineItems   []quoteLineDocument `firestore:"lineItems"`
	TotalAmount int64               `firestore:"totalAmount"`
	Message     string              `firestore:"message,omitempty"`
}

// payloadCodec converts a kind-specific payload to and from its stored shape.
type payloadCodec[P, D any] struct {
	encode func(P) D
	decode func(D) P
}

// ConfirmationRepository stores token records of one kind in a dedicated collection.
type ConfirmationRepository[P, D any] struct {
	kind  domain.ConfirmationKind
	base  *pfirestore.BaseRepository[confirmationDocument[D]]
	codec payloadCodec[P, D]
	newID func() string
}

func newConfirmationRepository[P, D any](provider *pfirestore.Provider, collection string, kind domain.ConfirmationKind, codec payloadCodec[P, D]) (*ConfirmationRepository[P, D], error) {
	if provider == nil {
		return nil, errors.New("confirmation repository requires firestore provider")
	}
	return &ConfirmationRepository[P, D]{
		kind:  kind,
		base:  pfirestore.NewBaseRepository[confirmationDocument[D]](provider, collection),
		codec: codec,
		newID: func() string { return ulid.Make().String() },
	}, nil
}

func asConfirmationRepository[P, D any](repo *ConfirmationRepository[P, D], err error) (repositories.ConfirmationRepository[P], error) {
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// NewEmbassyPriceConfirmationRepository stores embassy price tokens.
func NewEmbassyPriceConfirmationRepository(provider *pfirestore.Provider) (repositories.ConfirmationRepository[domain.EmbassyPricePayload], error) {
	return asConfirmationRepository(newConfirmationRepository(provider, embassyPriceConfirmationsCollection, domain.ConfirmationKindEmbassyPrice, payloadCodec[domain.EmbassyPricePayload, embassyPricePayloadDocument]{
		encode: func(p domain.EmbassyPricePayload) embassyPricePayloadDocument {
			return embassyPricePayloadDocument{
				ConfirmedPrice:    p.ConfirmedPrice,
				ConfirmedTotal:    p.ConfirmedTotal,
				OriginalTotal:     p.OriginalTotal,
				OriginalBreakdown: encodeLineItems(p.OriginalBreakdown),
				Country:           string(p.Country),
			}
		},
		decode: func(d embassyPricePayloadDocument) domain.EmbassyPricePayload {
			return domain.EmbassyPricePayload{
				ConfirmedPrice:    d.ConfirmedPrice,
				ConfirmedTotal:    d.ConfirmedTotal,
				OriginalTotal:     d.OriginalTotal,
				OriginalBreakdown: decodeLineItems(d.OriginalBreakdown),
				Country:           domain.CountryCode(d.Country),
			}
		},
	}))
}

// NewAddressConfirmationRepository stores pickup and return address tokens.
func NewAddressConfirmationRepository(provider *pfirestore.Provider) (repositories.ConfirmationRepository[domain.AddressPayload], error) {
	return asConfirmationRepository(newConfirmationRepository(provider, addressConfirmationsCollection, domain.ConfirmationKindAddress, payloadCodec[domain.AddressPayload, addressPayloadDocument]{
		encode: func(p domain.AddressPayload) addressPayloadDocument {
			return addressPayloadDocument{Type: string(p.Type), Address: encodeAddress(p.Address), Updated: p.Updated}
		},
		decode: func(d addressPayloadDocument) domain.AddressPayload {
			return domain.AddressPayload{Type: domain.AddressType(d.Type), Address: decodeAddress(d.Address), Updated: d.Updated}
		},
	}))
}

// NewQuoteRepository stores quote tokens.
func NewQuoteRepository(provider *pfirestore.Provider) (repositories.ConfirmationRepository[domain.QuotePayload], error) {
	return asConfirmationRepository(newConfirmationRepository(provider, quotesCollection, domain.ConfirmationKindQuote, payloadCodec[domain.QuotePayload, quotePayloadDocument]{
		encode: func(p domain.QuotePayload) quotePayloadDocument {
			return quotePayloadDocument{LineItems: encodeQuoteLines(p.LineItems), TotalAmount: p.TotalAmount, Message: p.Message}
		},
		decode: func(d quotePayloadDocument) domain.QuotePayload {
			return domain.QuotePayload{LineItems: decodeQuoteLines(d.LineItems), TotalAmount: d.TotalAmount, Message: d.Message}
		},
	}))
}

// Create stores a new token record under a generated document id.
func (r *ConfirmationRepository[P, D]) Create(ctx context.Context, record domain.Confirmation[P]) (domain.Confirmation[P], error) {
	if strings.TrimSpace(record.Token) == "" {
		return domain.Confirmation[P]{}, errors.New("confirmation repository: token is required")
	}
	if record.Kind != "" && record.Kind != r.kind {
		return domain.Confirmation[P]{}, fmt.Errorf("confirmation repository: kind %s stored in %s collection", record.Kind, r.base.Collection())
	}
	record.Kind = r.kind
	if strings.TrimSpace(record.ID) == "" {
		record.ID = r.newID()
	}
	result, err := r.base.Create(ctx, record.ID, r.encode(record))
	if err != nil {
		return domain.Confirmation[P]{}, err
	}
	record.UpdateTime = result.UpdateTime
	return record, nil
}

// FindByToken returns the record holding the token together with its revision.
func (r *ConfirmationRepository[P, D]) FindByToken(ctx context.Context, token string) (domain.Confirmation[P], error) {
	doc, err := r.base.QueryFirst(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("token", "==", token)
	})
	if err != nil {
		return domain.Confirmation[P]{}, err
	}
	return r.decode(doc), nil
}

// Transition writes the terminal status. Inside a transaction the read set guards the write;
// otherwise the revision observed on read is used as a precondition.
func (r *ConfirmationRepository[P, D]) Transition(ctx context.Context, record domain.Confirmation[P], update domain.ConfirmationUpdate[P]) (domain.Confirmation[P], error) {
	if record.Status != domain.ConfirmationStatusSent {
		return domain.Confirmation[P]{}, pfirestore.NewConflictError(r.base.Collection()+".transition", fmt.Errorf("token already %s", record.Status))
	}
	respondedAt := update.RespondedAt.UTC()
	updates := []firestore.Update{
		{Path: "status", Value: string(update.Status)},
		{Path: "respondedAt", Value: respondedAt},
	}
	if update.DeclineReason != "" {
		updates = append(updates, firestore.Update{Path: "declineReason", Value: update.DeclineReason})
	}
	if update.Payload != nil {
		updates = append(updates, firestore.Update{Path: "payload", Value: r.codec.encode(*update.Payload)})
	}

	var preconditions []firestore.Precondition
	if _, inTx := pfirestore.TxFromContext(ctx); !inTx {
		if record.UpdateTime.IsZero() {
			return domain.Confirmation[P]{}, errors.New("confirmation repository: record revision is required outside a transaction")
		}
		preconditions = append(preconditions, firestore.LastUpdateTime(record.UpdateTime))
	}
	result, err := r.base.Update(ctx, record.ID, updates, preconditions...)
	if err != nil {
		return domain.Confirmation[P]{}, err
	}

	record.Status = update.Status
	record.RespondedAt = &respondedAt
	if update.DeclineReason != "" {
		record.DeclineReason = update.DeclineReason
	}
	if update.Payload != nil {
		record.Payload = *update.Payload
	}
	record.UpdateTime = result.UpdateTime
	return record, nil
}

// ListByOrder returns every token of this kind issued for the order, newest first.
func (r *ConfirmationRepository[P, D]) ListByOrder(ctx context.Context, orderID string) ([]domain.Confirmation[P], error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", strings.TrimSpace(orderID))
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Confirmation[P], 0, len(docs))
	for _, doc := range docs {
		out = append(out, r.decode(doc))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *ConfirmationRepository[P, D]) encode(rec domain.Confirmation[P]) confirmationDocument[D] {
	return confirmationDocument[D]{
		Token:         rec.Token,
		Kind:          string(rec.Kind),
		OrderID:       rec.OrderID,
		OrderNumber:   rec.OrderNumber,
		CustomerEmail: rec.CustomerEmail,
		CustomerName:  rec.CustomerName,
		Locale:        rec.Locale,
		Payload:       r.codec.encode(rec.Payload),
		Status:        string(rec.Status),
		CreatedBy:     rec.CreatedBy,
		CreatedAt:     rec.CreatedAt.UTC(),
		ExpiresAt:     rec.ExpiresAt.UTC(),
		RespondedAt:   utcPtr(rec.RespondedAt),
		DeclineReason: rec.DeclineReason,
	}
}

func (r *ConfirmationRepository[P, D]) decode(doc pfirestore.Document[confirmationDocument[D]]) domain.Confirmation[P] {
	data := doc.Data
	return domain.Confirmation[P]{
		ID:            doc.ID,
		Token:         data.Token,
		Kind:          r.kind,
		OrderID:       data.OrderID,
		OrderNumber:   data.OrderNumber,
		CustomerEmail: data.CustomerEmail,
		CustomerName:  data.CustomerName,
		Locale:        data.Locale,
		Payload:       r.codec.decode(data.Payload),
		Status:        domain.ConfirmationStatus(data.Status),
		CreatedBy:     data.CreatedBy,
		CreatedAt:     data.CreatedAt.UTC(),
		ExpiresAt:     data.ExpiresAt.UTC(),
		RespondedAt:   utcPtr(data.RespondedAt),
		DeclineReason: data.DeclineReason,
		UpdateTime:    doc.UpdateTime,
	}
}
