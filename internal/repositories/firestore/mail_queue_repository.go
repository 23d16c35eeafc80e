package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/doxvl/legalization-api/internal/domain"
	pfirestore "github.com/doxvl/legalization-api/internal/platform/firestore"
)

const defaultMailCollection = "mail"

type mailMessageDocument struct {
	Subject string `firestore:"subject"`
	HTML    string `firestore:"html"`
}

type mailDocument struct {
	To        string              `firestore:"to"`
	Message   mailMessageDocument `firestore:"message"`
	Status    string              `firestore:"status"`
	OrderID   string              `firestore:"orderId,omitempty"`
	Kind      string              `firestore:"kind,omitempty"`
	CreatedAt time.Time           `firestore:"createdAt"`
}

// MailQueueRepository writes outgoing email into the collection watched by the mail dispatcher.
type MailQueueRepository struct {
	base  *pfirestore.BaseRepository[mailDocument]
	newID func() string
}

// NewMailQueueRepository constructs the queue over the given collection, "mail" when empty.
func NewMailQueueRepository(provider *pfirestore.Provider, collection string) (*MailQueueRepository, error) {
	if provider == nil {
		return nil, errors.New("mail queue repository requires firestore provider")
	}
	collection = strings.TrimSpace(collection)
	if collection == "" {
		collection = defaultMailCollection
	}
	return &MailQueueRepository{
		base:  pfirestore.NewBaseRepository[mailDocument](provider, collection),
		newID: func() string { return ulid.Make().String() },
	}, nil
}

// Enqueue stores the message and returns its document id. It joins the transaction bound to ctx.
func (r *MailQueueRepository) Enqueue(ctx context.Context, msg domain.MailMessage) (string, error) {
	if strings.TrimSpace(msg.To) == "" {
		return "", errors.New("mail queue: recipient is required")
	}
	status := msg.Status
	if status == "" {
		status = domain.MailStatusPending
	}
	id := r.newID()
	_, err := r.base.Create(ctx, id, mailDocument{
		To:        msg.To,
		Message:   mailMessageDocument{Subject: msg.Subject, HTML: msg.HTML},
		Status:    status,
		OrderID:   msg.OrderID,
		Kind:      string(msg.Kind),
		CreatedAt: msg.CreatedAt.UTC(),
	})
	if err != nil {
		return "", err
	}
	return id, nil
}
