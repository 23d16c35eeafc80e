package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/doxvl/legalization-api/internal/platform/firestore"
)

const defaultCollection = "idempotencyKeys"

// FirestoreOption customises the FirestoreStore behaviour.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection name used to store idempotency keys.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// FirestoreStore keeps one document per scoped key. Reservations run in a
// transaction so concurrent staff retries see exactly one owner.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
	base       *pfirestore.BaseRepository[recordDocument]
}

// NewFirestoreStore constructs a Firestore-backed idempotency store.
func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency store requires firestore provider")
	}
	store := &FirestoreStore{provider: provider, collection: defaultCollection}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	store.base = pfirestore.NewBaseRepository[recordDocument](provider, store.collection)
	return store, nil
}

// Reserve implements Store.
func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	id := recordID(key)

	var result Reservation
	err := s.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		doc, err := s.base.Get(ctx, id)
		switch {
		case err == nil && !expired(doc.Data.toRecord(), now):
			result, err = reservationFor(doc.Data.toRecord(), fingerprint)
			return err
		case err != nil && !pfirestore.IsNotFound(err):
			return err
		}
		record := pendingRecord(key, fingerprint, now, ttl)
		if _, err := s.base.Set(ctx, id, encodeRecord(record)); err != nil {
			return err
		}
		result = Reservation{State: ReservationStateNew, Record: record}
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	return result, nil
}

// SaveResponse implements Store.
func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := recordID(key)
	return s.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		record := Record{Key: key, Fingerprint: fingerprint}
		doc, err := s.base.Get(ctx, id)
		switch {
		case err == nil:
			record = doc.Data.toRecord()
			if record.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
		case !pfirestore.IsNotFound(err):
			return err
		}
		_, err = s.base.Set(ctx, id, encodeRecord(completeRecord(record, resp, now.UTC(), ttl)))
		return err
	})
}

// Release implements Store. Only the owner of the fingerprint may release the key.
func (s *FirestoreStore) Release(ctx context.Context, key, fingerprint string) error {
	id := recordID(key)
	return s.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		doc, err := s.base.Get(ctx, id)
		if err != nil {
			if pfirestore.IsNotFound(err) {
				return nil
			}
			return err
		}
		if doc.Data.Fingerprint != fingerprint {
			return nil
		}
		return s.base.Delete(ctx, id)
	})
}

// CleanupExpired removes up to limit expired records.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	docs, err := s.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("expiresAt", "<=", now.UTC()).Limit(limit)
	})
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, doc := range docs {
		if err := s.base.Delete(ctx, doc.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

type recordDocument struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"responseStatus,omitempty"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders,omitempty"`
	ResponseBody    []byte              `firestore:"responseBody,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func encodeRecord(r Record) recordDocument {
	return recordDocument{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (d recordDocument) toRecord() Record {
	return Record{
		Key:             d.Key,
		Fingerprint:     d.Fingerprint,
		Status:          Status(d.Status),
		ResponseStatus:  d.ResponseStatus,
		ResponseHeaders: d.ResponseHeaders,
		ResponseBody:    d.ResponseBody,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
		ExpiresAt:       d.ExpiresAt.UTC(),
	}
}
