package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// ErrNoDocuments is wrapped into a not-found Error when QueryFirst matches nothing.
var ErrNoDocuments = errors.New("firestore: no matching documents")

// Document is a decoded snapshot with its server timestamps. UpdateTime feeds
// firestore.LastUpdateTime preconditions for optimistic writes.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// MutationResult carries the commit time of a direct write. It is zero for writes buffered in a
// transaction, which commit later.
type MutationResult struct {
	UpdateTime time.Time
}

// QueryBuilder narrows a collection query.
type QueryBuilder func(query firestore.Query) firestore.Query

// BaseRepository is typed access to one collection. T is (de)serialised with firestore struct
// tags. Reads and writes join the transaction bound to ctx by RunTransaction when one is present.
type BaseRepository[T any] struct {
	provider   *Provider
	collection string
}

func NewBaseRepository[T any](provider *Provider, collection string) *BaseRepository[T] {
	return &BaseRepository[T]{provider: provider, collection: strings.TrimSpace(collection)}
}

func (r *BaseRepository[T]) Collection() string {
	return r.collection
}

// Create fails with a conflict Error when id already exists.
func (r *BaseRepository[T]) Create(ctx context.Context, id string, value T) (MutationResult, error) {
	return r.write(ctx, "create", id,
		func(tx *firestore.Transaction, doc *firestore.DocumentRef) error { return tx.Create(doc, value) },
		func(doc *firestore.DocumentRef) (*firestore.WriteResult, error) { return doc.Create(ctx, value) },
	)
}

// Set replaces id wholesale, creating it when absent.
func (r *BaseRepository[T]) Set(ctx context.Context, id string, value T) (MutationResult, error) {
	return r.write(ctx, "set", id,
		func(tx *firestore.Transaction, doc *firestore.DocumentRef) error { return tx.Set(doc, value) },
		func(doc *firestore.DocumentRef) (*firestore.WriteResult, error) { return doc.Set(ctx, value) },
	)
}

// Update applies field updates. A firestore.LastUpdateTime precondition that no longer holds
// surfaces as a conflict.
func (r *BaseRepository[T]) Update(ctx context.Context, id string, updates []firestore.Update, preconds ...firestore.Precondition) (MutationResult, error) {
	return r.write(ctx, "update", id,
		func(tx *firestore.Transaction, doc *firestore.DocumentRef) error { return tx.Update(doc, updates, preconds...) },
		func(doc *firestore.DocumentRef) (*firestore.WriteResult, error) { return doc.Update(ctx, updates, preconds...) },
	)
}

// Delete removes id. Deleting a missing document succeeds.
func (r *BaseRepository[T]) Delete(ctx context.Context, id string) error {
	_, err := r.write(ctx, "delete", id,
		func(tx *firestore.Transaction, doc *firestore.DocumentRef) error { return tx.Delete(doc) },
		func(doc *firestore.DocumentRef) (*firestore.WriteResult, error) { return doc.Delete(ctx) },
	)
	if IsNotFound(err) {
		return nil
	}
	return err
}

func (r *BaseRepository[T]) write(
	ctx context.Context,
	action, id string,
	buffered func(*firestore.Transaction, *firestore.DocumentRef) error,
	direct func(*firestore.DocumentRef) (*firestore.WriteResult, error),
) (MutationResult, error) {
	doc, err := r.doc(ctx, id)
	if err != nil {
		return MutationResult{}, err
	}
	if tx, ok := TxFromContext(ctx); ok {
		return MutationResult{}, WrapError(r.op(action), buffered(tx, doc))
	}
	result, err := direct(doc)
	if err != nil {
		return MutationResult{}, WrapError(r.op(action), err)
	}
	return MutationResult{UpdateTime: result.UpdateTime}, nil
}

// Get returns a not-found Error for a missing id.
func (r *BaseRepository[T]) Get(ctx context.Context, id string) (Document[T], error) {
	doc, err := r.doc(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	var snap *firestore.DocumentSnapshot
	if tx, ok := TxFromContext(ctx); ok {
		snap, err = tx.Get(doc)
	} else {
		snap, err = doc.Get(ctx)
	}
	if err != nil {
		return Document[T]{}, WrapError(r.op("get"), err)
	}
	return decode[T](snap)
}

// Query returns every document matched by build, in query order.
func (r *BaseRepository[T]) Query(ctx context.Context, build QueryBuilder) ([]Document[T], error) {
	coll, err := r.coll(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}

	var it *firestore.DocumentIterator
	if tx, ok := TxFromContext(ctx); ok {
		it = tx.Documents(query)
	} else {
		it = query.Documents(ctx)
	}
	defer it.Stop()

	var docs []Document[T]
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, WrapError(r.op("query"), err)
		}
		doc, err := decode[T](snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}

// QueryFirst returns the first match or a not-found Error.
func (r *BaseRepository[T]) QueryFirst(ctx context.Context, build QueryBuilder) (Document[T], error) {
	docs, err := r.Query(ctx, func(q firestore.Query) firestore.Query {
		if build != nil {
			q = build(q)
		}
		return q.Limit(1)
	})
	if err != nil {
		return Document[T]{}, err
	}
	if len(docs) == 0 {
		return Document[T]{}, &Error{op: r.op("query"), err: ErrNoDocuments, kind: kindNotFound}
	}
	return docs[0], nil
}

func decode[T any](snap *firestore.DocumentSnapshot) (Document[T], error) {
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode %s: %w", snap.Ref.Path, err)
	}
	return Document[T]{
		ID:         snap.Ref.ID,
		Data:       data,
		CreateTime: snap.CreateTime,
		UpdateTime: snap.UpdateTime,
	}, nil
}

func (r *BaseRepository[T]) coll(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil || r.collection == "" {
		return nil, WrapError(r.op("collection"), errors.New("firestore: repository not initialised"))
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(r.collection), nil
}

func (r *BaseRepository[T]) doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(r.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := r.coll(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (r *BaseRepository[T]) op(action string) string {
	if r == nil || r.collection == "" {
		return "firestore." + action
	}
	return r.collection + "." + action
}
