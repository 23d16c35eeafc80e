package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/doxvl/legalization-api/internal/repositories"
)

type errorKind uint8

const (
	kindOther errorKind = iota
	kindNotFound
	kindConflict
	kindUnavailable
)

// classify maps gRPC status codes onto the categories services branch on. Aborted covers
// transactions that lost a contention race; FailedPrecondition covers stale LastUpdateTime writes.
func classify(err error) errorKind {
	switch status.Code(err) {
	case codes.NotFound:
		return kindNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		return kindConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return kindUnavailable
	}
	return kindOther
}

// Error is a categorised store failure.
type Error struct {
	op   string
	err  error
	kind errorKind
}

var _ repositories.RepositoryError = (*Error)(nil)

func (e *Error) Error() string {
	if e.op == "" {
		return e.err.Error()
	}
	return e.op + ": " + e.err.Error()
}

func (e *Error) Unwrap() error       { return e.err }
func (e *Error) IsNotFound() bool    { return e != nil && e.kind == kindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.kind == kindConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.kind == kindUnavailable }

// WrapError labels err with op and its category. Cancellation is returned as the plain context
// error so callers can tell a gone client from a failing store.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return context.DeadlineExceeded
	}

	var inner *Error
	if errors.As(err, &inner) {
		if direct, ok := err.(*Error); ok {
			if direct.op == "" {
				direct.op = op
			}
			return direct
		}
		// Keep the outer chain so sentinels wrapped around a store error still match.
		return &Error{op: op, err: err, kind: inner.kind}
	}
	return &Error{op: op, err: err, kind: classify(err)}
}

// IsNotFound reports a missing document, wrapped or as a raw gRPC status.
func IsNotFound(err error) bool {
	return kindOf(err) == kindNotFound
}

// IsConflict reports a duplicate create, a stale precondition or an aborted transaction.
func IsConflict(err error) bool {
	return kindOf(err) == kindConflict
}

func kindOf(err error) errorKind {
	if err == nil {
		return kindOther
	}
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return classify(err)
}

// NewConflictError reports a conflict detected before any write reached Firestore.
func NewConflictError(op string, err error) error {
	if err == nil {
		err = errors.New("firestore: conflict")
	}
	return &Error{op: op, err: err, kind: kindConflict}
}
