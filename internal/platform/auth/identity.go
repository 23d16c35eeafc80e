package auth

import (
	"context"
	"slices"
	"strings"
)

// Roles accepted on staff routes.
const (
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Identity is the staff member behind a verified Firebase ID token.
type Identity struct {
	UID   string
	Email string
	Roles []string
}

// ActorID is recorded as createdBy on staff-sent confirmations.
func (i *Identity) ActorID() string {
	if i == nil {
		return ""
	}
	if i.Email != "" {
		return i.Email
	}
	return i.UID
}

// HasRole compares case-insensitively.
func (i *Identity) HasRole(role string) bool {
	role = normaliseRole(role)
	if i == nil || role == "" {
		return false
	}
	return slices.ContainsFunc(i.Roles, func(r string) bool { return strings.EqualFold(r, role) })
}

// ServiceIdentity is the Google service account behind a verified OIDC token.
type ServiceIdentity struct {
	Subject  string
	Email    string
	Issuer   string
	Audience string
}

// ActorID is recorded as createdBy for system-initiated confirmations.
func (s *ServiceIdentity) ActorID() string {
	if s == nil {
		return ""
	}
	if s.Email != "" {
		return "system:" + s.Email
	}
	return "system:" + s.Subject
}

type (
	identityKey        struct{}
	serviceIdentityKey struct{}
)

// WithIdentity stores the staff identity for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the staff identity stored by RequireFirebaseAuth.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}

// WithServiceIdentity stores the service identity. A nil identity leaves ctx unchanged.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityKey{}, identity)
}

// ServiceIdentityFromContext returns the service identity stored by RequireOIDC.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}

// RequesterID names whoever authenticated the request: "uid:<firebase uid>" for staff,
// "system:<service account>" for services. It is the key for rate limits, idempotency
// scopes and request logs.
func RequesterID(ctx context.Context) (string, bool) {
	if identity, ok := IdentityFromContext(ctx); ok && identity.UID != "" {
		return "uid:" + identity.UID, true
	}
	if service, ok := ServiceIdentityFromContext(ctx); ok {
		return service.ActorID(), true
	}
	return "", false
}
