package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	jwt "github.com/golang-jwt/jwt/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

// OIDCValidator guards /api/internal with Google-signed ID tokens issued to the
// order-management subsystem's service account.
type OIDCValidator struct {
	cache    *JWKSCache
	logger   *zap.Logger
	verified metric.Int64Counter
	callers  map[string]struct{}
}

// OIDCOption customises the validator.
type OIDCOption func(*OIDCValidator)

// NewOIDCValidator constructs an OIDCValidator.
func NewOIDCValidator(cache *JWKSCache, opts ...OIDCOption) *OIDCValidator {
	validator := &OIDCValidator{
		cache:  cache,
		logger: zap.NewNop(),
	}
	WithOIDCMeter(noop.NewMeterProvider().Meter("auth"))(validator)
	for _, opt := range opts {
		if opt != nil {
			opt(validator)
		}
	}
	return validator
}

// WithOIDCLogger overrides the validator logger.
func WithOIDCLogger(logger *zap.Logger) OIDCOption {
	return func(v *OIDCValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithOIDCMeter records verification outcomes on auth.oidc.verifications.
func WithOIDCMeter(meter metric.Meter) OIDCOption {
	return func(v *OIDCValidator) {
		if meter == nil {
			return
		}
		counter, err := meter.Int64Counter("auth.oidc.verifications",
			metric.WithDescription("OIDC verifications on internal routes by outcome"))
		if err == nil {
			v.verified = counter
		}
	}
}

// WithOIDCAllowedCallers restricts accepted tokens to the given email claims.
func WithOIDCAllowedCallers(emails ...string) OIDCOption {
	return func(v *OIDCValidator) {
		for _, email := range emails {
			email = strings.ToLower(strings.TrimSpace(email))
			if email == "" {
				continue
			}
			if v.callers == nil {
				v.callers = make(map[string]struct{})
			}
			v.callers[email] = struct{}{}
		}
	}
}

// RequireOIDC enforces a valid Google-signed OIDC or IAP token on the request.
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string) func(http.Handler) http.Handler {
	expectedAudience := strings.TrimSpace(audience)
	allowedIssuers := make(map[string]struct{}, len(issuers))
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			allowedIssuers[issuer] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reject := func(status int, code, reason string) {
				v.record(ctx, reason)
				respondAuthError(ctx, w, status, code, "oidc verification failed: "+strings.ReplaceAll(reason, "_", " "))
			}

			if expectedAudience == "" {
				reject(http.StatusServiceUnavailable, "verification_unavailable", "audience_not_configured")
				return
			}
			if v == nil || v.cache == nil {
				reject(http.StatusServiceUnavailable, "verification_unavailable", "cache_unavailable")
				return
			}
			tokenStr := extractOIDCToken(r)
			if tokenStr == "" {
				reject(http.StatusUnauthorized, "unauthenticated", "token_missing")
				return
			}

			parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
			claims := jwt.MapClaims{}
			if _, err := parser.ParseWithClaims(tokenStr, claims, v.cache.Keyfunc(ctx)); err != nil {
				if errors.Is(err, ErrJWKSFetchFailed) {
					v.logger.Warn("oidc jwks unavailable", zap.Error(err))
					reject(http.StatusServiceUnavailable, "verification_unavailable", "jwks_unavailable")
					return
				}
				v.logger.Info("oidc token rejected", zap.Error(err))
				reject(http.StatusUnauthorized, "invalid_token", "token_invalid")
				return
			}

			issuer, _ := claims["iss"].(string)
			if _, ok := allowedIssuers[issuer]; len(allowedIssuers) > 0 && !ok {
				reject(http.StatusUnauthorized, "invalid_token", "issuer_mismatch")
				return
			}
			if !claims.VerifyAudience(expectedAudience, true) {
				reject(http.StatusUnauthorized, "invalid_token", "audience_mismatch")
				return
			}

			email, _ := claims["email"].(string)
			if _, ok := v.callers[strings.ToLower(email)]; len(v.callers) > 0 && !ok {
				v.logger.Warn("oidc caller not allowed", zap.String("email", email))
				reject(http.StatusForbidden, "forbidden", "caller_not_allowed")
				return
			}

			subject, _ := claims["sub"].(string)
			identity := &ServiceIdentity{
				Subject:  subject,
				Email:    email,
				Issuer:   issuer,
				Audience: expectedAudience,
			}
			v.record(ctx, "ok")
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
		})
	}
}

func (v *OIDCValidator) record(ctx context.Context, reason string) {
	if v == nil || v.verified == nil {
		return
	}
	v.verified.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", reason)))
}

func extractOIDCToken(r *http.Request) string {
	if bearer, ok := extractBearerToken(r.Header.Get("Authorization")); ok {
		return bearer
	}
	return strings.TrimSpace(r.Header.Get("X-Goog-Iap-Jwt-Assertion"))
}
