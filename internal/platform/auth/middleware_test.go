package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/doxvl/legalization-api/internal/platform/config"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func serveWithToken(t *testing.T, authn *Authenticator, header string, next http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	handler := authn.RequireFirebaseAuth(RoleStaff, RoleAdmin)(next)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/orders/SWE000044/quotes", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestRequireFirebaseAuth_AllowsStaffRole(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID: "uid-123",
		Claims: map[string]interface{}{
			"role":  []interface{}{"Staff", "staff"},
			"email": "handlaggare@doxvl.se",
		},
	}}

	called := false
	rr := serveWithToken(t, NewAuthenticator(verifier), "Bearer token-value", func(w http.ResponseWriter, r *http.Request) {
		called = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if len(identity.Roles) != 1 || !identity.HasRole(RoleStaff) {
			t.Fatalf("expected deduplicated staff role, got %v", identity.Roles)
		}
		if identity.ActorID() != "handlaggare@doxvl.se" {
			t.Fatalf("unexpected actor id %q", identity.ActorID())
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if rr.Code != http.StatusNoContent || !called {
		t.Fatalf("expected handler to run, got %d", rr.Code)
	}
	if verifier.received != "token-value" {
		t.Fatalf("expected verifier to receive token-value, got %s", verifier.received)
	}
}

func TestRequireFirebaseAuth_AcceptsBooleanAdminClaim(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID:    "uid-admin",
		Claims: map[string]interface{}{"admin": true},
	}}
	rr := serveWithToken(t, NewAuthenticator(verifier), "Bearer admin", func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		if !identity.HasRole(RoleAdmin) || identity.ActorID() != "uid-admin" {
			t.Fatalf("unexpected identity %#v", identity)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestRequireFirebaseAuth_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		verifier *stubTokenVerifier
		status   int
		code     string
	}{
		{name: "missing header", status: http.StatusUnauthorized, code: "unauthenticated", verifier: &stubTokenVerifier{}},
		{name: "basic scheme", header: "Basic abc", status: http.StatusUnauthorized, code: "unauthenticated", verifier: &stubTokenVerifier{}},
		{name: "expired", header: "Bearer old", status: http.StatusUnauthorized, code: "token_expired", verifier: &stubTokenVerifier{err: ErrTokenExpired}},
		{name: "invalid", header: "Bearer bad", status: http.StatusUnauthorized, code: "invalid_token", verifier: &stubTokenVerifier{err: ErrTokenInvalid}},
		{
			name:   "customer without role",
			header: "Bearer customer",
			verifier: &stubTokenVerifier{token: &firebaseauth.Token{
				UID:    "uid-customer",
				Claims: map[string]interface{}{"role": "user", "staff": "yes"},
			}},
			status: http.StatusForbidden,
			code:   "insufficient_role",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := serveWithToken(t, NewAuthenticator(tc.verifier), tc.header, func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("handler must not run")
			})
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if code := errorCode(t, rr); code != tc.code {
				t.Fatalf("expected error %q, got %q", tc.code, code)
			}
		})
	}
}

type fakeRevocationChecker struct {
	token *firebaseauth.Token
	err   error
	got   string
}

func (f *fakeRevocationChecker) VerifyIDTokenAndCheckRevoked(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	f.got = idToken
	return f.token, f.err
}

func TestFirebaseVerifierChecksRevocation(t *testing.T) {
	checker := &fakeRevocationChecker{token: &firebaseauth.Token{UID: "uid-1"}}
	verifier := &FirebaseVerifier{client: checker}

	token, err := verifier.VerifyIDToken(context.Background(), "id-token")
	if err != nil || token.UID != "uid-1" || checker.got != "id-token" {
		t.Fatalf("unexpected result token=%v err=%v got=%q", token, err, checker.got)
	}

	var nilVerifier *FirebaseVerifier
	if _, err := nilVerifier.VerifyIDToken(context.Background(), "id-token"); err == nil {
		t.Fatalf("expected error from uninitialised verifier")
	}
}

func TestFirebaseCredentialsPreference(t *testing.T) {
	if opts := firebaseCredentials(config.FirebaseConfig{}); len(opts) != 0 {
		t.Fatalf("expected default credentials, got %d options", len(opts))
	}
	if opts := firebaseCredentials(config.FirebaseConfig{CredentialsJSON: `{"type":"service_account"}`, CredentialsFile: "/key.json"}); len(opts) != 1 {
		t.Fatalf("expected a single credentials option, got %d", len(opts))
	}
}

func TestRequesterID(t *testing.T) {
	ctx := context.Background()
	if _, ok := RequesterID(ctx); ok {
		t.Fatalf("expected no requester on empty context")
	}
	staff := WithIdentity(ctx, &Identity{UID: "uid-7"})
	if id, _ := RequesterID(staff); id != "uid:uid-7" {
		t.Fatalf("unexpected staff requester %q", id)
	}
	service := WithServiceIdentity(ctx, &ServiceIdentity{Subject: "1234"})
	if id, _ := RequesterID(service); id != "system:1234" {
		t.Fatalf("unexpected service requester %q", id)
	}
}
