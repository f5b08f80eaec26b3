package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

type stubUserGetter struct {
	record *firebaseauth.UserRecord
	err    error
	calls  int
}

func (s *stubUserGetter) GetUser(_ context.Context, uid string) (*firebaseauth.UserRecord, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.record, nil
}

func serveWithToken(t *testing.T, mw func(http.Handler) http.Handler, header string, inner http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/team-carts/tc_1", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rr := httptest.NewRecorder()
	mw(inner).ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestRequireFirebaseAuthStoresIdentity(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{
			UID: "uid-hana",
			Claims: map[string]any{
				"role":  []any{"Staff", "admin", "staff"},
				"email": "hana@example.com",
				"name":  " Hana Sato ",
			},
		},
	}
	authn := NewAuthenticator(verifier)

	called := false
	rr := serveWithToken(t, authn.RequireFirebaseAuth(RoleStaff), "Bearer token-value", func(w http.ResponseWriter, r *http.Request) {
		called = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UID != "uid-hana" || identity.Email != "hana@example.com" {
			t.Fatalf("unexpected identity %+v", identity)
		}
		if !reflect.DeepEqual(identity.Roles, []string{"staff", "admin"}) {
			t.Fatalf("expected normalised roles, got %v", identity.Roles)
		}
		if got := identity.MemberName(r.Context()); got != "Hana Sato" {
			t.Fatalf("expected member name from name claim, got %q", got)
		}
		if identity.Token() != verifier.token {
			t.Fatalf("expected decoded token to be exposed")
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if rr.Code != http.StatusNoContent || !called {
		t.Fatalf("expected handler to run with 204, got %d", rr.Code)
	}
	if verifier.received != "token-value" {
		t.Fatalf("expected verifier to receive token-value, got %s", verifier.received)
	}
}

func TestRequireFirebaseAuthDefaultsToUserRole(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-kenji", Claims: map[string]any{}}}
	authn := NewAuthenticator(verifier)

	rr := serveWithToken(t, authn.RequireFirebaseAuth(RoleUser), "bearer abc", func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		if !identity.HasRole(RoleUser) {
			t.Fatalf("expected fallback role, got %v", identity.Roles)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestRequireFirebaseAuthRejections(t *testing.T) {
	cases := []struct {
		name     string
		header   string
		verifier *stubTokenVerifier
		roles    []string
		status   int
		code     string
	}{
		{name: "missing header", header: "", verifier: &stubTokenVerifier{}, status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "wrong scheme", header: "Basic abc", verifier: &stubTokenVerifier{}, status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "expired", header: "Bearer expired", verifier: &stubTokenVerifier{err: ErrTokenExpired}, status: http.StatusUnauthorized, code: "token_expired"},
		{name: "invalid", header: "Bearer bad", verifier: &stubTokenVerifier{err: ErrTokenInvalid}, status: http.StatusUnauthorized, code: "invalid_token"},
		{name: "other failure", header: "Bearer bad", verifier: &stubTokenVerifier{err: errors.New("network")}, status: http.StatusUnauthorized, code: "invalid_token"},
		{
			name:     "role not permitted",
			header:   "Bearer diner",
			verifier: &stubTokenVerifier{token: &firebaseauth.Token{UID: "u1", Claims: map[string]any{"role": map[string]any{"user": true, "staff": false}}}},
			roles:    []string{RoleStaff},
			status:   http.StatusForbidden,
			code:     "insufficient_role",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			authn := NewAuthenticator(tc.verifier)
			rr := serveWithToken(t, authn.RequireFirebaseAuth(tc.roles...), tc.header, func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler must not run")
			})
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if code := decodeError(t, rr); code != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, code)
			}
		})
	}
}

func TestMemberNameFallbacks(t *testing.T) {
	users := &stubUserGetter{record: &firebaseauth.UserRecord{UserInfo: &firebaseauth.UserInfo{UID: "u1", DisplayName: "Kenji T"}}}
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "u1", Claims: map[string]any{"email": "kenji@example.com"}}}
	authn := NewAuthenticator(verifier, WithUserGetter(users))

	serveWithToken(t, authn.RequireFirebaseAuth(), "Bearer t", func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		if got := identity.MemberName(r.Context()); got != "Kenji T" {
			t.Fatalf("expected profile display name, got %q", got)
		}
		_ = identity.MemberName(r.Context())
		if users.calls != 1 {
			t.Fatalf("expected a single profile lookup, got %d", users.calls)
		}
	})

	failing := &stubUserGetter{err: errors.New("unavailable")}
	authn = NewAuthenticator(verifier, WithUserGetter(failing))
	serveWithToken(t, authn.RequireFirebaseAuth(), "Bearer t", func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		if got := identity.MemberName(r.Context()); got != "kenji" {
			t.Fatalf("expected email local part, got %q", got)
		}
	})

	if got := (&Identity{UID: "u2"}).MemberName(context.Background()); got != "" {
		t.Fatalf("expected empty member name, got %q", got)
	}
}
