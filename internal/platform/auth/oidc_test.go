package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const (
	testAudience  = "https://groupdine-api.run.app/api/v1/internal"
	testIssuer    = "https://accounts.google.com"
	schedulerMail = "scheduler@groupdine.iam.gserviceaccount.com"
)

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

type jwksFixture struct {
	key      *rsa.PrivateKey
	server   *httptest.Server
	requests atomic.Int32
	status   atomic.Int32
	now      time.Time
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := &jwksFixture{key: key, now: time.Unix(1_750_000_000, 0)}
	f.status.Store(http.StatusOK)
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		if code := int(f.status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=600")
		set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &key.PublicKey,
			KeyID:     "scheduler-key",
			Algorithm: jwt.SigningMethodRS256.Alg(),
			Use:       "sig",
		}}}
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(f.server.Close)

	original := jwt.TimeFunc
	jwt.TimeFunc = func() time.Time { return f.now }
	t.Cleanup(func() { jwt.TimeFunc = original })
	return f
}

func (f *jwksFixture) sign(t *testing.T, mutate func(jwt.MapClaims)) string {
	t.Helper()
	claims := jwt.MapClaims{
		"aud":            testAudience,
		"iss":            testIssuer,
		"sub":            "1122334455",
		"email":          schedulerMail,
		"email_verified": true,
		"exp":            f.now.Add(time.Hour).Unix(),
		"iat":            f.now.Unix(),
	}
	if mutate != nil {
		mutate(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "scheduler-key"
	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (f *jwksFixture) keySet() *KeySet {
	return NewKeySet(f.server.URL, WithKeySetLogger(noopLogger{}), WithKeySetClock(func() time.Time { return f.now }))
}

func callInternal(t *testing.T, mw func(http.Handler) http.Handler, token string) (*httptest.ResponseRecorder, *ServiceIdentity) {
	t.Helper()
	var seen *ServiceIdentity
	req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/team-carts:expire", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ServiceIdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, req)
	return rr, seen
}

func TestKeySetHonoursMaxAge(t *testing.T) {
	f := newJWKSFixture(t)
	keys := f.keySet()
	ctx := context.Background()

	key, err := keys.Key(ctx, "scheduler-key")
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if _, ok := key.(*rsa.PublicKey); !ok {
		t.Fatalf("expected *rsa.PublicKey, got %T", key)
	}
	if _, err := keys.Key(ctx, "scheduler-key"); err != nil {
		t.Fatalf("cached Key: %v", err)
	}
	if got := f.requests.Load(); got != 1 {
		t.Fatalf("expected one fetch inside max-age, got %d", got)
	}

	f.now = f.now.Add(11 * time.Minute)
	if _, err := keys.Key(ctx, "scheduler-key"); err != nil {
		t.Fatalf("Key after expiry: %v", err)
	}
	if got := f.requests.Load(); got != 2 {
		t.Fatalf("expected refetch after max-age, got %d", got)
	}
}

func TestKeySetServesKnownKeyWhenDownloadFails(t *testing.T) {
	f := newJWKSFixture(t)
	keys := f.keySet()
	ctx := context.Background()
	if _, err := keys.Key(ctx, "scheduler-key"); err != nil {
		t.Fatalf("Key: %v", err)
	}

	f.status.Store(http.StatusInternalServerError)
	f.now = f.now.Add(time.Hour)
	if _, err := keys.Key(ctx, "scheduler-key"); err != nil {
		t.Fatalf("expected stale key, got %v", err)
	}
	if _, err := keys.Key(ctx, "rotated-key"); err == nil {
		t.Fatalf("expected error for unknown key while endpoint fails")
	}
}

func TestKeySetThrottlesUnknownKids(t *testing.T) {
	f := newJWKSFixture(t)
	keys := f.keySet()
	ctx := context.Background()

	if _, err := keys.Key(ctx, "scheduler-key"); err != nil {
		t.Fatalf("Key: %v", err)
	}
	if _, err := keys.Key(ctx, "rotated-key"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if got := f.requests.Load(); got != 1 {
		t.Fatalf("unknown kid inside cooldown must not refetch, got %d fetches", got)
	}

	f.now = f.now.Add(time.Minute)
	if _, err := keys.Key(ctx, "rotated-key"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound after refetch, got %v", err)
	}
	if got := f.requests.Load(); got != 2 {
		t.Fatalf("expected one refetch after cooldown, got %d", got)
	}
}

func TestKeyLifetime(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		header http.Header
		want   time.Duration
	}{
		{http.Header{"Cache-Control": {"public, Max-Age=120, must-revalidate"}}, 2 * time.Minute},
		{http.Header{"Expires": {now.Add(time.Hour).Format(http.TimeFormat)}}, time.Hour},
		{http.Header{"Cache-Control": {"no-cache"}}, defaultKeyLifetime},
	}
	for _, tc := range cases {
		if got := keyLifetime(tc.header, now); got != tc.want {
			t.Fatalf("keyLifetime(%v) = %s, want %s", tc.header, got, tc.want)
		}
	}
}

func TestRequireOIDCAdmitsScheduler(t *testing.T) {
	f := newJWKSFixture(t)
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	validator := NewOIDCValidator(f.keySet(),
		WithOIDCLogger(noopLogger{}),
		WithOIDCServiceAccounts(" Scheduler@groupdine.iam.gserviceaccount.com "),
		WithOIDCMeter(provider.Meter("test")),
	)
	rr, identity := callInternal(t, validator.RequireOIDC(testAudience, []string{testIssuer}), f.sign(t, nil))

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if identity == nil || identity.Email != schedulerMail || identity.Subject != "1122334455" {
		t.Fatalf("unexpected service identity %+v", identity)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := verificationCount(rm, "ok"); got != 1 {
		t.Fatalf("expected one ok verification, got %d", got)
	}
}

func TestRequireOIDCRejections(t *testing.T) {
	f := newJWKSFixture(t)

	cases := []struct {
		name     string
		audience string
		token    func() string
		status   int
		code     string
	}{
		{name: "missing token", audience: testAudience, token: func() string { return "" }, status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "audience not configured", audience: "", token: func() string { return f.sign(t, nil) }, status: http.StatusServiceUnavailable, code: "verification_unavailable"},
		{
			name:     "audience mismatch",
			audience: testAudience,
			token: func() string {
				return f.sign(t, func(c jwt.MapClaims) { c["aud"] = []string{"https://other.example"} })
			},
			status: http.StatusUnauthorized,
			code:   "invalid_token",
		},
		{
			name:     "issuer mismatch",
			audience: testAudience,
			token:    func() string { return f.sign(t, func(c jwt.MapClaims) { c["iss"] = "https://evil.example" }) },
			status:   http.StatusUnauthorized,
			code:     "invalid_token",
		},
		{
			name:     "expired",
			audience: testAudience,
			token:    func() string { return f.sign(t, func(c jwt.MapClaims) { c["exp"] = f.now.Add(-time.Minute).Unix() }) },
			status:   http.StatusUnauthorized,
			code:     "invalid_token",
		},
		{
			name:     "other service account",
			audience: testAudience,
			token:    func() string { return f.sign(t, func(c jwt.MapClaims) { c["email"] = "intruder@example.com" }) },
			status:   http.StatusForbidden,
			code:     "forbidden",
		},
		{
			name:     "unverified email",
			audience: testAudience,
			token:    func() string { return f.sign(t, func(c jwt.MapClaims) { c["email_verified"] = false }) },
			status:   http.StatusForbidden,
			code:     "forbidden",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			validator := NewOIDCValidator(f.keySet(), WithOIDCLogger(noopLogger{}), WithOIDCServiceAccounts(schedulerMail))
			rr, identity := callInternal(t, validator.RequireOIDC(tc.audience, []string{testIssuer}), tc.token())
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if identity != nil {
				t.Fatalf("handler must not run")
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestRequireOIDCKeysUnavailable(t *testing.T) {
	f := newJWKSFixture(t)
	f.status.Store(http.StatusBadGateway)
	validator := NewOIDCValidator(f.keySet(), WithOIDCLogger(noopLogger{}))

	rr, _ := callInternal(t, validator.RequireOIDC(testAudience, nil), f.sign(t, nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func verificationCount(rm metricdata.ResourceMetrics, reason string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "groupdine.auth.oidc.verifications" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key("reason")); ok && v.AsString() == reason {
					total += dp.Value
				}
			}
		}
	}
	return total
}
