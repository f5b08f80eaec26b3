package auth

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	jwt "github.com/golang-jwt/jwt/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/groupdine/api/internal/platform/httpx"
)

// OIDCValidator admits Google-signed service tokens, such as the ones Cloud Scheduler attaches
// when it triggers the expiration sweep.
type OIDCValidator struct {
	keys            *KeySet
	logger          Logger
	serviceAccounts map[string]struct{}
	outcomes        metric.Int64Counter
}

// OIDCOption customises the validator.
type OIDCOption func(*OIDCValidator)

// WithOIDCLogger overrides the validator logger.
func WithOIDCLogger(logger Logger) OIDCOption {
	return func(v *OIDCValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithOIDCServiceAccounts restricts accepted tokens to the listed service account emails.
func WithOIDCServiceAccounts(emails ...string) OIDCOption {
	return func(v *OIDCValidator) {
		for _, email := range emails {
			if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
				v.serviceAccounts[email] = struct{}{}
			}
		}
	}
}

// WithOIDCMeter records verification outcomes on groupdine.auth.oidc.verifications.
func WithOIDCMeter(meter metric.Meter) OIDCOption {
	return func(v *OIDCValidator) {
		if meter == nil {
			return
		}
		counter, err := meter.Int64Counter("groupdine.auth.oidc.verifications",
			metric.WithDescription("OIDC token verifications by outcome"))
		if err == nil {
			v.outcomes = counter
		}
	}
}

// NewOIDCValidator constructs an OIDCValidator.
func NewOIDCValidator(keys *KeySet, opts ...OIDCOption) *OIDCValidator {
	v := &OIDCValidator{
		keys:            keys,
		logger:          log.Default(),
		serviceAccounts: make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// ServiceIdentity is the service principal behind a verified OIDC token.
type ServiceIdentity struct {
	Subject string
	Email   string
	Issuer  string
}

type serviceIdentityContextKey struct{}

// WithServiceIdentity attaches the verified service identity to the context.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityContextKey{}, identity)
}

// ServiceIdentityFromContext retrieves the identity stored by RequireOIDC.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityContextKey{}).(*ServiceIdentity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

type oidcClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// RequireOIDC verifies the bearer token against audience and issuers. Without a configured
// audience every request is refused with 503, since any Google token would otherwise pass.
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string) func(http.Handler) http.Handler {
	audience = strings.TrimSpace(audience)
	allowedIssuers := make(map[string]struct{}, len(issuers))
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			allowedIssuers[issuer] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity, reason, apiErr := v.verify(ctx, r, audience, allowedIssuers)
			v.record(ctx, reason)
			if identity == nil {
				httpx.WriteError(ctx, w, apiErr)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
		})
	}
}

func (v *OIDCValidator) verify(ctx context.Context, r *http.Request, audience string, issuers map[string]struct{}) (*ServiceIdentity, string, httpx.Error) {
	unavailable := httpx.NewError("verification_unavailable", "oidc verification unavailable", http.StatusServiceUnavailable)
	invalid := httpx.NewError("invalid_token", "oidc token verification failed", http.StatusUnauthorized)

	if v == nil || v.keys == nil || audience == "" {
		return nil, "not_configured", unavailable
	}
	raw, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, "token_missing", httpx.NewError("unauthenticated", "oidc token missing", http.StatusUnauthorized)
	}

	var claims oidcClaims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if _, err := parser.ParseWithClaims(raw, &claims, v.keys.Keyfunc(ctx)); err != nil {
		if errors.Is(err, ErrKeysUnavailable) {
			v.logger.Printf("auth: oidc keys unavailable: %v", err)
			return nil, "jwks_unavailable", unavailable
		}
		v.logger.Printf("auth: oidc token rejected: %v", err)
		return nil, "token_invalid", invalid
	}
	if len(issuers) > 0 {
		if _, ok := issuers[claims.Issuer]; !ok {
			v.logger.Printf("auth: oidc issuer mismatch, got %q", claims.Issuer)
			return nil, "issuer_mismatch", invalid
		}
	}
	if !claims.VerifyAudience(audience, true) {
		v.logger.Printf("auth: oidc audience mismatch, expected %q", audience)
		return nil, "audience_mismatch", invalid
	}
	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if len(v.serviceAccounts) > 0 {
		if _, ok := v.serviceAccounts[email]; !ok || !claims.EmailVerified {
			v.logger.Printf("auth: oidc service account %q not permitted", email)
			return nil, "account_not_permitted", httpx.NewError("forbidden", "service account not permitted", http.StatusForbidden)
		}
	}

	return &ServiceIdentity{Subject: claims.Subject, Email: email, Issuer: claims.Issuer}, "ok", httpx.Error{}
}

func (v *OIDCValidator) record(ctx context.Context, reason string) {
	if v == nil || v.outcomes == nil {
		return
	}
	v.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
		attribute.Bool("success", reason == "ok"),
	))
}
