// Package config loads the API configuration from the environment. Every variable is prefixed
// with API_; values of the form secret://name are resolved through a SecretResolver.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Idempotency store backends.
const (
	IdempotencyBackendFirestore = "firestore"
	IdempotencyBackendRedis     = "redis"
	IdempotencyBackendMemory    = "memory"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultRateLimitAuth       = 240
	defaultRateLimitWebhook    = 600
	defaultOIDCJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultOIDCIssuer          = "https://accounts.google.com"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyBatch    = 200
	defaultTeamCartEventsTopic = "teamcart-events"
)

// Config is the complete runtime configuration.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	PSP         PSPConfig
	PubSub      PubSubConfig
	Redis       RedisConfig
	RateLimits  RateLimitConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
	TeamCart    TeamCartConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig defaults ProjectID to the Firebase project.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
}

// PubSubConfig names the topic for team cart events. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID           string
	TeamCartEventsTopic string
}

// RedisConfig is optional; an empty Addr disables Redis.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// RateLimitConfig holds per-minute limits. Zero disables a limiter.
type RateLimitConfig struct {
	AuthenticatedPerMinute int
	WebhookPerMinute       int
}

type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig guards the internal endpoints. Without an Audience those endpoints refuse every
// request; ServiceAccounts, when set, restricts callers to those emails.
type OIDCConfig struct {
	JWKSURL         string
	Audience        string
	Issuers         []string
	ServiceAccounts []string
}

type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
	Backend          string
}

// TeamCartConfig carries pricing inputs and lifecycle limits for team carts. A zero
// SweepInterval disables the in-process sweeper, leaving expiry to the internal endpoint.
type TeamCartConfig struct {
	DefaultCurrency         string
	TTL                     time.Duration
	DeliveryFee             decimal.Decimal
	TaxRate                 decimal.Decimal
	MaxMembers              int
	SweepInterval           time.Duration
	SweepBatchSize          int
	ReconciliationTolerance decimal.Decimal
	MaxAdjustmentDeviation  decimal.Decimal
}

// ValidationError lists every missing or malformed field.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	resolver        SecretResolver
	requiredSecrets []string
}

func newLoaderOptions(opts []Option) loaderOptions {
	o := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithEnvFile changes the dotenv file. An empty path skips it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that override both the dotenv file and the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.resolver = resolver }
}

// WithRequiredSecrets makes Load fail with MissingSecretsError when any of the named fields
// (for example "PSP.StripeAPIKey") ends up empty.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// Load builds the Config, resolves secrets and validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	o := newLoaderOptions(opts)
	values, err := collectEnv(o)
	if err != nil {
		return Config{}, err
	}
	e := &env{values: values}

	cfg := Config{
		Server: ServerConfig{
			Port:         e.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  e.duration("API_SERVER_READ_TIMEOUT", 15*time.Second, "Server.ReadTimeout"),
			WriteTimeout: e.duration("API_SERVER_WRITE_TIMEOUT", 30*time.Second, "Server.WriteTimeout"),
			IdleTimeout:  e.duration("API_SERVER_IDLE_TIMEOUT", 2*time.Minute, "Server.IdleTimeout"),
		},
		Firebase: FirebaseConfig{
			ProjectID:       e.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: e.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    e.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: e.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PSP: PSPConfig{
			StripeAPIKey:        e.str("API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: e.str("API_PSP_STRIPE_WEBHOOK_SECRET", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:           e.str("API_PUBSUB_PROJECT_ID", ""),
			TeamCartEventsTopic: e.str("API_PUBSUB_TEAMCART_EVENTS_TOPIC", defaultTeamCartEventsTopic),
		},
		Redis: RedisConfig{
			Addr:        e.str("API_REDIS_ADDR", ""),
			Password:    e.str("API_REDIS_PASSWORD", ""),
			DB:          e.integer("API_REDIS_DB", 0, "Redis.DB"),
			DialTimeout: e.duration("API_REDIS_DIAL_TIMEOUT", 5*time.Second, "Redis.DialTimeout"),
		},
		RateLimits: RateLimitConfig{
			AuthenticatedPerMinute: e.integer("API_RATELIMIT_AUTH_PER_MIN", defaultRateLimitAuth, "RateLimits.AuthenticatedPerMinute"),
			WebhookPerMinute:       e.integer("API_RATELIMIT_WEBHOOK_PER_MIN", defaultRateLimitWebhook, "RateLimits.WebhookPerMinute"),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(e.str("API_SECURITY_ENVIRONMENT", "local")),
			OIDC: OIDCConfig{
				JWKSURL:         e.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:        e.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:         e.list("API_SECURITY_OIDC_ISSUERS"),
				ServiceAccounts: e.list("API_SECURITY_OIDC_SERVICE_ACCOUNTS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           e.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              e.duration("API_IDEMPOTENCY_TTL", 24*time.Hour, "Idempotency.TTL"),
			CleanupInterval:  e.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", time.Hour, "Idempotency.CleanupInterval"),
			CleanupBatchSize: e.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch, "Idempotency.CleanupBatchSize"),
			Backend:          strings.ToLower(e.str("API_IDEMPOTENCY_BACKEND", IdempotencyBackendFirestore)),
		},
		TeamCart: TeamCartConfig{
			DefaultCurrency:         strings.ToUpper(e.str("API_TEAMCART_DEFAULT_CURRENCY", "JPY")),
			TTL:                     e.duration("API_TEAMCART_TTL", 2*time.Hour, "TeamCart.TTL"),
			DeliveryFee:             e.decimal("API_TEAMCART_DELIVERY_FEE", "0", "TeamCart.DeliveryFee"),
			TaxRate:                 e.decimal("API_TEAMCART_TAX_RATE", "0", "TeamCart.TaxRate"),
			MaxMembers:              e.integer("API_TEAMCART_MAX_MEMBERS", 20, "TeamCart.MaxMembers"),
			SweepInterval:           e.duration("API_TEAMCART_SWEEP_INTERVAL", time.Minute, "TeamCart.SweepInterval"),
			SweepBatchSize:          e.integer("API_TEAMCART_SWEEP_BATCH_SIZE", 100, "TeamCart.SweepBatchSize"),
			ReconciliationTolerance: e.decimal("API_TEAMCART_RECONCILIATION_TOLERANCE", "0.01", "TeamCart.ReconciliationTolerance"),
			MaxAdjustmentDeviation:  e.decimal("API_TEAMCART_MAX_ADJUSTMENT_DEVIATION", "0", "TeamCart.MaxAdjustmentDeviation"),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultOIDCIssuer}
	}

	missing, err := cfg.resolveSecrets(ctx, o.resolver, o.requiredSecrets)
	if err != nil {
		return Config{}, err
	}
	if bad := cfg.validate(e.invalid); len(bad) > 0 {
		return Config{}, &ValidationError{fields: bad}
	}
	if len(missing) > 0 {
		return Config{}, &MissingSecretsError{names: missing}
	}
	return cfg, nil
}

func (c Config) validate(invalid []string) []string {
	bad := append([]string(nil), invalid...)
	check := func(ok bool, field string) {
		if !ok {
			bad = append(bad, field)
		}
	}

	check(c.Server.Port != "", "Server.Port")
	check(c.Firebase.ProjectID != "", "Firebase.ProjectID")
	check(c.Idempotency.Header != "", "Idempotency.Header")
	check(c.Idempotency.TTL > 0, "Idempotency.TTL")
	check(c.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	check(c.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")
	switch c.Idempotency.Backend {
	case IdempotencyBackendFirestore, IdempotencyBackendMemory:
	case IdempotencyBackendRedis:
		check(c.Redis.Addr != "", "Redis.Addr")
	default:
		check(false, "Idempotency.Backend")
	}

	tc := c.TeamCart
	one := decimal.NewFromInt(1)
	check(len(tc.DefaultCurrency) == 3, "TeamCart.DefaultCurrency")
	check(tc.TTL > 0, "TeamCart.TTL")
	check(!tc.DeliveryFee.IsNegative(), "TeamCart.DeliveryFee")
	check(!tc.TaxRate.IsNegative() && tc.TaxRate.LessThan(one), "TeamCart.TaxRate")
	check(tc.MaxMembers >= 0, "TeamCart.MaxMembers")
	check(tc.SweepInterval >= 0, "TeamCart.SweepInterval")
	check(tc.SweepBatchSize > 0, "TeamCart.SweepBatchSize")
	check(tc.ReconciliationTolerance.IsPositive(), "TeamCart.ReconciliationTolerance")
	check(!tc.MaxAdjustmentDeviation.IsNegative(), "TeamCart.MaxAdjustmentDeviation")

	return dedupe(bad)
}

func dedupe(fields []string) []string {
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}
