package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func load(t *testing.T, env map[string]string, opts ...Option) (Config, error) {
	t.Helper()
	return Load(context.Background(), append([]Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}, opts...)...)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(t, map[string]string{"API_FIREBASE_PROJECT_ID": "gd-dev"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "8080" || cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected server defaults %+v", cfg.Server)
	}
	if cfg.Firestore.ProjectID != "gd-dev" || cfg.PubSub.ProjectID != "gd-dev" {
		t.Errorf("expected firestore and pubsub to inherit the firebase project, got %q %q", cfg.Firestore.ProjectID, cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.TeamCartEventsTopic != defaultTeamCartEventsTopic || cfg.Redis.Addr != "" {
		t.Errorf("unexpected transport defaults %+v %+v", cfg.PubSub, cfg.Redis)
	}
	if cfg.Security.Environment != "local" || cfg.Security.OIDC.JWKSURL != defaultOIDCJWKSURL {
		t.Errorf("unexpected security defaults %+v", cfg.Security)
	}
	if !slices.Equal(cfg.Security.OIDC.Issuers, []string{defaultOIDCIssuer}) || cfg.Security.OIDC.Audience != "" {
		t.Errorf("unexpected oidc defaults %+v", cfg.Security.OIDC)
	}
	if cfg.Idempotency.Backend != IdempotencyBackendFirestore || cfg.Idempotency.TTL != 24*time.Hour {
		t.Errorf("unexpected idempotency defaults %+v", cfg.Idempotency)
	}

	tc := cfg.TeamCart
	if tc.DefaultCurrency != "JPY" || tc.TTL != 2*time.Hour || tc.MaxMembers != 20 {
		t.Errorf("unexpected team cart defaults %+v", tc)
	}
	if tc.SweepInterval != time.Minute || tc.SweepBatchSize != 100 {
		t.Errorf("unexpected sweeper defaults %+v", tc)
	}
	if !tc.DeliveryFee.IsZero() || !tc.TaxRate.IsZero() || !tc.MaxAdjustmentDeviation.IsZero() {
		t.Errorf("expected zero fee, tax and deviation, got %s %s %s", tc.DeliveryFee, tc.TaxRate, tc.MaxAdjustmentDeviation)
	}
	if !tc.ReconciliationTolerance.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("unexpected tolerance %s", tc.ReconciliationTolerance)
	}
}

func TestLoadOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                       "9090",
		"API_FIREBASE_PROJECT_ID":               "gd-prod",
		"API_FIRESTORE_PROJECT_ID":              "gd-fire",
		"API_PSP_STRIPE_API_KEY":                "secret://stripe/api",
		"API_PSP_STRIPE_WEBHOOK_SECRET":         " secret://stripe/webhook ",
		"API_PUBSUB_TEAMCART_EVENTS_TOPIC":      "teamcarts",
		"API_REDIS_ADDR":                        "10.0.0.5:6379",
		"API_REDIS_PASSWORD":                    "secret://redis/password",
		"API_REDIS_DB":                          "2",
		"API_SECURITY_ENVIRONMENT":              "PROD",
		"API_SECURITY_OIDC_AUDIENCE":            "https://api.groupdine.example",
		"API_SECURITY_OIDC_ISSUERS":             "https://accounts.google.com, accounts.google.com,",
		"API_SECURITY_OIDC_SERVICE_ACCOUNTS":    "scheduler@gd-prod.iam.gserviceaccount.com",
		"API_IDEMPOTENCY_BACKEND":               "Redis",
		"API_TEAMCART_DEFAULT_CURRENCY":         "usd",
		"API_TEAMCART_TTL":                      "90m",
		"API_TEAMCART_DELIVERY_FEE":             "3.99",
		"API_TEAMCART_TAX_RATE":                 "0.0875",
		"API_TEAMCART_SWEEP_INTERVAL":           "0s",
		"API_TEAMCART_RECONCILIATION_TOLERANCE": "0.05",
		"API_TEAMCART_MAX_ADJUSTMENT_DEVIATION": "0.2",
	}
	secrets := map[string]string{
		"secret://stripe/api":     "sk_live",
		"secret://stripe/webhook": "whsec",
		"secret://redis/password": "redis-pass",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("unknown secret")
	})

	cfg, err := load(t, env, WithSecretResolver(resolver), WithRequiredSecrets("PSP.StripeAPIKey", "Redis.Password"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Firestore.ProjectID != "gd-fire" || cfg.PubSub.ProjectID != "gd-fire" {
		t.Errorf("unexpected project wiring %+v %+v", cfg.Firestore, cfg.PubSub)
	}
	if cfg.PSP.StripeAPIKey != "sk_live" || cfg.PSP.StripeWebhookSecret != "whsec" || cfg.Redis.Password != "redis-pass" {
		t.Errorf("expected resolved secrets, got %+v %+v", cfg.PSP, cfg.Redis)
	}
	if cfg.Redis.DB != 2 || cfg.Idempotency.Backend != IdempotencyBackendRedis {
		t.Errorf("unexpected redis settings %+v %s", cfg.Redis, cfg.Idempotency.Backend)
	}
	oidc := cfg.Security.OIDC
	if cfg.Security.Environment != "prod" || oidc.Audience != "https://api.groupdine.example" {
		t.Errorf("unexpected security config %+v", cfg.Security)
	}
	if len(oidc.Issuers) != 2 || len(oidc.ServiceAccounts) != 1 {
		t.Errorf("unexpected oidc lists %+v", oidc)
	}

	tc := cfg.TeamCart
	if tc.DefaultCurrency != "USD" || tc.TTL != 90*time.Minute || tc.SweepInterval != 0 {
		t.Errorf("unexpected team cart config %+v", tc)
	}
	if !tc.DeliveryFee.Equal(decimal.RequireFromString("3.99")) || !tc.TaxRate.Equal(decimal.RequireFromString("0.0875")) {
		t.Errorf("unexpected fee/tax %s %s", tc.DeliveryFee, tc.TaxRate)
	}
	if !tc.ReconciliationTolerance.Equal(decimal.RequireFromString("0.05")) || !tc.MaxAdjustmentDeviation.Equal(decimal.RequireFromString("0.2")) {
		t.Errorf("unexpected reconciliation settings %s %s", tc.ReconciliationTolerance, tc.MaxAdjustmentDeviation)
	}
}

func TestLoadReportsEveryInvalidField(t *testing.T) {
	_, err := load(t, map[string]string{
		"API_FIREBASE_PROJECT_ID":               "gd-dev",
		"API_SERVER_READ_TIMEOUT":               "soon",
		"API_TEAMCART_MAX_MEMBERS":              "many",
		"API_TEAMCART_DELIVERY_FEE":             "three",
		"API_TEAMCART_TAX_RATE":                 "1.5",
		"API_TEAMCART_RECONCILIATION_TOLERANCE": "0",
		"API_IDEMPOTENCY_BACKEND":               "redis",
	})
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	got := validation.Fields()
	slices.Sort(got)
	want := []string{
		"Redis.Addr",
		"Server.ReadTimeout",
		"TeamCart.DeliveryFee",
		"TeamCart.MaxMembers",
		"TeamCart.ReconciliationTolerance",
		"TeamCart.TaxRate",
	}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestLoadRequiresFirebaseProject(t *testing.T) {
	_, err := load(t, map[string]string{})
	var validation *ValidationError
	if !errors.As(err, &validation) || !slices.Contains(validation.Fields(), "Firebase.ProjectID") {
		t.Fatalf("expected Firebase.ProjectID validation error, got %v", err)
	}
}

func TestLoadSecretErrors(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "gd-dev",
		"API_PSP_STRIPE_API_KEY":  "secret://missing",
	}

	_, err := load(t, env)
	var secretErr *SecretError
	if !errors.As(err, &secretErr) || secretErr.Ref != "secret://missing" || !errors.Is(err, errNoSecretResolver) {
		t.Fatalf("expected unresolved SecretError, got %v", err)
	}

	failing := SecretResolverFunc(func(context.Context, string) (string, error) {
		return "", errors.New("permission denied")
	})
	_, err = load(t, env, WithSecretResolver(failing))
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError from resolver, got %v", err)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := load(t, map[string]string{"API_FIREBASE_PROJECT_ID": "gd-dev"},
		WithRequiredSecrets("PSP.StripeWebhookSecret", "PSP.StripeAPIKey", "PSP.StripeAPIKey"))

	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	if !slices.Equal(missing.Names(), []string{"PSP.StripeAPIKey", "PSP.StripeWebhookSecret"}) {
		t.Fatalf("unexpected names %v", missing.Names())
	}
	for _, redacted := range missing.RedactedNames() {
		if len(redacted) != 16 || redacted == "PSP.StripeAPIKey" {
			t.Fatalf("expected hashed names, got %v", missing.RedactedNames())
		}
	}
}

func TestDotEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nexport API_FIREBASE_PROJECT_ID=gd-dot\nAPI_TEAMCART_DEFAULT_CURRENCY=\"EUR\"\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "7070" || cfg.Firebase.ProjectID != "gd-dot" || cfg.TeamCart.DefaultCurrency != "EUR" {
		t.Fatalf("expected dotenv values, got %+v %+v %s", cfg.Server, cfg.Firebase, cfg.TeamCart.DefaultCurrency)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")
	values, err := EnvironmentValues(WithEnvFile(path), WithEnvMap(map[string]string{"API_SERVER_PORT": "6060"}))
	if err != nil {
		t.Fatalf("EnvironmentValues: %v", err)
	}
	if values["API_SERVER_PORT"] != "6060" || values["API_FIREBASE_PROJECT_ID"] != "os-project" {
		t.Fatalf("expected map > os > dotenv precedence, got %v %v", values["API_SERVER_PORT"], values["API_FIREBASE_PROJECT_ID"])
	}
	if values["API_SECRET_FALLBACK_FILE"] != ".dot.local" || values["API_SECRET_PROJECT_IDS"] != "prod=project-prod" {
		t.Fatalf("expected values from every source, got %v", values)
	}

	if _, err := EnvironmentValues(WithEnvFile(filepath.Join(dir, "absent.env")), WithoutSystemEnv()); err != nil {
		t.Fatalf("missing dotenv must be ignored, got %v", err)
	}
}
