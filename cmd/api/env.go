package main

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/groupdine/api/internal/platform/config"
	"github.com/groupdine/api/internal/platform/secrets"
	"github.com/groupdine/api/internal/services"
)

// envReader trims every lookup against the merged environment.
type envReader map[string]string

func (e envReader) get(key string) string {
	return strings.TrimSpace(e[key])
}

// newSecretFetcher is built before config.Load because the configuration itself holds
// secret:// references.
func newSecretFetcher(ctx context.Context, logger *zap.Logger, values map[string]string, meter metric.Meter) (*secrets.Fetcher, error) {
	env := envReader(values)
	opts := []secrets.Option{
		secrets.WithEnvironment(cmp.Or(env.get("API_SECURITY_ENVIRONMENT"), "local")),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithMeter(meter),
	}
	if project := cmp.Or(env.get("API_SECRET_DEFAULT_PROJECT_ID"), env.get("API_FIREBASE_PROJECT_ID")); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if path := env.get("API_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if projects := parseKeyValueList(env.get("API_SECRET_PROJECT_IDS")); len(projects) > 0 {
		byEnv := make(map[string]string, len(projects))
		for name, id := range projects {
			byEnv[strings.ToLower(name)] = id
		}
		opts = append(opts, secrets.WithProjectMap(byEnv))
	}
	if pins := secretVersionPins(env.get("API_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if raw := env.get("API_SECRET_CACHE_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("API_SECRET_CACHE_TTL: %w", err)
		}
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	if creds := env.get("API_FIREBASE_CREDENTIALS_FILE"); creds != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(creds)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the config fields that must resolve to a value. The Redis password
// is only required when one is configured at all.
func requiredSecretNames(values map[string]string) []string {
	names := []string{"PSP.StripeAPIKey", "PSP.StripeWebhookSecret"}
	if envReader(values).get("API_REDIS_PASSWORD") != "" {
		names = append(names, "Redis.Password")
	}
	slices.Sort(names)
	return names
}

// secretVersionPins parses "name=version" pairs, where name may carry an "env:" scope. Names
// written as secret:// references are reduced to the bare name.
func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for key, version := range parseKeyValueList(raw) {
		scope, name, scoped := strings.Cut(key, ":")
		if scoped && strings.HasPrefix(name, "//") {
			scope, name, scoped = "", key, false
		}
		name = strings.Trim(strings.TrimPrefix(strings.TrimSpace(name), "secret://"), "/")
		if name == "" {
			continue
		}
		if scoped {
			name = strings.ToLower(strings.TrimSpace(scope)) + ":" + name
		}
		pins[name] = version
	}
	return pins
}

// parseKeyValueList reads "a=1,b=2". Entries without a key or value are skipped.
func parseKeyValueList(raw string) map[string]string {
	out := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(entry, "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if ok && key != "" && value != "" {
			out[key] = value
		}
	}
	return out
}

func buildInfoFromEnv(values map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	env := envReader(values)
	return services.BuildInfo{
		Version:     cmp.Or(env.get("API_BUILD_VERSION"), "dev"),
		CommitSHA:   cmp.Or(env.get("API_BUILD_COMMIT_SHA"), "unknown"),
		Environment: cmp.Or(strings.TrimSpace(cfg.Security.Environment), "local"),
		StartedAt:   started,
	}
}
