// Package secrets resolves secret:// references against Google Secret Manager, with a bounded
// in-memory cache and a local YAML file for development and outages.
package secrets

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackFile = ".secrets.local.yaml"
	defaultCacheTTL     = 5 * time.Minute
	latestVersion       = "latest"
	pingSecret          = "groupdine-healthz"
	meterName           = "github.com/groupdine/api/internal/platform/secrets"
)

// Result sources recorded on the latency histogram.
const (
	sourceCache    = "cache"
	sourceRemote   = "remote"
	sourceFallback = "fallback"
	sourceError    = "error"
)

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (secretManagerClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// Fetcher resolves references. Remote lookups of the same name and version are collapsed, and
// values are cached for a bounded time so rotated keys are picked up without a restart.
type Fetcher struct {
	client      secretManagerClient
	closeClient bool
	logger      *zap.Logger
	now         func() time.Time

	env            string
	defaultProject string
	projects       map[string]string
	pins           map[string]string
	ttl            time.Duration
	fallback       func() (map[string]string, error)

	inflight singleflight.Group
	mu       sync.RWMutex
	cache    map[string]cachedSecret

	latency metric.Float64Histogram
	hits    metric.Int64Counter
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

type options struct {
	logger       *zap.Logger
	now          func() time.Time
	env          string
	project      string
	projects     map[string]string
	pins         map[string]string
	fallbackFile string
	ttl          time.Duration
	meter        metric.Meter
	client       secretManagerClient
	clientOpts   []option.ClientOption
}

// Option customises NewFetcher.
type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithEnvironment selects the WithProjectMap entry and the environment scoped version pins.
func WithEnvironment(env string) Option {
	return func(o *options) { o.env = strings.ToLower(strings.TrimSpace(env)) }
}

// WithDefaultProject is the project used when neither the reference nor the project map names one.
func WithDefaultProject(projectID string) Option {
	return func(o *options) { o.project = strings.TrimSpace(projectID) }
}

// WithProjectMap maps environment names to Secret Manager projects.
func WithProjectMap(projects map[string]string) Option {
	return func(o *options) { o.projects = maps.Clone(projects) }
}

// WithVersionPins fixes versions for references that do not name one. Keys are secret names,
// optionally prefixed with "env:" to apply in one environment only.
func WithVersionPins(pins map[string]string) Option {
	return func(o *options) { o.pins = maps.Clone(pins) }
}

// WithFallbackFile sets the local YAML file. An empty path disables the fallback.
func WithFallbackFile(path string) Option {
	return func(o *options) { o.fallbackFile = strings.TrimSpace(path) }
}

// WithCacheTTL bounds how long values are cached. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl >= 0 {
			o.ttl = ttl
		}
	}
}

func WithMeter(meter metric.Meter) Option {
	return func(o *options) { o.meter = meter }
}

// WithSecretManagerClient supplies the client instead of dialling one. The fetcher does not
// close a supplied client.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(o *options) { o.client = client }
}

func WithClientOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.clientOpts = append(o.clientOpts, opts...) }
}

// NewFetcher builds a Fetcher. When no Secret Manager client can be created the fetcher runs
// on the fallback file alone.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	o := options{
		logger:       zap.NewNop(),
		now:          time.Now,
		env:          "local",
		fallbackFile: defaultFallbackFile,
		ttl:          defaultCacheTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.meter == nil {
		o.meter = otel.Meter(meterName)
	}

	f := &Fetcher{
		client:         o.client,
		logger:         o.logger,
		now:            o.now,
		env:            o.env,
		defaultProject: o.project,
		projects:       o.projects,
		pins:           o.pins,
		ttl:            o.ttl,
		cache:          make(map[string]cachedSecret),
	}
	path := o.fallbackFile
	f.fallback = sync.OnceValues(func() (map[string]string, error) { return readFallback(path) })

	var err error
	if f.latency, err = o.meter.Float64Histogram("groupdine.secrets.resolve.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution latency by source")); err != nil {
		o.logger.Warn("secrets: latency histogram unavailable", zap.Error(err))
	}
	if f.hits, err = o.meter.Int64Counter("groupdine.secrets.cache.hits",
		metric.WithDescription("Secret resolutions served from cache")); err != nil {
		o.logger.Warn("secrets: cache hit counter unavailable", zap.Error(err))
	}

	if f.client == nil {
		client, err := newSecretManagerClient(ctx, o.clientOpts...)
		if err != nil {
			o.logger.Warn("secrets: secret manager unavailable, serving fallback file only", zap.Error(err))
		} else {
			f.client, f.closeClient = client, true
		}
	}
	return f, nil
}

// Close closes the Secret Manager client if the fetcher dialled it.
func (f *Fetcher) Close() error {
	if f.closeClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value behind ref from the cache, Secret Manager or the fallback file, in
// that order. Secret Manager errors other than access or availability failures are returned
// without consulting the fallback.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	started := time.Now()
	ref, err := ParseRef(raw)
	if err != nil {
		return "", err
	}
	version := f.version(ref)
	key := ref.Name + "@" + version

	if value, ok := f.cached(key); ok {
		if f.hits != nil {
			f.hits.Add(ctx, 1)
		}
		f.observe(ctx, started, sourceCache)
		return value, nil
	}

	type outcome struct{ value, source string }
	res, err, _ := f.inflight.Do(key, func() (any, error) {
		value, source, err := f.load(ctx, ref, version)
		if err != nil {
			return nil, err
		}
		f.store(key, value)
		return outcome{value, source}, nil
	})
	if err != nil {
		f.observe(ctx, started, sourceError)
		return "", err
	}
	out := res.(outcome)
	f.observe(ctx, started, out.source)
	return out.value, nil
}

// Invalidate drops every cached version of the referenced secret.
func (f *Fetcher) Invalidate(raw string) {
	ref, err := ParseRef(raw)
	if err != nil {
		return
	}
	prefix := ref.Name + "@"
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.cache {
		if strings.HasPrefix(key, prefix) {
			delete(f.cache, key)
		}
	}
}

// Ping reads a sentinel secret to prove Secret Manager answers. NotFound counts as success; a
// fetcher without a client has nothing to ping.
func (f *Fetcher) Ping(ctx context.Context) error {
	project := f.project(Ref{})
	if f.client == nil || project == "" {
		return nil
	}
	_, err := f.access(ctx, resourceName(project, pingSecret, latestVersion))
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

func (f *Fetcher) load(ctx context.Context, ref Ref, version string) (value, source string, err error) {
	if project := f.project(ref); project != "" && f.client != nil {
		value, err := f.access(ctx, resourceName(project, ref.Name, version))
		if err == nil {
			return value, sourceRemote, nil
		}
		if !fallbackEligible(err) {
			return "", "", fmt.Errorf("secrets: access %s: %w", ref, err)
		}
		f.logger.Debug("secrets: using fallback file", zap.String("secret", ref.Name), zap.Error(err))
	}

	values, err := f.fallback()
	if err != nil {
		return "", "", err
	}
	value, ok := fallbackValue(values, ref.Name, version)
	if !ok {
		return "", "", fmt.Errorf("secrets: %s not found in Secret Manager or the fallback file", ref)
	}
	return value, sourceFallback, nil
}

func (f *Fetcher) access(ctx context.Context, name string) (string, error) {
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secrets: empty payload for %s", name)
	}
	return strings.TrimSpace(string(resp.GetPayload().GetData())), nil
}

func (f *Fetcher) project(ref Ref) string {
	if ref.Project != "" {
		return ref.Project
	}
	if id := strings.TrimSpace(f.projects[f.env]); id != "" {
		return id
	}
	return f.defaultProject
}

func (f *Fetcher) version(ref Ref) string {
	if ref.Version != "" {
		return ref.Version
	}
	for _, key := range []string{f.env + ":" + ref.Name, ref.Name} {
		if pin := strings.TrimSpace(f.pins[key]); pin != "" {
			return pin
		}
	}
	return latestVersion
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[key]
	if !ok || !f.now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) store(key, value string) {
	if f.ttl <= 0 {
		return
	}
	f.mu.Lock()
	f.cache[key] = cachedSecret{value: value, expiresAt: f.now().Add(f.ttl)}
	f.mu.Unlock()
}

func (f *Fetcher) observe(ctx context.Context, started time.Time, source string) {
	if f.latency == nil {
		return
	}
	elapsed := float64(time.Since(started)) / float64(time.Millisecond)
	f.latency.Record(ctx, elapsed, metric.WithAttributes(attribute.String("source", source)))
}

// fallbackEligible reports Secret Manager failures that the local file may paper over.
func fallbackEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
