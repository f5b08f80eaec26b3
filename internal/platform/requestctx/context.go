// Package requestctx carries request scoped values shared by observability, error rendering and
// handlers without import cycles between them.
package requestctx

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

type contextKey int

const (
	loggerKey contextKey = iota
	traceKey
	annotationsKey
)

var noopLogger = zap.NewNop()

// TraceInfo captures Cloud Trace metadata parsed from the inbound request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// Annotations are log fields discovered while handling a request, such as the domain code of a
// rejected command or the outcome of a webhook delivery. The request logger installs the holder
// before routing and reads it once the handler returns.
type Annotations struct {
	mu     sync.Mutex
	fields map[string]string
}

// Set records key=value, replacing an earlier value. Empty keys and values are ignored.
func (a *Annotations) Set(key, value string) {
	if a == nil || key == "" || value == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fields == nil {
		a.fields = make(map[string]string)
	}
	a.fields[key] = value
}

// Fields returns the annotations as zap fields in key order.
func (a *Annotations) Fields() []zap.Field {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := make([]string, 0, len(a.fields))
	for k := range a.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.String(k, a.fields[k]))
	}
	return out
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger so callers can tell whether a request logger is set.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores the trace metadata on the context.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey).(TraceInfo)
	return info, ok
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithAnnotations installs an empty annotation holder. An existing holder is reused.
func WithAnnotations(ctx context.Context) (context.Context, *Annotations) {
	if ctx == nil {
		ctx = context.Background()
	}
	if existing, ok := ctx.Value(annotationsKey).(*Annotations); ok && existing != nil {
		return ctx, existing
	}
	notes := &Annotations{}
	return context.WithValue(ctx, annotationsKey, notes), notes
}

// Annotate records a field on the request holder. It is a no-op outside an annotated request.
func Annotate(ctx context.Context, key, value string) {
	if ctx == nil {
		return
	}
	if notes, ok := ctx.Value(annotationsKey).(*Annotations); ok {
		notes.Set(key, value)
	}
}
