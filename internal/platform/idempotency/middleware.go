package idempotency

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/groupdine/api/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	maxKeyLength      = 255
)

// Logger records persistence failures. It matches the structured loggers handed to services.
type Logger func(ctx context.Context, event string, fields map[string]any)

type clockFunc func() time.Time

type guard struct {
	store       Store
	header      string
	ttl         time.Duration
	methods     []string
	now         clockFunc
	log         Logger
	keyOptional bool
}

type MiddlewareOption func(*guard)

// WithHeader names the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

// WithTTL sets how long a completed response stays replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithMethods replaces the guarded methods. POST, PUT, PATCH and DELETE are guarded by default.
func WithMethods(methods ...string) MiddlewareOption {
	return func(g *guard) {
		var set []string
		for _, m := range methods {
			if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
				set = append(set, m)
			}
		}
		if len(set) > 0 {
			g.methods = set
		}
	}
}

// WithOptionalKey lets requests without the header through unguarded instead of rejecting them.
func WithOptionalKey() MiddlewareOption {
	return func(g *guard) { g.keyOptional = true }
}

func WithLogger(logger Logger) MiddlewareOption {
	return func(g *guard) { g.log = logger }
}

func WithClock(clock clockFunc) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.now = clock
		}
	}
}

// Middleware makes mutating requests safe to retry: a request repeated with the same key by the
// same caller gets the first response back instead of running again. Responses a client is
// expected to retry (5xx, 409 and 429) are never stored.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	g := &guard{
		store:   store,
		header:  defaultHeaderName,
		ttl:     DefaultTTL,
		methods: []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}
}

func (g *guard) guards(method string) bool {
	for _, m := range g.methods {
		if m == method {
			return true
		}
	}
	return false
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()
	if !g.guards(r.Method) {
		next.ServeHTTP(w, r)
		return
	}

	key := strings.TrimSpace(r.Header.Get(g.header))
	switch {
	case key == "" && g.keyOptional:
		next.ServeHTTP(w, r)
		return
	case key == "":
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing "+g.header+" header", http.StatusBadRequest))
		return
	case len(key) > maxKeyLength:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_invalid", "idempotency key is too long", http.StatusBadRequest).
			WithDetails(map[string]any{"max_length": maxKeyLength}))
		return
	}

	body, err := bufferBody(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return
	}
	caller := callerScope(ctx)
	k := storeKey(caller, key)
	fp := fingerprint(r, body, caller)

	res, err := g.store.Reserve(ctx, k, fp, g.now().UTC(), g.ttl)
	if errors.Is(err, ErrFingerprintMismatch) {
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusUnprocessableEntity))
		return
	}
	if err != nil {
		g.failure(ctx, "idempotency.reserve_failed", caller, err)
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unable to process idempotency key", http.StatusServiceUnavailable))
		return
	}
	switch res.State {
	case ReservationStateCompleted:
		replay(w, res.Record)
		return
	case ReservationStatePending:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict).
			WithRetryAfter(time.Second))
		return
	}

	buf := newCapture()
	next.ServeHTTP(buf, r)

	if retryable(buf.status()) {
		if err := g.store.Release(ctx, k, fp); err != nil {
			g.failure(ctx, "idempotency.release_failed", caller, err)
		}
		buf.flush(w)
		return
	}
	if err := g.store.SaveResponse(ctx, k, fp, buf.response(), g.now().UTC(), g.ttl); err != nil {
		g.failure(ctx, "idempotency.save_failed", caller, err)
		if err := g.store.Release(ctx, k, fp); err != nil {
			g.failure(ctx, "idempotency.release_failed", caller, err)
		}
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unable to persist idempotency state", http.StatusInternalServerError))
		return
	}
	buf.flush(w)
}

func (g *guard) failure(ctx context.Context, event, caller string, err error) {
	if g.log != nil {
		g.log(ctx, event, map[string]any{"caller": caller, "error": err.Error()})
	}
}

func retryable(status int) bool {
	return status >= http.StatusInternalServerError ||
		status == http.StatusConflict ||
		status == http.StatusTooManyRequests
}

func replay(w http.ResponseWriter, record Record) {
	h := w.Header()
	for name, values := range record.ResponseHeaders {
		h[name] = append(h[name], values...)
	}
	h.Set(replayHeaderName, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.ResponseBody)
}
