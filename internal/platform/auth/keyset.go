package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"golang.org/x/sync/singleflight"
)

var (
	ErrKeyNotFound = errors.New("auth: signing key not found")
	// ErrKeysUnavailable wraps any failure to download or decode the published key set.
	ErrKeysUnavailable = errors.New("auth: signing keys unavailable")
)

// Logger is the printf style logger used by the OIDC components.
type Logger interface {
	Printf(format string, args ...any)
}

const (
	defaultKeyLifetime = 15 * time.Minute
	keyDownloadTimeout = 5 * time.Second
	unknownKidCooldown = 30 * time.Second
)

// keySnapshot is one downloaded key set. Snapshots are replaced, never mutated.
type keySnapshot struct {
	byKid      map[string]any
	fetchedAt  time.Time
	staleAfter time.Time
}

// KeySet serves the public keys published at a JWKS endpoint. It downloads again once the
// endpoint's advertised lifetime passes, or when a token names a kid it has not seen, at most
// once per cooldown. When a download fails a known key keeps being served.
type KeySet struct {
	url    string
	http   *http.Client
	logger Logger
	clock  func() time.Time

	current atomic.Pointer[keySnapshot]
	group   singleflight.Group
}

type KeySetOption func(*KeySet)

func WithKeySetHTTPClient(client *http.Client) KeySetOption {
	return func(ks *KeySet) {
		if client != nil {
			ks.http = client
		}
	}
}

func WithKeySetLogger(logger Logger) KeySetOption {
	return func(ks *KeySet) {
		if logger != nil {
			ks.logger = logger
		}
	}
}

func WithKeySetClock(clock func() time.Time) KeySetOption {
	return func(ks *KeySet) {
		if clock != nil {
			ks.clock = clock
		}
	}
}

// NewKeySet prepares a key set for url. The first download happens on first use.
func NewKeySet(url string, opts ...KeySetOption) *KeySet {
	ks := &KeySet{
		url:    url,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: log.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ks)
		}
	}
	return ks
}

// Keyfunc adapts the key set for jwt parsing. Tokens must be RS256 and name a kid.
func (ks *KeySet) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if alg := token.Method; alg == nil || alg.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("auth: signing method %v not accepted", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("auth: token has no kid")
		}
		return ks.Key(ctx, kid)
	}
}

// Key returns the public key published under kid.
func (ks *KeySet) Key(ctx context.Context, kid string) (any, error) {
	snap := ks.current.Load()
	now := ks.clock()
	var known any
	if snap != nil {
		known = snap.byKid[kid]
		if known != nil && now.Before(snap.staleAfter) {
			return known, nil
		}
		if known == nil && now.Before(snap.staleAfter) && now.Sub(snap.fetchedAt) < unknownKidCooldown {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
		}
	}

	fresh, err := ks.download(ctx)
	if err != nil {
		if known != nil {
			ks.logger.Printf("auth: keeping cached key %s after download failure: %v", kid, err)
			return known, nil
		}
		return nil, err
	}
	if key := fresh.byKid[kid]; key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
}

func (ks *KeySet) download(ctx context.Context) (*keySnapshot, error) {
	v, err, _ := ks.group.Do("jwks", func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), keyDownloadTimeout)
		defer cancel()
		snap, err := ks.fetch(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeysUnavailable, err)
		}
		ks.current.Store(snap)
		ks.logger.Printf("auth: loaded %d signing keys, fresh until %s", len(snap.byKid), snap.staleAfter.Format(time.RFC3339))
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*keySnapshot), nil
}

func (ks *KeySet) fetch(ctx context.Context) (*keySnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := ks.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d from %s", resp.StatusCode, ks.url)
	}

	var doc jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode key set: %w", err)
	}
	byKid := make(map[string]any, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.KeyID == "" || !k.IsPublic() || !k.Valid() {
			continue
		}
		byKid[k.KeyID] = k.Key
	}
	if len(byKid) == 0 {
		return nil, errors.New("key set has no usable public keys")
	}
	now := ks.clock()
	return &keySnapshot{byKid: byKid, fetchedAt: now, staleAfter: now.Add(keyLifetime(resp.Header, now))}, nil
}

// keyLifetime reads Cache-Control max-age, then Expires, before falling back to the default.
func keyLifetime(h http.Header, now time.Time) time.Duration {
	for _, directive := range strings.Split(h.Get("Cache-Control"), ",") {
		if v, ok := strings.CutPrefix(strings.ToLower(strings.TrimSpace(directive)), "max-age="); ok {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	if exp, err := http.ParseTime(h.Get("Expires")); err == nil && exp.After(now) {
		return exp.Sub(now)
	}
	return defaultKeyLifetime
}
