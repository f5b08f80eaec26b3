package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "groupdine:idem:"

// RedisStore keeps records as JSON strings with a Redis TTL matching ExpiresAt, so expired
// records vanish without a cleanup pass.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// RedisOption customises RedisStore.
type RedisOption func(*RedisStore)

// WithRedisKeyPrefix namespaces the keys written by the store.
func WithRedisKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	s := &RedisStore{client: client, prefix: defaultRedisKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Reserve claims the key with SET NX. When the key exists the stored record decides the outcome.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	id := s.prefix + recordID(key)
	pending := pendingRecord(key, fingerprint, now, ttl)
	payload, err := json.Marshal(pending)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: encode record: %w", err)
	}

	// The key can expire between SET NX and GET, hence the second round.
	for range 2 {
		claimed, err := s.client.SetNX(ctx, id, payload, effectiveTTL(ttl)).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: redis reserve: %w", err)
		}
		if claimed {
			return Reservation{State: ReservationStateNew, Record: pending}, nil
		}
		existing, found, err := load(ctx, s.client, id)
		if err != nil {
			return Reservation{}, err
		}
		if found {
			return existing.outcome(fingerprint)
		}
	}
	return Reservation{}, errors.New("idempotency: redis reservation expired while reading")
}

func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	id := s.prefix + recordID(key)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		existing, found, err := load(ctx, tx, id)
		if err != nil {
			return err
		}
		record, err := existing.completed(found, key, fingerprint, resp, now, ttl)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("idempotency: encode record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return pipe.Set(ctx, id, payload, effectiveTTL(ttl)).Err()
		})
		return err
	}, id)
	if err != nil && !errors.Is(err, ErrFingerprintMismatch) {
		return fmt.Errorf("idempotency: redis save response: %w", err)
	}
	return err
}

// Release deletes a pending reservation held under fingerprint. Completed records stay.
func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	id := s.prefix + recordID(key)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		existing, found, err := load(ctx, tx, id)
		if err != nil || !found || !existing.releasableBy(fingerprint) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return pipe.Del(ctx, id).Err()
		})
		return err
	}, id)
	if err != nil {
		return fmt.Errorf("idempotency: redis release: %w", err)
	}
	return nil
}

// CleanupExpired is a no-op: Redis expires the keys itself.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func load(ctx context.Context, client getter, id string) (Record, bool, error) {
	raw, err := client.Get(ctx, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("idempotency: redis get: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, false, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, true, nil
}
