package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/groupdine/api/internal/payments"
	"github.com/groupdine/api/internal/platform/config"
	pfirestore "github.com/groupdine/api/internal/platform/firestore"
	"github.com/groupdine/api/internal/platform/idempotency"
	"github.com/groupdine/api/internal/platform/jobs"
	"github.com/groupdine/api/internal/platform/observability"
	"github.com/groupdine/api/internal/repositories"
	firestoreRepo "github.com/groupdine/api/internal/repositories/firestore"
	"github.com/groupdine/api/internal/services"
)

// infrastructure is every external client the process talks to, plus a readiness check for each.
type infrastructure struct {
	firestore   *pfirestore.Provider
	idempotency idempotency.Store
	inbox       *idempotency.Inbox
	events      services.TeamCartEventPublisher
	checks      []repositories.DependencyCheck
}

func dial(ctx context.Context, logger *zap.Logger, cfg config.Config, res *resources) (*infrastructure, error) {
	infra := &infrastructure{firestore: pfirestore.NewProvider(cfg.Firestore)}
	fsClient, err := infra.firestore.Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore: %w", err)
	}
	res.add("firestore", infra.firestore.Close)
	infra.checks = append(infra.checks, firestoreRepo.FirestoreCheck(infra.firestore))

	var rdb *redis.Client
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:        addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		res.add("redis", func(context.Context) error { return rdb.Close() })
		infra.checks = append(infra.checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: time.Second,
			Check:   func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}

	if infra.idempotency, err = newIdempotencyStore(cfg.Idempotency.Backend, fsClient, rdb); err != nil {
		return nil, fmt.Errorf("idempotency store: %w", err)
	}
	if infra.inbox, err = idempotency.NewInbox(infra.idempotency); err != nil {
		return nil, fmt.Errorf("webhook inbox: %w", err)
	}

	topicID := strings.TrimSpace(cfg.PubSub.TeamCartEventsTopic)
	if topicID == "" {
		logger.Warn("team cart events topic not configured; domain events stay in process")
		return infra, nil
	}
	ps, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub: %w", err)
	}
	topic := ps.Topic(topicID)
	res.add("pubsub", func(context.Context) error {
		topic.Stop()
		return ps.Close()
	})
	publisher, err := jobs.NewPubSubEventPublisher(topic)
	if err != nil {
		return nil, fmt.Errorf("event publisher: %w", err)
	}
	infra.events = publisher
	infra.checks = append(infra.checks, repositories.DependencyCheck{
		Name:    "pubsub",
		Timeout: 1500 * time.Millisecond,
		Check: func(ctx context.Context) error {
			exists, err := topic.Exists(ctx)
			if err == nil && !exists {
				err = fmt.Errorf("topic %s not found", topicID)
			}
			return err
		},
	})
	return infra, nil
}

func newIdempotencyStore(backend string, fsClient *firestore.Client, rdb *redis.Client) (idempotency.Store, error) {
	switch backend {
	case config.IdempotencyBackendMemory:
		return idempotency.NewMemoryStore(), nil
	case config.IdempotencyBackendRedis:
		if rdb == nil {
			return nil, errors.New("redis backend needs API_REDIS_ADDR")
		}
		store, err := idempotency.NewRedisStore(rdb)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		if fsClient == nil {
			return nil, errors.New("firestore backend needs a firestore client")
		}
		return idempotency.NewFirestoreStore(fsClient), nil
	}
}

func newPaymentManager(cfg config.Config, logger *zap.Logger) (*payments.Manager, error) {
	stripe, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:        cfg.PSP.StripeAPIKey,
		WebhookSecret: cfg.PSP.StripeWebhookSecret,
		Logger:        observability.ServiceLogger(logger, "payments"),
		Clock:         time.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("stripe provider: %w", err)
	}
	return payments.NewManager(map[string]payments.Provider{"stripe": stripe}, payments.WithDefaultProvider("stripe"))
}
