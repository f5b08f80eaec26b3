package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCollection   = "idempotencyRecords"
	defaultTxAttempts   = 5
	defaultCleanupLimit = 200
)

// FirestoreStore keeps records in a Firestore collection, one document per key. Reserve runs in
// a transaction so that concurrent reservations of the same key serialise.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	attempts   int
}

var _ Store = (*FirestoreStore)(nil)

// FirestoreOption customises FirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection name.
func WithCollection(name string) FirestoreOption {
	return func(s *FirestoreStore) {
		if name != "" {
			s.collection = name
		}
	}
}

// WithMaxAttempts bounds transaction retries.
func WithMaxAttempts(attempts int) FirestoreOption {
	return func(s *FirestoreStore) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) *FirestoreStore {
	s := &FirestoreStore{client: client, collection: defaultCollection, attempts: defaultTxAttempts}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	var result Reservation
	err := s.update(ctx, key, func(tx *firestore.Transaction, ref *firestore.DocumentRef, existing Record, found bool) error {
		if found && !existing.expired(now) {
			var err error
			result, err = existing.outcome(fingerprint)
			return err
		}
		record := pendingRecord(key, fingerprint, now, ttl)
		result = Reservation{State: ReservationStateNew, Record: record}
		return tx.Set(ref, record)
	})
	return result, err
}

func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	return s.update(ctx, key, func(tx *firestore.Transaction, ref *firestore.DocumentRef, existing Record, found bool) error {
		record, err := existing.completed(found, key, fingerprint, resp, now, ttl)
		if err != nil {
			return err
		}
		return tx.Set(ref, record)
	})
}

func (s *FirestoreStore) Release(ctx context.Context, key, fingerprint string) error {
	return s.update(ctx, key, func(tx *firestore.Transaction, ref *firestore.DocumentRef, existing Record, found bool) error {
		if !found || !existing.releasableBy(fingerprint) {
			return nil
		}
		return tx.Delete(ref)
	})
}

// CleanupExpired deletes up to limit expired documents in one batch. It relies on the
// single field index on expiresAt.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultCleanupLimit
	}
	snaps, err := s.client.Collection(s.collection).
		Where("expiresAt", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, fmt.Errorf("idempotency: list expired records: %w", err)
	}
	if len(snaps) == 0 {
		return 0, nil
	}
	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(snaps))
	for _, snap := range snaps {
		job, err := bw.Delete(snap.Ref)
		if err != nil {
			bw.End()
			return 0, fmt.Errorf("idempotency: delete expired record: %w", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	removed := 0
	for _, job := range jobs {
		if _, err := job.Results(); err == nil {
			removed++
		}
	}
	return removed, nil
}

type recordMutation func(tx *firestore.Transaction, ref *firestore.DocumentRef, existing Record, found bool) error

// update loads the record for key inside a transaction and hands it to fn.
func (s *FirestoreStore) update(ctx context.Context, key string, fn recordMutation) error {
	if s == nil || s.client == nil {
		return errors.New("idempotency: firestore client is nil")
	}
	ref := s.client.Collection(s.collection).Doc(recordID(key))
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var existing Record
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			return fn(tx, ref, Record{}, false)
		case err != nil:
			return err
		}
		if err := snap.DataTo(&existing); err != nil {
			return fmt.Errorf("idempotency: decode record: %w", err)
		}
		return fn(tx, ref, existing, true)
	}, firestore.MaxAttempts(s.attempts))
}
