package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Snapshot is a decoded document together with its id.
type Snapshot[T any] struct {
	ID   string
	Data T
}

// Collection gives typed read access to one Firestore collection. Documents are decoded with
// DataTo, so T carries firestore struct tags.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds a typed view to the named collection.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Doc returns the reference for id.
func (c *Collection[T]) Doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("firestore: %s document id is required", c.name)
	}
	ref, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	return ref.Doc(id), nil
}

// Get loads and decodes the document. A missing document yields a not found store error.
func (c *Collection[T]) Get(ctx context.Context, id string) (Snapshot[T], error) {
	doc, err := c.Doc(ctx, id)
	if err != nil {
		return Snapshot[T]{}, err
	}
	snap, err := doc.Get(ctx)
	if err != nil {
		return Snapshot[T]{}, WrapError(c.name+".get", err)
	}
	return decode[T](snap)
}

// Query runs the query produced by build and decodes every match.
func (c *Collection[T]) Query(ctx context.Context, build func(firestore.Query) firestore.Query) ([]Snapshot[T], error) {
	ref, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	q := ref.Query
	if build != nil {
		q = build(q)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()
	var out []Snapshot[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, WrapError(c.name+".query", err)
		}
		decoded, err := decode[T](snap)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded)
	}
}

func (c *Collection[T]) ref(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil || c.name == "" {
		return nil, errors.New("firestore: collection not configured")
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

func decode[T any](snap *firestore.DocumentSnapshot) (Snapshot[T], error) {
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Snapshot[T]{}, fmt.Errorf("firestore: decode %s: %w", snap.Ref.Path, err)
	}
	return Snapshot[T]{ID: snap.Ref.ID, Data: data}, nil
}
