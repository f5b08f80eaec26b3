package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/groupdine/api/internal/domain"
	"github.com/groupdine/api/internal/repositories"
)

// cartWriter applies revision-guarded mutations to team carts and publishes the resulting events.
type cartWriter struct {
	repo     repositories.TeamCartRepository
	events   TeamCartEventPublisher
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
	attempts int
}

// mutate loads the cart, applies fn and writes the result guarded by the loaded revision,
// retrying from a fresh read when another writer got there first. Events are published only
// after the write commits; a call producing no events writes nothing.
func (w *cartWriter) mutate(ctx context.Context, cartID string, logEvent string, fn func(cart *TeamCart, now time.Time) ([]domain.Event, error)) (TeamCart, error) {
	for attempt := 0; attempt < w.attempts; attempt++ {
		cart, err := w.load(ctx, cartID)
		if err != nil {
			return TeamCart{}, err
		}
		expected := cart.Revision

		events, err := fn(&cart, w.now())
		if err != nil {
			return TeamCart{}, translateDomainError(err)
		}
		if len(events) == 0 {
			return cart, nil
		}

		saved, err := w.repo.Update(ctx, cart, expected)
		if err != nil {
			if isRepoConflict(err) {
				w.logger(ctx, "teamcart.revision_conflict", map[string]any{
					"cartId":   cartID,
					"attempt":  attempt + 1,
					"revision": expected,
				})
				continue
			}
			return TeamCart{}, translateRepoError(err)
		}

		w.logger(ctx, logEvent, map[string]any{
			"cartId":       saved.ID,
			"status":       string(saved.Status),
			"quoteVersion": saved.QuoteVersion,
			"events":       eventTypes(events),
		})
		w.publish(ctx, events)
		return saved, nil
	}
	return TeamCart{}, ErrTeamCartConflict
}

func (w *cartWriter) load(ctx context.Context, cartID string) (TeamCart, error) {
	id := strings.TrimSpace(cartID)
	if id == "" {
		return TeamCart{}, fmt.Errorf("%w: cart id is required", ErrTeamCartInvalidInput)
	}
	cart, err := w.repo.FindByID(ctx, id)
	if err != nil {
		return TeamCart{}, translateRepoError(err)
	}
	return cart, nil
}

func (w *cartWriter) publish(ctx context.Context, events []domain.Event) {
	publishEvents(ctx, w.events, w.logger, events)
}

// publishEvents delivers committed events. Delivery is best effort; failures are only logged.
func publishEvents(ctx context.Context, publisher TeamCartEventPublisher, logger func(context.Context, string, map[string]any), events []domain.Event) {
	if publisher == nil || len(events) == 0 {
		return
	}
	if err := publisher.PublishTeamCartEvents(ctx, events); err != nil {
		logger(ctx, "teamcart.events_publish_failed", map[string]any{
			"cartId": events[0].CartID,
			"events": eventTypes(events),
			"error":  err.Error(),
		})
	}
}

func eventTypes(events []domain.Event) []string {
	out := make([]string, 0, len(events))
	for _, evt := range events {
		out = append(out, string(evt.Type))
	}
	return out
}
