package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/online-library/apiserver/internal/log"
	"github.com/online-library/apiserver/types"
)

// EventPublisher delivers catalog events after the change they describe has committed.
type EventPublisher interface {
	Publish(ctx context.Context, event types.CatalogEvent) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, types.CatalogEvent) error { return nil }

func publisherOrNoop(p EventPublisher) EventPublisher {
	if p == nil {
		return noopPublisher{}
	}
	return p
}

// publish is best-effort: a failure is logged and never changes the caller's outcome.
func publish(ctx context.Context, p EventPublisher, eventType types.EventType, bookID, userID int) {
	event := types.CatalogEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		BookID:     bookID,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
	}
	if err := p.Publish(ctx, event); err != nil {
		logger := log.WithComponent("events")
		logger.Warn().
			Err(err).
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Int("book_id", bookID).
			Msg("failed to publish catalog event")
	}
}
