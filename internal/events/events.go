// Package events encodes catalog events as JSON and moves them over an mq backend.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/online-library/apiserver/internal/mq"
	"github.com/online-library/apiserver/types"
)

const (
	contentTypeJSON = "application/json"
	attrEventType   = "event_type"

	defaultPublishTimeout = 5 * time.Second
)

// Publisher sends catalog events to one channel.
type Publisher struct {
	backend mq.Backend
	channel string
	timeout time.Duration
}

func NewPublisher(backend mq.Backend, channel string) *Publisher {
	return &Publisher{
		backend: backend,
		channel: channel,
		timeout: defaultPublishTimeout,
	}
}

// Publish is bounded by its own timeout so a slow broker cannot stall the caller.
func (p *Publisher) Publish(ctx context.Context, event types.CatalogEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	attrs := map[string]string{
		mq.AttrContentType: contentTypeJSON,
		attrEventType:      string(event.Type),
	}
	if _, err := p.backend.Publish(ctx, p.channel, data, attrs); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// Decode parses a message produced by Publisher.
func Decode(msg mq.Message) (types.CatalogEvent, error) {
	var event types.CatalogEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return types.CatalogEvent{}, fmt.Errorf("decode event %s: %w", msg.ID, err)
	}
	if event.Type == "" {
		return types.CatalogEvent{}, fmt.Errorf("decode event %s: missing type", msg.ID)
	}
	return event, nil
}

// Subscribe calls fn for every event on channel until ctx is done.
// Messages that do not decode are passed to onInvalid and acknowledged.
func Subscribe(ctx context.Context, backend mq.Backend, channel string, fn func(types.CatalogEvent) error, onInvalid func(mq.Message, error)) error {
	return backend.Subscribe(ctx, channel, func(_ context.Context, msg mq.Message) error {
		event, err := Decode(msg)
		if err != nil {
			if onInvalid != nil {
				onInvalid(msg, err)
			}
			return nil
		}
		return fn(event)
	})
}
