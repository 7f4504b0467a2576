// Package mq is a small broker abstraction used to fan out catalog events.
package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/online-library/apiserver/config"
)

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker-agnostic operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

const (
	BackendNone     = ""
	BackendRabbitMQ = "rabbitmq"
	BackendPubSub   = "pubsub"
	BackendMemory   = "memory"
)

// AttrContentType carries the payload media type across backends.
const AttrContentType = "content_type"

// ErrDisabled is returned by Open when no broker is configured.
var ErrDisabled = errors.New("mq backend not configured")

// Open connects to the broker selected by cfg.Backend.
func Open(ctx context.Context, cfg config.MQConfig) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendNone:
		return nil, ErrDisabled
	case BackendRabbitMQ:
		client, err := NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return client, nil
	case BackendPubSub:
		client, err := NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return client, nil
	case BackendMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.Backend)
	}
}

func requireChannel(backend, channel string) error {
	if strings.TrimSpace(channel) == "" {
		return fmt.Errorf("%s channel is required", backend)
	}
	return nil
}
