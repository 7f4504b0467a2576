package mq

import (
	"context"
	"testing"
	"time"

	"github.com/online-library/apiserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, config.MQConfig{})
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = Open(ctx, config.MQConfig{Backend: "kafka"})
	assert.Error(t, err)

	_, err = Open(ctx, config.MQConfig{Backend: BackendRabbitMQ})
	assert.EqualError(t, err, "rabbitmq url is required")

	_, err = Open(ctx, config.MQConfig{Backend: BackendPubSub})
	assert.EqualError(t, err, "pubsub project id is required")

	backend, err := Open(ctx, config.MQConfig{Backend: " Memory "})
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, backend)
	require.NoError(t, backend.Close())
}

func TestMemoryBackendDelivers(t *testing.T) {
	backend := NewMemoryBackend()
	defer backend.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- backend.Subscribe(ctx, "catalog-events", func(_ context.Context, msg Message) error {
			received <- msg
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		return backend.Subscribers("catalog-events") == 1
	}, time.Second, 5*time.Millisecond)

	id, err := backend.Publish(ctx, "catalog-events", []byte(`{"type":"book.created"}`), map[string]string{AttrContentType: "application/json"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case msg := <-received:
		assert.Equal(t, id, msg.ID)
		assert.JSONEq(t, `{"type":"book.created"}`, string(msg.Data))
		assert.Equal(t, "application/json", msg.Attributes[AttrContentType])
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, backend.Subscribers("catalog-events"))
}

func TestMemoryBackendRequiresChannel(t *testing.T) {
	backend := NewMemoryBackend()
	_, err := backend.Publish(context.Background(), " ", nil, nil)
	assert.EqualError(t, err, "memory channel is required")

	require.NoError(t, backend.Close())
	_, err = backend.Publish(context.Background(), "x", nil, nil)
	assert.Error(t, err)
}
