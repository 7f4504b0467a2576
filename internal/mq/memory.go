package mq

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

const memoryBuffer = 64

// MemoryBackend delivers messages in-process to every current subscriber of a
// channel. Messages published with no subscriber, or to a subscriber whose
// buffer is full, are dropped.
type MemoryBackend struct {
	mu     sync.Mutex
	subs   map[string][]chan Message
	closed bool
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{subs: make(map[string][]chan Message)}
}

func (m *MemoryBackend) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if err := requireChannel("memory", channel); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", errors.New("memory backend closed")
	}

	msg := Message{
		ID:         uuid.NewString(),
		Data:       append([]byte(nil), data...),
		Attributes: attrs,
	}
	for _, ch := range m.subs[channel] {
		select {
		case ch <- msg:
		default:
			// Slow subscriber: drop rather than block every publisher.
		}
	}
	return msg.ID, nil
}

// Subscribe blocks until ctx is done or the backend is closed.
func (m *MemoryBackend) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if err := requireChannel("memory", channel); err != nil {
		return err
	}

	ch := make(chan Message, memoryBuffer)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("memory backend closed")
	}
	m.subs[channel] = append(m.subs[channel], ch)
	m.mu.Unlock()

	defer m.unsubscribe(channel, ch)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			_ = handler(ctx, msg)
		}
	}
}

func (m *MemoryBackend) unsubscribe(channel string, ch chan Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs := m.subs[channel]
	for i, existing := range subs {
		if existing == ch {
			m.subs[channel] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Subscribers reports how many subscribers channel currently has.
func (m *MemoryBackend) Subscribers(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[channel])
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for channel, subs := range m.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(m.subs, channel)
	}
	return nil
}
