// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// =============================================================================
// TOPICS
// =============================================================================

const (
	streamTopicPrefix = "nebot:stream:"

	// ChatUpdatedTopic carries TitleEvent payloads for every session.
	ChatUpdatedTopic = "nebot:chat-updated"
)

// StreamTopic returns the broadcast topic for a session's stream events.
func StreamTopic(sessionID string) string {
	return streamTopicPrefix + sessionID
}

// =============================================================================
// BUS INTERFACE
// =============================================================================

// Publisher publishes raw payloads to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Bus is a per-topic broadcast mechanism. Every subscriber of a topic
// receives every payload published after it subscribed, in publish order.
// Payloads published to a topic with no subscribers are dropped.
type Bus interface {
	Publisher
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
	Close() error
}

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// Open returns the bus for driver.
func Open(ctx context.Context, driver, redisAddr string, logger zerolog.Logger) (Bus, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemory(logger), nil
	case DriverRedis:
		return NewRedis(ctx, redisAddr, logger)
	default:
		return nil, errors.Errorf("unknown bus driver %q", driver)
	}
}

// PublishEvent encodes ev and publishes it on the session's stream topic.
func PublishEvent(p Publisher, sessionID string, ev StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "failed to encode stream event")
	}
	return p.Publish(StreamTopic(sessionID), data)
}

// PublishTitle encodes ev and publishes it on ChatUpdatedTopic.
func PublishTitle(p Publisher, ev TitleEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "failed to encode title event")
	}
	return p.Publish(ChatUpdatedTopic, data)
}

// =============================================================================
// SUBSCRIPTION
// =============================================================================

const subscriptionBuffer = 1024

// Subscription delivers the payloads of one topic to one listener.
type Subscription struct {
	topic  string
	c      chan []byte
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// newSubscription forwards msgs into a buffered channel, acking each message
// once it is queued. cleanup runs after forwarding stops.
func newSubscription(ctx context.Context, cancel context.CancelFunc, topic string, msgs <-chan *message.Message, cleanup func()) *Subscription {
	s := &Subscription{
		topic:  topic,
		c:      make(chan []byte, subscriptionBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.forward(ctx, msgs, cleanup)
	return s
}

func (s *Subscription) forward(ctx context.Context, msgs <-chan *message.Message, cleanup func()) {
	defer close(s.done)
	defer close(s.c)
	if cleanup != nil {
		defer cleanup()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			select {
			case s.c <- msg.Payload:
				msg.Ack()
			case <-ctx.Done():
				return
			}
		}
	}
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string {
	return s.topic
}

// C returns the payload channel. It is closed after Unsubscribe or when the
// context passed to Subscribe ends.
func (s *Subscription) C() <-chan []byte {
	return s.c
}

// Unsubscribe stops delivery and releases driver resources. It is safe to
// call more than once and from multiple goroutines.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
	<-s.done
}
