// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bus

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jeranaias/nebot/internal/logging"
)

// MemoryBus is an in-process Bus backed by watermill's Go channel pub/sub.
type MemoryBus struct {
	pubsub *gochannel.GoChannel
}

// NewMemory creates an in-process bus.
func NewMemory(logger zerolog.Logger) *MemoryBus {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		// Publish returns only after every subscriber queued the message,
		// which keeps per-topic order.
		BlockPublishUntilSubscriberAck: true,
		Persistent:                     false,
	}, logging.NewWatermillAdapter(logger.With().Str("component", "bus").Logger()))

	return &MemoryBus{pubsub: pubsub}
}

// Publish sends payload to every current subscriber of topic.
func (b *MemoryBus) Publish(topic string, payload []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return errors.Wrapf(b.pubsub.Publish(topic, msg), "failed to publish to %s", topic)
}

// Subscribe starts receiving payloads published to topic from now on.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	msgs, err := b.pubsub.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		return nil, errors.Wrapf(err, "failed to subscribe to %s", topic)
	}
	return newSubscription(subCtx, cancel, topic, msgs, nil), nil
}

// Close shuts down the pub/sub and closes every subscription.
func (b *MemoryBus) Close() error {
	return b.pubsub.Close()
}
