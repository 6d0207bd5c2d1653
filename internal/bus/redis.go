// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bus

import (
	"context"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jeranaias/nebot/internal/logging"
)

// RedisBus is a Bus backed by Redis Streams, for running the HTTP server and
// display clients in separate processes.
//
// Each subscription gets its own consumer group created at the stream tail,
// so subscribers see only entries added after they subscribed and every
// subscriber sees every entry.
type RedisBus struct {
	client *redis.Client
	pub    *rstream.Publisher
	logger watermill.LoggerAdapter
	zl     zerolog.Logger
}

// NewRedis connects to the Redis server at addr.
func NewRedis(ctx context.Context, addr string, logger zerolog.Logger) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "failed to reach redis at %s", addr)
	}

	zl := logger.With().Str("component", "bus").Str("driver", "redis").Logger()
	wlogger := logging.NewWatermillAdapter(zl)

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, wlogger)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to create redis publisher")
	}

	return &RedisBus{client: client, pub: pub, logger: wlogger, zl: zl}, nil
}

// Publish appends payload to the topic's stream.
func (b *RedisBus) Publish(topic string, payload []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return errors.Wrapf(b.pub.Publish(topic, msg), "failed to publish to %s", topic)
}

// Subscribe creates a private consumer group at the tail of topic and
// starts consuming from it.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	group := "nebot-" + uuid.NewString()
	if err := b.ensureGroupAtTail(ctx, topic, group); err != nil {
		return nil, err
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        b.client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: group,
		Consumer:      group,
	}, b.logger)
	if err != nil {
		b.destroyGroup(topic, group)
		return nil, errors.Wrap(err, "failed to create redis subscriber")
	}

	subCtx, cancel := context.WithCancel(ctx)
	msgs, err := sub.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		sub.Close()
		b.destroyGroup(topic, group)
		return nil, errors.Wrapf(err, "failed to subscribe to %s", topic)
	}

	cleanup := func() {
		sub.Close()
		b.destroyGroup(topic, group)
	}
	return newSubscription(subCtx, cancel, topic, msgs, cleanup), nil
}

// Close closes the publisher and the Redis connection.
func (b *RedisBus) Close() error {
	pubErr := b.pub.Close()
	if err := b.client.Close(); err != nil {
		return errors.Wrap(err, "failed to close redis client")
	}
	return pubErr
}

// ensureGroupAtTail creates group at "$" so no history is replayed.
func (b *RedisBus) ensureGroupAtTail(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errors.Wrapf(err, "failed to create consumer group on %s", stream)
	}
	return nil
}

func (b *RedisBus) destroyGroup(stream, group string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.client.XGroupDestroy(ctx, stream, group).Err(); err != nil {
		b.zl.Debug().Err(err).Str("topic", stream).Str("group", group).Msg("failed to destroy consumer group")
	}
}
