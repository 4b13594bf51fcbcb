package redis

import (
	"context"
	"fmt"

	"github.com/Zhima-Mochi/minishop-allocation/internal/observability"
	goredis "github.com/redis/go-redis/v9"
)

// HandlerFunc processes one payload received on a channel.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Consumer subscribes to one channel and hands every message to a handler,
// one at a time, until its context is canceled.
type Consumer struct {
	client  goredis.UniversalClient
	channel string
	handle  HandlerFunc
	log     observability.Logger
}

func NewConsumer(client goredis.UniversalClient, channel string, handle HandlerFunc, log observability.Logger) *Consumer {
	if log == nil {
		log = observability.NopLogger()
	}
	return &Consumer{
		client:  client,
		channel: channel,
		handle:  handle,
		log:     log.With(observability.F("component", "redis_consumer"), observability.F("channel", channel)),
	}
}

// Run blocks until ctx is done. Handler errors are logged and the loop goes on.
func (c *Consumer) Run(ctx context.Context) error {
	sub := c.client.Subscribe(ctx, c.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis: subscribe %s: %w", c.channel, err)
	}
	c.log.Info("consumer_started")

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("consumer_stopped")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := c.handle(ctx, []byte(msg.Payload)); err != nil {
				c.log.Warn("message_failed",
					observability.F("payload", msg.Payload),
					observability.F("error", err),
				)
			}
		}
	}
}
