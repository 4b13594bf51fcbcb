package kafka

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/Zhima-Mochi/minishop-allocation/internal/observability"
	kafkago "github.com/segmentio/kafka-go"
)

const defaultRetryDelay = time.Second

// messageReader is the part of *kafkago.Reader the consumer loop uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafkago.Message, error)
	Close() error
}

// Consumer reads one topic as part of a consumer group and hands every message
// to handle. Handler errors are logged; the offset still advances.
type Consumer struct {
	reader     messageReader
	handle     func(ctx context.Context, payload []byte) error
	log        observability.Logger
	retryDelay time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, handle func(ctx context.Context, payload []byte) error, log observability.Logger) *Consumer {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	})
	return newConsumer(reader, topic, handle, log)
}

func newConsumer(reader messageReader, topic string, handle func(ctx context.Context, payload []byte) error, log observability.Logger) *Consumer {
	if log == nil {
		log = observability.NopLogger()
	}
	return &Consumer{
		reader:     reader,
		handle:     handle,
		log:        log.With(observability.F("component", "kafka_consumer"), observability.F("topic", topic)),
		retryDelay: defaultRetryDelay,
	}
}

// Run blocks until ctx is done or the reader is closed. Read failures are
// retried after retryDelay.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	c.log.Info("consumer_started")
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("consumer_stopped")
				return nil
			}
			if errors.Is(err, io.EOF) {
				c.log.Info("consumer_closed")
				return nil
			}
			c.log.Error("read_failed", observability.F("error", err))
			select {
			case <-ctx.Done():
				c.log.Info("consumer_stopped")
				return nil
			case <-time.After(c.retryDelay):
			}
			continue
		}
		if err := c.handle(ctx, msg.Value); err != nil {
			c.log.Warn("message_failed",
				observability.F("offset", msg.Offset),
				observability.F("error", err),
			)
		}
	}
}
