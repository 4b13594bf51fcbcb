package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
)

// Publisher writes flattened events to a topic named after the channel. The
// orderid, when present, is the message key so one order stays on one partition.
type Publisher struct {
	writer *kafkago.Writer
}

func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(brokers...),
			Balancer:               &kafkago.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, channel string, fields map[string]string) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("kafka: marshal %s: %w", channel, err)
	}
	msg := kafkago.Message{
		Topic: channel,
		Key:   []byte(fields["orderid"]),
		Value: payload,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write %s: %w", channel, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
