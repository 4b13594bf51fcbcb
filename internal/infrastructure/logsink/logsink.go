package logsink

import (
	"context"

	"github.com/Zhima-Mochi/minishop-allocation/internal/observability"
	"github.com/Zhima-Mochi/minishop-allocation/internal/observability/logctx"
)

// Notifier writes notifications to the log instead of delivering them.
type Notifier struct {
	log observability.Logger
}

func NewNotifier(log observability.Logger) *Notifier {
	if log == nil {
		log = observability.NopLogger()
	}
	return &Notifier{log: log.With(observability.F("component", "notifier"))}
}

func (n *Notifier) Send(ctx context.Context, destination, body string) error {
	logctx.FromOr(ctx, n.log).Info("notification_sent",
		observability.F("destination", destination),
		observability.F("body", body),
	)
	return nil
}

// Publisher logs every publication. It is the default when no broker is configured.
type Publisher struct {
	log observability.Logger
}

func NewPublisher(log observability.Logger) *Publisher {
	if log == nil {
		log = observability.NopLogger()
	}
	return &Publisher{log: log.With(observability.F("component", "publisher"))}
}

func (p *Publisher) Publish(ctx context.Context, channel string, fields map[string]string) error {
	logctx.FromOr(ctx, p.log).Info("event_published",
		observability.F("channel", channel),
		observability.F("fields", fields),
	)
	return nil
}
