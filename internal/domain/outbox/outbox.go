package outbox

import "context"

// Channel names used on external pub/sub.
const (
	ChannelLineAllocated       = "line_allocated"
	ChannelChangeBatchQuantity = "change_batch_quantity"
)

// Publisher forwards a flattened event to an external channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, fields map[string]string) error
}

// Notifier delivers a human-readable message to a destination (mailbox, pager, chat).
type Notifier interface {
	Send(ctx context.Context, destination, body string) error
}
