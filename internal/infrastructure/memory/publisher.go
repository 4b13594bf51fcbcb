package memory

import (
	"context"
	"maps"
	"sync"
)

// Publication is one recorded call to Publisher.Publish.
type Publication struct {
	Channel string
	Fields  map[string]string
}

// Publisher records publications in order instead of sending them anywhere.
type Publisher struct {
	mu   sync.Mutex
	sent []Publication
}

func NewPublisher() *Publisher {
	return &Publisher{}
}

func (p *Publisher) Publish(ctx context.Context, channel string, fields map[string]string) error {
	_ = ctx
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, Publication{Channel: channel, Fields: maps.Clone(fields)})
	return nil
}

// Publications returns a copy of everything published so far.
func (p *Publisher) Publications() []Publication {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Publication, len(p.sent))
	copy(out, p.sent)
	return out
}
