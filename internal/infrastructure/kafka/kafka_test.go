package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Zhima-Mochi/minishop-allocation/internal/infrastructure/observability/zaplogger"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// scriptedReader replays results in order, then blocks until ctx is done.
type scriptedReader struct {
	mu      sync.Mutex
	results []readResult
	reads   int
	closed  bool
}

type readResult struct {
	msg kafkago.Message
	err error
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafkago.Message, error) {
	r.mu.Lock()
	r.reads++
	if len(r.results) > 0 {
		next := r.results[0]
		r.results = r.results[1:]
		r.mu.Unlock()
		return next.msg, next.err
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafkago.Message{}, ctx.Err()
}

func (r *scriptedReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *scriptedReader) stats() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads, r.closed
}

func brokersOrSkip(t *testing.T) []string {
	t.Helper()
	brokers := os.Getenv("TEST_KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("TEST_KAFKA_BROKERS not set")
	}
	return strings.Split(brokers, ",")
}

func TestConsumerHandsMessagesToHandler(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	reader := &scriptedReader{results: []readResult{
		{msg: kafkago.Message{Offset: 1, Value: []byte(`{"batchref":"b1","qty":5}`)}},
		{msg: kafkago.Message{Offset: 2, Value: []byte(`bad`)}},
		{msg: kafkago.Message{Offset: 3, Value: []byte(`{"batchref":"b2","qty":1}`)}},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var mu sync.Mutex
	var handled []string
	c := newConsumer(reader, "change_batch_quantity", func(_ context.Context, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, string(payload))
		if len(handled) == 3 {
			cancel()
		}
		if string(payload) == "bad" {
			return errors.New("decode failed")
		}
		return nil
	}, zaplogger.New(zap.New(core)))

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
	if len(handled) != 3 {
		t.Fatalf("handled = %v, want 3 messages", handled)
	}
	if n := logs.FilterMessage("message_failed").Len(); n != 1 {
		t.Fatalf("message_failed logs = %d, want 1", n)
	}
	if _, closed := reader.stats(); !closed {
		t.Fatal("reader not closed")
	}
}

func TestConsumerWaitsBeforeRetryingFailedRead(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	reader := &scriptedReader{results: []readResult{
		{err: errors.New("broker unreachable")},
		{err: errors.New("broker unreachable")},
	}}
	c := newConsumer(reader, "change_batch_quantity", func(context.Context, []byte) error { return nil }, zaplogger.New(zap.New(core)))
	c.retryDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for logs.FilterMessage("read_failed").Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no read_failed log")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if reads, _ := reader.stats(); reads != 1 {
		t.Fatalf("reads = %d, want 1 while waiting to retry", reads)
	}
}

func TestConsumerStopsWhenReaderIsClosed(t *testing.T) {
	reader := &scriptedReader{results: []readResult{{err: io.EOF}}}
	c := newConsumer(reader, "change_batch_quantity", func(context.Context, []byte) error { return nil }, nil)

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
}

func TestPublish(t *testing.T) {
	p := NewPublisher(brokersOrSkip(t))
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := p.Publish(ctx, "line_allocated_test", map[string]string{"orderid": "o1", "batchref": "b1"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestPublisherAndConsumerRoundTrip(t *testing.T) {
	brokers := brokersOrSkip(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	topic := fmt.Sprintf("test-%d", time.Now().UnixNano())

	pub := NewPublisher(brokers)
	defer pub.Close()
	// The first write may race topic auto-creation.
	var err error
	for range 10 {
		if err = pub.Publish(ctx, topic, map[string]string{"batchref": "b1", "qty": "5"}); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := make(chan map[string]string, 1)
	c := NewConsumer(brokers, topic, topic+"-group", func(_ context.Context, payload []byte) error {
		var fields map[string]string
		if err := json.Unmarshal(payload, &fields); err != nil {
			return err
		}
		select {
		case got <- fields:
		default:
		}
		return nil
	}, nil)
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case fields := <-got:
		if fields["batchref"] != "b1" || fields["qty"] != "5" {
			t.Fatalf("fields = %v", fields)
		}
	case <-ctx.Done():
		t.Fatal("no message received")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
}
