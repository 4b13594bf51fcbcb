package messagebus

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"time"

	"github.com/Zhima-Mochi/minishop-allocation/internal/application/unitofwork"
	"github.com/Zhima-Mochi/minishop-allocation/internal/domain/allocation"
	"github.com/Zhima-Mochi/minishop-allocation/internal/observability"
	"github.com/Zhima-Mochi/minishop-allocation/internal/observability/logctx"
	"github.com/google/uuid"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	componentBus = "message_bus"
	spanPrefix   = "Bus."
	kindCommand  = "command"
	kindEvent    = "event"
)

var ErrNoHandler = errors.New("messagebus: no handler registered")

// Bus dispatches commands and events to the handlers of a Registry.
//
// Every Handle call owns its own queue, so one Bus may serve any number of
// concurrent callers as long as each passes its own UnitOfWork.
type Bus struct {
	registry *Registry
	log      observability.Logger
	tracer   observability.Tracer
	messages observability.Counter
	duration observability.Histogram
	newID    func() string
}

type Option func(*Bus)

// WithIDGenerator replaces the message id source used in logs.
func WithIDGenerator(fn func() string) Option {
	return func(b *Bus) {
		if fn != nil {
			b.newID = fn
		}
	}
}

func New(registry *Registry, tel observability.Observability, opts ...Option) *Bus {
	if tel == nil {
		tel = observability.Nop()
	}
	b := &Bus{
		registry: registry,
		log:      tel.Logger().With(observability.F("component", componentBus)),
		tracer:   tel.Tracer(),
		messages: tel.Metrics().Counter(observability.MBusMessages),
		duration: tel.Metrics().Histogram(observability.MBusHandlerDuration),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Handle processes msgs and every message they cause, breadth first, until the
// queue is empty. It returns the result of the first command among msgs.
//
// A failing command stops processing and its error is returned. A failing or
// panicking event handler is logged and the remaining handlers still run.
func (b *Bus) Handle(ctx context.Context, uow *unitofwork.UnitOfWork, msgs ...allocation.Message) (any, error) {
	queue := slices.Clone(msgs)
	initial := len(msgs)

	var (
		result    any
		resultSet bool
	)
	for processed := 0; len(queue) > 0; processed++ {
		msg := queue[0]
		queue = queue[1:]

		switch m := msg.(type) {
		case allocation.Command:
			res, err := b.handleCommand(ctx, m, uow)
			queue = append(queue, uow.CollectNewMessages()...)
			if err != nil {
				return nil, err
			}
			if processed < initial && !resultSet {
				result, resultSet = res, true
			}
		case allocation.Event:
			queue = b.handleEvent(ctx, m, uow, queue)
		default:
			return nil, fmt.Errorf("messagebus: unsupported message %T", msg)
		}
	}
	return result, nil
}

func (b *Bus) handleCommand(ctx context.Context, cmd allocation.Command, uow *unitofwork.UnitOfWork) (res any, err error) {
	name := cmd.MessageName()
	h, ok := b.registry.commands[name]
	if !ok {
		b.messages.Add(1,
			observability.L("kind", kindCommand),
			observability.L("message", name),
			observability.L("outcome", "unhandled"),
		)
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, name)
	}

	ctx, logger, span := b.begin(ctx, kindCommand, name, h.name)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("command_handler_panic",
				observability.F("panic", r),
				observability.F("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("messagebus: handler %s panicked: %v", h.name, r)
		}
		b.finish(span, logger, kindCommand, name, h.name, start, err)
	}()

	return h.fn(ctx, cmd, uow)
}

func (b *Bus) handleEvent(ctx context.Context, evt allocation.Event, uow *unitofwork.UnitOfWork, queue []allocation.Message) []allocation.Message {
	name := evt.MessageName()
	handlers := b.registry.events[name]
	if len(handlers) == 0 {
		logctx.FromOr(ctx, b.log).Debug("event_dropped_no_subscriber",
			observability.F("event", name),
		)
		return queue
	}

	for _, h := range handlers {
		b.runEventHandler(ctx, evt, h, uow)
		queue = append(queue, uow.CollectNewMessages()...)
	}
	return queue
}

func (b *Bus) runEventHandler(ctx context.Context, evt allocation.Event, h eventHandler, uow *unitofwork.UnitOfWork) {
	name := evt.MessageName()
	ctx, logger, span := b.begin(ctx, kindEvent, name, h.name)
	start := time.Now()

	var err error
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event_handler_panic",
				observability.F("panic", r),
				observability.F("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("messagebus: handler %s panicked: %v", h.name, r)
		}
		if err != nil {
			logger.Error("event_handler_failed",
				observability.F("payload", allocation.Flatten(evt)),
				observability.F("error", err),
			)
		}
		b.finish(span, logger, kindEvent, name, h.name, start, err)
	}()

	err = h.fn(ctx, evt, uow)
}

func (b *Bus) begin(ctx context.Context, kind, name, handler string) (context.Context, observability.Logger, trace.Span) {
	ctx, span := b.tracer.Start(ctx, spanPrefix+name,
		attribute.String("message.kind", kind),
		attribute.String("message.name", name),
		attribute.String("handler", handler),
	)
	ctx, logger := logctx.Enrich(ctx, b.log,
		observability.F("message_id", b.newID()),
		observability.F(kind, name),
		observability.F("handler", handler),
	)
	return ctx, logger, span
}

func (b *Bus) finish(span trace.Span, logger observability.Logger, kind, name, handler string, start time.Time, err error) {
	outcome := observability.Outcome(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	} else {
		span.SetStatus(codes.Ok, "OK")
	}
	span.End()

	latency := time.Since(start).Seconds()
	b.messages.Add(1,
		observability.L("kind", kind),
		observability.L("message", name),
		observability.L("outcome", outcome),
	)
	b.duration.Observe(latency,
		observability.L("message", name),
		observability.L("handler", handler),
	)

	fields := []observability.Field{
		observability.F("outcome", outcome),
		observability.F("latency_seconds", latency),
	}
	if err != nil {
		fields = append(fields, observability.F("error", err.Error()))
		if kind == kindCommand {
			logger.Warn("command_failed", fields...)
			return
		}
	}
	logger.Debug("message_handled", fields...)
}
