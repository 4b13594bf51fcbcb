package workerpresentation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Zhima-Mochi/minishop-allocation/internal/application/messagebus"
	"github.com/Zhima-Mochi/minishop-allocation/internal/application/unitofwork"
	domalloc "github.com/Zhima-Mochi/minishop-allocation/internal/domain/allocation"
	"github.com/Zhima-Mochi/minishop-allocation/internal/observability"
	"go.opentelemetry.io/otel/trace"
)

// ChangeBatchQuantityPayload is the wire format of the change_batch_quantity channel.
type ChangeBatchQuantityPayload struct {
	BatchRef string `json:"batchref"`
	Qty      int    `json:"qty"`
}

// Dispatcher turns external messages into bus commands, one unit of work each.
type Dispatcher struct {
	bus    *messagebus.Bus
	newUoW func() *unitofwork.UnitOfWork
	tel    observability.Observability
	log    observability.Logger
}

func NewDispatcher(bus *messagebus.Bus, newUoW func() *unitofwork.UnitOfWork, tel observability.Observability) *Dispatcher {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Dispatcher{
		bus:    bus,
		newUoW: newUoW,
		tel:    tel,
		log:    tel.Logger().With(observability.F("component", "worker")),
	}
}

// ChangeBatchQuantity decodes payload and runs the command. source names the
// transport for logs, e.g. "redis" or "kafka".
func (d *Dispatcher) ChangeBatchQuantity(ctx context.Context, source string, payload []byte) error {
	sc := trace.SpanContextFromContext(ctx)
	ctx = WithEventContext(ctx, d.log, d.tel, sc.TraceID(), sc.SpanID(), map[string]string{
		"source":  source,
		"channel": "change_batch_quantity",
	})

	var in ChangeBatchQuantityPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return fmt.Errorf("worker: decode change_batch_quantity: %w", err)
	}
	if in.BatchRef == "" {
		return fmt.Errorf("%w: batchref is required", domalloc.ErrInvalidArgument)
	}

	_, err := d.bus.Handle(ctx, d.newUoW(), domalloc.ChangeBatchQuantity{Ref: in.BatchRef, Qty: in.Qty})
	return err
}
