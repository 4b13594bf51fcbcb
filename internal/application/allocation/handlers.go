package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-allocation/internal/application/unitofwork"
	domalloc "github.com/Zhima-Mochi/minishop-allocation/internal/domain/allocation"
	"github.com/Zhima-Mochi/minishop-allocation/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-allocation/internal/observability"
	"github.com/Zhima-Mochi/minishop-allocation/internal/observability/logctx"
)

const (
	allocationService = "allocation-service"
	publishPeer       = "pubsub"
	notifyPeer        = "notifier"
	externalTimeout   = 500 * time.Millisecond
)

// Handlers holds the command and event handlers of the allocation service and
// the outbound ports they talk to.
type Handlers struct {
	publisher    outbox.Publisher
	notifier     outbox.Notifier
	notifyTo     string
	log          observability.Logger
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewHandlers(publisher outbox.Publisher, notifier outbox.Notifier, notifyTo string, tel observability.Observability) *Handlers {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Handlers{
		publisher:    publisher,
		notifier:     notifier,
		notifyTo:     notifyTo,
		log:          tel.Logger().With(observability.F("service", allocationService)),
		extCounter:   tel.Metrics().Counter(observability.MExternalRequests),
		extHistogram: tel.Metrics().Histogram(observability.MExternalRequestDuration),
	}
}

// AddBatch creates the product on first sight of its sku and registers the batch.
func (h *Handlers) AddBatch(ctx context.Context, cmd domalloc.CreateBatch, uow *unitofwork.UnitOfWork) (string, error) {
	if cmd.SKU == "" {
		return "", domalloc.ErrInvalidSku
	}
	if cmd.Ref == "" {
		return "", fmt.Errorf("%w: batch reference is required", domalloc.ErrInvalidArgument)
	}

	tx, err := uow.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	owner, err := tx.Products().GetByBatchRef(ctx, cmd.Ref)
	if err != nil {
		return "", err
	}
	if owner != nil {
		return "", fmt.Errorf("%w: %q", domalloc.ErrDuplicateBatch, cmd.Ref)
	}

	product, err := tx.Products().Get(ctx, cmd.SKU)
	if err != nil {
		return "", err
	}
	if product == nil {
		product = domalloc.NewProduct(cmd.SKU)
		if err := tx.Products().Add(ctx, product); err != nil {
			return "", err
		}
	}
	if err := product.AddBatch(cmd.Ref, cmd.Qty, cmd.ETA); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}

	logctx.FromOr(ctx, h.log).Info("batch_added",
		observability.F("batchref", cmd.Ref),
		observability.F("sku", cmd.SKU),
		observability.F("qty", cmd.Qty),
	)
	return cmd.Ref, nil
}

// Allocate assigns an order line and returns the chosen batch reference. An empty
// reference with a nil error means the sku is out of stock.
func (h *Handlers) Allocate(ctx context.Context, cmd domalloc.Allocate, uow *unitofwork.UnitOfWork) (string, error) {
	if cmd.OrderID == "" {
		return "", fmt.Errorf("%w: order id is required", domalloc.ErrInvalidArgument)
	}
	if cmd.Qty <= 0 {
		return "", domalloc.ErrInvalidQuantity
	}

	tx, err := uow.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	product, err := tx.Products().Get(ctx, cmd.SKU)
	if err != nil {
		return "", err
	}
	if product == nil {
		return "", fmt.Errorf("%w %s", domalloc.ErrInvalidSku, cmd.SKU)
	}

	ref, _ := product.Allocate(domalloc.OrderLine{OrderID: cmd.OrderID, SKU: cmd.SKU, Qty: cmd.Qty})
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return ref, nil
}

// ChangeBatchQuantity resizes a batch; lines evicted by the resize come back as
// Deallocated events.
func (h *Handlers) ChangeBatchQuantity(ctx context.Context, cmd domalloc.ChangeBatchQuantity, uow *unitofwork.UnitOfWork) (string, error) {
	tx, err := uow.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	product, err := tx.Products().GetByBatchRef(ctx, cmd.Ref)
	if err != nil {
		return "", err
	}
	if product == nil {
		return "", fmt.Errorf("%w: batch %q", domalloc.ErrNotFound, cmd.Ref)
	}
	if err := product.ChangeBatchQuantity(cmd.Ref, cmd.Qty); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return cmd.Ref, nil
}

// Reallocate places a deallocated line again, in a transaction of its own.
func (h *Handlers) Reallocate(ctx context.Context, evt domalloc.Deallocated, uow *unitofwork.UnitOfWork) error {
	_, err := h.Allocate(ctx, domalloc.Allocate{OrderID: evt.OrderID, SKU: evt.SKU, Qty: evt.Qty}, uow)
	return err
}

func (h *Handlers) PublishAllocated(ctx context.Context, evt domalloc.Allocated, _ *unitofwork.UnitOfWork) error {
	if h.publisher == nil {
		return nil
	}
	return h.external(ctx, publishPeer, outbox.ChannelLineAllocated, func(ctx context.Context) error {
		return h.publisher.Publish(ctx, outbox.ChannelLineAllocated, domalloc.Flatten(evt))
	})
}

func (h *Handlers) SendOutOfStockNotification(ctx context.Context, evt domalloc.OutOfStock, _ *unitofwork.UnitOfWork) error {
	logctx.FromOr(ctx, h.log).Info("out_of_stock", observability.F("sku", evt.SKU))
	if h.notifier == nil {
		return nil
	}
	return h.external(ctx, notifyPeer, "out_of_stock", func(ctx context.Context) error {
		return h.notifier.Send(ctx, h.notifyTo, fmt.Sprintf("Out of stock for %s", evt.SKU))
	})
}

func (h *Handlers) external(ctx context.Context, peer, endpoint string, call func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, externalTimeout)
	defer cancel()

	start := time.Now()
	err := call(callCtx)
	if err == nil {
		err = callCtx.Err()
	}
	outcome := observability.Outcome(err)

	h.extCounter.Add(1,
		observability.L("peer", peer),
		observability.L("endpoint", endpoint),
		observability.L("outcome", outcome),
	)
	h.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", peer),
		observability.L("endpoint", endpoint),
	)
	if err != nil {
		return fmt.Errorf("allocation: %s %s: %w", peer, endpoint, err)
	}
	return nil
}
