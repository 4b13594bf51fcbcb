package views

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"github.com/Zhima-Mochi/minishop-allocation/internal/application/unitofwork"
	"github.com/Zhima-Mochi/minishop-allocation/internal/domain/allocation"
	"github.com/Zhima-Mochi/minishop-allocation/internal/observability"
	"github.com/Zhima-Mochi/minishop-allocation/internal/observability/logctx"
)

var ErrEmptyOrderID = errors.New("views: order id is required")

// AllocationRow is one line of the allocations read model.
type AllocationRow struct {
	OrderID  string `json:"orderid"`
	SKU      string `json:"sku"`
	BatchRef string `json:"batchref"`
}

// Store persists the allocations read model. Upsert and Delete must be idempotent:
// the projector may see the same event more than once.
type Store interface {
	Upsert(ctx context.Context, row AllocationRow) error
	Delete(ctx context.Context, orderID, sku string) error
	ForOrder(ctx context.Context, orderID string) ([]AllocationRow, error)
}

// Projector keeps the read model in step with allocation events.
type Projector struct {
	store Store
	log   observability.Logger
}

func NewProjector(store Store, log observability.Logger) *Projector {
	if log == nil {
		log = observability.NopLogger()
	}
	return &Projector{store: store, log: log.With(observability.F("component", "views"))}
}

func (p *Projector) OnAllocated(ctx context.Context, e allocation.Allocated, _ *unitofwork.UnitOfWork) error {
	row := AllocationRow{OrderID: e.OrderID, SKU: e.SKU, BatchRef: e.BatchRef}
	if err := p.store.Upsert(ctx, row); err != nil {
		return err
	}
	logctx.FromOr(ctx, p.log).Debug("view_upserted",
		observability.F("orderid", e.OrderID),
		observability.F("sku", e.SKU),
		observability.F("batchref", e.BatchRef),
	)
	return nil
}

func (p *Projector) OnDeallocated(ctx context.Context, e allocation.Deallocated, _ *unitofwork.UnitOfWork) error {
	if err := p.store.Delete(ctx, e.OrderID, e.SKU); err != nil {
		return err
	}
	logctx.FromOr(ctx, p.log).Debug("view_removed",
		observability.F("orderid", e.OrderID),
		observability.F("sku", e.SKU),
	)
	return nil
}

// Allocations answers which batches hold the lines of an order, sorted by sku.
// An unknown order yields an empty slice.
func Allocations(ctx context.Context, store Store, orderID string) ([]AllocationRow, error) {
	if orderID == "" {
		return nil, ErrEmptyOrderID
	}
	rows, err := store.ForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []AllocationRow{}
	}
	slices.SortFunc(rows, func(a, b AllocationRow) int { return cmp.Compare(a.SKU, b.SKU) })
	return rows, nil
}
