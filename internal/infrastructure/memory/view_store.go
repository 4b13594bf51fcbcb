package memory

import (
	"context"
	"sync"

	"github.com/Zhima-Mochi/minishop-allocation/internal/application/views"
)

type viewKey struct{ orderID, sku string }

// ViewStore is the in-process allocations read model.
type ViewStore struct {
	mu   sync.RWMutex
	rows map[viewKey]views.AllocationRow
}

func NewViewStore() *ViewStore {
	return &ViewStore{rows: make(map[viewKey]views.AllocationRow)}
}

func (s *ViewStore) Upsert(ctx context.Context, row views.AllocationRow) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[viewKey{row.OrderID, row.SKU}] = row
	return nil
}

func (s *ViewStore) Delete(ctx context.Context, orderID, sku string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, viewKey{orderID, sku})
	return nil
}

func (s *ViewStore) ForOrder(ctx context.Context, orderID string) ([]views.AllocationRow, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []views.AllocationRow
	for k, row := range s.rows {
		if k.orderID == orderID {
			out = append(out, row)
		}
	}
	return out, nil
}

var _ views.Store = (*ViewStore)(nil)
