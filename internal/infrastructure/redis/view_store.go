package redis

import (
	"context"
	"fmt"

	"github.com/Zhima-Mochi/minishop-allocation/internal/application/views"
	goredis "github.com/redis/go-redis/v9"
)

const viewKeyPrefix = "allocations:"

// ViewStore keeps one hash per order: field sku, value batch reference.
type ViewStore struct {
	client goredis.UniversalClient
}

func NewViewStore(client goredis.UniversalClient) *ViewStore {
	return &ViewStore{client: client}
}

func (s *ViewStore) Upsert(ctx context.Context, row views.AllocationRow) error {
	if err := s.client.HSet(ctx, viewKeyPrefix+row.OrderID, row.SKU, row.BatchRef).Err(); err != nil {
		return fmt.Errorf("redis: upsert view: %w", err)
	}
	return nil
}

func (s *ViewStore) Delete(ctx context.Context, orderID, sku string) error {
	if err := s.client.HDel(ctx, viewKeyPrefix+orderID, sku).Err(); err != nil {
		return fmt.Errorf("redis: delete view: %w", err)
	}
	return nil
}

func (s *ViewStore) ForOrder(ctx context.Context, orderID string) ([]views.AllocationRow, error) {
	fields, err := s.client.HGetAll(ctx, viewKeyPrefix+orderID).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read view: %w", err)
	}
	out := make([]views.AllocationRow, 0, len(fields))
	for sku, ref := range fields {
		out = append(out, views.AllocationRow{OrderID: orderID, SKU: sku, BatchRef: ref})
	}
	return out, nil
}

var _ views.Store = (*ViewStore)(nil)
