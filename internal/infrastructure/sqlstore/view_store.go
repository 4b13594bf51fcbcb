package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Zhima-Mochi/minishop-allocation/internal/application/views"
)

// ViewStore keeps the allocations read model in the allocations_view table.
type ViewStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewViewStore(db *sql.DB, d Dialect) *ViewStore {
	return &ViewStore{db: db, dialect: d}
}

func (s *ViewStore) Upsert(ctx context.Context, row views.AllocationRow) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.upsertView(), row.OrderID, row.SKU, row.BatchRef); err != nil {
		return fmt.Errorf("sqlstore: upsert view: %w", err)
	}
	return nil
}

func (s *ViewStore) Delete(ctx context.Context, orderID, sku string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`DELETE FROM allocations_view WHERE orderid = ? AND sku = ?`), orderID, sku,
	); err != nil {
		return fmt.Errorf("sqlstore: delete view: %w", err)
	}
	return nil
}

func (s *ViewStore) ForOrder(ctx context.Context, orderID string) ([]views.AllocationRow, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT orderid, sku, batchref FROM allocations_view WHERE orderid = ?`), orderID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query view: %w", err)
	}
	defer rows.Close()

	var out []views.AllocationRow
	for rows.Next() {
		var r views.AllocationRow
		if err := rows.Scan(&r.OrderID, &r.SKU, &r.BatchRef); err != nil {
			return nil, fmt.Errorf("sqlstore: scan view: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

var _ views.Store = (*ViewStore)(nil)
