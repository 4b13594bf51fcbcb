package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-allocation/internal/application/unitofwork"
	"github.com/Zhima-Mochi/minishop-allocation/internal/domain/allocation"
)

const absent = -1

// ProductStore persists products in products, batches and allocations. Every
// transaction runs at serializable isolation and writes with a version compare.
type ProductStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewProductStore(db *sql.DB, d Dialect) *ProductStore {
	return &ProductStore{db: db, dialect: d}
}

func (s *ProductStore) Begin(ctx context.Context) (unitofwork.StoreTx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: begin tx: %w", err)
	}
	return &productTx{
		tx:      tx,
		dialect: s.dialect,
		read:    make(map[string]int),
		loaded:  make(map[string]*allocation.Product),
	}, nil
}

type productTx struct {
	tx      *sql.Tx
	dialect Dialect
	read    map[string]int
	loaded  map[string]*allocation.Product
	order   []string
}

func (t *productTx) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.dialect.rebind(q), args...)
}

func (t *productTx) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.rebind(q), args...)
}

func (t *productTx) Get(ctx context.Context, sku string) (*allocation.Product, error) {
	if p, ok := t.loaded[sku]; ok {
		return p, nil
	}

	var version int
	err := t.tx.QueryRowContext(ctx, t.dialect.rebind(
		`SELECT version_number FROM products WHERE sku = ?`), sku,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query product: %w", translate(err))
	}

	lines, err := t.loadAllocations(ctx, sku)
	if err != nil {
		return nil, err
	}

	rows, err := t.query(ctx, `
		SELECT reference, purchased_quantity, eta
		FROM batches WHERE sku = ? ORDER BY position`, sku)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query batches: %w", translate(err))
	}
	defer rows.Close()

	var batches []*allocation.Batch
	for rows.Next() {
		var (
			ref string
			qty int
			eta sql.NullTime
		)
		if err := rows.Scan(&ref, &qty, &eta); err != nil {
			return nil, fmt.Errorf("sqlstore: scan batch: %w", err)
		}
		var etaPtr *time.Time
		if eta.Valid {
			etaPtr = &eta.Time
		}
		batches = append(batches, allocation.RestoreBatch(ref, sku, qty, etaPtr, lines[ref]))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: iterate batches: %w", translate(err))
	}

	p := allocation.RestoreProduct(sku, version, batches)
	t.track(p, version)
	return p, nil
}

func (t *productTx) loadAllocations(ctx context.Context, sku string) (map[string][]allocation.OrderLine, error) {
	rows, err := t.query(ctx, `
		SELECT batch_reference, orderid, qty
		FROM allocations WHERE sku = ? ORDER BY batch_reference, position`, sku)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query allocations: %w", translate(err))
	}
	defer rows.Close()

	out := make(map[string][]allocation.OrderLine)
	for rows.Next() {
		var ref string
		line := allocation.OrderLine{SKU: sku}
		if err := rows.Scan(&ref, &line.OrderID, &line.Qty); err != nil {
			return nil, fmt.Errorf("sqlstore: scan allocation: %w", err)
		}
		out[ref] = append(out[ref], line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: iterate allocations: %w", translate(err))
	}
	return out, nil
}

func (t *productTx) GetByBatchRef(ctx context.Context, ref string) (*allocation.Product, error) {
	for _, sku := range t.order {
		if _, ok := t.loaded[sku].Batch(ref); ok {
			return t.loaded[sku], nil
		}
	}

	var sku string
	err := t.tx.QueryRowContext(ctx, t.dialect.rebind(
		`SELECT sku FROM batches WHERE reference = ?`), ref,
	).Scan(&sku)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query batch: %w", translate(err))
	}
	return t.Get(ctx, sku)
}

func (t *productTx) Add(ctx context.Context, p *allocation.Product) error {
	_ = ctx
	if existing, ok := t.loaded[p.SKU()]; ok {
		if existing == p {
			return nil
		}
		return fmt.Errorf("sqlstore: product %q already loaded in this transaction", p.SKU())
	}
	t.track(p, absent)
	return nil
}

func (t *productTx) Commit(ctx context.Context) error {
	for _, sku := range t.order {
		p := t.loaded[sku]
		expected := t.read[sku]
		if p.VersionNumber() == expected {
			continue
		}
		if err := t.write(ctx, p, expected); err != nil {
			_ = t.tx.Rollback()
			return err
		}
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit: %w", translate(err))
	}
	return nil
}

func (t *productTx) write(ctx context.Context, p *allocation.Product, expected int) error {
	sku := p.SKU()
	if expected == absent {
		if _, err := t.exec(ctx,
			`INSERT INTO products (sku, version_number) VALUES (?, ?)`,
			sku, p.VersionNumber(),
		); err != nil {
			return fmt.Errorf("sqlstore: insert product: %w", translate(err))
		}
	} else {
		res, err := t.exec(ctx,
			`UPDATE products SET version_number = ? WHERE sku = ? AND version_number = ?`,
			p.VersionNumber(), sku, expected,
		)
		if err != nil {
			return fmt.Errorf("sqlstore: update product: %w", translate(err))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: product %q changed since version %d", allocation.ErrConcurrentModification, sku, expected)
		}
	}

	if _, err := t.exec(ctx, `DELETE FROM allocations WHERE sku = ?`, sku); err != nil {
		return fmt.Errorf("sqlstore: clear allocations: %w", translate(err))
	}
	if _, err := t.exec(ctx, `DELETE FROM batches WHERE sku = ?`, sku); err != nil {
		return fmt.Errorf("sqlstore: clear batches: %w", translate(err))
	}
	for i, b := range p.Batches() {
		if _, err := t.exec(ctx, `
			INSERT INTO batches (reference, sku, purchased_quantity, eta, position)
			VALUES (?, ?, ?, ?, ?)`,
			b.Reference(), sku, b.PurchasedQuantity(), nullTime(b.ETA()), i,
		); err != nil {
			// This product's own rows were just cleared, so the key belongs to another sku.
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: %q is held by another product", allocation.ErrDuplicateBatch, b.Reference())
			}
			return fmt.Errorf("sqlstore: insert batch: %w", translate(err))
		}
		for j, line := range b.Allocations() {
			if _, err := t.exec(ctx, `
				INSERT INTO allocations (batch_reference, orderid, sku, qty, position)
				VALUES (?, ?, ?, ?, ?)`,
				b.Reference(), line.OrderID, sku, line.Qty, j,
			); err != nil {
				return fmt.Errorf("sqlstore: insert allocation: %w", translate(err))
			}
		}
	}
	return nil
}

func (t *productTx) Rollback(ctx context.Context) error {
	_ = ctx
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("sqlstore: rollback: %w", err)
	}
	return nil
}

func (t *productTx) track(p *allocation.Product, version int) {
	t.loaded[p.SKU()] = p
	t.read[p.SKU()] = version
	t.order = append(t.order, p.SKU())
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ unitofwork.Store = (*ProductStore)(nil)
