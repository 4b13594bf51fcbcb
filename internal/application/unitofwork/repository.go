package unitofwork

import (
	"context"
	"slices"

	"github.com/Zhima-Mochi/minishop-allocation/internal/domain/allocation"
)

// Repository loads and stores products inside one transaction and remembers every
// product it handed out or was given, in first-seen order.
type Repository struct {
	tx     StoreTx
	seen   []*allocation.Product
	closed bool
}

func newRepository(tx StoreTx) *Repository {
	return &Repository{tx: tx}
}

// Get returns the product for sku, or nil when it does not exist.
func (r *Repository) Get(ctx context.Context, sku string) (*allocation.Product, error) {
	if r.closed {
		return nil, ErrTxDone
	}
	p, err := r.tx.Get(ctx, sku)
	if err != nil {
		return nil, err
	}
	r.track(p)
	return p, nil
}

// GetByBatchRef returns the product owning the batch, or nil when no batch matches.
func (r *Repository) GetByBatchRef(ctx context.Context, ref string) (*allocation.Product, error) {
	if r.closed {
		return nil, ErrTxDone
	}
	p, err := r.tx.GetByBatchRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	r.track(p)
	return p, nil
}

func (r *Repository) Add(ctx context.Context, p *allocation.Product) error {
	if r.closed {
		return ErrTxDone
	}
	if err := r.tx.Add(ctx, p); err != nil {
		return err
	}
	r.track(p)
	return nil
}

// Seen lists the products touched through this repository, first seen first.
func (r *Repository) Seen() []*allocation.Product {
	return slices.Clone(r.seen)
}

func (r *Repository) track(p *allocation.Product) {
	if p == nil || slices.Contains(r.seen, p) {
		return
	}
	r.seen = append(r.seen, p)
}
