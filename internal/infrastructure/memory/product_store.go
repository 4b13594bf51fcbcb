package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Zhima-Mochi/minishop-allocation/internal/application/unitofwork"
	"github.com/Zhima-Mochi/minishop-allocation/internal/domain/allocation"
)

var errTxClosed = errors.New("memory: transaction closed")

// absent marks a product the transaction expects not to exist yet.
const absent = -1

// ProductStore keeps committed products in process memory. Transactions work on
// private copies and apply them with a version compare under the store lock.
type ProductStore struct {
	mu       sync.RWMutex
	products map[string]*allocation.Product
	batches  map[string]string // batch ref -> sku
}

func NewProductStore(seed ...*allocation.Product) *ProductStore {
	s := &ProductStore{
		products: make(map[string]*allocation.Product),
		batches:  make(map[string]string),
	}
	for _, p := range seed {
		s.put(p)
	}
	return s
}

func (s *ProductStore) Begin(ctx context.Context) (unitofwork.StoreTx, error) {
	_ = ctx
	return &productTx{
		store:  s,
		read:   make(map[string]int),
		loaded: make(map[string]*allocation.Product),
	}, nil
}

// Snapshot returns a copy of the committed product, or nil.
func (s *ProductStore) Snapshot(sku string) *allocation.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[sku]
	if !ok {
		return nil
	}
	return p.Clone()
}

func (s *ProductStore) put(p *allocation.Product) {
	s.products[p.SKU()] = p.Clone()
	for _, b := range p.Batches() {
		s.batches[b.Reference()] = p.SKU()
	}
}

type productTx struct {
	store  *ProductStore
	read   map[string]int
	loaded map[string]*allocation.Product
	order  []string
	closed bool
}

func (tx *productTx) Get(ctx context.Context, sku string) (*allocation.Product, error) {
	_ = ctx
	if tx.closed {
		return nil, errTxClosed
	}
	if p, ok := tx.loaded[sku]; ok {
		return p, nil
	}

	tx.store.mu.RLock()
	committed, ok := tx.store.products[sku]
	var p *allocation.Product
	if ok {
		p = committed.Clone()
	}
	tx.store.mu.RUnlock()

	if p == nil {
		return nil, nil
	}
	tx.track(p, p.VersionNumber())
	return p, nil
}

func (tx *productTx) GetByBatchRef(ctx context.Context, ref string) (*allocation.Product, error) {
	if tx.closed {
		return nil, errTxClosed
	}
	for _, sku := range tx.order {
		if _, ok := tx.loaded[sku].Batch(ref); ok {
			return tx.loaded[sku], nil
		}
	}

	tx.store.mu.RLock()
	sku, ok := tx.store.batches[ref]
	tx.store.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return tx.Get(ctx, sku)
}

func (tx *productTx) Add(ctx context.Context, p *allocation.Product) error {
	_ = ctx
	if tx.closed {
		return errTxClosed
	}
	if existing, ok := tx.loaded[p.SKU()]; ok {
		if existing == p {
			return nil
		}
		return fmt.Errorf("memory: product %q already loaded in this transaction", p.SKU())
	}
	tx.track(p, absent)
	return nil
}

func (tx *productTx) Commit(ctx context.Context) error {
	_ = ctx
	if tx.closed {
		return errTxClosed
	}
	tx.closed = true

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var dirty []*allocation.Product
	for _, sku := range tx.order {
		p := tx.loaded[sku]
		expected := tx.read[sku]
		if p.VersionNumber() == expected {
			continue
		}
		current, exists := s.products[sku]
		switch {
		case expected == absent && exists:
			return fmt.Errorf("%w: product %q was created concurrently", allocation.ErrConcurrentModification, sku)
		case expected != absent && (!exists || current.VersionNumber() != expected):
			return fmt.Errorf("%w: product %q changed since version %d", allocation.ErrConcurrentModification, sku, expected)
		}
		dirty = append(dirty, p)
	}
	// Batch references are unique across products.
	claimed := make(map[string]string)
	for _, p := range dirty {
		for _, b := range p.Batches() {
			ref := b.Reference()
			owner, ok := claimed[ref]
			if !ok {
				owner, ok = s.batches[ref]
			}
			if ok && owner != p.SKU() {
				return fmt.Errorf("%w: %q is held by product %q", allocation.ErrDuplicateBatch, ref, owner)
			}
			claimed[ref] = p.SKU()
		}
	}
	for _, p := range dirty {
		s.put(p)
	}
	return nil
}

func (tx *productTx) Rollback(ctx context.Context) error {
	_ = ctx
	tx.closed = true
	return nil
}

func (tx *productTx) track(p *allocation.Product, version int) {
	tx.loaded[p.SKU()] = p
	tx.read[p.SKU()] = version
	tx.order = append(tx.order, p.SKU())
}

var _ unitofwork.Store = (*ProductStore)(nil)
