package allocation

import (
	"fmt"
	"slices"
	"time"
)

// Product is the aggregate for a single sku. Every allocation decision for the
// sku goes through it, and its version number is what storage compares at commit.
type Product struct {
	sku     string
	batches []*Batch
	version int
	events  []Event
}

func NewProduct(sku string, batches ...*Batch) *Product {
	return &Product{
		sku:     sku,
		batches: batches,
	}
}

// RestoreProduct rebuilds a product from storage without recording events.
func RestoreProduct(sku string, version int, batches []*Batch) *Product {
	return &Product{
		sku:     sku,
		batches: batches,
		version: version,
	}
}

func (p *Product) SKU() string        { return p.sku }
func (p *Product) VersionNumber() int { return p.version }

func (p *Product) Batches() []*Batch { return slices.Clone(p.batches) }

func (p *Product) Batch(ref string) (*Batch, bool) {
	for _, b := range p.batches {
		if b.reference == ref {
			return b, true
		}
	}
	return nil, false
}

// AddBatch registers a new batch for this sku.
func (p *Product) AddBatch(ref string, qty int, eta *time.Time) error {
	if qty < 0 {
		return ErrInvalidQuantity
	}
	if _, exists := p.Batch(ref); exists {
		return fmt.Errorf("%w: %q", ErrDuplicateBatch, ref)
	}
	p.batches = append(p.batches, NewBatch(ref, p.sku, qty, eta))
	p.touch()
	return nil
}

// Allocate assigns line to the preferred batch and returns its reference.
// When no batch can take the line an OutOfStock event is recorded and ok is false;
// running out of stock is an outcome, not an error.
func (p *Product) Allocate(line OrderLine) (ref string, ok bool) {
	for _, b := range p.batches {
		if b.HasAllocation(line) {
			return b.reference, true
		}
	}

	ordered := slices.Clone(p.batches)
	slices.SortStableFunc(ordered, compareBatches)
	for _, b := range ordered {
		if !b.CanAllocate(line) {
			continue
		}
		b.allocate(line)
		p.touch()
		p.record(Allocated{
			OrderID:  line.OrderID,
			SKU:      line.SKU,
			Qty:      line.Qty,
			BatchRef: b.reference,
		})
		return b.reference, true
	}

	p.record(OutOfStock{SKU: line.SKU})
	return "", false
}

// ChangeBatchQuantity sets the purchased quantity of a batch and evicts the most
// recently allocated lines until the batch is no longer oversold.
func (p *Product) ChangeBatchQuantity(ref string, qty int) error {
	if qty < 0 {
		return ErrInvalidQuantity
	}
	b, ok := p.Batch(ref)
	if !ok {
		return fmt.Errorf("%w: batch %q", ErrNotFound, ref)
	}
	b.purchased = qty
	for b.AvailableQuantity() < 0 {
		line, ok := b.deallocateOne()
		if !ok {
			break
		}
		p.record(Deallocated{OrderID: line.OrderID, SKU: line.SKU, Qty: line.Qty})
	}
	p.touch()
	return nil
}

// TakeEvents hands over the recorded events and forgets them.
func (p *Product) TakeEvents() []Event {
	out := p.events
	p.events = nil
	return out
}

// Clone copies the persistent state. Recorded events are not carried over.
func (p *Product) Clone() *Product {
	batches := make([]*Batch, len(p.batches))
	for i, b := range p.batches {
		batches[i] = b.clone()
	}
	return RestoreProduct(p.sku, p.version, batches)
}

func (p *Product) record(e Event) {
	p.events = append(p.events, e)
}

func (p *Product) touch() {
	p.version++
}
