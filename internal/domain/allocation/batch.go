package allocation

import (
	"slices"
	"time"
)

// OrderLine is a value: two lines with equal fields are the same line.
type OrderLine struct {
	OrderID string
	SKU     string
	Qty     int
}

// Batch is a quantity of one sku, either in the warehouse (no ETA) or in transit.
// Allocations are kept in the order they were made.
type Batch struct {
	reference   string
	sku         string
	purchased   int
	eta         *time.Time
	allocations []OrderLine
}

func NewBatch(ref, sku string, qty int, eta *time.Time) *Batch {
	return &Batch{
		reference: ref,
		sku:       sku,
		purchased: qty,
		eta:       copyTime(eta),
	}
}

// RestoreBatch rebuilds a batch from storage. allocations must be in allocation order.
func RestoreBatch(ref, sku string, qty int, eta *time.Time, allocations []OrderLine) *Batch {
	b := NewBatch(ref, sku, qty, eta)
	b.allocations = slices.Clone(allocations)
	return b
}

func (b *Batch) Reference() string      { return b.reference }
func (b *Batch) SKU() string            { return b.sku }
func (b *Batch) PurchasedQuantity() int { return b.purchased }
func (b *Batch) ETA() *time.Time        { return copyTime(b.eta) }

// Allocations returns the allocated lines, oldest first.
func (b *Batch) Allocations() []OrderLine { return slices.Clone(b.allocations) }

func (b *Batch) AllocatedQuantity() int {
	total := 0
	for _, l := range b.allocations {
		total += l.Qty
	}
	return total
}

func (b *Batch) AvailableQuantity() int {
	return b.purchased - b.AllocatedQuantity()
}

func (b *Batch) CanAllocate(line OrderLine) bool {
	return b.sku == line.SKU && b.AvailableQuantity() >= line.Qty
}

func (b *Batch) HasAllocation(line OrderLine) bool {
	return slices.Contains(b.allocations, line)
}

func (b *Batch) allocate(line OrderLine) {
	if b.HasAllocation(line) {
		return
	}
	b.allocations = append(b.allocations, line)
}

// deallocateOne removes the most recently allocated line.
func (b *Batch) deallocateOne() (OrderLine, bool) {
	n := len(b.allocations)
	if n == 0 {
		return OrderLine{}, false
	}
	line := b.allocations[n-1]
	b.allocations = b.allocations[:n-1]
	return line, true
}

func (b *Batch) clone() *Batch {
	return RestoreBatch(b.reference, b.sku, b.purchased, b.eta, b.allocations)
}

// compareBatches orders warehouse stock before shipments, then shipments by ETA.
func compareBatches(a, b *Batch) int {
	switch {
	case a.eta == nil && b.eta == nil:
		return 0
	case a.eta == nil:
		return -1
	case b.eta == nil:
		return 1
	default:
		return a.eta.Compare(*b.eta)
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
