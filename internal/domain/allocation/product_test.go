package allocation

import (
	"errors"
	"testing"
	"time"
)

var (
	today    = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tomorrow = today.AddDate(0, 0, 1)
	later    = today.AddDate(0, 0, 10)
)

func TestAllocatePrefersWarehouseStockOverShipments(t *testing.T) {
	inStock := NewBatch("in-stock", "RETRO-CLOCK", 100, nil)
	shipment := NewBatch("shipment", "RETRO-CLOCK", 100, &tomorrow)
	p := NewProduct("RETRO-CLOCK", shipment, inStock)

	ref, ok := p.Allocate(OrderLine{OrderID: "o1", SKU: "RETRO-CLOCK", Qty: 10})
	if !ok || ref != "in-stock" {
		t.Fatalf("Allocate = %q, %v; want in-stock", ref, ok)
	}
	if got := inStock.AvailableQuantity(); got != 90 {
		t.Fatalf("in-stock available = %d, want 90", got)
	}
	if got := shipment.AvailableQuantity(); got != 100 {
		t.Fatalf("shipment available = %d, want 100", got)
	}
}

func TestAllocatePrefersEarliestETA(t *testing.T) {
	earliest := NewBatch("speedy", "MINIMALIST-SPOON", 100, &today)
	medium := NewBatch("normal", "MINIMALIST-SPOON", 100, &tomorrow)
	latest := NewBatch("slow", "MINIMALIST-SPOON", 100, &later)
	p := NewProduct("MINIMALIST-SPOON", latest, medium, earliest)

	ref, _ := p.Allocate(OrderLine{OrderID: "o1", SKU: "MINIMALIST-SPOON", Qty: 10})
	if ref != "speedy" {
		t.Fatalf("Allocate = %q, want speedy", ref)
	}
	if earliest.AvailableQuantity() != 90 || medium.AvailableQuantity() != 100 || latest.AvailableQuantity() != 100 {
		t.Fatalf("unexpected availability: %d %d %d",
			earliest.AvailableQuantity(), medium.AvailableQuantity(), latest.AvailableQuantity())
	}
}

func TestAllocateSkipsBatchesThatCannotTakeTheLine(t *testing.T) {
	small := NewBatch("small", "LAMP", 1, nil)
	big := NewBatch("big", "LAMP", 20, &tomorrow)
	p := NewProduct("LAMP", small, big)

	ref, ok := p.Allocate(OrderLine{OrderID: "o1", SKU: "LAMP", Qty: 5})
	if !ok || ref != "big" {
		t.Fatalf("Allocate = %q, %v; want big", ref, ok)
	}
}

func TestAllocateRecordsAllocatedAndIncrementsVersion(t *testing.T) {
	p := NewProduct("LAMP", NewBatch("b1", "LAMP", 10, nil))

	p.Allocate(OrderLine{OrderID: "o1", SKU: "LAMP", Qty: 3})

	if p.VersionNumber() != 1 {
		t.Fatalf("version = %d, want 1", p.VersionNumber())
	}
	events := p.TakeEvents()
	want := Allocated{OrderID: "o1", SKU: "LAMP", Qty: 3, BatchRef: "b1"}
	if len(events) != 1 || events[0] != want {
		t.Fatalf("events = %#v, want [%#v]", events, want)
	}
}

func TestAllocateOutOfStockRecordsEventWithoutMutation(t *testing.T) {
	b := NewBatch("b1", "SMALL-FORK", 10, &today)
	p := NewProduct("SMALL-FORK", b)
	p.Allocate(OrderLine{OrderID: "o1", SKU: "SMALL-FORK", Qty: 10})
	p.TakeEvents()
	before := p.VersionNumber()

	ref, ok := p.Allocate(OrderLine{OrderID: "o2", SKU: "SMALL-FORK", Qty: 1})

	if ok || ref != "" {
		t.Fatalf("Allocate = %q, %v; want no reference", ref, ok)
	}
	if p.VersionNumber() != before {
		t.Fatalf("version changed from %d to %d", before, p.VersionNumber())
	}
	events := p.TakeEvents()
	if len(events) != 1 || events[0] != (OutOfStock{SKU: "SMALL-FORK"}) {
		t.Fatalf("events = %#v, want single OutOfStock", events)
	}
	if got := len(b.Allocations()); got != 1 {
		t.Fatalf("allocations = %d, want 1", got)
	}
}

func TestAllocateSameLineTwiceIsIdempotent(t *testing.T) {
	p := NewProduct("LAMP",
		NewBatch("b1", "LAMP", 10, nil),
		NewBatch("b2", "LAMP", 10, &tomorrow),
	)
	line := OrderLine{OrderID: "o1", SKU: "LAMP", Qty: 2}
	p.Allocate(line)
	p.TakeEvents()

	ref, ok := p.Allocate(line)

	if !ok || ref != "b1" {
		t.Fatalf("Allocate = %q, %v; want b1", ref, ok)
	}
	if p.VersionNumber() != 1 {
		t.Fatalf("version = %d, want 1", p.VersionNumber())
	}
	if events := p.TakeEvents(); len(events) != 0 {
		t.Fatalf("events = %#v, want none", events)
	}
}

func TestChangeBatchQuantityDeallocatesMostRecentFirst(t *testing.T) {
	b := NewBatch("b1", "TABLE", 10, nil)
	p := NewProduct("TABLE", b)
	p.Allocate(OrderLine{OrderID: "o1", SKU: "TABLE", Qty: 4})
	p.Allocate(OrderLine{OrderID: "o2", SKU: "TABLE", Qty: 3})
	p.Allocate(OrderLine{OrderID: "o3", SKU: "TABLE", Qty: 3})
	p.TakeEvents()
	before := p.VersionNumber()

	if err := p.ChangeBatchQuantity("b1", 5); err != nil {
		t.Fatalf("ChangeBatchQuantity: %v", err)
	}

	events := p.TakeEvents()
	want := []Event{
		Deallocated{OrderID: "o3", SKU: "TABLE", Qty: 3},
		Deallocated{OrderID: "o2", SKU: "TABLE", Qty: 3},
	}
	if len(events) != len(want) {
		t.Fatalf("events = %#v, want %#v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events[%d] = %#v, want %#v", i, events[i], want[i])
		}
	}
	if got := b.AvailableQuantity(); got != 1 {
		t.Fatalf("available = %d, want 1", got)
	}
	if p.VersionNumber() != before+1 {
		t.Fatalf("version = %d, want %d", p.VersionNumber(), before+1)
	}
}

func TestChangeBatchQuantityWithoutOversellStillBumpsVersionOnce(t *testing.T) {
	p := NewProduct("TABLE", NewBatch("b1", "TABLE", 10, nil))

	if err := p.ChangeBatchQuantity("b1", 50); err != nil {
		t.Fatalf("ChangeBatchQuantity: %v", err)
	}
	if p.VersionNumber() != 1 {
		t.Fatalf("version = %d, want 1", p.VersionNumber())
	}
	if events := p.TakeEvents(); len(events) != 0 {
		t.Fatalf("events = %#v, want none", events)
	}
}

func TestChangeBatchQuantityErrors(t *testing.T) {
	tests := []struct {
		name string
		ref  string
		qty  int
		want error
	}{
		{name: "unknown batch", ref: "missing", qty: 1, want: ErrNotFound},
		{name: "negative quantity", ref: "b1", qty: -1, want: ErrInvalidQuantity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProduct("TABLE", NewBatch("b1", "TABLE", 10, nil))
			err := p.ChangeBatchQuantity(tt.ref, tt.qty)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if p.VersionNumber() != 0 {
				t.Fatalf("version = %d, want 0", p.VersionNumber())
			}
		})
	}
}

func TestTakeEventsDrainsOnce(t *testing.T) {
	p := NewProduct("LAMP", NewBatch("b1", "LAMP", 1, nil))
	p.Allocate(OrderLine{OrderID: "o1", SKU: "LAMP", Qty: 1})

	if got := len(p.TakeEvents()); got != 1 {
		t.Fatalf("first drain = %d events, want 1", got)
	}
	if got := len(p.TakeEvents()); got != 0 {
		t.Fatalf("second drain = %d events, want 0", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	p := NewProduct("LAMP", NewBatch("b1", "LAMP", 10, nil))
	p.Allocate(OrderLine{OrderID: "o1", SKU: "LAMP", Qty: 1})

	c := p.Clone()
	c.Allocate(OrderLine{OrderID: "o2", SKU: "LAMP", Qty: 1})

	b, _ := p.Batch("b1")
	if got := b.AvailableQuantity(); got != 9 {
		t.Fatalf("original available = %d, want 9", got)
	}
	if len(c.TakeEvents()) != 1 {
		t.Fatal("clone should only carry its own events")
	}
}

func TestAddBatchRejectsDuplicateReference(t *testing.T) {
	p := NewProduct("LAMP")
	if err := p.AddBatch("b1", 5, nil); err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	if err := p.AddBatch("b1", 5, nil); !errors.Is(err, ErrDuplicateBatch) {
		t.Fatalf("err = %v, want ErrDuplicateBatch", err)
	}
	if p.VersionNumber() != 1 {
		t.Fatalf("version = %d, want 1", p.VersionNumber())
	}
}

func TestFlatten(t *testing.T) {
	got := Flatten(Allocated{OrderID: "o1", SKU: "LAMP", Qty: 3, BatchRef: "b1"})
	want := map[string]string{"orderid": "o1", "sku": "LAMP", "qty": "3", "batchref": "b1"}
	if len(got) != len(want) {
		t.Fatalf("Flatten = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("Flatten[%q] = %q, want %q", k, got[k], v)
		}
	}
}
