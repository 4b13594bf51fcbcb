package allocation

import "strconv"

// Allocated is recorded when an order line is assigned to a batch.
type Allocated struct {
	OrderID  string
	SKU      string
	Qty      int
	BatchRef string
}

func (Allocated) MessageName() string { return "allocation.allocated" }
func (Allocated) message()            {}
func (Allocated) event()              {}

// Deallocated is recorded when a quantity change evicts an order line from its batch.
type Deallocated struct {
	OrderID string
	SKU     string
	Qty     int
}

func (Deallocated) MessageName() string { return "allocation.deallocated" }
func (Deallocated) message()            {}
func (Deallocated) event()              {}

// OutOfStock is recorded when no batch of the sku can take an order line.
type OutOfStock struct {
	SKU string
}

func (OutOfStock) MessageName() string { return "allocation.out_of_stock" }
func (OutOfStock) message()            {}
func (OutOfStock) event()              {}

// Flatten renders an event as flat key/value pairs for external channels.
func Flatten(e Event) map[string]string {
	switch e := e.(type) {
	case Allocated:
		return map[string]string{
			"orderid":  e.OrderID,
			"sku":      e.SKU,
			"qty":      strconv.Itoa(e.Qty),
			"batchref": e.BatchRef,
		}
	case Deallocated:
		return map[string]string{
			"orderid": e.OrderID,
			"sku":     e.SKU,
			"qty":     strconv.Itoa(e.Qty),
		}
	case OutOfStock:
		return map[string]string{"sku": e.SKU}
	default:
		return map[string]string{}
	}
}
