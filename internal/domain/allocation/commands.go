package allocation

import "time"

type Allocate struct {
	OrderID string
	SKU     string
	Qty     int
}

func (Allocate) MessageName() string { return "allocation.allocate" }
func (Allocate) message()            {}
func (Allocate) command()            {}

type CreateBatch struct {
	Ref string
	SKU string
	Qty int
	ETA *time.Time
}

func (CreateBatch) MessageName() string { return "allocation.create_batch" }
func (CreateBatch) message()            {}
func (CreateBatch) command()            {}

type ChangeBatchQuantity struct {
	Ref string
	Qty int
}

func (ChangeBatchQuantity) MessageName() string { return "allocation.change_batch_quantity" }
func (ChangeBatchQuantity) message()            {}
func (ChangeBatchQuantity) command()            {}
