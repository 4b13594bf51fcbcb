package allocation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Zhima-Mochi/minishop-allocation/internal/application/unitofwork"
	"github.com/Zhima-Mochi/minishop-allocation/internal/application/views"
	"github.com/Zhima-Mochi/minishop-allocation/internal/bootstrap"
	domalloc "github.com/Zhima-Mochi/minishop-allocation/internal/domain/allocation"
	"github.com/Zhima-Mochi/minishop-allocation/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-allocation/internal/infrastructure/memory"
)

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, map[string]string) error {
	return errors.New("broker down")
}

type fakeNotifier struct {
	mu     sync.Mutex
	bodies []string
	err    error
}

func (f *fakeNotifier) Send(_ context.Context, _ string, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, body)
	return f.err
}

type fixture struct {
	app       *bootstrap.App
	store     *memory.ProductStore
	views     *memory.ViewStore
	publisher *memory.Publisher
	notifier  *fakeNotifier
}

func newFixture(t *testing.T, store unitofwork.Store, publisher ...outbox.Publisher) *fixture {
	t.Helper()
	products, ok := store.(*memory.ProductStore)
	if !ok {
		products = memory.NewProductStore()
	}
	f := &fixture{
		store:     products,
		views:     memory.NewViewStore(),
		publisher: memory.NewPublisher(),
		notifier:  &fakeNotifier{},
	}
	var pub outbox.Publisher = f.publisher
	if len(publisher) > 0 {
		pub = publisher[0]
	}
	f.app = bootstrap.New(bootstrap.Dependencies{
		Store:     store,
		Views:     f.views,
		Publisher: pub,
		Notifier:  f.notifier,
		NotifyTo:  "stock@example.com",
	})
	return f
}

func (f *fixture) handle(t *testing.T, msgs ...domalloc.Message) any {
	t.Helper()
	res, err := f.app.Bus.Handle(context.Background(), f.app.NewUnitOfWork(), msgs...)
	if err != nil {
		t.Fatalf("Handle(%v): %v", msgs, err)
	}
	return res
}

func available(t *testing.T, p *domalloc.Product, ref string) int {
	t.Helper()
	b, ok := p.Batch(ref)
	if !ok {
		t.Fatalf("batch %s missing", ref)
	}
	return b.AvailableQuantity()
}

func TestEndToEndReallocationAfterQuantityChange(t *testing.T) {
	f := newFixture(t, memory.NewProductStore())
	tomorrow := time.Now().AddDate(0, 0, 1)

	f.handle(t, domalloc.CreateBatch{Ref: "B1", SKU: "S", Qty: 10})
	f.handle(t, domalloc.CreateBatch{Ref: "B2", SKU: "S", Qty: 10, ETA: &tomorrow})
	if ref := f.handle(t, domalloc.Allocate{OrderID: "O1", SKU: "S", Qty: 10}); ref != "B1" {
		t.Fatalf("allocated to %v, want B1", ref)
	}

	f.handle(t, domalloc.ChangeBatchQuantity{Ref: "B1", Qty: 5})

	p := f.store.Snapshot("S")
	if got := available(t, p, "B1"); got != 5 {
		t.Fatalf("B1 available = %d, want 5", got)
	}
	if got := available(t, p, "B2"); got != 0 {
		t.Fatalf("B2 available = %d, want 0", got)
	}
	rows, err := views.Allocations(context.Background(), f.views, "O1")
	if err != nil {
		t.Fatalf("Allocations: %v", err)
	}
	if len(rows) != 1 || rows[0].BatchRef != "B2" {
		t.Fatalf("read model = %v, want O1 on B2", rows)
	}
	sent := f.publisher.Publications()
	if n := len(sent); n != 2 {
		t.Fatalf("published %d line_allocated messages, want 2", n)
	}
	last := sent[1]
	if last.Channel != outbox.ChannelLineAllocated || last.Fields["batchref"] != "B2" || last.Fields["orderid"] != "O1" {
		t.Fatalf("last publication = %+v", last)
	}
}

func TestAllocateOutOfStockNotifiesWithoutError(t *testing.T) {
	f := newFixture(t, memory.NewProductStore())
	f.handle(t, domalloc.CreateBatch{Ref: "B1", SKU: "LAMP", Qty: 1})

	res := f.handle(t, domalloc.Allocate{OrderID: "O1", SKU: "LAMP", Qty: 5})
	if res != "" {
		t.Fatalf("result = %v, want empty reference", res)
	}
	if len(f.notifier.bodies) != 1 || f.notifier.bodies[0] != "Out of stock for LAMP" {
		t.Fatalf("notifications = %v", f.notifier.bodies)
	}
	if v := f.store.Snapshot("LAMP").VersionNumber(); v != 1 {
		t.Fatalf("version = %d, want 1", v)
	}
}

func TestFailingSubscribersDoNotFailTheCommand(t *testing.T) {
	f := newFixture(t, memory.NewProductStore(), failingPublisher{})
	f.notifier.err = errors.New("smtp down")
	f.handle(t, domalloc.CreateBatch{Ref: "B1", SKU: "LAMP", Qty: 1})

	if ref := f.handle(t, domalloc.Allocate{OrderID: "O1", SKU: "LAMP", Qty: 1}); ref != "B1" {
		t.Fatalf("ref = %v, want B1", ref)
	}
	f.handle(t, domalloc.Allocate{OrderID: "O2", SKU: "LAMP", Qty: 1})

	rows, _ := views.Allocations(context.Background(), f.views, "O1")
	if len(rows) != 1 {
		t.Fatalf("read model not updated after publisher failure: %v", rows)
	}
}

func TestCommandValidationErrors(t *testing.T) {
	f := newFixture(t, memory.NewProductStore())
	f.handle(t, domalloc.CreateBatch{Ref: "B1", SKU: "LAMP", Qty: 10})

	tests := []struct {
		name string
		msg  domalloc.Message
		want error
	}{
		{"unknown sku", domalloc.Allocate{OrderID: "O1", SKU: "NOPE", Qty: 1}, domalloc.ErrInvalidSku},
		{"zero quantity", domalloc.Allocate{OrderID: "O1", SKU: "LAMP", Qty: 0}, domalloc.ErrInvalidQuantity},
		{"missing order id", domalloc.Allocate{SKU: "LAMP", Qty: 1}, domalloc.ErrInvalidArgument},
		{"unknown batch", domalloc.ChangeBatchQuantity{Ref: "B9", Qty: 1}, domalloc.ErrNotFound},
		{"negative batch quantity", domalloc.ChangeBatchQuantity{Ref: "B1", Qty: -1}, domalloc.ErrInvalidQuantity},
		{"empty sku", domalloc.CreateBatch{Ref: "B2", Qty: 1}, domalloc.ErrInvalidSku},
		{"duplicate batch", domalloc.CreateBatch{Ref: "B1", SKU: "CHAIR", Qty: 1}, domalloc.ErrDuplicateBatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.app.Bus.Handle(context.Background(), f.app.NewUnitOfWork(), tt.msg)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if v := f.store.Snapshot("LAMP").VersionNumber(); v != 1 {
		t.Fatalf("failed commands changed version to %d", v)
	}
}

// commitBarrier holds every commit until n transactions have reached it, so all
// of them are working from the same read.
type commitBarrier struct {
	unitofwork.Store
	wg *sync.WaitGroup
}

func (b commitBarrier) Begin(ctx context.Context) (unitofwork.StoreTx, error) {
	tx, err := b.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return barrierTx{StoreTx: tx, wg: b.wg}, nil
}

type barrierTx struct {
	unitofwork.StoreTx
	wg *sync.WaitGroup
}

func (tx barrierTx) Commit(ctx context.Context) error {
	tx.wg.Done()
	tx.wg.Wait()
	return tx.StoreTx.Commit(ctx)
}

func TestConcurrentAllocationsOneWinsOneConflicts(t *testing.T) {
	seed := domalloc.NewProduct("LAMP")
	if err := seed.AddBatch("B1", 10, nil); err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	store := memory.NewProductStore(seed)
	initial := store.Snapshot("LAMP").VersionNumber()

	wg := &sync.WaitGroup{}
	wg.Add(2)
	f := newFixture(t, commitBarrier{Store: store, wg: wg})

	errs := make(chan error, 2)
	var callers sync.WaitGroup
	for _, order := range []string{"O1", "O2"} {
		callers.Add(1)
		go func() {
			defer callers.Done()
			_, err := f.app.Bus.Handle(context.Background(), f.app.NewUnitOfWork(),
				domalloc.Allocate{OrderID: order, SKU: "LAMP", Qty: 1})
			errs <- err
		}()
	}
	callers.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domalloc.ErrConcurrentModification):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != 1 {
		t.Fatalf("successes = %d, conflicts = %d, want 1 and 1", ok, conflicts)
	}
	final := store.Snapshot("LAMP")
	if final.VersionNumber() != initial+1 {
		t.Fatalf("version = %d, want %d", final.VersionNumber(), initial+1)
	}
	if got := available(t, final, "B1"); got != 9 {
		t.Fatalf("available = %d, want 9", got)
	}
}

func TestConcurrentBatchCreationWithSameReference(t *testing.T) {
	store := memory.NewProductStore()
	wg := &sync.WaitGroup{}
	wg.Add(2)
	f := newFixture(t, commitBarrier{Store: store, wg: wg})

	errs := make(chan error, 2)
	var callers sync.WaitGroup
	for _, sku := range []string{"LAMP", "CHAIR"} {
		callers.Add(1)
		go func() {
			defer callers.Done()
			_, err := f.app.Bus.Handle(context.Background(), f.app.NewUnitOfWork(),
				domalloc.CreateBatch{Ref: "B1", SKU: sku, Qty: 10})
			errs <- err
		}()
	}
	callers.Wait()
	close(errs)

	var ok, duplicates int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domalloc.ErrDuplicateBatch):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || duplicates != 1 {
		t.Fatalf("successes = %d, duplicates = %d, want 1 and 1", ok, duplicates)
	}
	holders := 0
	for _, sku := range []string{"LAMP", "CHAIR"} {
		if p := store.Snapshot(sku); p != nil {
			if _, has := p.Batch("B1"); has {
				holders++
			}
		}
	}
	if holders != 1 {
		t.Fatalf("B1 held by %d products, want 1", holders)
	}
}
