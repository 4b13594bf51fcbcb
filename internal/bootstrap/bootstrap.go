package bootstrap

import (
	"github.com/Zhima-Mochi/minishop-allocation/internal/application/allocation"
	"github.com/Zhima-Mochi/minishop-allocation/internal/application/messagebus"
	"github.com/Zhima-Mochi/minishop-allocation/internal/application/unitofwork"
	"github.com/Zhima-Mochi/minishop-allocation/internal/application/views"
	domalloc "github.com/Zhima-Mochi/minishop-allocation/internal/domain/allocation"
	"github.com/Zhima-Mochi/minishop-allocation/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-allocation/internal/observability"
)

// Dependencies are the adapters the service runs against.
type Dependencies struct {
	Store         unitofwork.Store
	Views         views.Store
	Publisher     outbox.Publisher
	Notifier      outbox.Notifier
	NotifyTo      string
	Observability observability.Observability
}

// App is a wired bus plus the means to give each request its own unit of work.
type App struct {
	Bus   *messagebus.Bus
	Views views.Store

	store unitofwork.Store
	tel   observability.Observability
}

func (a *App) NewUnitOfWork() *unitofwork.UnitOfWork {
	return unitofwork.New(a.store, unitofwork.WithObservability(a.tel))
}

func New(deps Dependencies) *App {
	if deps.Observability == nil {
		deps.Observability = observability.Nop()
	}
	return &App{
		Bus:   messagebus.New(NewRegistry(deps), deps.Observability),
		Views: deps.Views,
		store: deps.Store,
		tel:   deps.Observability,
	}
}

// NewRegistry binds every message to its handlers. Event handlers run in the
// order listed here.
func NewRegistry(deps Dependencies) *messagebus.Registry {
	h := allocation.NewHandlers(deps.Publisher, deps.Notifier, deps.NotifyTo, deps.Observability)
	projector := views.NewProjector(deps.Views, loggerOf(deps.Observability))

	r := messagebus.NewRegistry()
	messagebus.RegisterCommand[domalloc.CreateBatch, string](r, "allocation.AddBatch", h.AddBatch)
	messagebus.RegisterCommand[domalloc.Allocate, string](r, "allocation.Allocate", h.Allocate)
	messagebus.RegisterCommand[domalloc.ChangeBatchQuantity, string](r, "allocation.ChangeBatchQuantity", h.ChangeBatchQuantity)

	messagebus.RegisterEvent[domalloc.Allocated](r, "allocation.PublishAllocated", h.PublishAllocated)
	messagebus.RegisterEvent[domalloc.Allocated](r, "views.OnAllocated", projector.OnAllocated)
	messagebus.RegisterEvent[domalloc.Deallocated](r, "views.OnDeallocated", projector.OnDeallocated)
	messagebus.RegisterEvent[domalloc.Deallocated](r, "allocation.Reallocate", h.Reallocate)
	messagebus.RegisterEvent[domalloc.OutOfStock](r, "allocation.SendOutOfStockNotification", h.SendOutOfStockNotification)
	return r
}

func loggerOf(tel observability.Observability) observability.Logger {
	if tel == nil {
		return observability.NopLogger()
	}
	return tel.Logger()
}
