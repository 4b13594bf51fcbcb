package messagebus

import (
	"context"
	"fmt"

	"github.com/Zhima-Mochi/minishop-allocation/internal/application"
	"github.com/Zhima-Mochi/minishop-allocation/internal/application/unitofwork"
	"github.com/Zhima-Mochi/minishop-allocation/internal/domain/allocation"
)

type commandFunc func(ctx context.Context, cmd allocation.Command, uow *unitofwork.UnitOfWork) (any, error)

type eventFunc func(ctx context.Context, evt allocation.Event, uow *unitofwork.UnitOfWork) error

type commandHandler struct {
	name string
	fn   commandFunc
}

type eventHandler struct {
	name string
	fn   eventFunc
}

// Registry routes each message name to its handlers. It is filled once at startup
// and read concurrently afterwards.
type Registry struct {
	commands map[string]commandHandler
	events   map[string][]eventHandler
}

func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]commandHandler),
		events:   make(map[string][]eventHandler),
	}
}

// RegisterCommand binds the single handler of command C. Binding a second handler
// to the same command panics.
func RegisterCommand[C allocation.Command, R any](r *Registry, name string, h application.CommandHandler[C, R]) {
	var zero C
	key := zero.MessageName()
	if existing, ok := r.commands[key]; ok {
		panic(fmt.Sprintf("messagebus: command %s already handled by %s", key, existing.name))
	}
	r.commands[key] = commandHandler{
		name: name,
		fn: func(ctx context.Context, cmd allocation.Command, uow *unitofwork.UnitOfWork) (any, error) {
			return h(ctx, cmd.(C), uow)
		},
	}
}

// RegisterEvent appends a handler for event E. Handlers run in registration order.
func RegisterEvent[E allocation.Event](r *Registry, name string, h application.EventHandler[E]) {
	var zero E
	key := zero.MessageName()
	r.events[key] = append(r.events[key], eventHandler{
		name: name,
		fn: func(ctx context.Context, evt allocation.Event, uow *unitofwork.UnitOfWork) error {
			return h(ctx, evt.(E), uow)
		},
	})
}

// CommandHandler reports the name of the handler bound to cmd.
func (r *Registry) CommandHandler(cmd allocation.Command) (string, bool) {
	h, ok := r.commands[cmd.MessageName()]
	return h.name, ok
}

// EventHandlers lists the names of the handlers bound to evt, in dispatch order.
func (r *Registry) EventHandlers(evt allocation.Event) []string {
	hs := r.events[evt.MessageName()]
	names := make([]string, len(hs))
	for i, h := range hs {
		names[i] = h.name
	}
	return names
}
