package application

import (
	"context"

	"github.com/Zhima-Mochi/minishop-allocation/internal/application/unitofwork"
	"github.com/Zhima-Mochi/minishop-allocation/internal/domain/allocation"
)

// CommandHandler executes one command inside the caller's unit of work.
type CommandHandler[C allocation.Command, R any] func(ctx context.Context, cmd C, uow *unitofwork.UnitOfWork) (R, error)

// EventHandler reacts to one event. It may open its own transactions on uow.
type EventHandler[E allocation.Event] func(ctx context.Context, evt E, uow *unitofwork.UnitOfWork) error
