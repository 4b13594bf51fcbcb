package unitofwork

import (
	"context"

	"github.com/Zhima-Mochi/minishop-allocation/internal/domain/allocation"
)

// Store opens storage transactions. Each call to Begin is independent of every
// other open transaction.
type Store interface {
	Begin(ctx context.Context) (StoreTx, error)
}

// StoreTx is a single storage transaction.
//
// Get and GetByBatchRef return (nil, nil) when nothing matches. Products handed out
// belong to the transaction; asking twice for the same sku returns the same instance.
// Commit writes every product whose version moved since it was read, but only if the
// stored version still equals the one read; otherwise it fails with
// allocation.ErrConcurrentModification and leaves storage untouched. A failed Commit
// ends the transaction.
type StoreTx interface {
	Get(ctx context.Context, sku string) (*allocation.Product, error)
	GetByBatchRef(ctx context.Context, ref string) (*allocation.Product, error)
	Add(ctx context.Context, p *allocation.Product) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
