package unitofwork

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/minishop-allocation/internal/domain/allocation"
	"github.com/Zhima-Mochi/minishop-allocation/internal/observability"
	"github.com/Zhima-Mochi/minishop-allocation/internal/observability/logctx"
)

var ErrTxDone = errors.New("unitofwork: transaction already committed or rolled back")

const componentUnitOfWork = "unit_of_work"

// UnitOfWork pairs storage transactions with the messages they produce.
// One UnitOfWork serves one bus invocation; it is not safe for concurrent use.
type UnitOfWork struct {
	store   Store
	log     observability.Logger
	commits observability.Counter
	pending []allocation.Message
}

type Option func(*UnitOfWork)

func WithObservability(tel observability.Observability) Option {
	return func(u *UnitOfWork) {
		if tel == nil {
			return
		}
		u.log = tel.Logger().With(observability.F("component", componentUnitOfWork))
		u.commits = tel.Metrics().Counter(observability.MUowCommits)
	}
}

func New(store Store, opts ...Option) *UnitOfWork {
	u := &UnitOfWork{
		store:   store,
		log:     observability.NopLogger(),
		commits: observability.NopCounter(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Begin opens a new transaction. Transactions opened from the same UnitOfWork do
// not share storage state, so a handler may begin one while another is committed.
func (u *UnitOfWork) Begin(ctx context.Context) (*Tx, error) {
	stx, err := u.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("unitofwork: begin: %w", err)
	}
	return &Tx{uow: u, stx: stx, products: newRepository(stx)}, nil
}

// Emit queues messages for the bus without going through an aggregate.
func (u *UnitOfWork) Emit(msgs ...allocation.Message) {
	u.pending = append(u.pending, msgs...)
}

// CollectNewMessages hands over everything queued since the last call.
func (u *UnitOfWork) CollectNewMessages() []allocation.Message {
	out := u.pending
	u.pending = nil
	return out
}

// Tx is one transaction of a UnitOfWork. Callers must end it with Commit or
// Rollback; deferring Rollback right after Begin is the expected pattern.
type Tx struct {
	uow      *UnitOfWork
	stx      StoreTx
	products *Repository
	done     bool
}

func (t *Tx) Products() *Repository { return t.products }

// Commit makes the transaction durable, then moves the events recorded on every
// seen product to the unit of work, in seen order.
func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.products.closed = true

	logger := logctx.FromOr(ctx, t.uow.log)
	if err := t.stx.Commit(ctx); err != nil {
		outcome := "error"
		if errors.Is(err, allocation.ErrConcurrentModification) || errors.Is(err, allocation.ErrDuplicateBatch) {
			outcome = "conflict"
		}
		t.uow.commits.Add(1, observability.L("outcome", outcome))
		logger.Warn("uow_commit_failed",
			observability.F("outcome", outcome),
			observability.F("error", err),
		)
		return fmt.Errorf("unitofwork: commit: %w", err)
	}
	t.uow.commits.Add(1, observability.L("outcome", "success"))

	collected := 0
	for _, p := range t.products.Seen() {
		for _, e := range p.TakeEvents() {
			t.uow.pending = append(t.uow.pending, e)
			collected++
		}
	}
	logger.Debug("uow_committed",
		observability.F("products", len(t.products.seen)),
		observability.F("events", collected),
	)
	return nil
}

// Rollback discards pending writes. It is a no-op once the transaction has ended.
func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.products.closed = true
	if err := t.stx.Rollback(ctx); err != nil {
		return fmt.Errorf("unitofwork: rollback: %w", err)
	}
	return nil
}
