package order

import (
	"context"
	"time"
)

// ListFilter narrows ListOrders and report exports. Zero values mean "any".
type ListFilter struct {
	Status     Status
	OrderType  OrderType
	Department string
	From       *time.Time
	To         *time.Time
}

type Repository interface {
	Create(ctx context.Context, o *Order) error
	// GetByID returns ErrNotFound for an unknown id.
	GetByID(ctx context.Context, id int64) (*Order, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Order, int, error)
	// ListAll returns every order matching f, oldest first.
	ListAll(ctx context.Context, f ListFilter) ([]*Order, error)
	// Update writes o only if the stored row still has expectedStatus and
	// expectedVersion, otherwise it returns ErrConcurrentUpdate. On success
	// o.Version is incremented.
	Update(ctx context.Context, o *Order, expectedStatus Status, expectedVersion int) error
	OrderNoExists(ctx context.Context, orderNo string) (bool, error)
	SettlementNoExists(ctx context.Context, settlementNo string) (bool, error)
	Statistics(ctx context.Context, from, to *time.Time) ([]StatusTotals, error)
}
