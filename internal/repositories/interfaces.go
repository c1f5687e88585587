package repositories

import (
	"context"
	"time"

	domain "github.com/freshmarket/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Catalog() CatalogRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order aggregates and provides query helpers for buyers and staff.
type OrderRepository interface {
	// Insert atomically creates the order document together with uniqueness
	// markers for the listed payment keys. A RepositoryError with IsConflict
	// is returned when any marker already exists.
	Insert(ctx context.Context, order domain.Order, paymentKeys []string) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// FindByPaymentKey resolves the order that claimed the given payment key,
	// returning a not-found RepositoryError when no order holds it.
	FindByPaymentKey(ctx context.Context, key string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// CatalogRepository reads product definitions used to price orders.
type CatalogRepository interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	// GetProducts resolves the given ids in one pass. Missing ids are simply
	// absent from the result map.
	GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderListFilter narrows order listings for buyer and staff views.
type OrderListFilter struct {
	BuyerID    string
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// ProductListFilter narrows catalog listings.
type ProductListFilter struct {
	Category   *string
	ActiveOnly bool
	Pagination domain.Pagination
}
