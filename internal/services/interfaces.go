package services

import (
	"context"

	domain "github.com/freshmarket/api/internal/domain"
	"github.com/freshmarket/api/internal/payments"
	"github.com/freshmarket/api/internal/repositories"
)

// Order is the service-level view of an order aggregate.
type Order = domain.Order

// OrderListFilter narrows order listings for buyer and staff views.
type OrderListFilter = repositories.OrderListFilter

// OrderService encapsulates order admission, reads, and lifecycle transitions.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	SetTrackingNumber(ctx context.Context, cmd SetTrackingNumberCommand) (Order, error)
}

// PricingService rebuilds the priced view of a requested basket from the catalog.
type PricingService interface {
	BuildSnapshot(ctx context.Context, req PricingRequest) (PricingSnapshot, error)
}

// PaymentVerifier reconciles a claimed payment against the gateway's record.
type PaymentVerifier interface {
	Verify(ctx context.Context, transactionID string, expectedAmount int64) (payments.PaymentDetails, error)
}

// CatalogService exposes product reads for the storefront.
type CatalogService interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
}

// SystemService surfaces dependency health for readiness probes.
type SystemService interface {
	Health(ctx context.Context) (domain.SystemHealthReport, error)
}

// ProductListFilter narrows catalog listings.
type ProductListFilter = repositories.ProductListFilter

// OrderItemRequest names a catalog product and the quantity the buyer wants.
type OrderItemRequest struct {
	ProductID string
	Quantity  int
}

// PricingRequest carries the basket to price. Only product references and
// quantities come from the caller; every amount is recomputed server side.
type PricingRequest struct {
	Items    []OrderItemRequest
	Discount int64
}

// PricingSnapshot is the immutable priced view of a basket at admission time.
type PricingSnapshot struct {
	Items   []domain.OrderLineItem
	Amounts domain.OrderAmounts
}

// CreateOrderCommand carries everything needed to admit a new order.
// TransactionID and MerchantUID both serve as idempotency keys; MerchantUID is
// the caller-assigned identifier for the checkout attempt and guards pending
// orders that carry no gateway transaction yet.
type CreateOrderCommand struct {
	BuyerID       string
	Items         []OrderItemRequest
	Destination   domain.ShippingDestination
	PaymentMethod domain.PaymentMethod
	TransactionID string
	MerchantUID   string
	Discount      int64
}

// OrderStatusTransitionCommand moves an order to a target lifecycle state.
type OrderStatusTransitionCommand struct {
	OrderID        string
	TargetStatus   domain.OrderStatus
	ActorID        string
	Reason         string
	TrackingNumber string
}

// CancelOrderCommand cancels an order that has not entered fulfilment.
type CancelOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

// SetTrackingNumberCommand records the carrier tracking number for an order.
type SetTrackingNumberCommand struct {
	OrderID        string
	TrackingNumber string
	ActorID        string
}
