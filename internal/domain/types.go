package domain

import "time"

// OrderStatus enumerates the lifecycle states an order moves through.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusPaid            OrderStatus = "paid"
	OrderStatusPreparing       OrderStatus = "preparing"
	OrderStatusShipping        OrderStatus = "shipping"
	OrderStatusDelivered       OrderStatus = "delivered"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRefundRequested OrderStatus = "refund_requested"
	OrderStatusRefunded        OrderStatus = "refunded"
)

// PaymentMethod enumerates the payment instruments accepted at checkout.
type PaymentMethod string

const (
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodKakaoPay     PaymentMethod = "kakao_pay"
	PaymentMethodNaverPay     PaymentMethod = "naver_pay"
)

// PaymentVerificationStatus tracks the reconciliation state of an order's payment record.
type PaymentVerificationStatus string

const (
	PaymentVerificationPending   PaymentVerificationStatus = "pending"
	PaymentVerificationCompleted PaymentVerificationStatus = "completed"
	PaymentVerificationRefunded  PaymentVerificationStatus = "refunded"
)

// ProductCategory classifies products by storage temperature band.
type ProductCategory string

const (
	ProductCategoryAmbient ProductCategory = "ambient"
	ProductCategoryChilled ProductCategory = "chilled"
	ProductCategoryFrozen  ProductCategory = "frozen"
)

// Product is a catalog entry. Orders copy name and price at admission time so
// later catalog edits never change what a customer was charged.
type Product struct {
	ID          string
	SKU         string
	Name        string
	Price       int64
	Category    ProductCategory
	ImageURL    string
	Description string
	Tags        []string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderLineItem is a priced snapshot of a single catalog product at admission time.
type OrderLineItem struct {
	ProductRef string
	SKU        string
	Name       string
	UnitPrice  int64
	Quantity   int
	Total      int64
}

// ShippingDestination captures where and how an order is delivered.
type ShippingDestination struct {
	RecipientName string
	Phone         string
	PostalCode    string
	Address       string
	AddressDetail string
	Memo          string
}

// OrderAmounts holds the immutable monetary breakdown computed at admission.
// Total is always ItemsSubtotal + ShippingFee - Discount.
type OrderAmounts struct {
	ItemsSubtotal int64
	ShippingFee   int64
	Discount      int64
	Total         int64
}

// PaymentRecord stores the gateway-verified payment facts attached to an order.
// For verified payments every field comes from the gateway record, never from
// the client request.
type PaymentRecord struct {
	Method             PaymentMethod
	VerificationStatus PaymentVerificationStatus
	TransactionID      string
	MerchantUID        string
	PaidAmount         int64
	PaidAt             *time.Time
}

// Order is the aggregate persisted once admission succeeds.
type Order struct {
	ID             string
	OrderNumber    string
	BuyerID        string
	Status         OrderStatus
	Items          []OrderLineItem
	Destination    ShippingDestination
	Payment        PaymentRecord
	Amounts        OrderAmounts
	TrackingNumber string
	CancelReason   string
	CancelledAt    *time.Time
	DeliveredAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// RangeQuery expresses an inclusive range filter over an ordered field.
type RangeQuery[T any] struct {
	From *T
	To   *T
}

// CursorPage wraps a page of results together with the opaque continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// ValidPaymentMethod reports whether the supplied method is one the storefront accepts.
func ValidPaymentMethod(method PaymentMethod) bool {
	switch method {
	case PaymentMethodCard, PaymentMethodBankTransfer, PaymentMethodKakaoPay, PaymentMethodNaverPay:
		return true
	}
	return false
}

// ValidOrderStatus reports whether the supplied status is a known lifecycle state.
func ValidOrderStatus(status OrderStatus) bool {
	switch status {
	case OrderStatusPending, OrderStatusPaid, OrderStatusPreparing, OrderStatusShipping,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefundRequested, OrderStatusRefunded:
		return true
	}
	return false
}
