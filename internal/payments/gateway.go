package payments

import (
	"context"
	"errors"
	"time"
)

// Status enumerates the normalised payment states reported by the gateway.
type Status string

const (
	// StatusReady indicates the payment was initiated but not completed.
	StatusReady Status = "ready"
	// StatusPaid indicates the gateway reports the payment as captured.
	StatusPaid Status = "paid"
	// StatusFailed indicates the gateway reports a failed payment attempt.
	StatusFailed Status = "failed"
	// StatusCancelled indicates the payment was cancelled or refunded at the gateway.
	StatusCancelled Status = "cancelled"
)

var (
	// ErrGatewayAuth is returned when the gateway rejects the configured credentials.
	ErrGatewayAuth = errors.New("payments: gateway authentication failed")
	// ErrGatewayLookup is returned when the payment record cannot be fetched from the gateway.
	ErrGatewayLookup = errors.New("payments: gateway lookup failed")
	// ErrPaymentNotFound is returned when the gateway has no record for the transaction id.
	ErrPaymentNotFound = errors.New("payments: payment not found")
)

// PaymentDetails normalises the gateway's view of a payment for reconciliation.
// Amount and PaidAt reflect what the gateway actually settled, independent of
// anything the client claimed.
type PaymentDetails struct {
	TransactionID string
	MerchantUID   string
	Status        Status
	Amount        int64
	PayMethod     string
	PaidAt        *time.Time
}

// Gateway fetches authoritative payment records for verification.
type Gateway interface {
	LookupPayment(ctx context.Context, transactionID string) (PaymentDetails, error)
}
