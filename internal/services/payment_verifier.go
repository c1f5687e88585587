package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/freshmarket/api/internal/payments"
)

var (
	// ErrPaymentGatewayUnavailable indicates gateway credentials are missing
	// while a payment claim needs verification. Admission must fail hard in
	// that case rather than trust the client's claim.
	ErrPaymentGatewayUnavailable = errors.New("payment: gateway not configured")
	// ErrPaymentAmountMismatch indicates the gateway settled a different amount
	// than this order charges.
	ErrPaymentAmountMismatch = errors.New("payment: amount mismatch")
	// ErrPaymentNotCaptured indicates the gateway does not report the payment as paid.
	ErrPaymentNotCaptured = errors.New("payment: not captured")
	// ErrPaymentUnknown indicates the gateway has no record of the transaction.
	ErrPaymentUnknown = errors.New("payment: unknown transaction")
)

// PaymentVerifierDeps bundles collaborators required to construct the payment verifier.
type PaymentVerifierDeps struct {
	Gateway payments.Gateway
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type paymentVerifier struct {
	gateway payments.Gateway
	logger  func(context.Context, string, map[string]any)
}

// NewPaymentVerifier wires dependencies into a concrete PaymentVerifier.
// A nil gateway is accepted so deployments without credentials still boot,
// but any verification attempt then fails hard.
func NewPaymentVerifier(deps PaymentVerifierDeps) PaymentVerifier {
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentVerifier{
		gateway: deps.Gateway,
		logger:  logger,
	}
}

// Verify fetches the authoritative gateway record for the transaction and
// checks it settled exactly the expected amount. A mismatch is terminal for
// the admission attempt and is never retried.
func (v *paymentVerifier) Verify(ctx context.Context, transactionID string, expectedAmount int64) (payments.PaymentDetails, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return payments.PaymentDetails{}, fmt.Errorf("%w: transaction id is required", ErrPaymentUnknown)
	}

	if v.gateway == nil {
		v.logger(ctx, "payment.verify.gateway_missing", map[string]any{
			"transactionId": transactionID,
		})
		return payments.PaymentDetails{}, ErrPaymentGatewayUnavailable
	}

	details, err := v.gateway.LookupPayment(ctx, transactionID)
	if err != nil {
		if errors.Is(err, payments.ErrPaymentNotFound) {
			return payments.PaymentDetails{}, fmt.Errorf("%w: %s", ErrPaymentUnknown, transactionID)
		}
		return payments.PaymentDetails{}, err
	}

	if details.Status != payments.StatusPaid {
		v.logger(ctx, "payment.verify.not_captured", map[string]any{
			"transactionId": transactionID,
			"status":        string(details.Status),
		})
		return payments.PaymentDetails{}, fmt.Errorf("%w: gateway status %q", ErrPaymentNotCaptured, details.Status)
	}

	if details.Amount != expectedAmount {
		v.logger(ctx, "payment.verify.amount_mismatch", map[string]any{
			"transactionId":  transactionID,
			"expectedAmount": expectedAmount,
			"paidAmount":     details.Amount,
		})
		return payments.PaymentDetails{}, fmt.Errorf("%w: expected %d, gateway settled %d", ErrPaymentAmountMismatch, expectedAmount, details.Amount)
	}

	return details, nil
}
