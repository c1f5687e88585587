package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/freshmarket/api/internal/domain"
	"github.com/freshmarket/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix      = "ord_"
	orderNumberPrefix  = "ORD"
	orderCounterPrefix = "orders-"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
)

// DuplicatePaymentError reports that a payment key (gateway transaction id or
// merchant uid) has already been claimed by an earlier order. It unwraps to
// ErrOrderConflict.
type DuplicatePaymentError struct {
	PaymentKey  string
	OrderNumber string
}

func (e *DuplicatePaymentError) Error() string {
	return fmt.Sprintf("order: payment %s already claimed by order %s", e.PaymentKey, e.OrderNumber)
}

func (e *DuplicatePaymentError) Unwrap() error { return ErrOrderConflict }

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:         {domain.OrderStatusPaid, domain.OrderStatusCancelled},
	domain.OrderStatusPaid:            {domain.OrderStatusPreparing, domain.OrderStatusCancelled, domain.OrderStatusRefundRequested},
	domain.OrderStatusPreparing:       {domain.OrderStatusShipping, domain.OrderStatusRefundRequested},
	domain.OrderStatusShipping:        {domain.OrderStatusDelivered, domain.OrderStatusRefundRequested},
	domain.OrderStatusDelivered:       {domain.OrderStatusRefundRequested},
	domain.OrderStatusRefundRequested: {domain.OrderStatusRefunded},
	domain.OrderStatusCancelled:       {},
	domain.OrderStatusRefunded:        {},
}

var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusPaid,
}

func canTransition(from, to domain.OrderStatus) bool {
	return slices.Contains(orderStateTransitions[from], to)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Counters    repositories.CounterRepository
	Pricing     PricingService
	Verifier    PaymentVerifier
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	counters   repositories.CounterRepository
	pricing    PricingService
	verifier   PaymentVerifier
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing service is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("order service: payment verifier is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		counters:   deps.Counters,
		pricing:    deps.Pricing,
		verifier:   deps.Verifier,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

// CreateOrder admits a new order: it reprices the basket from the catalog,
// reconciles any claimed payment against the gateway, claims the payment keys,
// and persists the aggregate in one storage transaction. Nothing persists when
// any step fails.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if buyerID == "" {
		return Order{}, fmt.Errorf("%w: buyer id is required", ErrOrderInvalidInput)
	}
	if !domain.ValidPaymentMethod(cmd.PaymentMethod) {
		return Order{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	if err := validateDestination(cmd.Destination); err != nil {
		return Order{}, err
	}

	snapshot, err := s.pricing.BuildSnapshot(ctx, PricingRequest{
		Items:    cmd.Items,
		Discount: cmd.Discount,
	})
	if err != nil {
		return Order{}, mapPricingError(err)
	}

	now := s.now()
	transactionID := strings.TrimSpace(cmd.TransactionID)
	merchantUID := strings.TrimSpace(cmd.MerchantUID)

	payment := domain.PaymentRecord{
		Method:             cmd.PaymentMethod,
		VerificationStatus: domain.PaymentVerificationPending,
		MerchantUID:        merchantUID,
	}
	status := domain.OrderStatusPending

	// The merchant uid is claimed even for pending orders so resubmissions of
	// the same checkout attempt cannot admit a second order.
	paymentKeys := appendPaymentKey(nil, merchantUID)

	for _, key := range appendPaymentKey(paymentKeys, transactionID) {
		if existing, err := s.orders.FindByPaymentKey(ctx, key); err == nil {
			return Order{}, &DuplicatePaymentError{
				PaymentKey:  key,
				OrderNumber: existing.OrderNumber,
			}
		} else if mapped := s.mapRepositoryError(err); !errors.Is(mapped, ErrOrderNotFound) {
			return Order{}, mapped
		}
	}

	if transactionID != "" {
		details, err := s.verifier.Verify(ctx, transactionID, snapshot.Amounts.Total)
		if err != nil {
			return Order{}, err
		}

		// The gateway record is authoritative; nothing from the client
		// request is written into the payment.
		payment.VerificationStatus = domain.PaymentVerificationCompleted
		payment.TransactionID = details.TransactionID
		payment.MerchantUID = details.MerchantUID
		payment.PaidAmount = details.Amount
		payment.PaidAt = details.PaidAt
		status = domain.OrderStatusPaid

		paymentKeys = appendPaymentKey(paymentKeys, details.TransactionID)
		paymentKeys = appendPaymentKey(paymentKeys, details.MerchantUID)
	}

	orderNumber, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		ID:          orderIDPrefix + s.newID(),
		OrderNumber: orderNumber,
		BuyerID:     buyerID,
		Status:      status,
		Items:       snapshot.Items,
		Destination: cmd.Destination,
		Payment:     payment,
		Amounts:     snapshot.Amounts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order, paymentKeys); err != nil {
			return s.mapInsertError(txCtx, err, paymentKeys)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"status":      string(order.Status),
		"total":       order.Amounts.Total,
	})

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: string(order.Status),
		ActorID:       buyerID,
		OccurredAt:    now,
	})

	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// TransitionStatus moves the order to the target lifecycle state, applying the
// side effects each state carries.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !domain.ValidOrderStatus(cmd.TargetStatus) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	now := s.now()
	prevStatus := order.Status

	if cmd.TargetStatus == domain.OrderStatusShipping {
		if tracking := strings.TrimSpace(cmd.TrackingNumber); tracking != "" {
			order.TrackingNumber = tracking
		}
	}

	if err := s.applyStatusTransition(&order, cmd.TargetStatus, now); err != nil {
		return Order{}, err
	}
	if reason := strings.TrimSpace(cmd.Reason); reason != "" && cmd.TargetStatus == domain.OrderStatusCancelled {
		order.CancelReason = reason
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(prevStatus),
		CurrentStatus:  string(order.Status),
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     now,
	})

	return order, nil
}

// Cancel cancels an order that has not entered fulfilment.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if !slices.Contains(cancellableStatuses, order.Status) {
		return Order{}, fmt.Errorf("%w: order status %q cannot be cancelled", ErrOrderInvalidState, order.Status)
	}

	now := s.now()
	prevStatus := order.Status

	order.CancelReason = strings.TrimSpace(cmd.Reason)
	if err := s.applyStatusTransition(&order, domain.OrderStatusCancelled, now); err != nil {
		return Order{}, err
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(prevStatus),
		CurrentStatus:  string(order.Status),
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     now,
	})

	return order, nil
}

// SetTrackingNumber records the carrier tracking number and moves the order to
// shipping when it is not there yet.
func (s *orderService) SetTrackingNumber(ctx context.Context, cmd SetTrackingNumberCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	tracking := strings.TrimSpace(cmd.TrackingNumber)
	if tracking == "" {
		return Order{}, fmt.Errorf("%w: tracking number is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	now := s.now()
	prevStatus := order.Status
	order.TrackingNumber = tracking

	if err := s.applyStatusTransition(&order, domain.OrderStatusShipping, now); err != nil {
		return Order{}, err
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if prevStatus != order.Status {
		s.publishEvent(ctx, OrderEvent{
			Type:           orderEventStatusChanged,
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			PreviousStatus: string(prevStatus),
			CurrentStatus:  string(order.Status),
			ActorID:        strings.TrimSpace(cmd.ActorID),
			OccurredAt:     now,
		})
	}

	return order, nil
}

func (s *orderService) applyStatusTransition(order *Order, target domain.OrderStatus, now time.Time) error {
	current := order.Status
	if current == target {
		order.UpdatedAt = now
		return nil
	}

	if !canTransition(current, target) {
		return fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, current, target)
	}

	if target == domain.OrderStatusShipping && strings.TrimSpace(order.TrackingNumber) == "" {
		return fmt.Errorf("%w: shipping requires a tracking number", ErrOrderInvalidState)
	}

	order.Status = target
	order.UpdatedAt = now

	switch target {
	case domain.OrderStatusPaid:
		order.Payment.VerificationStatus = domain.PaymentVerificationCompleted
		if order.Payment.PaidAt == nil {
			order.Payment.PaidAt = &now
		}
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	case domain.OrderStatusRefunded:
		order.Payment.VerificationStatus = domain.PaymentVerificationRefunded
	}

	return nil
}

// mapInsertError converts storage conflicts during admission into a
// DuplicatePaymentError carrying the competing order's number. The re-fetch
// covers the race where another request claimed a key after the pre-check.
func (s *orderService) mapInsertError(ctx context.Context, err error, claimedKeys []string) error {
	mapped := s.mapRepositoryError(err)
	if !errors.Is(mapped, ErrOrderConflict) {
		return mapped
	}

	for _, key := range claimedKeys {
		existing, findErr := s.orders.FindByPaymentKey(ctx, key)
		if findErr != nil {
			continue
		}
		return &DuplicatePaymentError{
			PaymentKey:  key,
			OrderNumber: existing.OrderNumber,
		}
	}
	return mapped
}

// appendPaymentKey adds a dedup key, skipping blanks and values already
// present.
func appendPaymentKey(keys []string, key string) []string {
	key = strings.TrimSpace(key)
	if key == "" || slices.Contains(keys, key) {
		return keys
	}
	return append(keys, key)
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func mapPricingError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPricingInvalidInput),
		errors.Is(err, ErrPricingProductNotFound),
		errors.Is(err, ErrPricingProductUnavailable):
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	default:
		return err
	}
}

// generateOrderNumber issues ORD-YYYYMMDD-NNNN numbers from a per-day counter.
// Sequences reset each day; gaps from failed admissions are acceptable.
func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	day := now.Format("20060102")
	seq, err := s.counters.Next(ctx, orderCounterPrefix+day, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%04d", orderNumberPrefix, day, seq), nil
}

func validateDestination(dest domain.ShippingDestination) error {
	if strings.TrimSpace(dest.RecipientName) == "" {
		return fmt.Errorf("%w: recipient name is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(dest.Phone) == "" {
		return fmt.Errorf("%w: recipient phone is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(dest.PostalCode) == "" {
		return fmt.Errorf("%w: postal code is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(dest.Address) == "" {
		return fmt.Errorf("%w: address is required", ErrOrderInvalidInput)
	}
	return nil
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
