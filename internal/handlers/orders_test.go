package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/freshmarket/api/internal/domain"
	"github.com/freshmarket/api/internal/platform/auth"
	"github.com/freshmarket/api/internal/services"
)

type stubOrderService struct {
	createFn     func(context.Context, services.CreateOrderCommand) (services.Order, error)
	listFn       func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	getFn        func(context.Context, string) (services.Order, error)
	transitionFn func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error)
	cancelFn     func(context.Context, services.CancelOrderCommand) (services.Order, error)
	trackingFn   func(context.Context, services.SetTrackingNumberCommand) (services.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) SetTrackingNumber(ctx context.Context, cmd services.SetTrackingNumberCommand) (services.Order, error) {
	if s.trackingFn != nil {
		return s.trackingFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func fixtureOrder() services.Order {
	created := time.Date(2024, 12, 30, 10, 0, 0, 0, time.UTC)
	return services.Order{
		ID:          "ord_abc",
		OrderNumber: "ORD-20241230-0001",
		BuyerID:     "user-1",
		Status:      domain.OrderStatusPending,
		Items: []domain.OrderLineItem{
			{ProductRef: "prod_apple", SKU: "APL-001", Name: "Fuji Apples 1kg", UnitPrice: 8000, Quantity: 2, Total: 16000},
		},
		Destination: domain.ShippingDestination{
			RecipientName: "Kim Minji",
			Phone:         "010-1234-5678",
			PostalCode:    "04524",
			Address:       "Seoul, Jung-gu, Sejong-daero 110",
		},
		Payment: domain.PaymentRecord{
			Method:             domain.PaymentMethodBankTransfer,
			VerificationStatus: domain.PaymentVerificationPending,
		},
		Amounts: domain.OrderAmounts{
			ItemsSubtotal: 16000,
			ShippingFee:   3000,
			Total:         19000,
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func newOrderRouter(service services.OrderService) http.Handler {
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func authenticatedRequest(method, target string, body []byte, uid string) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: []string{auth.RoleUser}}))
}

func TestOrderHandlersCreateOrderSuccess(t *testing.T) {
	var captured services.CreateOrderCommand
	service := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return fixtureOrder(), nil
		},
	}
	router := newOrderRouter(service)

	body := []byte(`{
		"items": [{"product_id": "prod_apple", "quantity": 2}],
		"destination": {
			"recipient_name": "Kim Minji",
			"phone": "010-1234-5678",
			"postal_code": "04524",
			"address": "Seoul, Jung-gu, Sejong-daero 110"
		},
		"payment_method": "card",
		"transaction_id": "imp_123",
		"merchant_uid": "mrc_20241230_001"
	}`)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodPost, "/orders", body, "user-1"))

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if captured.BuyerID != "user-1" {
		t.Errorf("BuyerID = %q, want user-1", captured.BuyerID)
	}
	if captured.PaymentMethod != domain.PaymentMethodCard {
		t.Errorf("PaymentMethod = %q", captured.PaymentMethod)
	}
	if captured.TransactionID != "imp_123" {
		t.Errorf("TransactionID = %q", captured.TransactionID)
	}
	if captured.MerchantUID != "mrc_20241230_001" {
		t.Errorf("MerchantUID = %q", captured.MerchantUID)
	}
	if len(captured.Items) != 1 || captured.Items[0].ProductID != "prod_apple" || captured.Items[0].Quantity != 2 {
		t.Errorf("Items = %+v", captured.Items)
	}

	var payload orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Order.OrderNumber != "ORD-20241230-0001" {
		t.Errorf("order_number = %q", payload.Order.OrderNumber)
	}
}

func TestOrderHandlersCreateOrderRejectsInvalidJSON(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodPost, "/orders", []byte("{not json"), "user-1"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid_request") {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestOrderHandlersCreateOrderMapsServiceErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid input", services.ErrOrderInvalidInput, http.StatusBadRequest, "invalid_request"},
		{"amount mismatch", services.ErrPaymentAmountMismatch, http.StatusUnprocessableEntity, "payment_amount_mismatch"},
		{"uncaptured", services.ErrPaymentNotCaptured, http.StatusUnprocessableEntity, "payment_not_captured"},
		{"unknown payment", services.ErrPaymentUnknown, http.StatusUnprocessableEntity, "payment_unknown"},
		{"gateway down", services.ErrPaymentGatewayUnavailable, http.StatusServiceUnavailable, "payment_gateway_unavailable"},
	}

	body := []byte(`{"items":[{"product_id":"prod_apple","quantity":1}],"destination":{"recipient_name":"a","phone":"b","postal_code":"c","address":"d"},"payment_method":"card"}`)

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newOrderRouter(&stubOrderService{
				createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			})

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, authenticatedRequest(http.MethodPost, "/orders", body, "user-1"))

			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tc.wantStatus)
			}
			if !strings.Contains(rr.Body.String(), tc.wantCode) {
				t.Errorf("body = %s, want code %s", rr.Body.String(), tc.wantCode)
			}
		})
	}
}

func TestOrderHandlersCreateOrderDuplicatePayment(t *testing.T) {
	router := newOrderRouter(&stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			return services.Order{}, &services.DuplicatePaymentError{PaymentKey: "imp_123", OrderNumber: "ORD-20241230-0009"}
		},
	})

	body := []byte(`{"items":[{"product_id":"prod_apple","quantity":1}],"destination":{"recipient_name":"a","phone":"b","postal_code":"c","address":"d"},"payment_method":"card","transaction_id":"imp_123"}`)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodPost, "/orders", body, "user-1"))

	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["error"] != "duplicate_payment" {
		t.Errorf("error = %v", payload["error"])
	}
	if payload["order_number"] != "ORD-20241230-0009" {
		t.Errorf("order_number = %v, want winning order number", payload["order_number"])
	}
}

func TestOrderHandlersRequireIdentity(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestOrderHandlersListOrdersAppliesQuery(t *testing.T) {
	fromExpected := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	toExpected := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var captured services.OrderListFilter
	router := newOrderRouter(&stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{fixtureOrder()},
				NextPageToken: "tok-next",
			}, nil
		},
	})

	target := "/orders?status=paid,shipping&page_size=10&page_token=tok123&created_after=2024-12-01T00:00:00Z&created_before=2025-01-01T00:00:00Z"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodGet, target, nil, "user-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if captured.BuyerID != "user-1" {
		t.Errorf("BuyerID = %q", captured.BuyerID)
	}
	if len(captured.Status) != 2 || captured.Status[0] != "paid" || captured.Status[1] != "shipping" {
		t.Errorf("Status = %v", captured.Status)
	}
	if captured.Pagination.PageSize != 10 || captured.Pagination.PageToken != "tok123" {
		t.Errorf("Pagination = %+v", captured.Pagination)
	}
	if captured.DateRange.From == nil || !captured.DateRange.From.Equal(fromExpected) {
		t.Errorf("DateRange.From = %v", captured.DateRange.From)
	}
	if captured.DateRange.To == nil || !captured.DateRange.To.Equal(toExpected) {
		t.Errorf("DateRange.To = %v", captured.DateRange.To)
	}

	var payload orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].OrderNumber != "ORD-20241230-0001" {
		t.Errorf("items = %+v", payload.Items)
	}
	if payload.NextPageToken != "tok-next" {
		t.Errorf("next_page_token = %q", payload.NextPageToken)
	}
}

func TestOrderHandlersListOrdersRejectsUnknownStatus(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodGet, "/orders?status=bogus", nil, "user-1"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestOrderHandlersGetOrderHidesForeignOrders(t *testing.T) {
	router := newOrderRouter(&stubOrderService{
		getFn: func(context.Context, string) (services.Order, error) {
			return fixtureOrder(), nil
		},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodGet, "/orders/ord_abc", nil, "user-2"))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for foreign order", rr.Code)
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	router := newOrderRouter(&stubOrderService{
		getFn: func(context.Context, string) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodGet, "/orders/ord_missing", nil, "user-1"))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestOrderHandlersCancelOrder(t *testing.T) {
	var captured services.CancelOrderCommand
	router := newOrderRouter(&stubOrderService{
		getFn: func(context.Context, string) (services.Order, error) {
			return fixtureOrder(), nil
		},
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			captured = cmd
			order := fixtureOrder()
			order.Status = domain.OrderStatusCancelled
			order.CancelReason = cmd.Reason
			return order, nil
		},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodPost, "/orders/ord_abc:cancel", []byte(`{"reason":"changed my mind"}`), "user-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_abc" || captured.ActorID != "user-1" || captured.Reason != "changed my mind" {
		t.Errorf("cancel command = %+v", captured)
	}
}

func TestOrderHandlersCancelOrderAllowsEmptyBody(t *testing.T) {
	router := newOrderRouter(&stubOrderService{
		getFn: func(context.Context, string) (services.Order, error) {
			return fixtureOrder(), nil
		},
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			if cmd.Reason != "" {
				t.Errorf("Reason = %q, want empty", cmd.Reason)
			}
			order := fixtureOrder()
			order.Status = domain.OrderStatusCancelled
			return order, nil
		},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodPost, "/orders/ord_abc:cancel", nil, "user-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestOrderHandlersCancelOrderInvalidState(t *testing.T) {
	router := newOrderRouter(&stubOrderService{
		getFn: func(context.Context, string) (services.Order, error) {
			order := fixtureOrder()
			order.Status = domain.OrderStatusShipping
			return order, nil
		},
		cancelFn: func(context.Context, services.CancelOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInvalidState
		},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodPost, "/orders/ord_abc:cancel", nil, "user-1"))

	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "order_invalid_state") {
		t.Errorf("body = %s", rr.Body.String())
	}
}
