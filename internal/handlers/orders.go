package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/freshmarket/api/internal/domain"
	"github.com/freshmarket/api/internal/platform/auth"
	"github.com/freshmarket/api/internal/platform/httpx"
	"github.com/freshmarket/api/internal/services"
)

const maxOrderBodySize = 64 * 1024

// OrderHandlers exposes the buyer-facing order endpoints.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs the buyer order handler group.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{authn: authn, orders: orders}
}

// Routes registers the order endpoints on the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
}

type orderItemRequestPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type destinationPayload struct {
	RecipientName string `json:"recipient_name"`
	Phone         string `json:"phone"`
	PostalCode    string `json:"postal_code"`
	Address       string `json:"address"`
	AddressDetail string `json:"address_detail,omitempty"`
	Memo          string `json:"memo,omitempty"`
}

type createOrderRequest struct {
	Items         []orderItemRequestPayload `json:"items"`
	Destination   destinationPayload        `json:"destination"`
	PaymentMethod string                    `json:"payment_method"`
	TransactionID string                    `json:"transaction_id,omitempty"`
	MerchantUID   string                    `json:"merchant_uid,omitempty"`
	Discount      int64                     `json:"discount,omitempty"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type orderLinePayload struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku,omitempty"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Total     int64  `json:"total"`
}

type amountsPayload struct {
	ItemsSubtotal int64 `json:"items_subtotal"`
	ShippingFee   int64 `json:"shipping_fee"`
	Discount      int64 `json:"discount"`
	Total         int64 `json:"total"`
}

type paymentPayload struct {
	Method             string `json:"method"`
	VerificationStatus string `json:"verification_status"`
	TransactionID      string `json:"transaction_id,omitempty"`
	MerchantUID        string `json:"merchant_uid,omitempty"`
	PaidAmount         int64  `json:"paid_amount,omitempty"`
	PaidAt             string `json:"paid_at,omitempty"`
}

type orderPayload struct {
	ID             string             `json:"id"`
	OrderNumber    string             `json:"order_number"`
	Status         string             `json:"status"`
	Items          []orderLinePayload `json:"items"`
	Destination    destinationPayload `json:"destination"`
	Payment        paymentPayload     `json:"payment"`
	Amounts        amountsPayload     `json:"amounts"`
	TrackingNumber string             `json:"tracking_number,omitempty"`
	CancelReason   string             `json:"cancel_reason,omitempty"`
	CancelledAt    string             `json:"cancelled_at,omitempty"`
	DeliveredAt    string             `json:"delivered_at,omitempty"`
	CreatedAt      string             `json:"created_at"`
	UpdatedAt      string             `json:"updated_at"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	ItemCount   int    `json:"item_count"`
	FirstItem   string `json:"first_item,omitempty"`
	Total       int64  `json:"total"`
	CreatedAt   string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var payload createOrderRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is not valid JSON", http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderCommand{
		BuyerID: identity.UID,
		Destination: domain.ShippingDestination{
			RecipientName: strings.TrimSpace(payload.Destination.RecipientName),
			Phone:         strings.TrimSpace(payload.Destination.Phone),
			PostalCode:    strings.TrimSpace(payload.Destination.PostalCode),
			Address:       strings.TrimSpace(payload.Destination.Address),
			AddressDetail: strings.TrimSpace(payload.Destination.AddressDetail),
			Memo:          strings.TrimSpace(payload.Destination.Memo),
		},
		PaymentMethod: domain.PaymentMethod(strings.ToLower(strings.TrimSpace(payload.PaymentMethod))),
		TransactionID: strings.TrimSpace(payload.TransactionID),
		MerchantUID:   strings.TrimSpace(payload.MerchantUID),
		Discount:      payload.Discount,
	}
	for _, item := range payload.Items {
		cmd.Items = append(cmd.Items, services.OrderItemRequest{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	filter := services.OrderListFilter{BuyerID: identity.UID}
	if err := applyOrderListQuery(&filter, r); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if order.BuyerID != identity.UID {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))

	var payload cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderBodySize)
	switch {
	case err == nil:
		if err := json.Unmarshal(body, &payload); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is not valid JSON", http.StatusBadRequest))
			return
		}
	case errors.Is(err, errEmptyBody):
		// cancellation reason is optional
	default:
		writeBodyError(ctx, w, err)
		return
	}

	existing, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if existing.BuyerID != identity.UID {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		ActorID: identity.UID,
		Reason:  strings.TrimSpace(payload.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func applyOrderListQuery(filter *services.OrderListFilter, r *http.Request) error {
	query := r.URL.Query()

	if statuses := parseFilterValues(query["status"]); len(statuses) > 0 {
		for _, status := range statuses {
			if !domain.ValidOrderStatus(domain.OrderStatus(status)) {
				return errors.New("status filter contains an unknown status")
			}
		}
		filter.Status = statuses
	}

	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return errors.New("created_after must be an RFC3339 timestamp")
		}
		filter.DateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return errors.New("created_before must be an RFC3339 timestamp")
		}
		filter.DateRange.To = &ts
	}

	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 0 {
			return errors.New("page_size must be a positive integer")
		}
		filter.Pagination.PageSize = size
	}
	filter.Pagination.PageToken = strings.TrimSpace(query.Get("page_token"))

	return nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds the allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
	}
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	summary := orderSummaryPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		ItemCount:   len(order.Items),
		Total:       order.Amounts.Total,
		CreatedAt:   formatTime(order.CreatedAt),
	}
	if len(order.Items) > 0 {
		summary.FirstItem = order.Items[0].Name
	}
	return summary
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderLinePayload, 0, len(order.Items))
	for _, line := range order.Items {
		items = append(items, orderLinePayload{
			ProductID: line.ProductRef,
			SKU:       line.SKU,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			Total:     line.Total,
		})
	}

	return orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		Items:       items,
		Destination: destinationPayload{
			RecipientName: order.Destination.RecipientName,
			Phone:         order.Destination.Phone,
			PostalCode:    order.Destination.PostalCode,
			Address:       order.Destination.Address,
			AddressDetail: order.Destination.AddressDetail,
			Memo:          order.Destination.Memo,
		},
		Payment: paymentPayload{
			Method:             string(order.Payment.Method),
			VerificationStatus: string(order.Payment.VerificationStatus),
			TransactionID:      order.Payment.TransactionID,
			MerchantUID:        order.Payment.MerchantUID,
			PaidAmount:         order.Payment.PaidAmount,
			PaidAt:             formatTime(pointerTime(order.Payment.PaidAt)),
		},
		Amounts: amountsPayload{
			ItemsSubtotal: order.Amounts.ItemsSubtotal,
			ShippingFee:   order.Amounts.ShippingFee,
			Discount:      order.Amounts.Discount,
			Total:         order.Amounts.Total,
		},
		TrackingNumber: order.TrackingNumber,
		CancelReason:   order.CancelReason,
		CancelledAt:    formatTime(pointerTime(order.CancelledAt)),
		DeliveredAt:    formatTime(pointerTime(order.DeliveredAt)),
		CreatedAt:      formatTime(order.CreatedAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	var dup *services.DuplicatePaymentError
	if errors.As(err, &dup) {
		httpx.WriteError(ctx, w, httpx.NewError("duplicate_payment", "payment has already been used for another order", http.StatusConflict).
			WithDetails(map[string]any{"order_number": dup.OrderNumber}))
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order request is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", "order status does not allow this operation", http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentAmountMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("payment_amount_mismatch", "paid amount does not match the order total", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPaymentNotCaptured):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_captured", "payment has not been captured", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPaymentUnknown):
		httpx.WriteError(ctx, w, httpx.NewError("payment_unknown", "payment record was not found at the gateway", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPaymentGatewayUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_unavailable", "payment gateway is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
