package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/freshmarket/api/internal/domain"
	"github.com/freshmarket/api/internal/platform/auth"
	"github.com/freshmarket/api/internal/platform/httpx"
	"github.com/freshmarket/api/internal/services"
)

// AdminOrderHandlers exposes the staff order management endpoints. Every route
// requires the staff or admin role.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewAdminOrderHandlers constructs the staff order handler group.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{authn: authn, orders: orders}
}

// Routes registers the staff order endpoints on the provided router.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:status", h.transitionStatus)
	r.Post("/{orderID}:tracking", h.setTrackingNumber)
}

type transitionStatusRequest struct {
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
}

type setTrackingRequest struct {
	TrackingNumber string `json:"tracking_number"`
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}

	filter := services.OrderListFilter{
		BuyerID: strings.TrimSpace(r.URL.Query().Get("buyer_id")),
	}
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

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, strings.TrimSpace(chi.URLParam(r, "orderID")))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
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

	var payload transitionStatusRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is not valid JSON", http.StatusBadRequest))
		return
	}

	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(payload.Status)))
	if !domain.ValidOrderStatus(target) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is not a known lifecycle state", http.StatusBadRequest))
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:        strings.TrimSpace(chi.URLParam(r, "orderID")),
		TargetStatus:   target,
		ActorID:        identity.UID,
		Reason:         strings.TrimSpace(payload.Reason),
		TrackingNumber: strings.TrimSpace(payload.TrackingNumber),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) setTrackingNumber(w http.ResponseWriter, r *http.Request) {
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

	var payload setTrackingRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is not valid JSON", http.StatusBadRequest))
		return
	}

	order, err := h.orders.SetTrackingNumber(ctx, services.SetTrackingNumberCommand{
		OrderID:        strings.TrimSpace(chi.URLParam(r, "orderID")),
		TrackingNumber: strings.TrimSpace(payload.TrackingNumber),
		ActorID:        identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}
