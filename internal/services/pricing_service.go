package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/freshmarket/api/internal/domain"
	"github.com/freshmarket/api/internal/repositories"
)

const maxLineItemQuantity = 99

var (
	// ErrPricingInvalidInput signals the caller provided an unpriceable basket.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingProductNotFound indicates a referenced product does not exist.
	ErrPricingProductNotFound = errors.New("pricing: product not found")
	// ErrPricingProductUnavailable indicates a referenced product is not sellable.
	ErrPricingProductUnavailable = errors.New("pricing: product unavailable")
)

// PricingServiceDeps bundles collaborators required to construct the pricing service.
type PricingServiceDeps struct {
	Catalog            repositories.CatalogRepository
	DefaultShippingFee int64
	FreeShippingOver   int64
	Logger             func(ctx context.Context, event string, fields map[string]any)
}

type pricingService struct {
	catalog            repositories.CatalogRepository
	defaultShippingFee int64
	freeShippingOver   int64
	logger             func(context.Context, string, map[string]any)
}

// NewPricingService wires dependencies into a concrete PricingService implementation.
func NewPricingService(deps PricingServiceDeps) (PricingService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("pricing service: catalog repository is required")
	}
	if deps.DefaultShippingFee < 0 {
		return nil, errors.New("pricing service: shipping fee must not be negative")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &pricingService{
		catalog:            deps.Catalog,
		defaultShippingFee: deps.DefaultShippingFee,
		freeShippingOver:   deps.FreeShippingOver,
		logger:             logger,
	}, nil
}

// BuildSnapshot reprices the requested basket from the catalog. Client-supplied
// amounts never enter the snapshot; names and unit prices are copied from the
// product documents as they exist right now.
func (s *pricingService) BuildSnapshot(ctx context.Context, req PricingRequest) (PricingSnapshot, error) {
	if len(req.Items) == 0 {
		return PricingSnapshot{}, fmt.Errorf("%w: at least one item is required", ErrPricingInvalidInput)
	}
	if req.Discount < 0 {
		return PricingSnapshot{}, fmt.Errorf("%w: discount must not be negative", ErrPricingInvalidInput)
	}

	quantities := make(map[string]int, len(req.Items))
	productIDs := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return PricingSnapshot{}, fmt.Errorf("%w: product id is required", ErrPricingInvalidInput)
		}
		if item.Quantity <= 0 {
			return PricingSnapshot{}, fmt.Errorf("%w: quantity for %s must be positive", ErrPricingInvalidInput, productID)
		}
		if item.Quantity > maxLineItemQuantity {
			return PricingSnapshot{}, fmt.Errorf("%w: quantity for %s exceeds %d", ErrPricingInvalidInput, productID, maxLineItemQuantity)
		}
		if _, dup := quantities[productID]; !dup {
			productIDs = append(productIDs, productID)
		}
		// Repeated references to the same product collapse into one line.
		quantities[productID] += item.Quantity
	}

	products, err := s.catalog.GetProducts(ctx, productIDs)
	if err != nil {
		return PricingSnapshot{}, err
	}

	items := make([]domain.OrderLineItem, 0, len(productIDs))
	var subtotal int64
	for _, productID := range productIDs {
		product, ok := products[productID]
		if !ok {
			return PricingSnapshot{}, fmt.Errorf("%w: %s", ErrPricingProductNotFound, productID)
		}
		if !product.Active {
			return PricingSnapshot{}, fmt.Errorf("%w: %s", ErrPricingProductUnavailable, productID)
		}

		quantity := quantities[productID]
		lineTotal := product.Price * int64(quantity)
		items = append(items, domain.OrderLineItem{
			ProductRef: product.ID,
			SKU:        product.SKU,
			Name:       product.Name,
			UnitPrice:  product.Price,
			Quantity:   quantity,
			Total:      lineTotal,
		})
		subtotal += lineTotal
	}

	shippingFee := s.defaultShippingFee
	if s.freeShippingOver > 0 && subtotal >= s.freeShippingOver {
		shippingFee = 0
	}

	if req.Discount > subtotal+shippingFee {
		return PricingSnapshot{}, fmt.Errorf("%w: discount exceeds order value", ErrPricingInvalidInput)
	}

	amounts := domain.OrderAmounts{
		ItemsSubtotal: subtotal,
		ShippingFee:   shippingFee,
		Discount:      req.Discount,
		Total:         subtotal + shippingFee - req.Discount,
	}

	s.logger(ctx, "pricing.snapshot.built", map[string]any{
		"items":    len(items),
		"subtotal": amounts.ItemsSubtotal,
		"shipping": amounts.ShippingFee,
		"discount": amounts.Discount,
		"total":    amounts.Total,
	})

	return PricingSnapshot{Items: items, Amounts: amounts}, nil
}
