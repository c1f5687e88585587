package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/freshmarket/api/internal/domain"
	"github.com/freshmarket/api/internal/repositories"
)

type stubCatalogRepo struct {
	getFn     func(context.Context, string) (domain.Product, error)
	getManyFn func(context.Context, []string) (map[string]domain.Product, error)
	listFn    func(context.Context, repositories.ProductListFilter) (domain.CursorPage[domain.Product], error)
}

func (s *stubCatalogRepo) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if s.getFn != nil {
		return s.getFn(ctx, productID)
	}
	return domain.Product{}, errors.New("not implemented")
}

func (s *stubCatalogRepo) GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if s.getManyFn != nil {
		return s.getManyFn(ctx, productIDs)
	}
	return map[string]domain.Product{}, nil
}

func (s *stubCatalogRepo) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Product]{}, nil
}

func fixtureProducts() map[string]domain.Product {
	return map[string]domain.Product{
		"prod_apple": {
			ID:     "prod_apple",
			SKU:    "APL-001",
			Name:   "Fuji Apples 1kg",
			Price:  8000,
			Active: true,
		},
		"prod_milk": {
			ID:     "prod_milk",
			SKU:    "MLK-001",
			Name:   "Organic Milk 1L",
			Price:  4000,
			Active: true,
		},
		"prod_retired": {
			ID:     "prod_retired",
			SKU:    "RTD-001",
			Name:   "Seasonal Box",
			Price:  30000,
			Active: false,
		},
	}
}

func newTestPricingService(t *testing.T) PricingService {
	t.Helper()

	svc, err := NewPricingService(PricingServiceDeps{
		Catalog: &stubCatalogRepo{
			getManyFn: func(_ context.Context, ids []string) (map[string]domain.Product, error) {
				products := fixtureProducts()
				out := make(map[string]domain.Product, len(ids))
				for _, id := range ids {
					if product, ok := products[id]; ok {
						out[id] = product
					}
				}
				return out, nil
			},
		},
		DefaultShippingFee: 3000,
		FreeShippingOver:   50000,
	})
	if err != nil {
		t.Fatalf("NewPricingService: %v", err)
	}
	return svc
}

func TestBuildSnapshotComputesAmounts(t *testing.T) {
	svc := newTestPricingService(t)

	snapshot, err := svc.BuildSnapshot(context.Background(), PricingRequest{
		Items: []OrderItemRequest{
			{ProductID: "prod_apple", Quantity: 2},
			{ProductID: "prod_milk", Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("BuildSnapshot: %v", err)
	}

	if got := snapshot.Amounts.ItemsSubtotal; got != 20000 {
		t.Errorf("ItemsSubtotal = %d, want 20000", got)
	}
	if got := snapshot.Amounts.ShippingFee; got != 3000 {
		t.Errorf("ShippingFee = %d, want 3000", got)
	}
	if got := snapshot.Amounts.Total; got != 23000 {
		t.Errorf("Total = %d, want 23000", got)
	}
	if len(snapshot.Items) != 2 {
		t.Fatalf("Items = %d lines, want 2", len(snapshot.Items))
	}
	apple := snapshot.Items[0]
	if apple.Name != "Fuji Apples 1kg" || apple.UnitPrice != 8000 || apple.Total != 16000 {
		t.Errorf("apple line = %+v", apple)
	}
}

func TestBuildSnapshotWaivesShippingOverThreshold(t *testing.T) {
	svc := newTestPricingService(t)

	snapshot, err := svc.BuildSnapshot(context.Background(), PricingRequest{
		Items: []OrderItemRequest{{ProductID: "prod_apple", Quantity: 7}},
	})
	if err != nil {
		t.Fatalf("BuildSnapshot: %v", err)
	}

	if got := snapshot.Amounts.ShippingFee; got != 0 {
		t.Errorf("ShippingFee = %d, want 0 above free shipping threshold", got)
	}
	if got := snapshot.Amounts.Total; got != 56000 {
		t.Errorf("Total = %d, want 56000", got)
	}
}

func TestBuildSnapshotCollapsesRepeatedProducts(t *testing.T) {
	svc := newTestPricingService(t)

	snapshot, err := svc.BuildSnapshot(context.Background(), PricingRequest{
		Items: []OrderItemRequest{
			{ProductID: "prod_milk", Quantity: 1},
			{ProductID: "prod_milk", Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("BuildSnapshot: %v", err)
	}

	if len(snapshot.Items) != 1 {
		t.Fatalf("Items = %d lines, want 1", len(snapshot.Items))
	}
	if got := snapshot.Items[0].Quantity; got != 3 {
		t.Errorf("Quantity = %d, want 3", got)
	}
}

func TestBuildSnapshotAppliesDiscount(t *testing.T) {
	svc := newTestPricingService(t)

	snapshot, err := svc.BuildSnapshot(context.Background(), PricingRequest{
		Items:    []OrderItemRequest{{ProductID: "prod_apple", Quantity: 2}},
		Discount: 5000,
	})
	if err != nil {
		t.Fatalf("BuildSnapshot: %v", err)
	}

	if got := snapshot.Amounts.Discount; got != 5000 {
		t.Errorf("Discount = %d, want 5000", got)
	}
	if got := snapshot.Amounts.Total; got != 14000 {
		t.Errorf("Total = %d, want 14000", got)
	}
}

func TestBuildSnapshotRejectsInvalidInput(t *testing.T) {
	svc := newTestPricingService(t)

	cases := []struct {
		name string
		req  PricingRequest
	}{
		{"empty basket", PricingRequest{}},
		{"zero quantity", PricingRequest{Items: []OrderItemRequest{{ProductID: "prod_apple"}}}},
		{"negative quantity", PricingRequest{Items: []OrderItemRequest{{ProductID: "prod_apple", Quantity: -1}}}},
		{"blank product id", PricingRequest{Items: []OrderItemRequest{{ProductID: "  ", Quantity: 1}}}},
		{"negative discount", PricingRequest{Items: []OrderItemRequest{{ProductID: "prod_apple", Quantity: 1}}, Discount: -1}},
		{"excessive discount", PricingRequest{Items: []OrderItemRequest{{ProductID: "prod_milk", Quantity: 1}}, Discount: 100000}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.BuildSnapshot(context.Background(), tc.req); !errors.Is(err, ErrPricingInvalidInput) {
				t.Errorf("err = %v, want ErrPricingInvalidInput", err)
			}
		})
	}
}

func TestBuildSnapshotRejectsMissingProduct(t *testing.T) {
	svc := newTestPricingService(t)

	_, err := svc.BuildSnapshot(context.Background(), PricingRequest{
		Items: []OrderItemRequest{{ProductID: "prod_ghost", Quantity: 1}},
	})
	if !errors.Is(err, ErrPricingProductNotFound) {
		t.Errorf("err = %v, want ErrPricingProductNotFound", err)
	}
}

func TestBuildSnapshotRejectsInactiveProduct(t *testing.T) {
	svc := newTestPricingService(t)

	_, err := svc.BuildSnapshot(context.Background(), PricingRequest{
		Items: []OrderItemRequest{{ProductID: "prod_retired", Quantity: 1}},
	})
	if !errors.Is(err, ErrPricingProductUnavailable) {
		t.Errorf("err = %v, want ErrPricingProductUnavailable", err)
	}
}
