package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/freshmarket/api/internal/domain"
	"github.com/freshmarket/api/internal/services"
)

type stubCatalogService struct {
	getFn  func(context.Context, string) (domain.Product, error)
	listFn func(context.Context, services.ProductListFilter) (domain.CursorPage[domain.Product], error)
}

func (s *stubCatalogService) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if s.getFn != nil {
		return s.getFn(ctx, productID)
	}
	return domain.Product{}, errors.New("not implemented")
}

func (s *stubCatalogService) ListProducts(ctx context.Context, filter services.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Product]{}, nil
}

func newProductRouter(service services.CatalogService) http.Handler {
	handler := NewProductHandlers(service)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)
	return router
}

func fixtureProduct() domain.Product {
	return domain.Product{
		ID:        "prod_apple",
		SKU:       "APL-001",
		Name:      "Fuji Apples 1kg",
		Price:     8000,
		Category:  domain.ProductCategoryAmbient,
		Active:    true,
		CreatedAt: time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestProductHandlersListDefaultsToActive(t *testing.T) {
	var captured services.ProductListFilter
	router := newProductRouter(&stubCatalogService{
		listFn: func(_ context.Context, filter services.ProductListFilter) (domain.CursorPage[domain.Product], error) {
			captured = filter
			return domain.CursorPage[domain.Product]{Items: []domain.Product{fixtureProduct()}}, nil
		},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if !captured.ActiveOnly {
		t.Errorf("ActiveOnly = false, want active-only by default")
	}

	var payload productListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].ID != "prod_apple" {
		t.Errorf("items = %+v", payload.Items)
	}
}

func TestProductHandlersListAppliesFilters(t *testing.T) {
	var captured services.ProductListFilter
	router := newProductRouter(&stubCatalogService{
		listFn: func(_ context.Context, filter services.ProductListFilter) (domain.CursorPage[domain.Product], error) {
			captured = filter
			return domain.CursorPage[domain.Product]{}, nil
		},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products?category=Chilled&include_inactive=true&page_size=5&page_token=tok1", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if captured.Category == nil || *captured.Category != "chilled" {
		t.Errorf("Category = %v, want chilled", captured.Category)
	}
	if captured.ActiveOnly {
		t.Errorf("ActiveOnly = true, want inactive included")
	}
	if captured.Pagination.PageSize != 5 || captured.Pagination.PageToken != "tok1" {
		t.Errorf("Pagination = %+v", captured.Pagination)
	}
}

func TestProductHandlersGetProduct(t *testing.T) {
	router := newProductRouter(&stubCatalogService{
		getFn: func(_ context.Context, productID string) (domain.Product, error) {
			if productID != "prod_apple" {
				t.Errorf("productID = %q", productID)
			}
			return fixtureProduct(), nil
		},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products/prod_apple", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var payload productResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Product.Name != "Fuji Apples 1kg" || payload.Product.Price != 8000 {
		t.Errorf("product = %+v", payload.Product)
	}
}

func TestProductHandlersGetProductNotFound(t *testing.T) {
	router := newProductRouter(&stubCatalogService{
		getFn: func(context.Context, string) (domain.Product, error) {
			return domain.Product{}, services.ErrCatalogNotFound
		},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products/prod_ghost", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}
