package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/freshmarket/api/internal/domain"
	pfirestore "github.com/freshmarket/api/internal/platform/firestore"
	"github.com/freshmarket/api/internal/platform/pagination"
	"github.com/freshmarket/api/internal/repositories"
)

const productsCollection = "products"

// CatalogRepository implements repositories.CatalogRepository backed by Firestore.
type CatalogRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository: firestore provider is required")
	}
	return &CatalogRepository{
		provider: provider,
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil),
	}, nil
}

// GetProduct fetches a single product definition.
func (r *CatalogRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("catalog repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("catalog repository: product id is required")
	}
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return decodeProductDocument(doc.ID, doc.Data), nil
}

// GetProducts resolves the given product ids in a single batched read.
// Ids without a matching document are absent from the result.
func (r *CatalogRepository) GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("catalog repository not initialised")
	}

	refs := make([]*firestore.DocumentRef, 0, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ref, err := r.products.DocumentRef(ctx, id)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		return map[string]domain.Product{}, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	snapshots, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("products.get_all", err)
	}

	out := make(map[string]domain.Product, len(snapshots))
	for _, snapshot := range snapshots {
		if snapshot == nil || !snapshot.Exists() {
			continue
		}
		doc, err := r.products.Decode(ctx, snapshot)
		if err != nil {
			return nil, pfirestore.WrapError("products.get_all", err)
		}
		out[doc.ID] = decodeProductDocument(doc.ID, doc.Data)
	}
	return out, nil
}

// List returns catalog products matching the filter ordered by most recent creation.
func (r *CatalogRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.products == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("catalog repository not initialised")
	}

	limit := pagination.NormalizePageSize(filter.Pagination.PageSize)
	fetchLimit := limit + 1

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := pagination.DecodeToken(token)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, err
		}
		startAfter, err = decodeOrderCursor(cursor)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, err
		}
	}

	var category string
	if filter.Category != nil {
		category = strings.ToLower(strings.TrimSpace(*filter.Category))
	}

	docs, err := r.products.Query(ctx, func(q firestore.Query) firestore.Query {
		if category != "" {
			q = q.Where("category", "==", category)
		}
		if filter.ActiveOnly {
			q = q.Where("active", "==", true)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		return q.Limit(fetchLimit)
	})
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	nextToken := ""
	if len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{
			StartAfter: []any{last.Data.CreatedAt.UTC().Format(time.RFC3339Nano), last.ID},
		})
		if err != nil {
			return domain.CursorPage[domain.Product]{}, err
		}
		nextToken = token
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeProductDocument(doc.ID, doc.Data))
	}

	return domain.CursorPage[domain.Product]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type productDocument struct {
	SKU         string    `firestore:"sku"`
	Name        string    `firestore:"name"`
	Price       int64     `firestore:"price"`
	Category    string    `firestore:"category"`
	ImageURL    string    `firestore:"imageUrl,omitempty"`
	Description string    `firestore:"description,omitempty"`
	Tags        []string  `firestore:"tags,omitempty"`
	Active      bool      `firestore:"active"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func decodeProductDocument(id string, doc productDocument) domain.Product {
	return domain.Product{
		ID:          id,
		SKU:         doc.SKU,
		Name:        doc.Name,
		Price:       doc.Price,
		Category:    domain.ProductCategory(doc.Category),
		ImageURL:    doc.ImageURL,
		Description: doc.Description,
		Tags:        append([]string(nil), doc.Tags...),
		Active:      doc.Active,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}
