package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/freshmarket/api/internal/domain"
	pfirestore "github.com/freshmarket/api/internal/platform/firestore"
	"github.com/freshmarket/api/internal/platform/pagination"
	"github.com/freshmarket/api/internal/repositories"
)

const (
	ordersCollection      = "orders"
	paymentKeysCollection = "orderPaymentKeys"
)

// OrderRepository implements repositories.OrderRepository backed by Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	keys     *pfirestore.BaseRepository[paymentKeyDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil),
		keys:     pfirestore.NewBaseRepository[paymentKeyDocument](provider, paymentKeysCollection, nil),
	}, nil
}

// Insert creates the order document and one marker per payment key in a single
// transaction. Both creates fail on pre-existing documents, so a concurrent
// request reusing any payment key surfaces as a conflict and nothing persists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order, paymentKeys []string) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	doc := encodeOrderDocument(order)

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		if err := tx.Create(orderRef, doc); err != nil {
			return err
		}

		for _, key := range paymentKeys {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			keyRef, err := r.keys.DocumentRef(ctx, paymentKeyDocID(key))
			if err != nil {
				return err
			}
			marker := paymentKeyDocument{
				Key:         key,
				OrderID:     orderID,
				OrderNumber: order.OrderNumber,
				CreatedAt:   order.CreatedAt.UTC(),
			}
			if err := tx.Create(keyRef, marker); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the persisted order state with the provided snapshot.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	if _, err := r.orders.Set(ctx, orderID, encodeOrderDocument(order)); err != nil {
		return err
	}
	return nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(doc.ID, doc.Data), nil
}

// FindByPaymentKey resolves the order holding the given payment key marker.
func (r *OrderRepository) FindByPaymentKey(ctx context.Context, key string) (domain.Order, error) {
	if r == nil || r.keys == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.Order{}, errors.New("order repository: payment key is required")
	}
	marker, err := r.keys.Get(ctx, paymentKeyDocID(key))
	if err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, marker.Data.OrderID)
}

// List returns orders matching the filter ordered by most recent creation.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.orders == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := pagination.NormalizePageSize(filter.Pagination.PageSize)
	fetchLimit := limit + 1

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := pagination.DecodeToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		startAfter, err = decodeOrderCursor(cursor)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
	}

	statuses := normaliseFilterValues(filter.Status)
	buyerID := strings.TrimSpace(filter.BuyerID)

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if buyerID != "" {
			q = q.Where("buyerId", "==", buyerID)
		}
		if len(statuses) == 1 {
			q = q.Where("status", "==", statuses[0])
		} else if len(statuses) > 1 {
			// Firestore in clause supports up to 10 values.
			if len(statuses) > 10 {
				statuses = statuses[:10]
			}
			q = q.Where("status", "in", statuses)
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}

		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		return q.Limit(fetchLimit)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	nextToken := ""
	if len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{
			StartAfter: []any{last.Data.CreatedAt.UTC().Format(time.RFC3339Nano), last.ID},
		})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		nextToken = token
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

func decodeOrderCursor(cursor pagination.Cursor) ([]any, error) {
	if len(cursor.StartAfter) != 2 {
		return nil, pagination.ErrInvalidPageToken
	}
	rawTime, ok := cursor.StartAfter[0].(string)
	if !ok {
		return nil, pagination.ErrInvalidPageToken
	}
	rawID, ok := cursor.StartAfter[1].(string)
	if !ok {
		return nil, pagination.ErrInvalidPageToken
	}
	parsed, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return nil, pagination.ErrInvalidPageToken
	}
	return []any{parsed, rawID}, nil
}

// paymentKeyDocID makes an arbitrary payment key safe as a document id.
func paymentKeyDocID(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func normaliseFilterValues(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

type orderDocument struct {
	OrderNumber    string              `firestore:"orderNumber"`
	BuyerID        string              `firestore:"buyerId"`
	Status         string              `firestore:"status"`
	Items          []orderItemDocument `firestore:"items"`
	Destination    destinationDocument `firestore:"destination"`
	Payment        paymentDocument     `firestore:"payment"`
	Amounts        amountsDocument     `firestore:"amounts"`
	TrackingNumber string              `firestore:"trackingNumber,omitempty"`
	CancelReason   string              `firestore:"cancelReason,omitempty"`
	CancelledAt    *time.Time          `firestore:"cancelledAt,omitempty"`
	DeliveredAt    *time.Time          `firestore:"deliveredAt,omitempty"`
	CreatedAt      time.Time           `firestore:"createdAt"`
	UpdatedAt      time.Time           `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductRef string `firestore:"productRef"`
	SKU        string `firestore:"sku"`
	Name       string `firestore:"name"`
	UnitPrice  int64  `firestore:"unitPrice"`
	Quantity   int    `firestore:"quantity"`
	Total      int64  `firestore:"total"`
}

type destinationDocument struct {
	RecipientName string `firestore:"recipientName"`
	Phone         string `firestore:"phone"`
	PostalCode    string `firestore:"postalCode"`
	Address       string `firestore:"address"`
	AddressDetail string `firestore:"addressDetail,omitempty"`
	Memo          string `firestore:"memo,omitempty"`
}

type paymentDocument struct {
	Method             string     `firestore:"method"`
	VerificationStatus string     `firestore:"verificationStatus"`
	TransactionID      string     `firestore:"transactionId,omitempty"`
	MerchantUID        string     `firestore:"merchantUid,omitempty"`
	PaidAmount         int64      `firestore:"paidAmount"`
	PaidAt             *time.Time `firestore:"paidAt,omitempty"`
}

type amountsDocument struct {
	ItemsSubtotal int64 `firestore:"itemsSubtotal"`
	ShippingFee   int64 `firestore:"shippingFee"`
	Discount      int64 `firestore:"discount"`
	Total         int64 `firestore:"total"`
}

type paymentKeyDocument struct {
	Key         string    `firestore:"key"`
	OrderID     string    `firestore:"orderId"`
	OrderNumber string    `firestore:"orderNumber"`
	CreatedAt   time.Time `firestore:"createdAt"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductRef: item.ProductRef,
			SKU:        item.SKU,
			Name:       item.Name,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			Total:      item.Total,
		})
	}

	return orderDocument{
		OrderNumber: order.OrderNumber,
		BuyerID:     order.BuyerID,
		Status:      string(order.Status),
		Items:       items,
		Destination: destinationDocument{
			RecipientName: order.Destination.RecipientName,
			Phone:         order.Destination.Phone,
			PostalCode:    order.Destination.PostalCode,
			Address:       order.Destination.Address,
			AddressDetail: order.Destination.AddressDetail,
			Memo:          order.Destination.Memo,
		},
		Payment: paymentDocument{
			Method:             string(order.Payment.Method),
			VerificationStatus: string(order.Payment.VerificationStatus),
			TransactionID:      order.Payment.TransactionID,
			MerchantUID:        order.Payment.MerchantUID,
			PaidAmount:         order.Payment.PaidAmount,
			PaidAt:             cloneTimePtr(order.Payment.PaidAt),
		},
		Amounts: amountsDocument{
			ItemsSubtotal: order.Amounts.ItemsSubtotal,
			ShippingFee:   order.Amounts.ShippingFee,
			Discount:      order.Amounts.Discount,
			Total:         order.Amounts.Total,
		},
		TrackingNumber: order.TrackingNumber,
		CancelReason:   order.CancelReason,
		CancelledAt:    cloneTimePtr(order.CancelledAt),
		DeliveredAt:    cloneTimePtr(order.DeliveredAt),
		CreatedAt:      order.CreatedAt.UTC(),
		UpdatedAt:      order.UpdatedAt.UTC(),
	}
}

func decodeOrderDocument(id string, doc orderDocument) domain.Order {
	items := make([]domain.OrderLineItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderLineItem{
			ProductRef: item.ProductRef,
			SKU:        item.SKU,
			Name:       item.Name,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			Total:      item.Total,
		})
	}

	return domain.Order{
		ID:          id,
		OrderNumber: doc.OrderNumber,
		BuyerID:     doc.BuyerID,
		Status:      domain.OrderStatus(doc.Status),
		Items:       items,
		Destination: domain.ShippingDestination{
			RecipientName: doc.Destination.RecipientName,
			Phone:         doc.Destination.Phone,
			PostalCode:    doc.Destination.PostalCode,
			Address:       doc.Destination.Address,
			AddressDetail: doc.Destination.AddressDetail,
			Memo:          doc.Destination.Memo,
		},
		Payment: domain.PaymentRecord{
			Method:             domain.PaymentMethod(doc.Payment.Method),
			VerificationStatus: domain.PaymentVerificationStatus(doc.Payment.VerificationStatus),
			TransactionID:      doc.Payment.TransactionID,
			MerchantUID:        doc.Payment.MerchantUID,
			PaidAmount:         doc.Payment.PaidAmount,
			PaidAt:             cloneTimePtr(doc.Payment.PaidAt),
		},
		Amounts: domain.OrderAmounts{
			ItemsSubtotal: doc.Amounts.ItemsSubtotal,
			ShippingFee:   doc.Amounts.ShippingFee,
			Discount:      doc.Amounts.Discount,
			Total:         doc.Amounts.Total,
		},
		TrackingNumber: doc.TrackingNumber,
		CancelReason:   doc.CancelReason,
		CancelledAt:    cloneTimePtr(doc.CancelledAt),
		DeliveredAt:    cloneTimePtr(doc.DeliveredAt),
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}

func cloneTimePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := value.UTC()
	return &clone
}
