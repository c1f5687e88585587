package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type gatewayFixture struct {
	tokenCalls   atomic.Int64
	lookupCalls  atomic.Int64
	tokenStatus  int
	lookupStatus int
	payment      map[string]any
}

func newGatewayServer(t *testing.T, fx *gatewayFixture) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/users/getToken", func(w http.ResponseWriter, r *http.Request) {
		fx.tokenCalls.Add(1)

		if r.Method != http.MethodPost {
			t.Errorf("token request method = %s, want POST", r.Method)
		}

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode token request: %v", err)
		}
		if body["imp_key"] != "key" || body["imp_secret"] != "secret" {
			t.Errorf("unexpected token credentials: %v", body)
		}

		if fx.tokenStatus != 0 && fx.tokenStatus != http.StatusOK {
			w.WriteHeader(fx.tokenStatus)
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"response": map[string]any{
				"access_token": "token-1",
				"expired_at":   time.Now().Add(30 * time.Minute).Unix(),
			},
		})
	})
	mux.HandleFunc("/payments/", func(w http.ResponseWriter, r *http.Request) {
		fx.lookupCalls.Add(1)

		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("lookup authorization = %q, want bearer token", got)
		}

		if fx.lookupStatus != 0 && fx.lookupStatus != http.StatusOK {
			w.WriteHeader(fx.lookupStatus)
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"code":     0,
			"response": fx.payment,
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, baseURL string) *PortOneClient {
	t.Helper()

	client, err := NewPortOneClient(PortOneConfig{
		BaseURL:     baseURL,
		APIKey:      "key",
		APISecret:   "secret",
		Timeout:     2 * time.Second,
		MaxAttempts: 2,
	})
	if err != nil {
		t.Fatalf("NewPortOneClient: %v", err)
	}
	return client
}

func TestLookupPaymentMapsWireFields(t *testing.T) {
	paidAt := time.Date(2024, 12, 30, 9, 15, 0, 0, time.UTC)
	fx := &gatewayFixture{
		payment: map[string]any{
			"imp_uid":      "imp_123",
			"merchant_uid": "ORD-20241230-0001",
			"amount":       23000,
			"status":       "paid",
			"pay_method":   "card",
			"paid_at":      paidAt.Unix(),
		},
	}
	srv := newGatewayServer(t, fx)
	client := newTestClient(t, srv.URL)

	details, err := client.LookupPayment(context.Background(), "imp_123")
	if err != nil {
		t.Fatalf("LookupPayment: %v", err)
	}

	if details.TransactionID != "imp_123" {
		t.Errorf("TransactionID = %q", details.TransactionID)
	}
	if details.MerchantUID != "ORD-20241230-0001" {
		t.Errorf("MerchantUID = %q", details.MerchantUID)
	}
	if details.Status != StatusPaid {
		t.Errorf("Status = %q, want %q", details.Status, StatusPaid)
	}
	if details.Amount != 23000 {
		t.Errorf("Amount = %d, want 23000", details.Amount)
	}
	if details.PayMethod != "card" {
		t.Errorf("PayMethod = %q", details.PayMethod)
	}
	if details.PaidAt == nil || !details.PaidAt.Equal(paidAt) {
		t.Errorf("PaidAt = %v, want %v", details.PaidAt, paidAt)
	}
}

func TestLookupPaymentReusesCachedToken(t *testing.T) {
	fx := &gatewayFixture{
		payment: map[string]any{
			"imp_uid": "imp_123",
			"amount":  1000,
			"status":  "paid",
		},
	}
	srv := newGatewayServer(t, fx)
	client := newTestClient(t, srv.URL)

	for i := 0; i < 3; i++ {
		if _, err := client.LookupPayment(context.Background(), "imp_123"); err != nil {
			t.Fatalf("LookupPayment #%d: %v", i+1, err)
		}
	}

	if got := fx.tokenCalls.Load(); got != 1 {
		t.Errorf("token endpoint called %d times, want 1", got)
	}
	if got := fx.lookupCalls.Load(); got != 3 {
		t.Errorf("lookup endpoint called %d times, want 3", got)
	}
}

func TestLookupPaymentRefreshesExpiredToken(t *testing.T) {
	fx := &gatewayFixture{
		payment: map[string]any{
			"imp_uid": "imp_123",
			"amount":  1000,
			"status":  "paid",
		},
	}
	srv := newGatewayServer(t, fx)

	now := time.Now()
	client, err := NewPortOneClient(PortOneConfig{
		BaseURL:   srv.URL,
		APIKey:    "key",
		APISecret: "secret",
	}, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewPortOneClient: %v", err)
	}

	if _, err := client.LookupPayment(context.Background(), "imp_123"); err != nil {
		t.Fatalf("LookupPayment: %v", err)
	}

	now = now.Add(time.Hour)
	if _, err := client.LookupPayment(context.Background(), "imp_123"); err != nil {
		t.Fatalf("LookupPayment after expiry: %v", err)
	}

	if got := fx.tokenCalls.Load(); got != 2 {
		t.Errorf("token endpoint called %d times, want 2", got)
	}
}

func TestLookupPaymentNotFound(t *testing.T) {
	fx := &gatewayFixture{lookupStatus: http.StatusNotFound}
	srv := newGatewayServer(t, fx)
	client := newTestClient(t, srv.URL)

	_, err := client.LookupPayment(context.Background(), "imp_missing")
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("err = %v, want ErrPaymentNotFound", err)
	}
	if got := fx.lookupCalls.Load(); got != 1 {
		t.Errorf("lookup endpoint called %d times, want 1 (no retry)", got)
	}
}

func TestLookupPaymentRetriesServerErrors(t *testing.T) {
	fx := &gatewayFixture{lookupStatus: http.StatusServiceUnavailable}
	srv := newGatewayServer(t, fx)
	client := newTestClient(t, srv.URL)

	_, err := client.LookupPayment(context.Background(), "imp_123")
	if !errors.Is(err, ErrGatewayLookup) {
		t.Fatalf("err = %v, want ErrGatewayLookup", err)
	}
	if got := fx.lookupCalls.Load(); got != 2 {
		t.Errorf("lookup endpoint called %d times, want 2 (bounded retries)", got)
	}
}

func TestLookupPaymentAuthFailure(t *testing.T) {
	fx := &gatewayFixture{tokenStatus: http.StatusUnauthorized}
	srv := newGatewayServer(t, fx)
	client := newTestClient(t, srv.URL)

	_, err := client.LookupPayment(context.Background(), "imp_123")
	if !errors.Is(err, ErrGatewayAuth) {
		t.Fatalf("err = %v, want ErrGatewayAuth", err)
	}
	if got := fx.lookupCalls.Load(); got != 0 {
		t.Errorf("lookup endpoint called %d times, want 0", got)
	}
}

func TestNewPortOneClientValidation(t *testing.T) {
	if _, err := NewPortOneClient(PortOneConfig{APIKey: "k", APISecret: "s"}); err == nil {
		t.Error("expected error for missing base url")
	}
	if _, err := NewPortOneClient(PortOneConfig{BaseURL: "https://api.iamport.kr"}); err == nil {
		t.Error("expected error for missing credentials")
	}
}
