package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/googleapis/gax-go/v2"
)

const (
	tokenPath   = "/users/getToken"
	paymentPath = "/payments/"

	// tokenExpirySkew forces a refresh slightly before the gateway invalidates the token.
	tokenExpirySkew = 60 * time.Second

	defaultLookupTimeout = 10 * time.Second
	defaultMaxAttempts   = 3
)

// PortOneConfig bundles the settings required to talk to the PortOne-compatible gateway.
type PortOneConfig struct {
	BaseURL     string
	APIKey      string
	APISecret   string
	Timeout     time.Duration
	MaxAttempts int
}

// PortOneClient implements Gateway against the PortOne REST API. Access tokens
// are cached and refreshed ahead of expiry; transient lookup failures are
// retried with exponential backoff.
type PortOneClient struct {
	baseURL     string
	apiKey      string
	apiSecret   string
	httpClient  *http.Client
	maxAttempts int
	clock       func() time.Time

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

// PortOneOption customises PortOneClient construction.
type PortOneOption func(*PortOneClient)

// WithHTTPClient overrides the HTTP client, primarily for tests.
func WithHTTPClient(client *http.Client) PortOneOption {
	return func(c *PortOneClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithClock overrides the time source used for token expiry checks.
func WithClock(clock func() time.Time) PortOneOption {
	return func(c *PortOneClient) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewPortOneClient constructs a gateway client from the supplied configuration.
func NewPortOneClient(cfg PortOneConfig, opts ...PortOneOption) (*PortOneClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("payments: gateway base url is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.APISecret) == "" {
		return nil, errors.New("payments: gateway credentials are required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	client := &PortOneClient{
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		apiSecret:   strings.TrimSpace(cfg.APISecret),
		httpClient:  &http.Client{Timeout: timeout},
		maxAttempts: attempts,
		clock:       time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

type tokenRequest struct {
	ImpKey    string `json:"imp_key"`
	ImpSecret string `json:"imp_secret"`
}

type tokenResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Response *struct {
		AccessToken string `json:"access_token"`
		ExpiredAt   int64  `json:"expired_at"`
	} `json:"response"`
}

type paymentResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Response *struct {
		ImpUID      string `json:"imp_uid"`
		MerchantUID string `json:"merchant_uid"`
		Amount      int64  `json:"amount"`
		Status      string `json:"status"`
		PayMethod   string `json:"pay_method"`
		PaidAt      int64  `json:"paid_at"`
	} `json:"response"`
}

// LookupPayment fetches the authoritative payment record for the transaction id.
func (c *PortOneClient) LookupPayment(ctx context.Context, transactionID string) (PaymentDetails, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return PaymentDetails{}, fmt.Errorf("%w: transaction id is required", ErrGatewayLookup)
	}

	backoff := gax.Backoff{
		Initial:    200 * time.Millisecond,
		Max:        2 * time.Second,
		Multiplier: 2,
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := gax.Sleep(ctx, backoff.Pause()); err != nil {
				return PaymentDetails{}, fmt.Errorf("%w: %v", ErrGatewayLookup, err)
			}
		}

		details, err := c.lookupOnce(ctx, transactionID)
		if err == nil {
			return details, nil
		}
		lastErr = err

		// Only transient failures are worth retrying; auth rejections and
		// missing payments will not heal on their own.
		if !isTransient(err) {
			return PaymentDetails{}, err
		}
	}

	return PaymentDetails{}, lastErr
}

func (c *PortOneClient) lookupOnce(ctx context.Context, transactionID string) (PaymentDetails, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return PaymentDetails{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+paymentPath+transactionID, nil)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("%w: %v", ErrGatewayLookup, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return PaymentDetails{}, transientError(fmt.Errorf("%w: %v", ErrGatewayLookup, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return PaymentDetails{}, transientError(fmt.Errorf("%w: read response: %v", ErrGatewayLookup, err))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.invalidateToken()
		return PaymentDetails{}, transientError(fmt.Errorf("%w: token rejected", ErrGatewayAuth))
	case resp.StatusCode == http.StatusNotFound:
		return PaymentDetails{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, transactionID)
	case resp.StatusCode >= http.StatusInternalServerError:
		return PaymentDetails{}, transientError(fmt.Errorf("%w: gateway returned %d", ErrGatewayLookup, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return PaymentDetails{}, fmt.Errorf("%w: gateway returned %d", ErrGatewayLookup, resp.StatusCode)
	}

	var payload paymentResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return PaymentDetails{}, fmt.Errorf("%w: decode response: %v", ErrGatewayLookup, err)
	}
	if payload.Code != 0 || payload.Response == nil {
		return PaymentDetails{}, fmt.Errorf("%w: %s", ErrGatewayLookup, payload.Message)
	}

	details := PaymentDetails{
		TransactionID: strings.TrimSpace(payload.Response.ImpUID),
		MerchantUID:   strings.TrimSpace(payload.Response.MerchantUID),
		Status:        normaliseStatus(payload.Response.Status),
		Amount:        payload.Response.Amount,
		PayMethod:     strings.TrimSpace(payload.Response.PayMethod),
	}
	if payload.Response.PaidAt > 0 {
		paidAt := time.Unix(payload.Response.PaidAt, 0).UTC()
		details.PaidAt = &paidAt
	}
	return details, nil
}

func (c *PortOneClient) accessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	now := c.clock()
	if c.token != "" && now.Add(tokenExpirySkew).Before(c.tokenExpiry) {
		return c.token, nil
	}

	payload, err := json.Marshal(tokenRequest{ImpKey: c.apiKey, ImpSecret: c.apiSecret})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayAuth, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayAuth, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", transientError(fmt.Errorf("%w: %v", ErrGatewayAuth, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", transientError(fmt.Errorf("%w: read response: %v", ErrGatewayAuth, err))
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", transientError(fmt.Errorf("%w: gateway returned %d", ErrGatewayAuth, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: gateway returned %d", ErrGatewayAuth, resp.StatusCode)
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrGatewayAuth, err)
	}
	if token.Code != 0 || token.Response == nil || strings.TrimSpace(token.Response.AccessToken) == "" {
		return "", fmt.Errorf("%w: %s", ErrGatewayAuth, token.Message)
	}

	c.token = strings.TrimSpace(token.Response.AccessToken)
	c.tokenExpiry = time.Unix(token.Response.ExpiredAt, 0)
	return c.token, nil
}

func (c *PortOneClient) invalidateToken() {
	c.tokenMu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.tokenMu.Unlock()
}

func normaliseStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "paid":
		return StatusPaid
	case "ready":
		return StatusReady
	case "failed":
		return StatusFailed
	case "cancelled", "canceled":
		return StatusCancelled
	default:
		return Status(strings.ToLower(strings.TrimSpace(raw)))
	}
}

type transientErr struct {
	err error
}

func (e *transientErr) Error() string { return e.err.Error() }

func (e *transientErr) Unwrap() error { return e.err }

func transientError(err error) error {
	return &transientErr{err: err}
}

func isTransient(err error) bool {
	var t *transientErr
	return errors.As(err, &t)
}

var _ Gateway = (*PortOneClient)(nil)
