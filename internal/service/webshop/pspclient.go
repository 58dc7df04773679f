package webshop

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/sep-payments/internal/apiclient"
	"github.com/josh-kwaku/sep-payments/internal/domain"
)

// PSPClient talks to the PSP on behalf of this merchant.
type PSPClient struct {
	client     *apiclient.Client
	merchantID string
	password   string
}

func NewPSPClient(client *apiclient.Client, merchantID, password string) *PSPClient {
	return &PSPClient{client: client, merchantID: merchantID, password: password}
}

type SessionRequest struct {
	MerchantOrderID string
	Amount          decimal.Decimal
	Currency        string
	PaymentMethod   string
	SuccessURL      string
	FailedURL       string
	ErrorURL        string
}

type Session struct {
	PaymentID  string `json:"payment_id"`
	PaymentURL string `json:"payment_url"`
	STAN       string `json:"stan"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

type RemoteStatus struct {
	STAN                string          `json:"stan"`
	MerchantOrderID     string          `json:"merchant_order_id"`
	Status              string          `json:"status"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	GlobalTransactionID *string         `json:"global_transaction_id"`
	PaymentMethod       string          `json:"payment_method"`
}

type initializeBody struct {
	MerchantID        string          `json:"merchant_id"`
	MerchantPassword  string          `json:"merchant_password"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	MerchantOrderID   string          `json:"merchant_order_id"`
	MerchantTimestamp time.Time       `json:"merchant_timestamp"`
	SuccessURL        string          `json:"success_url"`
	FailedURL         string          `json:"failed_url"`
	ErrorURL          string          `json:"error_url"`
	PaymentMethod     string          `json:"payment_method,omitempty"`
}

func (c *PSPClient) Initialize(ctx context.Context, req SessionRequest) (*Session, error) {
	body := initializeBody{
		MerchantID:        c.merchantID,
		MerchantPassword:  c.password,
		Amount:            req.Amount,
		Currency:          req.Currency,
		MerchantOrderID:   req.MerchantOrderID,
		MerchantTimestamp: time.Now().UTC(),
		SuccessURL:        req.SuccessURL,
		FailedURL:         req.FailedURL,
		ErrorURL:          req.ErrorURL,
		PaymentMethod:     req.PaymentMethod,
	}
	s, err := apiclient.Do[Session](ctx, c.client, http.MethodPost, "/api/payment/initialize", body, nil)
	if err != nil {
		return nil, fmt.Errorf("Initialize: %w", remoteError(err))
	}
	return s, nil
}

func (c *PSPClient) StatusByOrder(ctx context.Context, merchantOrderID string) (*RemoteStatus, error) {
	path := "/api/payment/status/order/" + url.PathEscape(merchantOrderID)
	s, err := apiclient.Do[RemoteStatus](ctx, c.client, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("StatusByOrder: %w", remoteError(err))
	}
	return s, nil
}

// remoteError surfaces PSP rejections the shopper can act on. Everything else
// stays an upstream failure.
func remoteError(err error) error {
	var remote *apiclient.Error
	if !errors.As(err, &remote) {
		return err
	}
	switch remote.Code {
	case "UNKNOWN_PAYMENT_METHOD":
		return fmt.Errorf("%w: %v", domain.ErrUnknownPaymentMethod, err)
	case "PROVIDER_UNAVAILABLE":
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	if remote.Status == http.StatusNotFound {
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	}
	return err
}
