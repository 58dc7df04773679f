package psp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/sep-payments/internal/apiclient"
	"github.com/josh-kwaku/sep-payments/internal/domain"
	"github.com/josh-kwaku/sep-payments/internal/security"
)

const healthProbeTimeout = 2 * time.Second

type SessionRequest struct {
	MerchantID   string
	Amount       decimal.Decimal
	Currency     string
	STAN         string
	PSPTimestamp time.Time
}

func (r SessionRequest) Canonical() string {
	return security.Canonical(
		r.MerchantID,
		security.FormatAmount(r.Amount),
		r.Currency,
		r.STAN,
		security.FormatTimestamp(r.PSPTimestamp),
	)
}

type SessionResponse struct {
	PaymentID  string
	PaymentURL string
	Status     domain.ResultStatus
	Message    string
}

// Provider is one way of paying through the bank.
type Provider interface {
	Code() domain.PaymentMethod
	Name() string
	Description() string
	Available(ctx context.Context) bool
	CreatePaymentSession(ctx context.Context, req SessionRequest) (*SessionResponse, error)
}

type bankProvider struct {
	method      domain.PaymentMethod
	name        string
	description string
	createPath  string
	probe       bool
	client      *apiclient.Client
	signer      *security.Signer
}

// NewCardProvider redirects the payer to the bank's card form.
func NewCardProvider(client *apiclient.Client, signer *security.Signer) Provider {
	return &bankProvider{
		method:      domain.PaymentMethodCard,
		name:        "Credit/Debit Card",
		description: "Pay securely with Visa, Mastercard, Amex or DinaCard",
		createPath:  "/api/payment/create",
		probe:       true,
		client:      client,
		signer:      signer,
	}
}

// NewQRProvider issues an IPS QR code the payer scans in their banking app.
func NewQRProvider(client *apiclient.Client, signer *security.Signer) Provider {
	return &bankProvider{
		method:      domain.PaymentMethodQR,
		name:        "IPS QR Code",
		description: "Scan the QR code with your mobile banking app",
		createPath:  "/api/qr/create",
		client:      client,
		signer:      signer,
	}
}

func (p *bankProvider) Code() domain.PaymentMethod { return p.method }
func (p *bankProvider) Name() string               { return p.name }
func (p *bankProvider) Description() string        { return p.description }

func (p *bankProvider) Available(ctx context.Context) bool {
	if !p.probe {
		return true
	}
	return p.client.Probe(ctx, "/api/health", healthProbeTimeout)
}

type bankCreateRequest struct {
	MerchantID   string          `json:"merchant_id"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	STAN         string          `json:"stan"`
	PSPTimestamp time.Time       `json:"psp_timestamp"`
}

type bankCreateResponse struct {
	PaymentID  string `json:"payment_id"`
	PaymentURL string `json:"payment_url"`
	Status     string `json:"status"`
}

func (p *bankProvider) CreatePaymentSession(ctx context.Context, req SessionRequest) (*SessionResponse, error) {
	body := bankCreateRequest{
		MerchantID:   req.MerchantID,
		Amount:       req.Amount,
		Currency:     req.Currency,
		STAN:         req.STAN,
		PSPTimestamp: req.PSPTimestamp,
	}
	headers := map[string]string{security.HeaderPSPSignature: p.signer.Sign(req.Canonical())}

	resp, err := apiclient.Do[bankCreateResponse](ctx, p.client, http.MethodPost, p.createPath, body, headers)
	if err != nil {
		return nil, fmt.Errorf("CreatePaymentSession: %s: %w", p.method, err)
	}
	if resp.PaymentID == "" || resp.PaymentURL == "" {
		return nil, fmt.Errorf("CreatePaymentSession: %s: empty payment reference: %w", p.method, domain.ErrUpstream)
	}
	return &SessionResponse{
		PaymentID:  resp.PaymentID,
		PaymentURL: resp.PaymentURL,
		Status:     domain.ResultSuccess,
		Message:    "Payment session created",
	}, nil
}

// Registry looks providers up by payment method.
type Registry struct {
	providers map[domain.PaymentMethod]Provider
	order     []domain.PaymentMethod
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[domain.PaymentMethod]Provider, len(providers))}
	for _, p := range providers {
		if _, dup := r.providers[p.Code()]; !dup {
			r.order = append(r.order, p.Code())
		}
		r.providers[p.Code()] = p
	}
	return r
}

func (r *Registry) Get(method domain.PaymentMethod) (Provider, error) {
	p, ok := r.providers[method]
	if !ok {
		return nil, fmt.Errorf("Get: %q: %w", method, domain.ErrUnknownPaymentMethod)
	}
	return p, nil
}

// Available lists providers that currently accept payments, in registration order.
func (r *Registry) Available(ctx context.Context) []Provider {
	var out []Provider
	for _, m := range r.order {
		if p := r.providers[m]; p.Available(ctx) {
			out = append(out, p)
		}
	}
	return out
}
