package psp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/sep-payments/internal/apiclient"
	"github.com/josh-kwaku/sep-payments/internal/domain"
	"github.com/josh-kwaku/sep-payments/internal/security"
)

func fakeBank(t *testing.T, healthy bool) (*httptest.Server, *[]string) {
	t.Helper()
	var paths []string
	signer := security.NewSigner(testBankSecret)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	})
	create := func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		var body bankCreateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		req := SessionRequest{
			MerchantID:   body.MerchantID,
			Amount:       body.Amount,
			Currency:     body.Currency,
			STAN:         body.STAN,
			PSPTimestamp: body.PSPTimestamp,
		}
		if !signer.Verify(req.Canonical(), r.Header.Get(security.HeaderPSPSignature)) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"success":false,"error":{"code":"INVALID_SIGNATURE","message":"bad"}}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"success":true,"data":{"payment_id":"PAY-1","payment_url":"http://bank.test/payment/PAY-1","status":"SUCCESS"}}`))
	}
	mux.HandleFunc("POST /api/payment/create", create)
	mux.HandleFunc("POST /api/qr/create", create)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &paths
}

func sessionRequest() SessionRequest {
	return SessionRequest{
		MerchantID:   "PSP-MERCHANT-001",
		Amount:       decimal.RequireFromString("15000"),
		Currency:     domain.CurrencyRSD,
		STAN:         "PSP-0000ABCD",
		PSPTimestamp: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestBankProvider_CreatePaymentSession(t *testing.T) {
	srv, paths := fakeBank(t, true)
	client := apiclient.New(srv.URL, "bank", apiclient.DefaultTimeout, nil)
	signer := security.NewSigner(testBankSecret)

	cardProvider := NewCardProvider(client, signer)
	res, err := cardProvider.CreatePaymentSession(context.Background(), sessionRequest())
	require.NoError(t, err)
	assert.Equal(t, "PAY-1", res.PaymentID)
	assert.Equal(t, domain.ResultSuccess, res.Status)

	_, err = NewQRProvider(client, signer).CreatePaymentSession(context.Background(), sessionRequest())
	require.NoError(t, err)

	assert.Equal(t, []string{"/api/payment/create", "/api/qr/create"}, *paths)
}

func TestBankProvider_WrongSecret(t *testing.T) {
	srv, _ := fakeBank(t, true)
	client := apiclient.New(srv.URL, "bank", apiclient.DefaultTimeout, nil)

	_, err := NewCardProvider(client, security.NewSigner("other")).CreatePaymentSession(context.Background(), sessionRequest())
	assert.ErrorIs(t, err, domain.ErrUpstream)
}

func TestBankProvider_Available(t *testing.T) {
	up, _ := fakeBank(t, true)
	down, _ := fakeBank(t, false)
	signer := security.NewSigner(testBankSecret)

	upClient := apiclient.New(up.URL, "bank", apiclient.DefaultTimeout, nil)
	downClient := apiclient.New(down.URL, "bank", apiclient.DefaultTimeout, nil)

	assert.True(t, NewCardProvider(upClient, signer).Available(context.Background()))
	assert.False(t, NewCardProvider(downClient, signer).Available(context.Background()))
	assert.True(t, NewQRProvider(downClient, signer).Available(context.Background()), "qr skips the probe")
}

func TestRegistry(t *testing.T) {
	card := &stubProvider{method: domain.PaymentMethodCard, available: false}
	qr := &stubProvider{method: domain.PaymentMethodQR, available: true}
	r := NewRegistry(card, qr)

	got, err := r.Get(domain.PaymentMethodQR)
	require.NoError(t, err)
	assert.Same(t, qr, got)

	_, err = r.Get("CRYPTO")
	assert.ErrorIs(t, err, domain.ErrUnknownPaymentMethod)

	available := r.Available(context.Background())
	require.Len(t, available, 1)
	assert.Equal(t, domain.PaymentMethodQR, available[0].Code())
}
