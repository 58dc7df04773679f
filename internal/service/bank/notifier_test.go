package bank

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/sep-payments/internal/apiclient"
	"github.com/josh-kwaku/sep-payments/internal/domain"
	"github.com/josh-kwaku/sep-payments/internal/security"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPSPNotifier_SignsAndReturnsRedirect(t *testing.T) {
	signer := security.NewSigner(testHMACSecret)
	acquired := time.Date(2026, 3, 1, 10, 0, 0, 123456000, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pspCallbackPath, r.URL.Path)

		var body callbackPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "PSP-NOTIFY01", body.STAN)
		assert.Equal(t, "SUCCESS", body.Status)

		canonical := CallbackCanonical(body.STAN, domain.ResultStatus(body.Status), body.GlobalTransactionID, body.AcquirerTimestamp)
		assert.True(t, signer.Verify(canonical, r.Header.Get(security.HeaderBankSignature)))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"redirect_url":"http://shop/ok"},"error":null}`))
	}))
	defer srv.Close()

	n := NewPSPNotifier(apiclient.New(srv.URL, "psp", time.Second, nil), signer)
	redirect := n.Notify(context.Background(), &domain.BankTransaction{
		PaymentID:           "PAY-1",
		STAN:                "PSP-NOTIFY01",
		GlobalTransactionID: "GTX-1",
		AcquirerTimestamp:   acquired,
	}, domain.ResultSuccess)

	assert.Equal(t, "http://shop/ok", redirect)
}

func TestPSPNotifier_FailureYieldsEmptyRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewPSPNotifier(apiclient.New(srv.URL, "psp", time.Second, nil), security.NewSigner("s"))
	redirect := n.Notify(context.Background(), &domain.BankTransaction{STAN: "X"}, domain.ResultFailed)
	assert.Empty(t, redirect)
}
