package server_test

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/sep-payments/internal/apiclient"
	"github.com/josh-kwaku/sep-payments/internal/card"
	"github.com/josh-kwaku/sep-payments/internal/domain"
	"github.com/josh-kwaku/sep-payments/internal/handler"
	"github.com/josh-kwaku/sep-payments/internal/metrics"
	"github.com/josh-kwaku/sep-payments/internal/repository"
	"github.com/josh-kwaku/sep-payments/internal/security"
	"github.com/josh-kwaku/sep-payments/internal/server"
	"github.com/josh-kwaku/sep-payments/internal/service/bank"
	"github.com/josh-kwaku/sep-payments/internal/service/psp"
	"github.com/josh-kwaku/sep-payments/internal/service/webshop"
	"github.com/josh-kwaku/sep-payments/internal/testutil"
)

const (
	bankPSPSecret  = "bank-psp-secret"
	shopSecret     = "shop-callback-secret"
	merchantPass   = "merchant-pass"
	jwtSecret      = "jwt-secret"
	acquirerID     = "PSP-MERCHANT-001"
	shopFrontend   = "http://shop.test"
	bankFrontend   = "http://bank.test"
	merchantNumber = "840000000095584510"
)

// swappable lets the three servers exist before their handlers are built,
// since each service needs the others' URLs.
type swappable struct{ h http.Handler }

func (s *swappable) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.h.ServeHTTP(w, r) }

type ecosystem struct {
	db       *sql.DB
	bank     *httptest.Server
	psp      *httptest.Server
	shop     *httptest.Server
	merchant *domain.BankAccount
}

func startEcosystem(t *testing.T) *ecosystem {
	t.Helper()
	db := testutil.SetupTestDB(t)

	bankH, pspH, shopH := &swappable{}, &swappable{}, &swappable{}
	e := &ecosystem{
		db:   db,
		bank: httptest.NewServer(bankH),
		psp:  httptest.NewServer(pspH),
		shop: httptest.NewServer(shopH),
	}
	t.Cleanup(e.bank.Close)
	t.Cleanup(e.psp.Close)
	t.Cleanup(e.shop.Close)

	bankSigner := security.NewSigner(bankPSPSecret)

	bm := metrics.New("bank")
	bankSvc := bank.NewService(
		repository.NewTransactionRepository(db),
		repository.NewAccountRepository(db),
		repository.NewLedgerRepository(db),
		repository.NewAuditRepository(db),
		card.NewVault(repository.NewCardRepository(db)),
		bank.NewPSPNotifier(apiclient.New(e.psp.URL, "psp", 2*apiclient.DefaultTimeout, bm), bankSigner),
		bankSigner,
		db,
		bm,
		bank.Config{
			AcquirerMerchantID: acquirerID,
			FrontendURL:        bankFrontend,
			PaymentTTL:         10 * time.Minute,
			QRMerchantAccount:  merchantNumber,
			QRMerchantName:     "Car Rental Agency",
		},
	)
	bankMux := server.NewMux(handler.NewHealthHandler(db, "bank"), bm)
	server.RegisterBank(bankMux, handler.NewBankHandler(bankSvc))
	bankH.h = server.Handler("bank", bankMux, bm)

	pm := metrics.New("psp")
	bankClient := apiclient.New(e.bank.URL, "bank", apiclient.DefaultTimeout, pm)
	pspSvc := psp.NewService(
		repository.NewSessionRepository(db),
		repository.NewMerchantRepository(db),
		psp.NewRegistry(psp.NewCardProvider(bankClient, bankSigner), psp.NewQRProvider(bankClient, bankSigner)),
		psp.NewMerchantNotifier(apiclient.New("", "merchant", apiclient.DefaultTimeout, pm)),
		bankSigner,
		pm,
		psp.Config{BankMerchantID: acquirerID, SessionTTL: 15 * time.Minute},
	)
	pspMux := server.NewMux(handler.NewHealthHandler(db, "psp"), pm)
	server.RegisterPSP(pspMux, handler.NewPSPHandler(pspSvc))
	pspH.h = server.Handler("psp", pspMux, pm)

	sm := metrics.New("webshop")
	orderSvc := webshop.NewOrderService(
		repository.NewOrderRepository(db),
		repository.NewVehicleRepository(db),
		webshop.NewPSPClient(apiclient.New(e.psp.URL, "psp", 2*apiclient.DefaultTimeout, sm), "WEBSHOP-001", merchantPass),
		security.NewSigner(shopSecret),
		sm,
		webshop.Config{BaseURL: e.shop.URL, FrontendURL: shopFrontend},
	)
	shopMux := server.NewMux(handler.NewHealthHandler(db, "webshop"), sm)
	server.RegisterWebshop(shopMux, server.WebshopRoutes{
		Shop:           handler.NewWebshopHandler(orderSvc),
		Auth:           handler.NewAuthHandler(repository.NewUserRepository(db), jwtSecret, time.Hour),
		JWTSecret:      jwtSecret,
		Idempotency:    repository.NewIdempotencyRepository(db),
		IdempotencyTTL: time.Hour,
	})
	shopH.h = server.Handler("webshop", shopMux, sm)

	testutil.SeedMerchant(t, db, "WEBSHOP-001", merchantPass, shopSecret)
	e.merchant = testutil.SeedBankAccount(t, db, merchantNumber, "Car Rental Agency", "0.00")
	return e
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string          `json:"code"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func call(t *testing.T, method, url, token string, body any) (int, envelope) {
	t.Helper()
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return send(t, method, url, header, body)
}

// callSigned posts body with a signature header, the way the bank and the
// PSP deliver callbacks.
func callSigned(t *testing.T, url, header, signature string, body any) (int, envelope) {
	t.Helper()
	h := http.Header{}
	h.Set(header, signature)
	return send(t, http.MethodPost, url, h, body)
}

func send(t *testing.T, method, url string, header http.Header, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header = header
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

// orderAndPay logs in, books three days of a 5000/day vehicle and starts a
// payment with method. It returns the merchant order id, the order id and
// the bank payment id.
func orderAndPay(t *testing.T, e *ecosystem, email, method string) (string, string, string) {
	t.Helper()
	vehicle := testutil.SeedVehicle(t, e.db, "Toyota", "Camry", "5000", true)
	testutil.SeedUser(t, e.db, email, "Test", "User")

	status, env := call(t, http.MethodPost, e.shop.URL+"/api/auth/login", "",
		map[string]string{"email": email, "password": testutil.TestPassword})
	require.Equal(t, http.StatusOK, status)
	token := decode[struct {
		Token string `json:"token"`
	}](t, env.Data).Token

	status, env = call(t, http.MethodPost, e.shop.URL+"/api/orders", token, map[string]string{
		"vehicle_id":   vehicle.ID.String(),
		"rental_start": "2026-11-01",
		"rental_end":   "2026-11-04",
	})
	require.Equal(t, http.StatusCreated, status)
	order := decode[struct {
		ID              string          `json:"id"`
		MerchantOrderID string          `json:"merchant_order_id"`
		TotalPrice      decimal.Decimal `json:"total_price"`
	}](t, env.Data)
	require.True(t, order.TotalPrice.Equal(decimal.NewFromInt(15000)))

	status, env = call(t, http.MethodPost, e.shop.URL+"/api/orders/"+order.ID+"/pay", token,
		map[string]string{"payment_method": method})
	require.Equal(t, http.StatusOK, status, "pay: %+v", env.Error)
	pay := decode[struct {
		PaymentID  string `json:"payment_id"`
		PaymentURL string `json:"payment_url"`
	}](t, env.Data)
	require.True(t, strings.HasPrefix(pay.PaymentID, "PAY-"), pay.PaymentID)
	if method == "QR" {
		assert.Equal(t, bankFrontend+"/qr-payment/"+pay.PaymentID, pay.PaymentURL)
	} else {
		assert.Equal(t, bankFrontend+"/payment/"+pay.PaymentID, pay.PaymentURL)
	}

	return order.MerchantOrderID, order.ID, pay.PaymentID
}

func orderStatus(t *testing.T, db *sql.DB, moid string) domain.OrderStatus {
	t.Helper()
	var s string
	require.NoError(t, db.QueryRow(`SELECT status FROM rental_orders WHERE merchant_order_id = $1`, moid).Scan(&s))
	return domain.OrderStatus(s)
}

func sessionFor(t *testing.T, db *sql.DB, moid string) (stan string, status domain.SessionStatus) {
	t.Helper()
	var s string
	require.NoError(t, db.QueryRow(`SELECT stan, status FROM payment_sessions WHERE merchant_order_id = $1`, moid).Scan(&stan, &s))
	return stan, domain.SessionStatus(s)
}

func TestCardPaymentAcrossServices(t *testing.T) {
	e := startEcosystem(t)
	payer := testutil.SeedBankAccount(t, e.db, "1234567890", "Marko Marković", "500000.00")
	testutil.SeedCard(t, e.db, payer.ID, "4532015112830366", "Marko Marković", 2030, 12)

	moid, _, paymentID := orderAndPay(t, e, "marko@example.com", "CARD")
	assert.Equal(t, domain.OrderStatusProcessing, orderStatus(t, e.db, moid))

	status, env := call(t, http.MethodPost, e.bank.URL+"/api/payment/process", "", map[string]string{
		"payment_id":       paymentID,
		"pan":              "4532 0151 1283 0366",
		"card_holder_name": "marko marković",
		"expiry_date":      "12/30",
		"cvv":              "123",
	})
	require.Equal(t, http.StatusOK, status, "process: %+v", env.Error)
	out := decode[struct {
		Status      string `json:"status"`
		RedirectURL string `json:"redirect_url"`
	}](t, env.Data)
	assert.Equal(t, "SUCCESS", out.Status)
	assert.True(t, strings.HasPrefix(out.RedirectURL, shopFrontend+"/payment/success?"), out.RedirectURL)
	assert.Contains(t, out.RedirectURL, "paymentId="+moid)
	assert.Contains(t, out.RedirectURL, "gtx=GTX-")

	assert.Equal(t, domain.OrderStatusPaid, orderStatus(t, e.db, moid))
	assert.Equal(t, domain.TransactionStatusReserved, testutil.TransactionStatus(t, e.db, paymentID))
	assert.True(t, testutil.GetAccountBalance(t, e.db, payer.ID).Equal(decimal.RequireFromString("485000.00")))

	_, sessionStatus := sessionFor(t, e.db, moid)
	assert.Equal(t, domain.SessionStatusSuccess, sessionStatus)

	status, env = call(t, http.MethodPost, e.bank.URL+"/api/payment/process", "", map[string]string{
		"payment_id":       paymentID,
		"pan":              "4532015112830366",
		"card_holder_name": "Marko Marković",
		"expiry_date":      "12/30",
		"cvv":              "123",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ALREADY_PROCESSED", env.Error.Code)
	assert.True(t, testutil.GetAccountBalance(t, e.db, payer.ID).Equal(decimal.RequireFromString("485000.00")))
}

func TestCardPaymentAcrossServices_InsufficientFunds(t *testing.T) {
	e := startEcosystem(t)
	payer := testutil.SeedBankAccount(t, e.db, "9876543210", "Ana Anić", "5000.00")
	testutil.SeedCard(t, e.db, payer.ID, "5425233430109903", "Ana Anić", 2030, 6)

	moid, _, paymentID := orderAndPay(t, e, "ana@example.com", "CARD")

	status, env := call(t, http.MethodPost, e.bank.URL+"/api/payment/process", "", map[string]string{
		"payment_id":       paymentID,
		"pan":              "5425233430109903",
		"card_holder_name": "Ana Anić",
		"expiry_date":      "06/30",
		"cvv":              "456",
	})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.NotNil(t, env.Error)
	details := decode[struct {
		Status      string `json:"status"`
		RedirectURL string `json:"redirect_url"`
	}](t, env.Error.Details)
	assert.Equal(t, "FAILED", details.Status)
	assert.Equal(t, shopFrontend+"/payment/failed?paymentId="+moid, details.RedirectURL)

	assert.Equal(t, domain.OrderStatusFailed, orderStatus(t, e.db, moid))
	assert.Equal(t, domain.TransactionStatusFailed, testutil.TransactionStatus(t, e.db, paymentID))
	assert.True(t, testutil.GetAccountBalance(t, e.db, payer.ID).Equal(decimal.RequireFromString("5000.00")))
}

func TestCardPaymentAcrossServices_ExpiredWindow(t *testing.T) {
	e := startEcosystem(t)
	payer := testutil.SeedBankAccount(t, e.db, "1234567890", "Marko Marković", "500000.00")
	testutil.SeedCard(t, e.db, payer.ID, "4532015112830366", "Marko Marković", 2030, 12)

	moid, _, paymentID := orderAndPay(t, e, "late@example.com", "CARD")
	testutil.BackdateTransaction(t, e.db, paymentID, 11*time.Minute)

	status, env := call(t, http.MethodPost, e.bank.URL+"/api/payment/process", "", map[string]string{
		"payment_id":       paymentID,
		"pan":              "4532015112830366",
		"card_holder_name": "Marko Marković",
		"expiry_date":      "12/30",
		"cvv":              "123",
	})
	require.Equal(t, http.StatusGone, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "PAYMENT_EXPIRED", env.Error.Code)
	details := decode[struct {
		Status      string `json:"status"`
		RedirectURL string `json:"redirect_url"`
	}](t, env.Error.Details)
	assert.Equal(t, "FAILED", details.Status)
	assert.Equal(t, shopFrontend+"/payment/failed?paymentId="+moid, details.RedirectURL)

	assert.Equal(t, domain.TransactionStatusExpired, testutil.TransactionStatus(t, e.db, paymentID))
	_, sessionStatus := sessionFor(t, e.db, moid)
	assert.Equal(t, domain.SessionStatusFailed, sessionStatus)
	assert.Equal(t, domain.OrderStatusFailed, orderStatus(t, e.db, moid))
	assert.True(t, testutil.GetAccountBalance(t, e.db, payer.ID).Equal(decimal.RequireFromString("500000.00")))
}

func TestQRPaymentAcrossServices(t *testing.T) {
	e := startEcosystem(t)
	payer := testutil.SeedBankAccount(t, e.db, "1234567890", "Marko Marković", "500000.00")

	moid, _, paymentID := orderAndPay(t, e, "qr@example.com", "QR")
	assert.Equal(t, domain.OrderStatusProcessing, orderStatus(t, e.db, moid))

	status, env := call(t, http.MethodGet, e.bank.URL+"/api/qr/"+paymentID, "", nil)
	require.Equal(t, http.StatusOK, status, "qr: %+v", env.Error)
	qr := decode[struct {
		QRPayload    string          `json:"qr_payload"`
		QRCodeBase64 string          `json:"qr_code_base64"`
		Amount       decimal.Decimal `json:"amount"`
		Status       string          `json:"status"`
	}](t, env.Data)
	assert.True(t, qr.Amount.Equal(decimal.NewFromInt(15000)))
	assert.Equal(t, "PENDING", qr.Status)
	assert.NotEmpty(t, qr.QRCodeBase64)
	assert.Contains(t, qr.QRPayload, "R:"+merchantNumber)

	status, env = call(t, http.MethodPost, e.bank.URL+"/api/qr/validate", "", map[string]string{"qr_payload": qr.QRPayload})
	require.Equal(t, http.StatusOK, status)
	check := decode[struct {
		Valid  bool              `json:"valid"`
		Errors []string          `json:"errors"`
		Fields map[string]string `json:"parsed_data"`
	}](t, env.Data)
	assert.True(t, check.Valid, check.Errors)
	assert.Empty(t, check.Errors)
	assert.Equal(t, "RSD15000,00", check.Fields["I"])

	status, env = call(t, http.MethodPost, e.bank.URL+"/api/qr/confirm", "", map[string]string{
		"payment_id":           paymentID,
		"payer_account_number": "1234567890",
		"qr_payload":           qr.QRPayload,
	})
	require.Equal(t, http.StatusOK, status, "confirm: %+v", env.Error)
	out := decode[struct {
		Status      string `json:"status"`
		RedirectURL string `json:"redirect_url"`
	}](t, env.Data)
	assert.Equal(t, "SUCCESS", out.Status)
	assert.True(t, strings.HasPrefix(out.RedirectURL, shopFrontend+"/payment/success?"), out.RedirectURL)

	assert.Equal(t, domain.TransactionStatusCompleted, testutil.TransactionStatus(t, e.db, paymentID))
	_, sessionStatus := sessionFor(t, e.db, moid)
	assert.Equal(t, domain.SessionStatusSuccess, sessionStatus)
	assert.Equal(t, domain.OrderStatusPaid, orderStatus(t, e.db, moid))
	assert.True(t, testutil.GetAccountBalance(t, e.db, payer.ID).Equal(decimal.RequireFromString("485000.00")))
	assert.True(t, testutil.GetAccountBalance(t, e.db, e.merchant.ID).Equal(decimal.RequireFromString("15000.00")))
}

func TestCallbacksRejectBadSignatures(t *testing.T) {
	e := startEcosystem(t)
	moid, _, _ := orderAndPay(t, e, "forger@example.com", "CARD")
	stan, _ := sessionFor(t, e.db, moid)

	acquired := time.Now().UTC().Truncate(time.Microsecond)
	bankCallback := map[string]any{
		"stan":                  stan,
		"global_transaction_id": "GTX-FORGED",
		"acquirer_timestamp":    acquired,
		"status":                "SUCCESS",
	}
	forged := security.NewSigner("not-the-bank").Sign(bank.CallbackCanonical(stan, domain.ResultSuccess, "GTX-FORGED", acquired))
	status, env := callSigned(t, e.psp.URL+"/api/payment/callback", security.HeaderBankSignature, forged, bankCallback)
	assert.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_SIGNATURE", env.Error.Code)

	status, _ = callSigned(t, e.psp.URL+"/api/payment/callback", security.HeaderBankSignature, "", bankCallback)
	assert.Equal(t, http.StatusUnauthorized, status)

	notification := map[string]any{
		"merchant_order_id":     moid,
		"stan":                  stan,
		"global_transaction_id": "GTX-FORGED",
		"status":                "SUCCESS",
		"amount":                decimal.NewFromInt(15000),
		"currency":              domain.CurrencyRSD,
	}
	forged = security.NewSigner(bankPSPSecret).Sign(psp.NotificationCanonical(moid, domain.SessionStatusSuccess, decimal.NewFromInt(15000), domain.CurrencyRSD))
	status, env = callSigned(t, e.shop.URL+"/api/payment/callback/success", security.HeaderPSPSignature, forged, notification)
	assert.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_SIGNATURE", env.Error.Code)

	_, sessionStatus := sessionFor(t, e.db, moid)
	assert.Equal(t, domain.SessionStatusInitialized, sessionStatus)
	assert.Equal(t, domain.OrderStatusProcessing, orderStatus(t, e.db, moid))

	genuine := security.NewSigner(bankPSPSecret).Sign(bank.CallbackCanonical(stan, domain.ResultSuccess, "GTX-FORGED", acquired))
	status, env = callSigned(t, e.psp.URL+"/api/payment/callback", security.HeaderBankSignature, genuine, bankCallback)
	require.Equal(t, http.StatusOK, status, "callback: %+v", env.Error)
	assert.Equal(t, domain.OrderStatusPaid, orderStatus(t, e.db, moid))
}
