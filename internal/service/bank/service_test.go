package bank

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/sep-payments/internal/card"
	"github.com/josh-kwaku/sep-payments/internal/domain"
	"github.com/josh-kwaku/sep-payments/internal/ipsqr"
	"github.com/josh-kwaku/sep-payments/internal/lock"
	"github.com/josh-kwaku/sep-payments/internal/repository"
	"github.com/josh-kwaku/sep-payments/internal/security"
	"github.com/josh-kwaku/sep-payments/internal/testutil"
)

const (
	testHMACSecret   = "bank-psp-test-secret"
	testMerchantID   = "PSP-MERCHANT-001"
	testMerchantAcct = "840000000095584510"
	visaPAN          = "4532015112830366"
	mastercardPAN    = "5425233430109903"
)

type notifyCall struct {
	stan   string
	status domain.ResultStatus
	txn    domain.TransactionStatus
}

type recordingNotifier struct {
	mu       sync.Mutex
	calls    []notifyCall
	redirect string
}

func (n *recordingNotifier) Notify(_ context.Context, txn *domain.BankTransaction, status domain.ResultStatus) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{stan: txn.STAN, status: status, txn: txn.Status})
	if status == domain.ResultSuccess {
		return n.redirect + "/success"
	}
	return n.redirect + "/failed"
}

func (n *recordingNotifier) Calls() []notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifyCall(nil), n.calls...)
}

type bankFixture struct {
	db       *sql.DB
	svc      *Service
	notifier *recordingNotifier
	signer   *security.Signer
	marko    *domain.BankAccount
	ana      *domain.BankAccount
	merchant *domain.BankAccount
}

func setupBank(t *testing.T) *bankFixture {
	t.Helper()
	db := testutil.SetupTestDB(t)

	marko := testutil.SeedBankAccount(t, db, "1234567890", "Marko Marković", "500000.00")
	ana := testutil.SeedBankAccount(t, db, "9876543210", "Ana Anić", "5000.00")
	merchant := testutil.SeedBankAccount(t, db, testMerchantAcct, "Car Rental Agency", "0.00")
	testutil.SeedCard(t, db, marko.ID, visaPAN, "Marko Marković", 2030, 12)
	testutil.SeedCard(t, db, ana.ID, mastercardPAN, "Ana Anić", 2030, 6)

	notifier := &recordingNotifier{redirect: "http://shop.test/payment"}
	signer := security.NewSigner(testHMACSecret)

	svc := NewService(
		repository.NewTransactionRepository(db),
		repository.NewAccountRepository(db),
		repository.NewLedgerRepository(db),
		repository.NewAuditRepository(db),
		card.NewVault(repository.NewCardRepository(db)),
		notifier,
		signer,
		db,
		nil,
		Config{
			AcquirerMerchantID: testMerchantID,
			FrontendURL:        "http://bank.test",
			PaymentTTL:         10 * time.Minute,
			QRMerchantAccount:  testMerchantAcct,
			QRMerchantName:     "Car Rental Agency",
		},
	)

	return &bankFixture{db: db, svc: svc, notifier: notifier, signer: signer, marko: marko, ana: ana, merchant: merchant}
}

func (f *bankFixture) signedRequest(stan, amount string) (CreatePaymentRequest, string) {
	req := CreatePaymentRequest{
		MerchantID:   testMerchantID,
		Amount:       decimal.RequireFromString(amount),
		Currency:     domain.CurrencyRSD,
		STAN:         stan,
		PSPTimestamp: time.Now().UTC().Truncate(time.Microsecond),
	}
	return req, f.signer.Sign(req.Canonical())
}

func (f *bankFixture) createCard(t *testing.T, stan, amount string) *domain.BankTransaction {
	t.Helper()
	req, sig := f.signedRequest(stan, amount)
	res, err := f.svc.CreatePayment(context.Background(), req, sig)
	require.NoError(t, err)
	return res.Transaction
}

func markoCard() card.Data {
	return card.Data{PAN: visaPAN, HolderName: "Marko Marković", Expiry: "12/30", CVV: "123"}
}

func TestCreatePayment(t *testing.T) {
	f := setupBank(t)
	ctx := context.Background()

	valid, validSig := f.signedRequest("PSP-CREATE01", "15000")

	wrongMerchant := valid
	wrongMerchant.MerchantID = "SOMEONE-ELSE"
	wrongMerchant.STAN = "PSP-CREATE02"

	tests := []struct {
		name    string
		req     CreatePaymentRequest
		sig     string
		wantErr error
	}{
		{name: "missing signature", req: valid, sig: "", wantErr: domain.ErrInvalidSignature},
		{name: "tampered amount", req: func() CreatePaymentRequest {
			r := valid
			r.Amount = decimal.NewFromInt(1)
			return r
		}(), sig: validSig, wantErr: domain.ErrInvalidSignature},
		{name: "unknown merchant", req: wrongMerchant, sig: f.signer.Sign(wrongMerchant.Canonical()), wantErr: domain.ErrUnauthorizedMerchant},
		{name: "valid", req: valid, sig: validSig},
		{name: "duplicate stan", req: valid, sig: validSig, wantErr: domain.ErrDuplicateSTAN},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := f.svc.CreatePayment(ctx, tc.req, tc.sig)
			if tc.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)

			txn := res.Transaction
			assert.Regexp(t, `^PAY-[0-9A-F]{8}-[0-9A-F]{3}$`, txn.PaymentID)
			assert.Equal(t, "http://bank.test/payment/"+txn.PaymentID, txn.PaymentURL)
			assert.Regexp(t, `^GTX-`, txn.GlobalTransactionID)
			assert.Equal(t, domain.TransactionStatusPending, txn.Status)
			assert.WithinDuration(t, time.Now().Add(10*time.Minute), txn.ExpiresAt, 5*time.Second)
		})
	}
}

func TestProcessCardPayment_HappyPath(t *testing.T) {
	f := setupBank(t)
	ctx := context.Background()
	txn := f.createCard(t, "PSP-HAPPY001", "15000")

	out, err := f.svc.ProcessCardPayment(ctx, ProcessCardRequest{
		PaymentID: txn.PaymentID,
		Card:      markoCard(),
		ClientIP:  "10.0.0.1",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.ResultSuccess, out.Status)
	assert.Equal(t, "http://shop.test/payment/success", out.RedirectURL)
	assert.Equal(t, domain.TransactionStatusReserved, out.Transaction.Status)
	require.NotNil(t, out.Transaction.AccountID)
	assert.Equal(t, f.marko.ID, *out.Transaction.AccountID)

	assert.True(t, decimal.RequireFromString("485000").Equal(testutil.GetAccountBalance(t, f.db, f.marko.ID)))
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, f.db, txn.ID))
	assert.Equal(t, domain.TransactionStatusReserved, testutil.TransactionStatus(t, f.db, txn.PaymentID))

	calls := f.notifier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.ResultSuccess, calls[0].status)
	assert.Equal(t, "PSP-HAPPY001", calls[0].stan)

	logs, err := repository.NewAuditRepository(f.db).GetByEntity(ctx, auditEntityTransaction, txn.PaymentID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, domain.AuditActionPaymentAttempt, logs[0].Action)
	assert.Equal(t, "card ending 0366", logs[0].Details)
	assert.NotContains(t, logs[0].Details, visaPAN)
	assert.Equal(t, domain.AuditActionStatusChange, logs[1].Action)
}

func TestProcessCardPayment_Rejections(t *testing.T) {
	f := setupBank(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		card    card.Data
		wantErr error
	}{
		{
			name:    "luhn failure",
			card:    card.Data{PAN: "4532015112830367", HolderName: "Marko Marković", Expiry: "12/30", CVV: "123"},
			wantErr: domain.ErrInvalidCardData,
		},
		{
			name:    "bad cvv",
			card:    card.Data{PAN: visaPAN, HolderName: "Marko Marković", Expiry: "12/30", CVV: "12"},
			wantErr: domain.ErrInvalidCardData,
		},
		{
			name:    "empty cvv",
			card:    card.Data{PAN: visaPAN, HolderName: "Marko Marković", Expiry: "12/30"},
			wantErr: domain.ErrInvalidCardData,
		},
		{
			name:    "empty holder",
			card:    card.Data{PAN: visaPAN, Expiry: "12/30", CVV: "123"},
			wantErr: domain.ErrInvalidCardData,
		},
		{
			name:    "holder mismatch",
			card:    card.Data{PAN: visaPAN, HolderName: "Someone Else", Expiry: "12/30", CVV: "123"},
			wantErr: domain.ErrCardDeclined,
		},
		{
			name:    "expiry mismatch",
			card:    card.Data{PAN: visaPAN, HolderName: "marko marković ", Expiry: "11/30", CVV: "123"},
			wantErr: domain.ErrCardDeclined,
		},
		{
			name:    "unknown card",
			card:    card.Data{PAN: "4111111111111111", HolderName: "Marko Marković", Expiry: "12/30", CVV: "123"},
			wantErr: domain.ErrCardDeclined,
		},
		{
			name:    "insufficient funds",
			card:    card.Data{PAN: mastercardPAN, HolderName: "Ana Anić", Expiry: "06/30", CVV: "456"},
			wantErr: domain.ErrInsufficientFunds,
		},
	}

	for i, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			txn := f.createCard(t, "PSP-REJ"+string(rune('A'+i)), "15000")
			before := len(f.notifier.Calls())

			out, err := f.svc.ProcessCardPayment(ctx, ProcessCardRequest{PaymentID: txn.PaymentID, Card: tc.card})

			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
			require.NotNil(t, out)
			assert.Equal(t, domain.ResultFailed, out.Status)
			assert.Equal(t, "http://shop.test/payment/failed", out.RedirectURL)
			assert.Equal(t, domain.TransactionStatusFailed, testutil.TransactionStatus(t, f.db, txn.PaymentID))
			assert.Equal(t, 0, testutil.CountLedgerEntries(t, f.db, txn.ID))

			calls := f.notifier.Calls()
			require.Len(t, calls, before+1)
			assert.Equal(t, domain.ResultFailed, calls[before].status)
		})
	}

	assert.True(t, decimal.RequireFromString("500000").Equal(testutil.GetAccountBalance(t, f.db, f.marko.ID)))
	assert.True(t, decimal.RequireFromString("5000").Equal(testutil.GetAccountBalance(t, f.db, f.ana.ID)))
}

func TestProcessCardPayment_NotFound(t *testing.T) {
	f := setupBank(t)

	out, err := f.svc.ProcessCardPayment(context.Background(), ProcessCardRequest{PaymentID: "PAY-MISSING0-000", Card: markoCard()})
	assert.Nil(t, out)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProcessCardPayment_StateOnlyMovesForward(t *testing.T) {
	f := setupBank(t)
	ctx := context.Background()
	txn := f.createCard(t, "PSP-FWD00001", "1000")

	_, err := f.svc.ProcessCardPayment(ctx, ProcessCardRequest{PaymentID: txn.PaymentID, Card: markoCard()})
	require.NoError(t, err)

	out, err := f.svc.ProcessCardPayment(ctx, ProcessCardRequest{PaymentID: txn.PaymentID, Card: markoCard()})
	assert.Nil(t, out)
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)

	assert.Equal(t, domain.TransactionStatusReserved, testutil.TransactionStatus(t, f.db, txn.PaymentID))
	assert.True(t, decimal.RequireFromString("499000").Equal(testutil.GetAccountBalance(t, f.db, f.marko.ID)))
	assert.Len(t, f.notifier.Calls(), 1)
}

func TestProcessCardPayment_ConcurrentDoubleSubmit(t *testing.T) {
	f := setupBank(t)
	ctx := context.Background()
	txn := f.createCard(t, "PSP-RACE0001", "15000")

	const workers = 2
	var wg sync.WaitGroup
	errs := make([]error, workers)
	start := make(chan struct{})

	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.ProcessCardPayment(ctx, ProcessCardRequest{PaymentID: txn.PaymentID, Card: markoCard()})
		}(i)
	}
	close(start)
	wg.Wait()

	var succeeded, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrAlreadyProcessed):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)
	assert.Equal(t, domain.TransactionStatusReserved, testutil.TransactionStatus(t, f.db, txn.PaymentID))
	assert.True(t, decimal.RequireFromString("485000").Equal(testutil.GetAccountBalance(t, f.db, f.marko.ID)))
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, f.db, txn.ID))
}

func TestProcessCardPayment_ExpiredWindow(t *testing.T) {
	f := setupBank(t)
	ctx := context.Background()
	txn := f.createCard(t, "PSP-EXP00001", "15000")
	testutil.BackdateTransaction(t, f.db, txn.PaymentID, 11*time.Minute)

	out, err := f.svc.ProcessCardPayment(ctx, ProcessCardRequest{PaymentID: txn.PaymentID, Card: markoCard()})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExpired)
	require.NotNil(t, out)
	assert.Equal(t, "http://shop.test/payment/failed", out.RedirectURL)
	assert.Equal(t, domain.TransactionStatusExpired, testutil.TransactionStatus(t, f.db, txn.PaymentID))
	assert.True(t, decimal.RequireFromString("500000").Equal(testutil.GetAccountBalance(t, f.db, f.marko.ID)))

	calls := f.notifier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.ResultFailed, calls[0].status)

	// A second attempt sees a terminal transaction, not a fresh expiry.
	_, err = f.svc.ProcessCardPayment(ctx, ProcessCardRequest{PaymentID: txn.PaymentID, Card: markoCard()})
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
	assert.Len(t, f.notifier.Calls(), 1)
}

func TestGetPaymentForm(t *testing.T) {
	f := setupBank(t)
	ctx := context.Background()

	live := f.createCard(t, "PSP-FORM0001", "2500.50")
	form, err := f.svc.GetPaymentForm(ctx, live.PaymentID)
	require.NoError(t, err)
	assert.False(t, form.Expired)
	assert.True(t, decimal.RequireFromString("2500.50").Equal(form.Amount))
	assert.Equal(t, domain.TransactionStatusPending, form.Status)

	stale := f.createCard(t, "PSP-FORM0002", "100")
	testutil.BackdateTransaction(t, f.db, stale.PaymentID, 11*time.Minute)

	form, err = f.svc.GetPaymentForm(ctx, stale.PaymentID)
	assert.ErrorIs(t, err, domain.ErrExpired)
	require.NotNil(t, form)
	assert.True(t, form.Expired)
	assert.Equal(t, domain.TransactionStatusExpired, testutil.TransactionStatus(t, f.db, stale.PaymentID))

	_, err = f.svc.GetPaymentForm(ctx, "PAY-NOPE0000-000")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExpirySweeper_Sweep(t *testing.T) {
	f := setupBank(t)
	ctx := context.Background()

	stale := f.createCard(t, "PSP-SWEEP001", "100")
	fresh := f.createCard(t, "PSP-SWEEP002", "100")
	done := f.createCard(t, "PSP-SWEEP003", "100")
	_, err := f.svc.ProcessCardPayment(ctx, ProcessCardRequest{PaymentID: done.PaymentID, Card: markoCard()})
	require.NoError(t, err)

	testutil.BackdateTransaction(t, f.db, stale.PaymentID, 11*time.Minute)
	testutil.BackdateTransaction(t, f.db, done.PaymentID, 11*time.Minute)

	sweeper := NewExpirySweeper(f.svc, lock.NopLocker{}, testLogger(), time.Minute)
	assert.Equal(t, 1, sweeper.Sweep(ctx))

	assert.Equal(t, domain.TransactionStatusExpired, testutil.TransactionStatus(t, f.db, stale.PaymentID))
	assert.Equal(t, domain.TransactionStatusPending, testutil.TransactionStatus(t, f.db, fresh.PaymentID))
	assert.Equal(t, domain.TransactionStatusReserved, testutil.TransactionStatus(t, f.db, done.PaymentID))

	calls := f.notifier.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, "PSP-SWEEP001", last.stan)
	assert.Equal(t, domain.ResultFailed, last.status)

	assert.Equal(t, 0, sweeper.Sweep(ctx), "second sweep finds nothing")
}

func TestConfirmQRPayment_HappyPath(t *testing.T) {
	f := setupBank(t)
	ctx := context.Background()

	req, sig := f.signedRequest("PSP-QR000001", "15000")
	res, err := f.svc.CreateQRPayment(ctx, req, sig)
	require.NoError(t, err)
	txn := res.Transaction

	assert.Regexp(t, `^QR-[0-9A-F]{8}-[0-9A-F]{3}$`, txn.PaymentID)
	assert.Equal(t, "http://bank.test/qr-payment/"+txn.PaymentID, txn.PaymentURL)
	assert.Equal(t, domain.PaymentMethodQR, txn.PaymentMethod)
	assert.True(t, ipsqr.Validate(res.QRPayload).Valid)
	assert.Contains(t, res.QRPayload, "|I:RSD15000,00|")
	assert.NotEmpty(t, res.QRImage)

	out, err := f.svc.ConfirmQRPayment(ctx, ConfirmQRRequest{
		PaymentID:          txn.PaymentID,
		PayerAccountNumber: " 1234567890 ",
		Payload:            res.QRPayload,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultSuccess, out.Status)
	assert.Equal(t, domain.TransactionStatusCompleted, testutil.TransactionStatus(t, f.db, txn.PaymentID))

	assert.True(t, decimal.RequireFromString("485000").Equal(testutil.GetAccountBalance(t, f.db, f.marko.ID)))
	assert.True(t, decimal.RequireFromString("15000").Equal(testutil.GetAccountBalance(t, f.db, f.merchant.ID)))
	assert.Equal(t, 2, testutil.CountLedgerEntries(t, f.db, txn.ID))
}

func TestConfirmQRPayment_Rejections(t *testing.T) {
	f := setupBank(t)
	ctx := context.Background()

	wrongAmount := ipsqr.Payload(ipsqr.Params{
		RecipientAccount: testMerchantAcct,
		RecipientName:    "Car Rental Agency",
		Amount:           decimal.NewFromInt(1),
		Currency:         domain.CurrencyRSD,
	})

	tests := []struct {
		name       string
		payer      string
		payload    string
		wantErr    error
		wantStatus domain.TransactionStatus
	}{
		{name: "blank payer", payer: "  ", wantErr: domain.ErrInvalidRequest, wantStatus: domain.TransactionStatusPending},
		{name: "amount mismatch in payload", payer: "1234567890", payload: wrongAmount, wantErr: domain.ErrInvalidQRPayload, wantStatus: domain.TransactionStatusFailed},
		{name: "malformed payload", payer: "1234567890", payload: "K:PR|V:02", wantErr: domain.ErrInvalidQRPayload, wantStatus: domain.TransactionStatusFailed},
		{name: "unknown payer", payer: "0000000000", wantErr: domain.ErrAccountNotFound, wantStatus: domain.TransactionStatusFailed},
		{name: "insufficient funds", payer: "9876543210", wantErr: domain.ErrInsufficientFunds, wantStatus: domain.TransactionStatusFailed},
	}

	for i, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, sig := f.signedRequest("PSP-QRREJ"+string(rune('A'+i)), "15000")
			res, err := f.svc.CreateQRPayment(ctx, req, sig)
			require.NoError(t, err)

			_, err = f.svc.ConfirmQRPayment(ctx, ConfirmQRRequest{
				PaymentID:          res.Transaction.PaymentID,
				PayerAccountNumber: tc.payer,
				Payload:            tc.payload,
			})
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, tc.wantStatus, testutil.TransactionStatus(t, f.db, res.Transaction.PaymentID))
		})
	}

	assert.True(t, decimal.Zero.Equal(testutil.GetAccountBalance(t, f.db, f.merchant.ID)))
}

func TestGetQRPayment_Deterministic(t *testing.T) {
	f := setupBank(t)
	ctx := context.Background()

	req, sig := f.signedRequest("PSP-QRGET001", "4000")
	res, err := f.svc.CreateQRPayment(ctx, req, sig)
	require.NoError(t, err)

	a, err := f.svc.GetQRPayment(ctx, res.Transaction.PaymentID)
	require.NoError(t, err)
	b, err := f.svc.GetQRPayment(ctx, res.Transaction.PaymentID)
	require.NoError(t, err)

	assert.Equal(t, res.QRPayload, a.Payload)
	assert.Equal(t, a.QRCodeBase64, b.QRCodeBase64)
	assert.Equal(t, "PSP-QRGET001", a.STAN)
	assert.Equal(t, "Car Rental Agency", a.RecipientName)

	cardTxn := f.createCard(t, "PSP-QRGET002", "4000")
	_, err = f.svc.GetQRPayment(ctx, cardTxn.PaymentID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
