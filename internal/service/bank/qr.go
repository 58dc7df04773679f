package bank

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/sep-payments/internal/domain"
	"github.com/josh-kwaku/sep-payments/internal/ipsqr"
	"github.com/josh-kwaku/sep-payments/internal/logging"
)

func (s *Service) CreateQRPayment(ctx context.Context, req CreatePaymentRequest, signature string) (*CreatePaymentResult, error) {
	txn, err := s.createTransaction(ctx, req, signature, domain.PaymentMethodQR)
	if err != nil {
		return nil, fmt.Errorf("CreateQRPayment: %w", err)
	}

	payload, image, err := ipsqr.Generate(s.qrParams(txn))
	if err != nil {
		return nil, fmt.Errorf("CreateQRPayment: %w", err)
	}
	return &CreatePaymentResult{Transaction: txn, QRPayload: payload, QRImage: image}, nil
}

func (s *Service) qrParams(txn *domain.BankTransaction) ipsqr.Params {
	return ipsqr.Params{
		RecipientAccount: s.cfg.QRMerchantAccount,
		RecipientName:    s.cfg.QRMerchantName,
		Amount:           txn.Amount,
		Currency:         txn.Currency,
		Reference:        txn.STAN,
		Purpose:          "Car rental payment - " + txn.STAN,
	}
}

type QRPayment struct {
	PaymentID     string
	Amount        decimal.Decimal
	Currency      string
	RecipientName string
	Payload       string
	QRCodeBase64  string
	ExpiresAt     time.Time
	STAN          string
	Status        domain.TransactionStatus
}

// GetQRPayment re-renders the QR for a payment. The payload is a pure function
// of the stored transaction, so the image is stable across calls.
func (s *Service) GetQRPayment(ctx context.Context, paymentID string) (*QRPayment, error) {
	txn, err := s.transactions.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("GetQRPayment: %w", err)
	}
	if txn.PaymentMethod != domain.PaymentMethodQR {
		return nil, fmt.Errorf("GetQRPayment: %w", domain.ErrNotFound)
	}

	if txn.IsPending() && txn.IsExpiredAt(s.now()) {
		if _, err := s.expire(ctx, txn); err != nil && !errors.Is(err, domain.ErrAlreadyProcessed) {
			return nil, fmt.Errorf("GetQRPayment: %w", err)
		}
		return nil, fmt.Errorf("GetQRPayment: %w", domain.ErrExpired)
	}

	payload, image, err := ipsqr.Generate(s.qrParams(txn))
	if err != nil {
		return nil, fmt.Errorf("GetQRPayment: %w", err)
	}

	return &QRPayment{
		PaymentID:     txn.PaymentID,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		RecipientName: s.cfg.QRMerchantName,
		Payload:       payload,
		QRCodeBase64:  image,
		ExpiresAt:     txn.ExpiresAt,
		STAN:          txn.STAN,
		Status:        txn.Status,
	}, nil
}

func (s *Service) ValidateQR(payload string) ipsqr.Result {
	return ipsqr.Validate(payload)
}

type ConfirmQRRequest struct {
	PaymentID          string
	PayerAccountNumber string
	// Payload is the scanned QR text, optional.
	Payload  string
	ClientIP string
}

// ConfirmQRPayment settles a QR payment immediately: the payer is debited and
// the merchant account credited in one database transaction.
func (s *Service) ConfirmQRPayment(ctx context.Context, req ConfirmQRRequest) (*Outcome, error) {
	log := logging.FromContext(ctx)

	txn, err := s.transactions.GetByPaymentID(ctx, req.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("ConfirmQRPayment: %w", err)
	}
	if txn.PaymentMethod != domain.PaymentMethodQR {
		return nil, fmt.Errorf("ConfirmQRPayment: not a qr payment: %w", domain.ErrInvalidRequest)
	}
	if out, err := s.guardPending(ctx, txn); err != nil {
		return out, fmt.Errorf("ConfirmQRPayment: %w", err)
	}

	payerNumber := strings.TrimSpace(req.PayerAccountNumber)
	if payerNumber == "" {
		return nil, fmt.Errorf("ConfirmQRPayment: payer account required: %w", domain.ErrInvalidRequest)
	}

	s.record(ctx, domain.AuditActionQRPaymentAttempt, txn.PaymentID,
		"payer account "+maskAccount(payerNumber), req.ClientIP, "ATTEMPT")

	if req.Payload != "" {
		res := ipsqr.Validate(req.Payload)
		want := ipsqr.AmountField(txn.Currency, txn.Amount)
		if !res.Valid || res.Fields["I"] != want {
			log.Info("qr payload rejected", "payment_id", txn.PaymentID, "errors", res.Errors, "amount_field", res.Fields["I"])
			return s.fail(ctx, txn, "Invalid QR code", domain.ErrInvalidQRPayload)
		}
	}

	payer, err := s.accounts.GetByAccountNumber(ctx, payerNumber)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.fail(ctx, txn, "Payer account not found", domain.ErrAccountNotFound)
		}
		return s.fault(ctx, txn, err)
	}
	if !payer.Active {
		return s.fail(ctx, txn, "Payer account not found", domain.ErrAccountNotFound)
	}
	if !payer.CanCover(txn.Amount) {
		return s.fail(ctx, txn, "Insufficient funds", domain.ErrInsufficientFunds)
	}

	merchant, err := s.accounts.GetByAccountNumber(ctx, ipsqr.NormalizeAccount(s.cfg.QRMerchantAccount))
	if err != nil {
		return s.fault(ctx, txn, fmt.Errorf("merchant account: %w", err))
	}

	if err := s.settle(ctx, txn, payer.ID, merchant.ID); err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyProcessed):
			return nil, fmt.Errorf("ConfirmQRPayment: %w", err)
		case errors.Is(err, domain.ErrInsufficientFunds):
			return s.fail(ctx, txn, "Insufficient funds", domain.ErrInsufficientFunds)
		default:
			return s.fault(ctx, txn, err)
		}
	}

	s.record(ctx, domain.AuditActionStatusChange, txn.PaymentID,
		"PENDING -> COMPLETED", req.ClientIP, string(txn.Status))
	log.Info("qr payment completed", "payment_id", txn.PaymentID, "stan", txn.STAN)

	redirect := s.notifier.Notify(ctx, txn, domain.ResultSuccess)
	return &Outcome{
		Transaction: txn,
		Status:      domain.ResultSuccess,
		RedirectURL: redirect,
		Message:     "Payment successful",
	}, nil
}

func (s *Service) settle(ctx context.Context, txn *domain.BankTransaction, payerID, merchantID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("settle: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	next := *txn
	next.Status = domain.TransactionStatusCompleted
	next.AccountID = &payerID
	next.AcquirerTimestamp = now
	if err := s.transactions.UpdateStatus(ctx, tx, &next); err != nil {
		return fmt.Errorf("settle: %w", conflictAsProcessed(err))
	}

	locked, err := lockAccountsInOrder(ctx, tx, s.accounts, payerID, merchantID)
	if err != nil {
		return fmt.Errorf("settle: %w", err)
	}
	payer, merchant := locked[payerID], locked[merchantID]

	if !payer.CanCover(txn.Amount) {
		return fmt.Errorf("settle: %w", domain.ErrInsufficientFunds)
	}
	if err := s.move(ctx, tx, payer, txn, domain.EntryTypeDebit, now); err != nil {
		return fmt.Errorf("settle: payer: %w", conflictAsProcessed(err))
	}
	if err := s.move(ctx, tx, merchant, txn, domain.EntryTypeCredit, now); err != nil {
		return fmt.Errorf("settle: merchant: %w", conflictAsProcessed(err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("settle: commit: %w", err)
	}

	*txn = next
	s.metrics.Transition("transaction", string(txn.Status))
	return nil
}

func maskAccount(number string) string {
	if len(number) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}
