// Package bank implements the issuer/acquirer side: payment creation on behalf
// of the PSP, card and QR authorization, fund reservation and result callbacks.
package bank

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/sep-payments/internal/card"
	"github.com/josh-kwaku/sep-payments/internal/domain"
	"github.com/josh-kwaku/sep-payments/internal/logging"
	"github.com/josh-kwaku/sep-payments/internal/metrics"
	"github.com/josh-kwaku/sep-payments/internal/repository"
	"github.com/josh-kwaku/sep-payments/internal/security"
)

type transactionRepository interface {
	Create(ctx context.Context, txn *domain.BankTransaction) error
	GetByPaymentID(ctx context.Context, paymentID string) (*domain.BankTransaction, error)
	UpdateStatus(ctx context.Context, ex repository.Execer, txn *domain.BankTransaction) error
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.BankTransaction, error)
}

type accountRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.BankAccount, error)
	GetByAccountNumber(ctx context.Context, number string) (*domain.BankAccount, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.BankAccount, error)
	UpdateBalance(ctx context.Context, tx *sql.Tx, id uuid.UUID, newBalance decimal.Decimal, newVersion int64) error
}

type ledgerRepository interface {
	Create(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) error
}

type auditRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
}

type cardVault interface {
	Validate(ctx context.Context, d card.Data) (*domain.CardRecord, error)
}

type resultNotifier interface {
	Notify(ctx context.Context, txn *domain.BankTransaction, status domain.ResultStatus) string
}

type Config struct {
	AcquirerMerchantID string
	FrontendURL        string
	PaymentTTL         time.Duration
	QRMerchantAccount  string
	QRMerchantName     string
}

type Service struct {
	transactions transactionRepository
	accounts     accountRepository
	ledger       ledgerRepository
	audit        auditRepository
	vault        cardVault
	notifier     resultNotifier
	signer       *security.Signer
	db           *sql.DB
	metrics      *metrics.Metrics
	cfg          Config
	clock        func() time.Time
}

func NewService(
	transactions transactionRepository,
	accounts accountRepository,
	ledger ledgerRepository,
	audit auditRepository,
	vault cardVault,
	notifier resultNotifier,
	signer *security.Signer,
	db *sql.DB,
	m *metrics.Metrics,
	cfg Config,
) *Service {
	return &Service{
		transactions: transactions,
		accounts:     accounts,
		ledger:       ledger,
		audit:        audit,
		vault:        vault,
		notifier:     notifier,
		signer:       signer,
		db:           db,
		metrics:      m,
		cfg:          cfg,
		clock:        time.Now,
	}
}

func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

type CreatePaymentRequest struct {
	MerchantID   string
	Amount       decimal.Decimal
	Currency     string
	STAN         string
	PSPTimestamp time.Time
}

func (r CreatePaymentRequest) Canonical() string {
	return security.Canonical(
		r.MerchantID,
		security.FormatAmount(r.Amount),
		r.Currency,
		r.STAN,
		security.FormatTimestamp(r.PSPTimestamp),
	)
}

type CreatePaymentResult struct {
	Transaction *domain.BankTransaction
	QRPayload   string
	QRImage     string
}

func (s *Service) CreatePayment(ctx context.Context, req CreatePaymentRequest, signature string) (*CreatePaymentResult, error) {
	txn, err := s.createTransaction(ctx, req, signature, domain.PaymentMethodCard)
	if err != nil {
		return nil, fmt.Errorf("CreatePayment: %w", err)
	}
	return &CreatePaymentResult{Transaction: txn}, nil
}

func (s *Service) createTransaction(ctx context.Context, req CreatePaymentRequest, signature string, method domain.PaymentMethod) (*domain.BankTransaction, error) {
	log := logging.FromContext(ctx)

	if !s.signer.Verify(req.Canonical(), signature) {
		log.Warn("create payment rejected: bad signature", "stan", req.STAN, "merchant_id", req.MerchantID)
		return nil, domain.ErrInvalidSignature
	}
	if req.MerchantID != s.cfg.AcquirerMerchantID {
		log.Warn("create payment rejected: unknown merchant", "merchant_id", req.MerchantID)
		return nil, domain.ErrUnauthorizedMerchant
	}
	if strings.TrimSpace(req.STAN) == "" || !req.Amount.IsPositive() || req.Currency == "" {
		return nil, fmt.Errorf("stan, positive amount and currency required: %w", domain.ErrInvalidRequest)
	}

	now := s.now()
	paymentID := newPaymentID(method)
	txn := &domain.BankTransaction{
		ID:                  uuid.New(),
		GlobalTransactionID: "GTX-" + uuid.NewString(),
		MerchantID:          req.MerchantID,
		STAN:                req.STAN,
		PSPTimestamp:        req.PSPTimestamp.UTC(),
		PaymentID:           paymentID,
		PaymentURL:          s.paymentURL(method, paymentID),
		ExpiresAt:           now.Add(s.cfg.PaymentTTL),
		Amount:              req.Amount,
		Currency:            req.Currency,
		Status:              domain.TransactionStatusPending,
		AcquirerTimestamp:   now,
		PaymentMethod:       method,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.transactions.Create(ctx, txn); err != nil {
		return nil, err
	}

	s.metrics.Transition("transaction", string(txn.Status))
	log.Info("payment created",
		"payment_id", txn.PaymentID,
		"stan", txn.STAN,
		"method", method,
		"amount", txn.Amount.String(),
		"currency", txn.Currency,
	)
	return txn, nil
}

func (s *Service) paymentURL(method domain.PaymentMethod, paymentID string) string {
	if method == domain.PaymentMethodQR {
		return s.cfg.FrontendURL + "/qr-payment/" + paymentID
	}
	return s.cfg.FrontendURL + "/payment/" + paymentID
}

func newPaymentID(method domain.PaymentMethod) string {
	prefix := "PAY-"
	if method == domain.PaymentMethodQR {
		prefix = "QR-"
	}
	return prefix + strings.ToUpper(uuid.NewString()[:12])
}

type PaymentForm struct {
	PaymentID string
	Amount    decimal.Decimal
	Currency  string
	ExpiresAt time.Time
	Expired   bool
	Status    domain.TransactionStatus
	Method    domain.PaymentMethod
}

// GetPaymentForm returns what the card entry page needs. A pending payment
// whose window has passed is expired on the spot.
func (s *Service) GetPaymentForm(ctx context.Context, paymentID string) (*PaymentForm, error) {
	txn, err := s.transactions.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("GetPaymentForm: %w", err)
	}

	form := &PaymentForm{
		PaymentID: txn.PaymentID,
		Amount:    txn.Amount,
		Currency:  txn.Currency,
		ExpiresAt: txn.ExpiresAt,
		Status:    txn.Status,
		Method:    txn.PaymentMethod,
	}

	if txn.IsPending() && txn.IsExpiredAt(s.now()) {
		if _, err := s.expire(ctx, txn); err != nil && !errors.Is(err, domain.ErrAlreadyProcessed) {
			return nil, fmt.Errorf("GetPaymentForm: %w", err)
		}
		form.Expired = true
		form.Status = domain.TransactionStatusExpired
		return form, fmt.Errorf("GetPaymentForm: %w", domain.ErrExpired)
	}
	form.Expired = txn.Status == domain.TransactionStatusExpired
	return form, nil
}

type ProcessCardRequest struct {
	PaymentID string
	Card      card.Data
	ClientIP  string
}

// Outcome is what the browser needs after a payment attempt, successful or
// not: the final transaction state and where to send the user next.
type Outcome struct {
	Transaction *domain.BankTransaction
	Status      domain.ResultStatus
	RedirectURL string
	Message     string
}

// ProcessCardPayment authorizes a card against a pending payment and, on
// success, reserves the funds. A non-nil Outcome is returned alongside errors
// that still produced a terminal state, so the caller can redirect.
func (s *Service) ProcessCardPayment(ctx context.Context, req ProcessCardRequest) (*Outcome, error) {
	log := logging.FromContext(ctx)

	txn, err := s.transactions.GetByPaymentID(ctx, req.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("ProcessCardPayment: %w", err)
	}
	if txn.PaymentMethod != domain.PaymentMethodCard {
		return nil, fmt.Errorf("ProcessCardPayment: not a card payment: %w", domain.ErrInvalidRequest)
	}
	if out, err := s.guardPending(ctx, txn); err != nil {
		return out, fmt.Errorf("ProcessCardPayment: %w", err)
	}

	lastFour := card.LastFour(req.Card.PAN)
	s.record(ctx, domain.AuditActionPaymentAttempt, txn.PaymentID,
		fmt.Sprintf("card ending %s", lastFour), req.ClientIP, "ATTEMPT")

	now := s.now()
	if err := card.ValidateFormat(req.Card, now); err != nil {
		log.Info("card rejected on format", "payment_id", txn.PaymentID, "card", card.MaskPAN(req.Card.PAN), "error", err)
		return s.fail(ctx, txn, "Invalid card data", domain.ErrInvalidCardData)
	}

	rec, err := s.vault.Validate(ctx, req.Card)
	if err != nil {
		if errors.Is(err, domain.ErrCardDeclined) {
			log.Info("card declined", "payment_id", txn.PaymentID, "card", card.MaskPAN(req.Card.PAN), "error", err)
			return s.fail(ctx, txn, "Card declined", domain.ErrCardDeclined)
		}
		return s.fault(ctx, txn, err)
	}

	account, err := s.accounts.GetByID(ctx, rec.AccountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.fail(ctx, txn, "Card declined", domain.ErrCardDeclined)
		}
		return s.fault(ctx, txn, err)
	}
	if !account.Active {
		return s.fail(ctx, txn, "Card declined", domain.ErrCardDeclined)
	}
	if !account.CanCover(txn.Amount) {
		return s.fail(ctx, txn, "Insufficient funds", domain.ErrInsufficientFunds)
	}

	if err := s.reserve(ctx, txn, account.ID); err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyProcessed):
			return nil, fmt.Errorf("ProcessCardPayment: %w", err)
		case errors.Is(err, domain.ErrInsufficientFunds):
			return s.fail(ctx, txn, "Insufficient funds", domain.ErrInsufficientFunds)
		default:
			return s.fault(ctx, txn, err)
		}
	}

	s.record(ctx, domain.AuditActionStatusChange, txn.PaymentID,
		"PENDING -> RESERVED", req.ClientIP, string(txn.Status))
	log.Info("funds reserved", "payment_id", txn.PaymentID, "stan", txn.STAN, "card", card.MaskPAN(req.Card.PAN))

	redirect := s.notifier.Notify(ctx, txn, domain.ResultSuccess)
	return &Outcome{
		Transaction: txn,
		Status:      domain.ResultSuccess,
		RedirectURL: redirect,
		Message:     "Payment successful",
	}, nil
}

// guardPending rejects anything that is no longer payable, expiring the
// transaction first if its window has passed.
func (s *Service) guardPending(ctx context.Context, txn *domain.BankTransaction) (*Outcome, error) {
	if !txn.IsPending() {
		return nil, domain.ErrAlreadyProcessed
	}
	if txn.IsExpiredAt(s.now()) {
		out, err := s.expire(ctx, txn)
		if err != nil {
			return nil, err
		}
		return out, domain.ErrExpired
	}
	return nil, nil
}

// reserve debits the account and marks the transaction RESERVED atomically.
// The version-guarded status update runs first so a concurrent submit loses
// before touching the balance.
func (s *Service) reserve(ctx context.Context, txn *domain.BankTransaction, accountID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reserve: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	next := *txn
	next.Status = domain.TransactionStatusReserved
	next.AccountID = &accountID
	next.AcquirerTimestamp = now
	if err := s.transactions.UpdateStatus(ctx, tx, &next); err != nil {
		return fmt.Errorf("reserve: %w", conflictAsProcessed(err))
	}

	acct, err := s.accounts.GetForUpdate(ctx, tx, accountID)
	if err != nil {
		return fmt.Errorf("reserve: %w", err)
	}
	if !acct.CanCover(txn.Amount) {
		return fmt.Errorf("reserve: %w", domain.ErrInsufficientFunds)
	}

	if err := s.move(ctx, tx, acct, txn, domain.EntryTypeDebit, now); err != nil {
		return fmt.Errorf("reserve: %w", conflictAsProcessed(err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reserve: commit: %w", err)
	}

	*txn = next
	s.metrics.Transition("transaction", string(txn.Status))
	return nil
}

// move applies one balance change under the caller's lock and writes its
// ledger entry.
func (s *Service) move(ctx context.Context, tx *sql.Tx, acct *domain.BankAccount, txn *domain.BankTransaction, kind domain.EntryType, at time.Time) error {
	before := acct.Balance
	after := before.Add(txn.Amount)
	if kind == domain.EntryTypeDebit {
		after = before.Sub(txn.Amount)
	}

	if err := s.accounts.UpdateBalance(ctx, tx, acct.ID, after, acct.Version+1); err != nil {
		return fmt.Errorf("move: %w", err)
	}
	acct.Balance = after
	acct.Version++

	entry := &domain.LedgerEntry{
		ID:            uuid.New(),
		TransactionID: txn.ID,
		AccountID:     acct.ID,
		EntryType:     kind,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		BalanceBefore: before,
		BalanceAfter:  after,
		CreatedAt:     at,
	}
	if err := s.ledger.Create(ctx, tx, entry); err != nil {
		return fmt.Errorf("move: ledger: %w", err)
	}
	return nil
}

// fail records a business rejection as FAILED, tells the PSP and hands back
// cause for the HTTP layer.
func (s *Service) fail(ctx context.Context, txn *domain.BankTransaction, reason string, cause error) (*Outcome, error) {
	out, err := s.finish(ctx, txn, domain.TransactionStatusFailed, domain.ResultFailed, reason)
	if err != nil {
		return nil, err
	}
	return out, cause
}

// fault marks the transaction ERROR after an unexpected failure.
func (s *Service) fault(ctx context.Context, txn *domain.BankTransaction, cause error) (*Outcome, error) {
	logging.FromContext(ctx).Error("payment processing fault", "payment_id", txn.PaymentID, "error", cause)

	out, err := s.finish(ctx, txn, domain.TransactionStatusError, domain.ResultError, "Payment processing error")
	if err != nil {
		return nil, err
	}
	return out, fmt.Errorf("payment %s: %w", txn.PaymentID, cause)
}

func (s *Service) expire(ctx context.Context, txn *domain.BankTransaction) (*Outcome, error) {
	return s.finish(ctx, txn, domain.TransactionStatusExpired, domain.ResultFailed, "Payment window expired")
}

func (s *Service) finish(ctx context.Context, txn *domain.BankTransaction, status domain.TransactionStatus, result domain.ResultStatus, reason string) (*Outcome, error) {
	next := *txn
	next.Status = status
	next.FailureReason = &reason
	next.AcquirerTimestamp = s.now()

	if err := s.transactions.UpdateStatus(ctx, s.db, &next); err != nil {
		return nil, fmt.Errorf("finish: %w", conflictAsProcessed(err))
	}
	*txn = next
	s.metrics.Transition("transaction", string(status))

	redirect := s.notifier.Notify(ctx, txn, result)
	return &Outcome{
		Transaction: txn,
		Status:      result,
		RedirectURL: redirect,
		Message:     reason,
	}, nil
}

func conflictAsProcessed(err error) error {
	if errors.Is(err, domain.ErrVersionConflict) {
		return domain.ErrAlreadyProcessed
	}
	return err
}
