package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/josh-kwaku/sep-payments/internal/domain"
)

const sessionColumns = `id, merchant_id, merchant_order_id, merchant_timestamp, amount, currency,
	success_url, failed_url, error_url, stan, psp_timestamp, payment_method,
	bank_payment_id, bank_payment_url, global_transaction_id, acquirer_timestamp,
	status, created_at, expires_at, updated_at`

const terminalSessionStatuses = `('SUCCESS', 'FAILED', 'ERROR', 'EXPIRED')`

type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, s *domain.PaymentSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payment_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		s.ID, s.MerchantID, s.MerchantOrderID, s.MerchantTimestamp, s.Amount, s.Currency,
		s.SuccessURL, s.FailedURL, s.ErrorURL, s.STAN, s.PSPTimestamp, s.PaymentMethod,
		s.BankPaymentID, s.BankPaymentURL, s.GlobalTransactionID, s.AcquirerTimestamp,
		s.Status, s.CreatedAt, s.ExpiresAt, s.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("Create: stan %s: %w", s.STAN, domain.ErrDuplicateSTAN)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetBySTAN(ctx context.Context, stan string) (*domain.PaymentSession, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM payment_sessions WHERE stan = $1`, stan,
	)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetBySTAN: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetBySTAN: %w", err)
	}
	return s, nil
}

// GetLatestByMerchantOrderID returns the most recent attempt for an order.
func (r *SessionRepository) GetLatestByMerchantOrderID(ctx context.Context, merchantOrderID string) (*domain.PaymentSession, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM payment_sessions
		WHERE merchant_order_id = $1 ORDER BY created_at DESC LIMIT 1`, merchantOrderID,
	)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetLatestByMerchantOrderID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetLatestByMerchantOrderID: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) MarkInitialized(ctx context.Context, s *domain.PaymentSession, bankPaymentID, bankPaymentURL string) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_sessions
		SET status = $1, bank_payment_id = $2, bank_payment_url = $3, updated_at = $4
		WHERE id = $5 AND status = $6`,
		domain.SessionStatusInitialized, bankPaymentID, bankPaymentURL, now,
		s.ID, domain.SessionStatusPending,
	)
	if err != nil {
		return fmt.Errorf("MarkInitialized: %w", err)
	}
	if err := affectedOne(res, domain.ErrVersionConflict); err != nil {
		return fmt.Errorf("MarkInitialized: %w", err)
	}
	s.Status = domain.SessionStatusInitialized
	s.BankPaymentID = &bankPaymentID
	s.BankPaymentURL = &bankPaymentURL
	s.UpdatedAt = now
	return nil
}

// Resolve moves a non-terminal session to a terminal status. It reports false
// without error when the session was already terminal.
func (r *SessionRepository) Resolve(ctx context.Context, s *domain.PaymentSession, status domain.SessionStatus, gtx *string, acquirerTS *time.Time) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_sessions
		SET status = $1,
			global_transaction_id = COALESCE($2, global_transaction_id),
			acquirer_timestamp = COALESCE($3, acquirer_timestamp),
			updated_at = $4
		WHERE id = $5 AND status NOT IN `+terminalSessionStatuses,
		status, gtx, acquirerTS, now, s.ID,
	)
	if err != nil {
		return false, fmt.Errorf("Resolve: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("Resolve: rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}
	s.Status = status
	if gtx != nil {
		s.GlobalTransactionID = gtx
	}
	if acquirerTS != nil {
		s.AcquirerTimestamp = acquirerTS
	}
	s.UpdatedAt = now
	return true, nil
}

func scanSession(sc scanner) (*domain.PaymentSession, error) {
	var s domain.PaymentSession
	err := sc.Scan(
		&s.ID, &s.MerchantID, &s.MerchantOrderID, &s.MerchantTimestamp, &s.Amount, &s.Currency,
		&s.SuccessURL, &s.FailedURL, &s.ErrorURL, &s.STAN, &s.PSPTimestamp, &s.PaymentMethod,
		&s.BankPaymentID, &s.BankPaymentURL, &s.GlobalTransactionID, &s.AcquirerTimestamp,
		&s.Status, &s.CreatedAt, &s.ExpiresAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
