package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/sep-payments/internal/domain"
)

const transactionColumns = `id, global_transaction_id, merchant_id, stan, psp_timestamp,
	payment_id, payment_url, expires_at, account_id, amount, currency, status,
	acquirer_timestamp, failure_reason, payment_method, version, created_at, updated_at`

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, txn *domain.BankTransaction) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		txn.ID, txn.GlobalTransactionID, txn.MerchantID, txn.STAN, txn.PSPTimestamp,
		txn.PaymentID, txn.PaymentURL, txn.ExpiresAt, txn.AccountID, txn.Amount, txn.Currency, txn.Status,
		txn.AcquirerTimestamp, txn.FailureReason, txn.PaymentMethod, txn.Version, txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("Create: stan %s: %w", txn.STAN, domain.ErrDuplicateSTAN)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *TransactionRepository) GetByPaymentID(ctx context.Context, paymentID string) (*domain.BankTransaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE payment_id = $1`, paymentID,
	)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByPaymentID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByPaymentID: %w", err)
	}
	return t, nil
}

func (r *TransactionRepository) GetBySTAN(ctx context.Context, stan string) (*domain.BankTransaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE stan = $1`, stan,
	)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetBySTAN: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetBySTAN: %w", err)
	}
	return t, nil
}

// UpdateStatus persists the mutable fields of txn guarded by its current
// version, then advances txn.Version. A stale version yields ErrVersionConflict.
func (r *TransactionRepository) UpdateStatus(ctx context.Context, ex Execer, txn *domain.BankTransaction) error {
	now := time.Now().UTC()
	res, err := ex.ExecContext(ctx,
		`UPDATE transactions
		SET status = $1, account_id = $2, acquirer_timestamp = $3, failure_reason = $4,
			version = version + 1, updated_at = $5
		WHERE id = $6 AND version = $7`,
		txn.Status, txn.AccountID, txn.AcquirerTimestamp, txn.FailureReason,
		now, txn.ID, txn.Version,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}
	if err := affectedOne(res, domain.ErrVersionConflict); err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}
	txn.Version++
	txn.UpdatedAt = now
	return nil
}

func (r *TransactionRepository) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.BankTransaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at LIMIT $3`,
		domain.TransactionStatusPending, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("FindExpiredPending: %w", err)
	}
	defer rows.Close()

	var txns []domain.BankTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("FindExpiredPending: scan: %w", err)
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("FindExpiredPending: rows: %w", err)
	}
	return txns, nil
}

func scanTransaction(s scanner) (*domain.BankTransaction, error) {
	var t domain.BankTransaction
	var accountID uuid.NullUUID

	err := s.Scan(
		&t.ID, &t.GlobalTransactionID, &t.MerchantID, &t.STAN, &t.PSPTimestamp,
		&t.PaymentID, &t.PaymentURL, &t.ExpiresAt, &accountID, &t.Amount, &t.Currency, &t.Status,
		&t.AcquirerTimestamp, &t.FailureReason, &t.PaymentMethod, &t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if accountID.Valid {
		t.AccountID = &accountID.UUID
	}
	return &t, nil
}
