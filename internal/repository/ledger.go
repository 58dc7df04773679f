package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/sep-payments/internal/domain"
)

const ledgerColumns = `id, transaction_id, account_id, entry_type, amount, currency,
	balance_before, balance_after, created_at`

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Create(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (`+ledgerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.TransactionID, entry.AccountID, entry.EntryType,
		entry.Amount, entry.Currency, entry.BalanceBefore, entry.BalanceAfter,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *LedgerRepository) GetByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE transaction_id = $1 ORDER BY created_at, entry_type DESC`, transactionID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByTransactionID: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("GetByTransactionID: scan: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetByTransactionID: rows: %w", err)
	}
	return entries, nil
}

func scanLedgerEntry(s scanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := s.Scan(
		&e.ID, &e.TransactionID, &e.AccountID, &e.EntryType,
		&e.Amount, &e.Currency, &e.BalanceBefore, &e.BalanceAfter,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
