package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/sep-payments/internal/domain"
)

const accountColumns = `id, account_number, holder_name, balance, currency, active, version, created_at`

type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.BankAccount, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) GetByAccountNumber(ctx context.Context, number string) (*domain.BankAccount, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, number,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByAccountNumber: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByAccountNumber: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) Create(ctx context.Context, account *domain.BankAccount) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		account.ID, account.AccountNumber, account.HolderName, account.Balance,
		account.Currency, account.Active, account.Version, account.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("Create: account %s: %w", account.AccountNumber, domain.ErrInvalidRequest)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *AccountRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.BankAccount, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) UpdateBalance(ctx context.Context, tx *sql.Tx, id uuid.UUID, newBalance decimal.Decimal, newVersion int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = $1, version = $2 WHERE id = $3 AND version = $4`,
		newBalance, newVersion, id, newVersion-1,
	)
	if err != nil {
		return fmt.Errorf("UpdateBalance: %w", err)
	}
	if err := affectedOne(res, domain.ErrVersionConflict); err != nil {
		return fmt.Errorf("UpdateBalance: %w", err)
	}
	return nil
}

func scanAccount(s scanner) (*domain.BankAccount, error) {
	var a domain.BankAccount
	err := s.Scan(
		&a.ID, &a.AccountNumber, &a.HolderName, &a.Balance,
		&a.Currency, &a.Active, &a.Version, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
