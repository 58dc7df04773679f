package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/josh-kwaku/sep-payments/internal/domain"
)

const merchantColumns = `id, merchant_id, password_hash, name, callback_secret, active, created_at`

type MerchantRepository struct {
	db *sql.DB
}

func NewMerchantRepository(db *sql.DB) *MerchantRepository {
	return &MerchantRepository{db: db}
}

func (r *MerchantRepository) GetByMerchantID(ctx context.Context, merchantID string) (*domain.Merchant, error) {
	var m domain.Merchant
	err := r.db.QueryRowContext(ctx,
		`SELECT `+merchantColumns+` FROM merchants WHERE merchant_id = $1`, merchantID,
	).Scan(&m.ID, &m.MerchantID, &m.PasswordHash, &m.Name, &m.CallbackSecret, &m.Active, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByMerchantID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByMerchantID: %w", err)
	}
	return &m, nil
}

// Upsert inserts the merchant or refreshes the credentials of an existing one.
func (r *MerchantRepository) Upsert(ctx context.Context, m *domain.Merchant) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO merchants (`+merchantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (merchant_id) DO UPDATE
		SET password_hash = EXCLUDED.password_hash,
			name = EXCLUDED.name,
			callback_secret = EXCLUDED.callback_secret,
			active = EXCLUDED.active`,
		m.ID, m.MerchantID, m.PasswordHash, m.Name, m.CallbackSecret, m.Active, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}
