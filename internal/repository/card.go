package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/josh-kwaku/sep-payments/internal/domain"
)

const cardColumns = `id, account_id, pan_encrypted, pan_hash, last_four, holder_name,
	expiry_year, expiry_month, network, active, created_at`

type CardRepository struct {
	db *sql.DB
}

func NewCardRepository(db *sql.DB) *CardRepository {
	return &CardRepository{db: db}
}

func (r *CardRepository) GetByPANHash(ctx context.Context, hash string) (*domain.CardRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+cardColumns+` FROM cards WHERE pan_hash = $1`, hash,
	)
	c, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByPANHash: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByPANHash: %w", err)
	}
	return c, nil
}

func (r *CardRepository) Create(ctx context.Context, card *domain.CardRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO cards (`+cardColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		card.ID, card.AccountID, card.PANEncrypted, card.PANHash, card.LastFour, card.HolderName,
		card.ExpiryYear, card.ExpiryMonth, card.Network, card.Active, card.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("Create: card ending %s: %w", card.LastFour, domain.ErrInvalidRequest)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func scanCard(s scanner) (*domain.CardRecord, error) {
	var c domain.CardRecord
	var network *string
	err := s.Scan(
		&c.ID, &c.AccountID, &c.PANEncrypted, &c.PANHash, &c.LastFour, &c.HolderName,
		&c.ExpiryYear, &c.ExpiryMonth, &network, &c.Active, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if network != nil {
		n := domain.CardNetwork(*network)
		c.Network = &n
	}
	return &c, nil
}
