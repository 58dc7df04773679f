package card

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/sep-payments/internal/domain"
	"github.com/josh-kwaku/sep-payments/internal/security"
)

type cardRepository interface {
	GetByPANHash(ctx context.Context, hash string) (*domain.CardRecord, error)
}

type Vault struct {
	cards cardRepository
}

func NewVault(cards cardRepository) *Vault {
	return &Vault{cards: cards}
}

// Validate resolves the stored card for d via its blind index and checks it
// against the submitted holder name and expiry. Callers run ValidateFormat first.
func (v *Vault) Validate(ctx context.Context, d Data) (*domain.CardRecord, error) {
	rec, err := v.cards.GetByPANHash(ctx, security.BlindIndex(d.PAN))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("Validate: unknown card: %w", domain.ErrCardDeclined)
		}
		return nil, fmt.Errorf("Validate: %w", err)
	}

	if !rec.Active {
		return nil, fmt.Errorf("Validate: card inactive: %w", domain.ErrCardDeclined)
	}

	if !strings.EqualFold(strings.TrimSpace(rec.HolderName), strings.TrimSpace(d.HolderName)) {
		return nil, fmt.Errorf("Validate: holder name mismatch: %w", domain.ErrCardDeclined)
	}

	year, month, err := ParseExpiry(d.Expiry)
	if err != nil {
		return nil, fmt.Errorf("Validate: %w", err)
	}
	if year != rec.ExpiryYear || month != rec.ExpiryMonth {
		return nil, fmt.Errorf("Validate: expiry mismatch: %w", domain.ErrCardDeclined)
	}

	return rec, nil
}

type panEncrypter interface {
	Encrypt(plain string) (string, error)
}

// Enroll builds the stored form of a card. The clear PAN only leaves here
// encrypted, hashed and as its last four digits.
func Enroll(enc panEncrypter, accountID uuid.UUID, pan, holder string, year, month int) (*domain.CardRecord, error) {
	if !security.Luhn(pan) {
		return nil, fmt.Errorf("Enroll: %w", domain.ErrInvalidCardData)
	}
	encrypted, err := enc.Encrypt(pan)
	if err != nil {
		return nil, fmt.Errorf("Enroll: %w", err)
	}
	return &domain.CardRecord{
		ID:           uuid.New(),
		AccountID:    accountID,
		PANEncrypted: encrypted,
		PANHash:      security.BlindIndex(pan),
		LastFour:     LastFour(pan),
		HolderName:   holder,
		ExpiryYear:   year,
		ExpiryMonth:  month,
		Network:      DetectNetwork(pan),
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}, nil
}
