package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const CurrencyRSD = "RSD"

type BankAccount struct {
	ID            uuid.UUID
	AccountNumber string
	HolderName    string
	Balance       decimal.Decimal
	Currency      string
	Active        bool
	Version       int64
	CreatedAt     time.Time
}

// CanCover reports whether the balance covers amount without going negative.
func (a *BankAccount) CanCover(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}
