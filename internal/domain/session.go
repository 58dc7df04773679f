package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SessionStatus string

const (
	SessionStatusPending     SessionStatus = "PENDING"
	SessionStatusInitialized SessionStatus = "INITIALIZED"
	SessionStatusProcessing  SessionStatus = "PROCESSING"
	SessionStatusSuccess     SessionStatus = "SUCCESS"
	SessionStatusFailed      SessionStatus = "FAILED"
	SessionStatusError       SessionStatus = "ERROR"
	SessionStatusExpired     SessionStatus = "EXPIRED"
)

func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusSuccess, SessionStatusFailed, SessionStatusError, SessionStatusExpired:
		return true
	}
	return false
}

type PaymentSession struct {
	ID                  uuid.UUID
	MerchantID          string
	MerchantOrderID     string
	MerchantTimestamp   time.Time
	Amount              decimal.Decimal
	Currency            string
	SuccessURL          string
	FailedURL           string
	ErrorURL            string
	STAN                string
	PSPTimestamp        time.Time
	PaymentMethod       PaymentMethod
	BankPaymentID       *string
	BankPaymentURL      *string
	GlobalTransactionID *string
	AcquirerTimestamp   *time.Time
	Status              SessionStatus
	CreatedAt           time.Time
	ExpiresAt           time.Time
	UpdatedAt           time.Time
}

// EffectiveStatus reports EXPIRED for a session that never reached a terminal
// state within its window.
func (s *PaymentSession) EffectiveStatus(now time.Time) SessionStatus {
	if !s.Status.IsTerminal() && now.After(s.ExpiresAt) {
		return SessionStatusExpired
	}
	return s.Status
}

type Merchant struct {
	ID             uuid.UUID
	MerchantID     string
	PasswordHash   string
	Name           string
	CallbackSecret string
	Active         bool
	CreatedAt      time.Time
}
