package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusReserved  TransactionStatus = "RESERVED"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
	TransactionStatusError     TransactionStatus = "ERROR"
	TransactionStatusExpired   TransactionStatus = "EXPIRED"
)

type PaymentMethod string

const (
	PaymentMethodCard PaymentMethod = "CARD"
	PaymentMethodQR   PaymentMethod = "QR"
)

// ResultStatus is the outcome reported from bank to PSP and from PSP to merchant.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "SUCCESS"
	ResultFailed  ResultStatus = "FAILED"
	ResultError   ResultStatus = "ERROR"
)

type BankTransaction struct {
	ID                  uuid.UUID
	GlobalTransactionID string
	MerchantID          string
	STAN                string
	PSPTimestamp        time.Time
	PaymentID           string
	PaymentURL          string
	ExpiresAt           time.Time
	AccountID           *uuid.UUID
	Amount              decimal.Decimal
	Currency            string
	Status              TransactionStatus
	AcquirerTimestamp   time.Time
	FailureReason       *string
	PaymentMethod       PaymentMethod
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (t *BankTransaction) IsPending() bool {
	return t.Status == TransactionStatusPending
}

func (t *BankTransaction) IsExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
