package domain

import (
	"time"

	"github.com/google/uuid"
)

type AuditAction string

const (
	AuditActionPaymentAttempt   AuditAction = "PAYMENT_ATTEMPT"
	AuditActionQRPaymentAttempt AuditAction = "QR_PAYMENT_ATTEMPT"
	AuditActionStatusChange     AuditAction = "STATUS_CHANGE"
)

type AuditLog struct {
	ID         uuid.UUID
	Action     AuditAction
	EntityType string
	EntityID   string
	Details    string
	IPAddress  *string
	Result     string
	CreatedAt  time.Time
}
