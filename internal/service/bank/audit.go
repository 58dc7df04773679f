package bank

import (
	"context"

	"github.com/google/uuid"

	"github.com/josh-kwaku/sep-payments/internal/domain"
	"github.com/josh-kwaku/sep-payments/internal/logging"
)

const auditEntityTransaction = "TRANSACTION"

// record writes an audit row. Audit failures are logged and never block the payment.
func (s *Service) record(ctx context.Context, action domain.AuditAction, paymentID, details, clientIP, result string) {
	entry := &domain.AuditLog{
		ID:         uuid.New(),
		Action:     action,
		EntityType: auditEntityTransaction,
		EntityID:   paymentID,
		Details:    details,
		Result:     result,
		CreatedAt:  s.now(),
	}
	if clientIP != "" {
		entry.IPAddress = &clientIP
	}

	if err := s.audit.Create(ctx, entry); err != nil {
		logging.FromContext(ctx).Error("audit write failed",
			"action", action,
			"payment_id", paymentID,
			"error", err,
		)
	}
}
