package psp

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/sep-payments/internal/apiclient"
	"github.com/josh-kwaku/sep-payments/internal/domain"
	"github.com/josh-kwaku/sep-payments/internal/logging"
	"github.com/josh-kwaku/sep-payments/internal/security"
)

// NotificationCanonical is the signed form of a merchant result notification.
func NotificationCanonical(merchantOrderID string, status domain.SessionStatus, amount decimal.Decimal, currency string) string {
	return security.Canonical(merchantOrderID, string(status), security.FormatAmount(amount), currency)
}

type MerchantNotification struct {
	MerchantOrderID     string          `json:"merchant_order_id"`
	STAN                string          `json:"stan"`
	GlobalTransactionID string          `json:"global_transaction_id,omitempty"`
	Status              string          `json:"status"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	Timestamp           time.Time       `json:"timestamp"`
}

type MerchantReply struct {
	Status      string `json:"status"`
	RedirectURL string `json:"redirect_url"`
}

// MerchantNotifier delivers session results to the merchant's callback URLs.
// The URLs are absolute, so the underlying client has no base URL.
type MerchantNotifier struct {
	client *apiclient.Client
	clock  func() time.Time
}

func NewMerchantNotifier(client *apiclient.Client) *MerchantNotifier {
	return &MerchantNotifier{client: client, clock: time.Now}
}

func callbackURL(s *domain.PaymentSession) string {
	switch s.Status {
	case domain.SessionStatusSuccess:
		return s.SuccessURL
	case domain.SessionStatusFailed:
		return s.FailedURL
	default:
		return s.ErrorURL
	}
}

// Notify signs the result with the merchant's callback secret and returns the
// redirect URL from the merchant's reply, or "" when delivery fails.
func (n *MerchantNotifier) Notify(ctx context.Context, m *domain.Merchant, s *domain.PaymentSession) string {
	log := logging.FromContext(ctx)

	payload := MerchantNotification{
		MerchantOrderID: s.MerchantOrderID,
		STAN:            s.STAN,
		Status:          string(s.Status),
		Amount:          s.Amount,
		Currency:        s.Currency,
		Timestamp:       n.clock().UTC(),
	}
	if s.GlobalTransactionID != nil {
		payload.GlobalTransactionID = *s.GlobalTransactionID
	}

	sig := security.NewSigner(m.CallbackSecret).Sign(
		NotificationCanonical(s.MerchantOrderID, s.Status, s.Amount, s.Currency),
	)

	reply, err := apiclient.Do[MerchantReply](ctx, n.client, http.MethodPost, callbackURL(s), payload,
		map[string]string{security.HeaderPSPSignature: sig})
	if err != nil {
		log.Error("merchant notification failed",
			"merchant_id", m.MerchantID,
			"merchant_order_id", s.MerchantOrderID,
			"stan", s.STAN,
			"status", s.Status,
			"error", err,
		)
		return ""
	}

	log.Info("merchant notified", "merchant_order_id", s.MerchantOrderID, "stan", s.STAN, "status", s.Status)
	return reply.RedirectURL
}
