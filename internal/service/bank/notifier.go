package bank

import (
	"context"
	"net/http"
	"time"

	"github.com/josh-kwaku/sep-payments/internal/apiclient"
	"github.com/josh-kwaku/sep-payments/internal/domain"
	"github.com/josh-kwaku/sep-payments/internal/logging"
	"github.com/josh-kwaku/sep-payments/internal/security"
)

const pspCallbackPath = "/api/payment/callback"

// PSPNotifier reports transaction results back to the PSP.
type PSPNotifier struct {
	client *apiclient.Client
	signer *security.Signer
}

func NewPSPNotifier(client *apiclient.Client, signer *security.Signer) *PSPNotifier {
	return &PSPNotifier{client: client, signer: signer}
}

type callbackPayload struct {
	STAN                string    `json:"stan"`
	GlobalTransactionID string    `json:"global_transaction_id"`
	AcquirerTimestamp   time.Time `json:"acquirer_timestamp"`
	Status              string    `json:"status"`
}

type callbackReply struct {
	RedirectURL string `json:"redirect_url"`
}

// CallbackCanonical is the signed form of a bank result callback.
func CallbackCanonical(stan string, status domain.ResultStatus, gtx string, acquirerTS time.Time) string {
	return security.Canonical(stan, string(status), gtx, security.FormatTimestamp(acquirerTS))
}

// Notify posts the result and returns the redirect URL the PSP hands back.
// Delivery failures are logged and yield "" so committed state is never undone.
func (n *PSPNotifier) Notify(ctx context.Context, txn *domain.BankTransaction, status domain.ResultStatus) string {
	log := logging.FromContext(ctx)

	payload := callbackPayload{
		STAN:                txn.STAN,
		GlobalTransactionID: txn.GlobalTransactionID,
		AcquirerTimestamp:   txn.AcquirerTimestamp,
		Status:              string(status),
	}
	sig := n.signer.Sign(CallbackCanonical(txn.STAN, status, txn.GlobalTransactionID, txn.AcquirerTimestamp))

	reply, err := apiclient.Do[callbackReply](ctx, n.client, http.MethodPost, pspCallbackPath, payload,
		map[string]string{security.HeaderBankSignature: sig})
	if err != nil {
		log.Error("psp notification failed",
			"payment_id", txn.PaymentID,
			"stan", txn.STAN,
			"status", status,
			"error", err,
		)
		return ""
	}

	log.Info("psp notified", "payment_id", txn.PaymentID, "stan", txn.STAN, "status", status)
	return reply.RedirectURL
}
