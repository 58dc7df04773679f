package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/sep-payments/internal/card"
	"github.com/josh-kwaku/sep-payments/internal/domain"
	"github.com/josh-kwaku/sep-payments/internal/ipsqr"
	"github.com/josh-kwaku/sep-payments/internal/logging"
	"github.com/josh-kwaku/sep-payments/internal/security"
	"github.com/josh-kwaku/sep-payments/internal/service/bank"
)

type bankService interface {
	CreatePayment(ctx context.Context, req bank.CreatePaymentRequest, signature string) (*bank.CreatePaymentResult, error)
	CreateQRPayment(ctx context.Context, req bank.CreatePaymentRequest, signature string) (*bank.CreatePaymentResult, error)
	GetPaymentForm(ctx context.Context, paymentID string) (*bank.PaymentForm, error)
	ProcessCardPayment(ctx context.Context, req bank.ProcessCardRequest) (*bank.Outcome, error)
	GetQRPayment(ctx context.Context, paymentID string) (*bank.QRPayment, error)
	ValidateQR(payload string) ipsqr.Result
	ConfirmQRPayment(ctx context.Context, req bank.ConfirmQRRequest) (*bank.Outcome, error)
}

type BankHandler struct {
	bank bankService
}

func NewBankHandler(svc bankService) *BankHandler {
	return &BankHandler{bank: svc}
}

type bankCreateRequest struct {
	MerchantID   string          `json:"merchant_id"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	STAN         string          `json:"stan"`
	PSPTimestamp time.Time       `json:"psp_timestamp"`
}

func (r bankCreateRequest) Validate() []FieldError {
	var errs []FieldError
	if r.MerchantID == "" {
		errs = append(errs, FieldError{Field: "merchant_id", Message: "required"})
	}
	if !r.Amount.IsPositive() {
		errs = append(errs, FieldError{Field: "amount", Message: "must be greater than 0"})
	}
	if r.Currency == "" {
		errs = append(errs, FieldError{Field: "currency", Message: "required"})
	}
	if r.STAN == "" {
		errs = append(errs, FieldError{Field: "stan", Message: "required"})
	}
	if r.PSPTimestamp.IsZero() {
		errs = append(errs, FieldError{Field: "psp_timestamp", Message: "required"})
	}
	return errs
}

type bankCreateResponse struct {
	PaymentID    string          `json:"payment_id"`
	PaymentURL   string          `json:"payment_url"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	STAN         string          `json:"stan"`
	ExpiresAt    time.Time       `json:"expires_at"`
	Status       string          `json:"status"`
	QRPayload    string          `json:"qr_payload,omitempty"`
	QRCodeBase64 string          `json:"qr_code_base64,omitempty"`
}

func (h *BankHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, h.bank.CreatePayment)
}

func (h *BankHandler) CreateQRPayment(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, h.bank.CreateQRPayment)
}

type createFunc func(ctx context.Context, req bank.CreatePaymentRequest, signature string) (*bank.CreatePaymentResult, error)

func (h *BankHandler) create(w http.ResponseWriter, r *http.Request, create createFunc) {
	log := logging.FromContext(r.Context())

	var req bankCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	res, err := create(r.Context(), bank.CreatePaymentRequest{
		MerchantID:   req.MerchantID,
		Amount:       req.Amount,
		Currency:     req.Currency,
		STAN:         req.STAN,
		PSPTimestamp: req.PSPTimestamp,
	}, r.Header.Get(security.HeaderPSPSignature))
	if err != nil {
		log.Warn("bank payment creation failed", "stan", req.STAN, "error", err)
		RespondDomainError(w, err)
		return
	}

	txn := res.Transaction
	RespondSuccess(w, http.StatusCreated, bankCreateResponse{
		PaymentID:    txn.PaymentID,
		PaymentURL:   txn.PaymentURL,
		Amount:       txn.Amount,
		Currency:     txn.Currency,
		STAN:         txn.STAN,
		ExpiresAt:    txn.ExpiresAt,
		Status:       string(domain.ResultSuccess),
		QRPayload:    res.QRPayload,
		QRCodeBase64: res.QRImage,
	})
}

type paymentFormDTO struct {
	PaymentID string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	ExpiresAt time.Time       `json:"expires_at"`
	Expired   bool            `json:"expired"`
	Status    string          `json:"status"`
	Method    string          `json:"payment_method"`
}

func (h *BankHandler) GetPaymentForm(w http.ResponseWriter, r *http.Request) {
	form, err := h.bank.GetPaymentForm(r.Context(), r.PathValue("paymentId"))
	if err != nil && form == nil {
		RespondDomainError(w, err)
		return
	}

	dto := paymentFormDTO{
		PaymentID: form.PaymentID,
		Amount:    form.Amount,
		Currency:  form.Currency,
		ExpiresAt: form.ExpiresAt,
		Expired:   form.Expired,
		Status:    string(form.Status),
		Method:    string(form.Method),
	}
	if err != nil {
		RespondDomainErrorWithDetails(w, err, dto)
		return
	}
	RespondSuccess(w, http.StatusOK, dto)
}

type processCardRequest struct {
	PaymentID      string `json:"payment_id"`
	PAN            string `json:"pan"`
	CardHolderName string `json:"card_holder_name"`
	ExpiryDate     string `json:"expiry_date"`
	CVV            string `json:"cvv"`
}

// Validate only requires the payment id. Card fields are checked by the
// service, which fails the payment on bad input.
func (r processCardRequest) Validate() []FieldError {
	if r.PaymentID == "" {
		return []FieldError{{Field: "payment_id", Message: "required"}}
	}
	return nil
}

type outcomeDTO struct {
	PaymentID   string `json:"payment_id,omitempty"`
	Status      string `json:"status"`
	RedirectURL string `json:"redirect_url"`
	Message     string `json:"message"`
}

func toOutcomeDTO(out *bank.Outcome) outcomeDTO {
	dto := outcomeDTO{
		Status:      string(out.Status),
		RedirectURL: out.RedirectURL,
		Message:     out.Message,
	}
	if out.Transaction != nil {
		dto.PaymentID = out.Transaction.PaymentID
	}
	return dto
}

func (h *BankHandler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	var req processCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	out, err := h.bank.ProcessCardPayment(r.Context(), bank.ProcessCardRequest{
		PaymentID: req.PaymentID,
		Card: card.Data{
			PAN:        strings.ReplaceAll(req.PAN, " ", ""),
			HolderName: req.CardHolderName,
			Expiry:     req.ExpiryDate,
			CVV:        req.CVV,
		},
		ClientIP: clientIP(r),
	})
	respondOutcome(w, r, out, err)
}

type qrPaymentDTO struct {
	PaymentID     string          `json:"payment_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	RecipientName string          `json:"recipient_name"`
	QRPayload     string          `json:"qr_payload"`
	QRCodeBase64  string          `json:"qr_code_base64"`
	ExpiresAt     time.Time       `json:"expires_at"`
	STAN          string          `json:"stan"`
	Status        string          `json:"status"`
}

func (h *BankHandler) GetQRPayment(w http.ResponseWriter, r *http.Request) {
	qr, err := h.bank.GetQRPayment(r.Context(), r.PathValue("paymentId"))
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, qrPaymentDTO{
		PaymentID:     qr.PaymentID,
		Amount:        qr.Amount,
		Currency:      qr.Currency,
		RecipientName: qr.RecipientName,
		QRPayload:     qr.Payload,
		QRCodeBase64:  qr.QRCodeBase64,
		ExpiresAt:     qr.ExpiresAt,
		STAN:          qr.STAN,
		Status:        string(qr.Status),
	})
}

type validateQRRequest struct {
	Payload string `json:"qr_payload"`
}

func (h *BankHandler) ValidateQR(w http.ResponseWriter, r *http.Request) {
	var req validateQRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if req.Payload == "" {
		RespondValidationError(w, []FieldError{{Field: "qr_payload", Message: "required"}})
		return
	}
	RespondSuccess(w, http.StatusOK, h.bank.ValidateQR(req.Payload))
}

type confirmQRRequest struct {
	PaymentID          string `json:"payment_id"`
	PayerAccountNumber string `json:"payer_account_number"`
	Payload            string `json:"qr_payload"`
}

func (h *BankHandler) ConfirmQR(w http.ResponseWriter, r *http.Request) {
	var req confirmQRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if req.PaymentID == "" {
		RespondValidationError(w, []FieldError{{Field: "payment_id", Message: "required"}})
		return
	}

	out, err := h.bank.ConfirmQRPayment(r.Context(), bank.ConfirmQRRequest{
		PaymentID:          req.PaymentID,
		PayerAccountNumber: req.PayerAccountNumber,
		Payload:            req.Payload,
		ClientIP:           clientIP(r),
	})
	respondOutcome(w, r, out, err)
}

// respondOutcome writes a payment attempt result. Failures that reached a
// terminal state keep their redirect in the error details.
func respondOutcome(w http.ResponseWriter, r *http.Request, out *bank.Outcome, err error) {
	if err == nil {
		RespondSuccess(w, http.StatusOK, toOutcomeDTO(out))
		return
	}

	log := logging.FromContext(r.Context())
	if errors.Is(err, domain.ErrInvalidCardData) || errors.Is(err, domain.ErrCardDeclined) ||
		errors.Is(err, domain.ErrInsufficientFunds) || errors.Is(err, domain.ErrExpired) {
		log.Info("payment attempt rejected", "error", err)
	} else {
		log.Warn("payment attempt failed", "error", err)
	}

	if out == nil {
		RespondDomainError(w, err)
		return
	}
	RespondDomainErrorWithDetails(w, err, toOutcomeDTO(out))
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
