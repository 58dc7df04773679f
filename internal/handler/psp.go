package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/sep-payments/internal/domain"
	"github.com/josh-kwaku/sep-payments/internal/logging"
	"github.com/josh-kwaku/sep-payments/internal/security"
	"github.com/josh-kwaku/sep-payments/internal/service/psp"
)

type pspService interface {
	Initialize(ctx context.Context, req psp.InitializeRequest) (*psp.InitializeResult, error)
	HandleBankCallback(ctx context.Context, cb psp.BankCallback, signature string) (*psp.CallbackResult, error)
	StatusBySTAN(ctx context.Context, stan string) (*domain.PaymentSession, error)
	StatusByMerchantOrderID(ctx context.Context, merchantOrderID string) (*domain.PaymentSession, error)
	Methods(ctx context.Context) []psp.Method
}

type PSPHandler struct {
	psp pspService
}

func NewPSPHandler(svc pspService) *PSPHandler {
	return &PSPHandler{psp: svc}
}

type initializeRequest struct {
	MerchantID        string          `json:"merchant_id"`
	MerchantPassword  string          `json:"merchant_password"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	MerchantOrderID   string          `json:"merchant_order_id"`
	MerchantTimestamp time.Time       `json:"merchant_timestamp"`
	SuccessURL        string          `json:"success_url"`
	FailedURL         string          `json:"failed_url"`
	ErrorURL          string          `json:"error_url"`
	PaymentMethod     string          `json:"payment_method"`
}

type initializeResponse struct {
	PaymentID  string `json:"payment_id"`
	PaymentURL string `json:"payment_url"`
	STAN       string `json:"stan"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

func (h *PSPHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	res, err := h.psp.Initialize(r.Context(), psp.InitializeRequest{
		MerchantID:        req.MerchantID,
		MerchantPassword:  req.MerchantPassword,
		Amount:            req.Amount,
		Currency:          req.Currency,
		MerchantOrderID:   req.MerchantOrderID,
		MerchantTimestamp: req.MerchantTimestamp,
		SuccessURL:        req.SuccessURL,
		FailedURL:         req.FailedURL,
		ErrorURL:          req.ErrorURL,
		PaymentMethod:     domain.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("payment initialization failed",
			"merchant_order_id", req.MerchantOrderID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, initializeResponse{
		PaymentID:  res.PaymentID,
		PaymentURL: res.PaymentURL,
		STAN:       res.STAN,
		Status:     string(res.Status),
		Message:    res.Message,
	})
}

type bankCallbackRequest struct {
	STAN                string    `json:"stan"`
	GlobalTransactionID string    `json:"global_transaction_id"`
	AcquirerTimestamp   time.Time `json:"acquirer_timestamp"`
	Status              string    `json:"status"`
}

type callbackResponse struct {
	Status      string `json:"status"`
	RedirectURL string `json:"redirect_url"`
}

func (h *PSPHandler) BankCallback(w http.ResponseWriter, r *http.Request) {
	var req bankCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if req.STAN == "" || req.Status == "" {
		RespondValidationError(w, []FieldError{{Field: "stan", Message: "stan and status are required"}})
		return
	}

	res, err := h.psp.HandleBankCallback(r.Context(), psp.BankCallback{
		STAN:                req.STAN,
		GlobalTransactionID: req.GlobalTransactionID,
		AcquirerTimestamp:   req.AcquirerTimestamp,
		Status:              domain.ResultStatus(req.Status),
	}, r.Header.Get(security.HeaderBankSignature))
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, callbackResponse{Status: "ok", RedirectURL: res.RedirectURL})
}

type sessionStatusDTO struct {
	STAN                string          `json:"stan"`
	MerchantOrderID     string          `json:"merchant_order_id"`
	Status              string          `json:"status"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	PaymentMethod       string          `json:"payment_method"`
	GlobalTransactionID *string         `json:"global_transaction_id"`
	AcquirerTimestamp   *time.Time      `json:"acquirer_timestamp"`
	CreatedAt           time.Time       `json:"created_at"`
	ExpiresAt           time.Time       `json:"expires_at"`
}

func toSessionStatusDTO(s *domain.PaymentSession) sessionStatusDTO {
	return sessionStatusDTO{
		STAN:                s.STAN,
		MerchantOrderID:     s.MerchantOrderID,
		Status:              string(s.Status),
		Amount:              s.Amount,
		Currency:            s.Currency,
		PaymentMethod:       string(s.PaymentMethod),
		GlobalTransactionID: s.GlobalTransactionID,
		AcquirerTimestamp:   s.AcquirerTimestamp,
		CreatedAt:           s.CreatedAt,
		ExpiresAt:           s.ExpiresAt,
	}
}

func (h *PSPHandler) StatusBySTAN(w http.ResponseWriter, r *http.Request) {
	s, err := h.psp.StatusBySTAN(r.Context(), r.PathValue("stan"))
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toSessionStatusDTO(s))
}

func (h *PSPHandler) StatusByOrder(w http.ResponseWriter, r *http.Request) {
	s, err := h.psp.StatusByMerchantOrderID(r.Context(), r.PathValue("merchantOrderId"))
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toSessionStatusDTO(s))
}

type methodDTO struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *PSPHandler) Methods(w http.ResponseWriter, r *http.Request) {
	methods := h.psp.Methods(r.Context())
	dtos := make([]methodDTO, 0, len(methods))
	for _, m := range methods {
		dtos = append(dtos, methodDTO{Code: string(m.Code), Name: m.Name, Description: m.Description})
	}
	RespondSuccess(w, http.StatusOK, dtos)
}
