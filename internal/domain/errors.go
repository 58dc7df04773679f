package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrVersionConflict      = errors.New("optimistic lock conflict")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrUnauthorizedMerchant = errors.New("invalid merchant credentials")
	ErrInvalidCardData      = errors.New("invalid card data")
	ErrCardDeclined         = errors.New("card declined")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrAccountNotFound      = errors.New("account not found")
	ErrAlreadyProcessed     = errors.New("transaction already processed")
	ErrExpired              = errors.New("payment window expired")
	ErrDuplicateSTAN        = errors.New("duplicate stan")
	ErrInvalidQRPayload     = errors.New("invalid qr payload")
	ErrUnknownPaymentMethod = errors.New("unknown payment method")
	ErrProviderUnavailable  = errors.New("payment provider unavailable")
	ErrUpstream             = errors.New("upstream service error")
	ErrAmountMismatch       = errors.New("amount or currency mismatch")
	ErrInvalidRentalPeriod  = errors.New("invalid rental period")
	ErrItemUnavailable      = errors.New("vehicle not available")
	ErrOrderNotPending      = errors.New("order is not pending")
	ErrForbidden            = errors.New("forbidden")
)
