package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken       = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken       = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrInvalidCredentials = &AppError{http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password"}
	ErrInvalidRequest     = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed   = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound   = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError      = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrIdempotencyConflict = &AppError{http.StatusConflict, "IDEMPOTENCY_CONFLICT", "Idempotency key already used with a different request"}

	ErrInvalidSignature     = &AppError{http.StatusUnauthorized, "INVALID_SIGNATURE", "Request signature is invalid"}
	ErrUnauthorizedMerchant = &AppError{http.StatusUnauthorized, "UNAUTHORIZED_MERCHANT", "Invalid merchant credentials"}
	ErrForbidden            = &AppError{http.StatusForbidden, "FORBIDDEN", "Not allowed to access this resource"}

	ErrInvalidCardData      = &AppError{http.StatusBadRequest, "INVALID_CARD_DATA", "Invalid card data"}
	ErrCardDeclined         = &AppError{http.StatusBadRequest, "CARD_DECLINED", "Card declined"}
	ErrAmountMismatch       = &AppError{http.StatusBadRequest, "AMOUNT_MISMATCH", "Amount or currency does not match the order"}
	ErrInvalidQRPayload     = &AppError{http.StatusBadRequest, "INVALID_QR_PAYLOAD", "Invalid QR code"}
	ErrInvalidRentalPeriod  = &AppError{http.StatusBadRequest, "INVALID_RENTAL_PERIOD", "Rental end must be after rental start"}
	ErrUnknownPaymentMethod = &AppError{http.StatusBadRequest, "UNKNOWN_PAYMENT_METHOD", "Unknown payment method"}

	ErrAlreadyProcessed = &AppError{http.StatusConflict, "ALREADY_PROCESSED", "Payment has already been processed"}
	ErrVersionConflict  = &AppError{http.StatusConflict, "VERSION_CONFLICT", "Resource was modified concurrently, please retry"}
	ErrDuplicateSTAN    = &AppError{http.StatusConflict, "DUPLICATE_STAN", "A payment with this STAN already exists"}
	ErrOrderNotPending  = &AppError{http.StatusConflict, "ORDER_NOT_PENDING", "Order is not awaiting payment"}

	ErrExpired = &AppError{http.StatusGone, "PAYMENT_EXPIRED", "Payment window has expired"}

	ErrInsufficientFunds = &AppError{http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", "Insufficient funds"}
	ErrAccountNotFound   = &AppError{http.StatusUnprocessableEntity, "ACCOUNT_NOT_FOUND", "Account not found"}
	ErrItemUnavailable   = &AppError{http.StatusUnprocessableEntity, "VEHICLE_UNAVAILABLE", "Vehicle is not available"}

	ErrUpstream            = &AppError{http.StatusBadGateway, "UPSTREAM_ERROR", "Downstream payment service failed"}
	ErrProviderUnavailable = &AppError{http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE", "Payment provider is unavailable"}
)
