package server

import (
	"net/http"
	"time"

	"github.com/josh-kwaku/sep-payments/internal/handler"
	"github.com/josh-kwaku/sep-payments/internal/middleware"
	"github.com/josh-kwaku/sep-payments/internal/repository"
)

func RegisterBank(mux *http.ServeMux, h *handler.BankHandler) {
	mux.HandleFunc("POST /api/payment/create", h.CreatePayment)
	mux.HandleFunc("GET /api/payment/form/{paymentId}", h.GetPaymentForm)
	mux.HandleFunc("POST /api/payment/process", h.ProcessPayment)
	mux.HandleFunc("POST /api/qr/create", h.CreateQRPayment)
	mux.HandleFunc("GET /api/qr/{paymentId}", h.GetQRPayment)
	mux.HandleFunc("POST /api/qr/validate", h.ValidateQR)
	mux.HandleFunc("POST /api/qr/confirm", h.ConfirmQR)
}

func RegisterPSP(mux *http.ServeMux, h *handler.PSPHandler) {
	mux.HandleFunc("POST /api/payment/initialize", h.Initialize)
	mux.HandleFunc("POST /api/payment/callback", h.BankCallback)
	mux.HandleFunc("GET /api/payment/status/{stan}", h.StatusBySTAN)
	mux.HandleFunc("GET /api/payment/status/order/{merchantOrderId}", h.StatusByOrder)
	mux.HandleFunc("GET /api/payment/methods", h.Methods)
}

// WebshopRoutes carries what the webshop routes need beyond the handlers.
type WebshopRoutes struct {
	Shop           *handler.WebshopHandler
	Auth           *handler.AuthHandler
	JWTSecret      string
	Idempotency    *repository.IdempotencyRepository
	IdempotencyTTL time.Duration
}

// RegisterWebshop mounts the webshop API. Order routes require a bearer
// token. The PSP callback is authenticated by its signature instead.
func RegisterWebshop(mux *http.ServeMux, rt WebshopRoutes) {
	requireAuth := middleware.Auth(rt.JWTSecret)
	protected := func(f http.HandlerFunc) http.Handler {
		return requireAuth(f)
	}

	mux.HandleFunc("POST /api/auth/login", rt.Auth.Login)
	mux.HandleFunc("GET /api/vehicles", rt.Shop.ListVehicles)
	mux.Handle("POST /api/orders", middleware.Chain(http.HandlerFunc(rt.Shop.CreateOrder),
		requireAuth,
		middleware.Idempotency(rt.Idempotency, rt.IdempotencyTTL),
	))
	mux.Handle("GET /api/orders/my", protected(rt.Shop.ListOrders))
	mux.Handle("GET /api/orders/{id}", protected(rt.Shop.GetOrder))
	mux.Handle("POST /api/orders/{id}/pay", protected(rt.Shop.PayOrder))
	mux.Handle("GET /api/orders/{id}/status", protected(rt.Shop.OrderStatus))
	mux.Handle("POST /api/orders/{id}/check-payment-status", protected(rt.Shop.CheckPaymentStatus))
	mux.HandleFunc("POST /api/payment/callback/{kind}", rt.Shop.PaymentCallback)
}
