package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/sep-payments/internal/auth"
	"github.com/josh-kwaku/sep-payments/internal/domain"
	"github.com/josh-kwaku/sep-payments/internal/logging"
	"github.com/josh-kwaku/sep-payments/internal/security"
	"github.com/josh-kwaku/sep-payments/internal/service/webshop"
)

type orderService interface {
	ListVehicles(ctx context.Context, availableOnly bool) ([]domain.Vehicle, error)
	CreateOrder(ctx context.Context, userID, vehicleID uuid.UUID, start, end time.Time) (*domain.RentalOrder, error)
	ListOrders(ctx context.Context, userID uuid.UUID) ([]domain.RentalOrder, error)
	GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*webshop.OrderDetails, error)
	CheckStatus(ctx context.Context, userID, orderID uuid.UUID) (*domain.RentalOrder, error)
	InitiatePayment(ctx context.Context, userID, orderID uuid.UUID, method string) (*webshop.PaymentInitiation, error)
	PollPSPStatus(ctx context.Context, userID, orderID uuid.UUID) (*webshop.PollResult, error)
	HandleCallback(ctx context.Context, kind string, n webshop.Notification, signature string) (*webshop.CallbackResult, error)
}

type WebshopHandler struct {
	orders orderService
}

func NewWebshopHandler(orders orderService) *WebshopHandler {
	return &WebshopHandler{orders: orders}
}

type vehicleDTO struct {
	ID          uuid.UUID       `json:"id"`
	Brand       string          `json:"brand"`
	Model       string          `json:"model"`
	Year        int             `json:"year"`
	Category    string          `json:"category"`
	PricePerDay decimal.Decimal `json:"price_per_day"`
	Currency    string          `json:"currency"`
	Available   bool            `json:"available"`
	ImageURL    *string         `json:"image_url"`
	Description *string         `json:"description"`
}

func toVehicleDTO(v *domain.Vehicle) vehicleDTO {
	return vehicleDTO{
		ID:          v.ID,
		Brand:       v.Brand,
		Model:       v.Model,
		Year:        v.Year,
		Category:    v.Category,
		PricePerDay: v.PricePerDay,
		Currency:    v.Currency,
		Available:   v.Available,
		ImageURL:    v.ImageURL,
		Description: v.Description,
	}
}

func (h *WebshopHandler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	availableOnly := r.URL.Query().Get("all") != "true"
	vehicles, err := h.orders.ListVehicles(r.Context(), availableOnly)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	dtos := make([]vehicleDTO, 0, len(vehicles))
	for i := range vehicles {
		dtos = append(dtos, toVehicleDTO(&vehicles[i]))
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

type createOrderRequest struct {
	VehicleID   string `json:"vehicle_id"`
	RentalStart string `json:"rental_start"`
	RentalEnd   string `json:"rental_end"`
}

func (r createOrderRequest) parse() (vehicleID uuid.UUID, start, end time.Time, errs []FieldError) {
	vehicleID, err := uuid.Parse(r.VehicleID)
	if err != nil {
		errs = append(errs, FieldError{Field: "vehicle_id", Message: "must be a valid UUID"})
	}
	start, err = time.Parse(time.DateOnly, r.RentalStart)
	if err != nil {
		errs = append(errs, FieldError{Field: "rental_start", Message: "must be a date (YYYY-MM-DD)"})
	}
	end, err = time.Parse(time.DateOnly, r.RentalEnd)
	if err != nil {
		errs = append(errs, FieldError{Field: "rental_end", Message: "must be a date (YYYY-MM-DD)"})
	}
	return vehicleID, start, end, errs
}

type orderDTO struct {
	ID                  uuid.UUID       `json:"id"`
	VehicleID           uuid.UUID       `json:"vehicle_id"`
	RentalStart         string          `json:"rental_start"`
	RentalEnd           string          `json:"rental_end"`
	TotalPrice          decimal.Decimal `json:"total_price"`
	Currency            string          `json:"currency"`
	Status              string          `json:"status"`
	MerchantOrderID     string          `json:"merchant_order_id"`
	GlobalTransactionID *string         `json:"global_transaction_id"`
	PaymentMethod       *string         `json:"payment_method"`
	CreatedAt           time.Time       `json:"created_at"`
	Vehicle             *vehicleDTO     `json:"vehicle,omitempty"`
}

func toOrderDTO(o *domain.RentalOrder) orderDTO {
	return orderDTO{
		ID:                  o.ID,
		VehicleID:           o.VehicleID,
		RentalStart:         o.RentalStart.Format(time.DateOnly),
		RentalEnd:           o.RentalEnd.Format(time.DateOnly),
		TotalPrice:          o.TotalPrice,
		Currency:            o.Currency,
		Status:              string(o.Status),
		MerchantOrderID:     o.MerchantOrderID,
		GlobalTransactionID: o.GlobalTransactionID,
		PaymentMethod:       o.PaymentMethod,
		CreatedAt:           o.CreatedAt,
	}
}

func (h *WebshopHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	vehicleID, start, end, fields := req.parse()
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), userID, vehicleID, start, end)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusCreated, toOrderDTO(order))
}

func (h *WebshopHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	orders, err := h.orders.ListOrders(r.Context(), userID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	dtos := make([]orderDTO, 0, len(orders))
	for i := range orders {
		dtos = append(dtos, toOrderDTO(&orders[i]))
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

func (h *WebshopHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, orderID, appErr := orderRef(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	details, err := h.orders.GetOrder(r.Context(), userID, orderID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	dto := toOrderDTO(details.Order)
	vehicle := toVehicleDTO(details.Vehicle)
	dto.Vehicle = &vehicle
	RespondSuccess(w, http.StatusOK, dto)
}

type orderStatusDTO struct {
	OrderID             uuid.UUID `json:"order_id"`
	MerchantOrderID     string    `json:"merchant_order_id"`
	Status              string    `json:"status"`
	GlobalTransactionID *string   `json:"global_transaction_id"`
	PSPStatus           string    `json:"psp_status,omitempty"`
	Updated             bool      `json:"updated"`
}

func (h *WebshopHandler) OrderStatus(w http.ResponseWriter, r *http.Request) {
	userID, orderID, appErr := orderRef(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	order, err := h.orders.CheckStatus(r.Context(), userID, orderID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, orderStatusDTO{
		OrderID:             order.ID,
		MerchantOrderID:     order.MerchantOrderID,
		Status:              string(order.Status),
		GlobalTransactionID: order.GlobalTransactionID,
	})
}

func (h *WebshopHandler) CheckPaymentStatus(w http.ResponseWriter, r *http.Request) {
	userID, orderID, appErr := orderRef(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	res, err := h.orders.PollPSPStatus(r.Context(), userID, orderID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, orderStatusDTO{
		OrderID:             res.Order.ID,
		MerchantOrderID:     res.Order.MerchantOrderID,
		Status:              string(res.Order.Status),
		GlobalTransactionID: res.Order.GlobalTransactionID,
		PSPStatus:           res.RemoteStatus,
		Updated:             res.Updated,
	})
}

type payOrderRequest struct {
	PaymentMethod string `json:"payment_method"`
}

type payOrderResponse struct {
	OrderID    uuid.UUID `json:"order_id"`
	PaymentID  string    `json:"payment_id"`
	PaymentURL string    `json:"payment_url"`
	STAN       string    `json:"stan"`
	Status     string    `json:"status"`
}

func (h *WebshopHandler) PayOrder(w http.ResponseWriter, r *http.Request) {
	userID, orderID, appErr := orderRef(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req payOrderRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			RespondAppError(w, ErrInvalidRequest, nil)
			return
		}
	}

	res, err := h.orders.InitiatePayment(r.Context(), userID, orderID, req.PaymentMethod)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, payOrderResponse{
		OrderID:    res.Order.ID,
		PaymentID:  res.PaymentID,
		PaymentURL: res.PaymentURL,
		STAN:       res.STAN,
		Status:     string(res.Order.Status),
	})
}

type merchantNotificationRequest struct {
	MerchantOrderID     string          `json:"merchant_order_id"`
	STAN                string          `json:"stan"`
	GlobalTransactionID string          `json:"global_transaction_id"`
	Status              string          `json:"status"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
}

func (h *WebshopHandler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")

	var req merchantNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if req.MerchantOrderID == "" {
		RespondValidationError(w, []FieldError{{Field: "merchant_order_id", Message: "required"}})
		return
	}

	res, err := h.orders.HandleCallback(r.Context(), kind, webshop.Notification{
		MerchantOrderID:     req.MerchantOrderID,
		STAN:                req.STAN,
		GlobalTransactionID: req.GlobalTransactionID,
		Status:              domain.SessionStatus(req.Status),
		Amount:              req.Amount,
		Currency:            req.Currency,
	}, r.Header.Get(security.HeaderPSPSignature))
	if err != nil {
		logging.FromContext(r.Context()).Warn("payment callback rejected",
			"kind", kind, "merchant_order_id", req.MerchantOrderID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, callbackResponse{Status: "ok", RedirectURL: res.RedirectURL})
}
