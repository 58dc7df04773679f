package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusPaid       OrderStatus = "PAID"
	OrderStatusFailed     OrderStatus = "FAILED"
)

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaid || s == OrderStatusFailed
}

type RentalOrder struct {
	ID                  uuid.UUID
	UserID              uuid.UUID
	VehicleID           uuid.UUID
	RentalStart         time.Time
	RentalEnd           time.Time
	TotalPrice          decimal.Decimal
	Currency            string
	Status              OrderStatus
	MerchantOrderID     string
	GlobalTransactionID *string
	PaymentMethod       *string
	LastPaymentAttempt  *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type Vehicle struct {
	ID          uuid.UUID
	Brand       string
	Model       string
	Year        int
	Category    string
	PricePerDay decimal.Decimal
	Currency    string
	Available   bool
	ImageURL    *string
	Description *string
}

func (v *Vehicle) DisplayName() string {
	return v.Brand + " " + v.Model
}
