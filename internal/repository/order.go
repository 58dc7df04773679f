package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/sep-payments/internal/domain"
)

const orderColumns = `id, user_id, vehicle_id, rental_start, rental_end, total_price, currency,
	status, merchant_order_id, global_transaction_id, payment_method, last_payment_attempt,
	created_at, updated_at`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, o *domain.RentalOrder) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rental_orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		o.ID, o.UserID, o.VehicleID, o.RentalStart, o.RentalEnd, o.TotalPrice, o.Currency,
		o.Status, o.MerchantOrderID, o.GlobalTransactionID, o.PaymentMethod, o.LastPaymentAttempt,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.RentalOrder, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM rental_orders WHERE id = $1`, id,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) GetByMerchantOrderID(ctx context.Context, merchantOrderID string) (*domain.RentalOrder, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM rental_orders WHERE merchant_order_id = $1`, merchantOrderID,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByMerchantOrderID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByMerchantOrderID: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.RentalOrder, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM rental_orders
		WHERE user_id = $1 ORDER BY created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByUser: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows, "ListByUser")
}

// Claim moves a PENDING order to PROCESSING and stamps the attempt time.
// ErrOrderNotPending means another request got there first.
func (r *OrderRepository) Claim(ctx context.Context, o *domain.RentalOrder, method string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE rental_orders
		SET status = $1, payment_method = $2, last_payment_attempt = $3, updated_at = $3
		WHERE id = $4 AND status = $5`,
		domain.OrderStatusProcessing, method, at, o.ID, domain.OrderStatusPending,
	)
	if err != nil {
		return fmt.Errorf("Claim: %w", err)
	}
	if err := affectedOne(res, domain.ErrOrderNotPending); err != nil {
		return fmt.Errorf("Claim: %w", err)
	}
	o.Status = domain.OrderStatusProcessing
	o.PaymentMethod = &method
	o.LastPaymentAttempt = &at
	o.UpdatedAt = at
	return nil
}

// Release hands a claimed order back to PENDING when the PSP could not start a session.
func (r *OrderRepository) Release(ctx context.Context, o *domain.RentalOrder) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE rental_orders SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		domain.OrderStatusPending, now, o.ID, domain.OrderStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("Release: %w", err)
	}
	if err := affectedOne(res, domain.ErrOrderNotPending); err != nil {
		return fmt.Errorf("Release: %w", err)
	}
	o.Status = domain.OrderStatusPending
	o.UpdatedAt = now
	return nil
}

// Resolve sets a terminal status on an unresolved order. It reports false
// without error when the order is already PAID or FAILED.
func (r *OrderRepository) Resolve(ctx context.Context, o *domain.RentalOrder, status domain.OrderStatus, gtx *string) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE rental_orders
		SET status = $1, global_transaction_id = COALESCE($2, global_transaction_id), updated_at = $3
		WHERE id = $4 AND status IN ($5, $6)`,
		status, gtx, now, o.ID, domain.OrderStatusPending, domain.OrderStatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("Resolve: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("Resolve: rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}
	o.Status = status
	if gtx != nil {
		o.GlobalTransactionID = gtx
	}
	o.UpdatedAt = now
	return true, nil
}

// FindUnresolved returns orders still awaiting a payment result whose last
// attempt happened before cutoff.
func (r *OrderRepository) FindUnresolved(ctx context.Context, cutoff time.Time, limit int) ([]domain.RentalOrder, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM rental_orders
		WHERE status IN ($1, $2)
			AND last_payment_attempt IS NOT NULL
			AND last_payment_attempt < $3
		ORDER BY last_payment_attempt LIMIT $4`,
		domain.OrderStatusPending, domain.OrderStatusProcessing, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("FindUnresolved: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows, "FindUnresolved")
}

func collectOrders(rows *sql.Rows, op string) ([]domain.RentalOrder, error) {
	orders := []domain.RentalOrder{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}
	return orders, nil
}

func scanOrder(s scanner) (*domain.RentalOrder, error) {
	var o domain.RentalOrder
	err := s.Scan(
		&o.ID, &o.UserID, &o.VehicleID, &o.RentalStart, &o.RentalEnd, &o.TotalPrice, &o.Currency,
		&o.Status, &o.MerchantOrderID, &o.GlobalTransactionID, &o.PaymentMethod, &o.LastPaymentAttempt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
