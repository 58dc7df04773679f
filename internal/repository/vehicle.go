package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/sep-payments/internal/domain"
)

const vehicleColumns = `id, brand, model, year, category, price_per_day, currency,
	available, image_url, description`

type VehicleRepository struct {
	db *sql.DB
}

func NewVehicleRepository(db *sql.DB) *VehicleRepository {
	return &VehicleRepository{db: db}
}

func (r *VehicleRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Vehicle, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+vehicleColumns+` FROM vehicles WHERE id = $1`, id,
	)
	v, err := scanVehicle(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return v, nil
}

func (r *VehicleRepository) List(ctx context.Context, availableOnly bool) ([]domain.Vehicle, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+vehicleColumns+` FROM vehicles
		WHERE available OR NOT $1
		ORDER BY brand, model`, availableOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer rows.Close()

	vehicles := []domain.Vehicle{}
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, fmt.Errorf("List: scan: %w", err)
		}
		vehicles = append(vehicles, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: rows: %w", err)
	}
	return vehicles, nil
}

func (r *VehicleRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vehicles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("Count: %w", err)
	}
	return n, nil
}

func (r *VehicleRepository) Create(ctx context.Context, v *domain.Vehicle) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO vehicles (`+vehicleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		v.ID, v.Brand, v.Model, v.Year, v.Category, v.PricePerDay, v.Currency,
		v.Available, v.ImageURL, v.Description,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func scanVehicle(s scanner) (*domain.Vehicle, error) {
	var v domain.Vehicle
	err := s.Scan(
		&v.ID, &v.Brand, &v.Model, &v.Year, &v.Category, &v.PricePerDay, &v.Currency,
		&v.Available, &v.ImageURL, &v.Description,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
