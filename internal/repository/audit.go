package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/josh-kwaku/sep-payments/internal/domain"
)

const auditColumns = `id, action, entity_type, entity_id, details, ip_address, result, created_at`

type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Create(ctx context.Context, entry *domain.AuditLog) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.Action, entry.EntityType, entry.EntityID,
		entry.Details, entry.IPAddress, entry.Result, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *AuditRepository) GetByEntity(ctx context.Context, entityType, entityID string) ([]domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_logs
		WHERE entity_type = $1 AND entity_id = $2 ORDER BY created_at`, entityType, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByEntity: %w", err)
	}
	defer rows.Close()

	var logs []domain.AuditLog
	for rows.Next() {
		var l domain.AuditLog
		if err := rows.Scan(
			&l.ID, &l.Action, &l.EntityType, &l.EntityID,
			&l.Details, &l.IPAddress, &l.Result, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("GetByEntity: scan: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetByEntity: rows: %w", err)
	}
	return logs, nil
}
