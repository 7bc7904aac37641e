package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
)

// TenantSettingsRepository — интерфейс для таблицы tenant_settings.
type TenantSettingsRepository interface {
	// Get возвращает настройки тенанта. Если не найдены — ErrNotFound.
	Get(ctx context.Context, tenantID string) (*model.TenantSettings, error)
	// SetRetentionDays создаёт или обновляет срок хранения (upsert).
	SetRetentionDays(ctx context.Context, tenantID string, days int, updatedBy string) (*model.TenantSettings, error)
}

// tenantSettingsRepo — реализация TenantSettingsRepository.
type tenantSettingsRepo struct {
	db DBTX
}

// NewTenantSettingsRepository создаёт репозиторий настроек тенантов.
func NewTenantSettingsRepository(db DBTX) TenantSettingsRepository {
	return &tenantSettingsRepo{db: db}
}

func (r *tenantSettingsRepo) Get(ctx context.Context, tenantID string) (*model.TenantSettings, error) {
	query := `
		SELECT tenant_id, retention_days, updated_at, updated_by
		FROM tenant_settings
		WHERE tenant_id = $1`

	s := &model.TenantSettings{}
	err := r.db.QueryRow(ctx, query, tenantID).Scan(
		&s.TenantID, &s.RetentionDays, &s.UpdatedAt, &s.UpdatedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения tenant_settings[%s]: %w", tenantID, err)
	}
	return s, nil
}

// SetRetentionDays — INSERT ... ON CONFLICT DO UPDATE.
func (r *tenantSettingsRepo) SetRetentionDays(ctx context.Context, tenantID string, days int, updatedBy string) (*model.TenantSettings, error) {
	query := `
		INSERT INTO tenant_settings (tenant_id, retention_days, updated_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id) DO UPDATE
		SET retention_days = EXCLUDED.retention_days,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()
		RETURNING tenant_id, retention_days, updated_at, updated_by`

	s := &model.TenantSettings{}
	err := r.db.QueryRow(ctx, query, tenantID, days, updatedBy).Scan(
		&s.TenantID, &s.RetentionDays, &s.UpdatedAt, &s.UpdatedBy,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка сохранения tenant_settings[%s]: %w", tenantID, err)
	}
	return s, nil
}
