package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/rbac"
)

// RoleOverrideRepository — интерфейс CRUD для таблицы role_overrides.
type RoleOverrideRepository interface {
	// Upsert создаёт или обновляет локальное дополнение роли.
	Upsert(ctx context.Context, ro *model.RoleOverride) error
	// Get возвращает override пользователя в тенанте.
	Get(ctx context.Context, tenantID, userID string) (*model.RoleOverride, error)
	// Delete удаляет override.
	Delete(ctx context.Context, tenantID, userID string) error
	// ListByTenant возвращает overrides тенанта.
	ListByTenant(ctx context.Context, tenantID string) ([]*model.RoleOverride, error)
}

// roleOverrideRepo — реализация RoleOverrideRepository.
type roleOverrideRepo struct {
	db DBTX
}

// NewRoleOverrideRepository создаёт репозиторий Role Overrides.
func NewRoleOverrideRepository(db DBTX) RoleOverrideRepository {
	return &roleOverrideRepo{db: db}
}

const roColumns = `tenant_id, user_id, additional_role, created_by, created_at, updated_at`

func scanRoleOverride(row pgx.Row) (*model.RoleOverride, error) {
	ro := &model.RoleOverride{}
	var role string
	if err := row.Scan(&ro.TenantID, &ro.UserID, &role, &ro.CreatedBy, &ro.CreatedAt, &ro.UpdatedAt); err != nil {
		return nil, err
	}
	ro.AdditionalRole = rbac.Role(role)
	return ro, nil
}

func (r *roleOverrideRepo) Upsert(ctx context.Context, ro *model.RoleOverride) error {
	query := `
		INSERT INTO role_overrides (tenant_id, user_id, additional_role, created_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, user_id) DO UPDATE SET
			additional_role = EXCLUDED.additional_role,
			created_by = EXCLUDED.created_by,
			updated_at = NOW()
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		ro.TenantID, ro.UserID, string(ro.AdditionalRole), ro.CreatedBy,
	).Scan(&ro.CreatedAt, &ro.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка upsert role override: %w", err)
	}
	return nil
}

func (r *roleOverrideRepo) Get(ctx context.Context, tenantID, userID string) (*model.RoleOverride, error) {
	query := fmt.Sprintf(`SELECT %s FROM role_overrides WHERE tenant_id = $1 AND user_id = $2`, roColumns)

	ro, err := scanRoleOverride(r.db.QueryRow(ctx, query, tenantID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения role override: %w", err)
	}
	return ro, nil
}

func (r *roleOverrideRepo) Delete(ctx context.Context, tenantID, userID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM role_overrides WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID)
	if err != nil {
		return fmt.Errorf("ошибка удаления role override: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *roleOverrideRepo) ListByTenant(ctx context.Context, tenantID string) ([]*model.RoleOverride, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM role_overrides
		WHERE tenant_id = $1
		ORDER BY user_id`, roColumns)

	rows, err := r.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка role overrides: %w", err)
	}
	defer rows.Close()

	var result []*model.RoleOverride
	for rows.Next() {
		ro, err := scanRoleOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования role override: %w", err)
		}
		result = append(result, ro)
	}
	return result, rows.Err()
}
