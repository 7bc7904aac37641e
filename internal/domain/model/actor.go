package model

import (
	"time"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/rbac"
)

// Actor — аутентифицированный субъект, выполняющий операцию.
// Формируется из JWT в middleware, в БД не хранится.
type Actor struct {
	// ID — sub из JWT
	ID string
	// TenantID — компания субъекта
	TenantID string
	// Role — эффективная роль
	Role rbac.Role
}

// RoleOverride — локальное повышение роли пользователя в тенанте.
// Хранится в таблице role_overrides.
type RoleOverride struct {
	// TenantID — компания
	TenantID string
	// UserID — sub пользователя
	UserID string
	// AdditionalRole — дополнительная роль
	AdditionalRole rbac.Role
	// CreatedBy — кто установил
	CreatedBy string
	// CreatedAt — время создания
	CreatedAt time.Time
	// UpdatedAt — время обновления
	UpdatedAt time.Time
}
