// role_overrides.go — локальные повышения ролей пользователей внутри компании.
// Эффективная роль = max(роль из IdP, override).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/access"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/custody-module/internal/repository"
)

// RoleOverrideService — управление role overrides.
// Реализует middleware.RoleOverrideProvider.
type RoleOverrideService struct {
	repo   repository.RoleOverrideRepository
	logger *slog.Logger
}

// NewRoleOverrideService создаёт сервис role overrides.
func NewRoleOverrideService(repo repository.RoleOverrideRepository, logger *slog.Logger) *RoleOverrideService {
	return &RoleOverrideService{
		repo:   repo,
		logger: logger.With(slog.String("component", "role_overrides")),
	}
}

// GetRoleOverride возвращает дополнительную роль пользователя или nil.
func (s *RoleOverrideService) GetRoleOverride(ctx context.Context, tenantID, userID string) (*rbac.Role, error) {
	ro, err := s.repo.Get(ctx, tenantID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	role := ro.AdditionalRole
	return &role, nil
}

// List возвращает overrides компании субъекта. Только администратор.
func (s *RoleOverrideService) List(ctx context.Context, actor model.Actor) ([]*model.RoleOverride, error) {
	if err := access.RequireAdmin(actor); err != nil {
		return nil, err
	}
	list, err := s.repo.ListByTenant(ctx, actor.TenantID)
	if err != nil {
		return nil, storageFailure("список role overrides", err)
	}
	return list, nil
}

// Set создаёт или заменяет override пользователя. Только администратор.
func (s *RoleOverrideService) Set(ctx context.Context, actor model.Actor, userID, role string) (*model.RoleOverride, error) {
	if err := access.RequireAdmin(actor); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: не указан пользователь", ErrValidation)
	}
	parsed, ok := rbac.ParseRole(role)
	if !ok {
		return nil, fmt.Errorf("%w: некорректная роль %q, допустимые: admin, user", ErrValidation, role)
	}

	ro := &model.RoleOverride{
		TenantID:       actor.TenantID,
		UserID:         userID,
		AdditionalRole: parsed,
		CreatedBy:      actor.ID,
	}
	if err := s.repo.Upsert(ctx, ro); err != nil {
		return nil, storageFailure("сохранение role override", err)
	}

	s.logger.Info("Role override установлен",
		slog.String("tenant_id", actor.TenantID),
		slog.String("user_id", userID),
		slog.String("role", string(parsed)),
		slog.String("created_by", actor.ID),
	)
	return ro, nil
}

// Delete удаляет override пользователя. Только администратор.
func (s *RoleOverrideService) Delete(ctx context.Context, actor model.Actor, userID string) error {
	if err := access.RequireAdmin(actor); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, actor.TenantID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return storageFailure("удаление role override", err)
	}

	s.logger.Info("Role override удалён",
		slog.String("tenant_id", actor.TenantID),
		slog.String("user_id", userID),
		slog.String("deleted_by", actor.ID),
	)
	return nil
}
