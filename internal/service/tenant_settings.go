// tenant_settings.go — настройки компании (срок хранения документов).
// Срок хранения читается при каждой загрузке, поэтому кэшируется
// в LRU с TTL (hashicorp/golang-lru/v2/expirable).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/access"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/retention"
	"github.com/bigkaa/goartstore/custody-module/internal/repository"
)

// Prometheus-метрики кэша настроек.
var (
	tenantCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_tenant_cache_hits_total",
		Help: "Попадания в кэш настроек тенантов",
	})
	tenantCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_tenant_cache_misses_total",
		Help: "Промахи кэша настроек тенантов",
	})
)

// Допустимый диапазон срока хранения (дни).
const (
	MinRetentionDays = 1
	MaxRetentionDays = 36500
)

// TenantSettingsView — настройки компании с действующим сроком хранения.
type TenantSettingsView struct {
	TenantID string
	// RetentionDays — собственная настройка компании (nil — не задана)
	RetentionDays *int
	// EffectiveRetentionDays — срок, применяемый к новым документам
	EffectiveRetentionDays int
	// DefaultRetentionDays — глобальный срок (CM_RETENTION_DAYS)
	DefaultRetentionDays int
	UpdatedAt            *time.Time
	UpdatedBy            string
}

// retentionEntry — значение кэша; nil days означает «настройка не задана».
type retentionEntry struct {
	days *int
}

// TenantSettingsService — чтение и изменение настроек компании.
type TenantSettingsService struct {
	repo   repository.TenantSettingsRepository
	policy retention.Policy
	cache  *expirable.LRU[string, retentionEntry]
	logger *slog.Logger
}

// NewTenantSettingsService создаёт сервис настроек с LRU-кэшем
// размера cacheSize и временем жизни записи cacheTTL.
func NewTenantSettingsService(
	repo repository.TenantSettingsRepository,
	policy retention.Policy,
	cacheSize int,
	cacheTTL time.Duration,
	logger *slog.Logger,
) *TenantSettingsService {
	return &TenantSettingsService{
		repo:   repo,
		policy: policy,
		cache:  expirable.NewLRU[string, retentionEntry](cacheSize, nil, cacheTTL),
		logger: logger.With(slog.String("component", "tenant_settings")),
	}
}

// RetentionDays возвращает собственный срок хранения компании или nil.
func (s *TenantSettingsService) RetentionDays(ctx context.Context, tenantID string) (*int, error) {
	if e, ok := s.cache.Get(tenantID); ok {
		tenantCacheHitsTotal.Inc()
		return e.days, nil
	}
	tenantCacheMissesTotal.Inc()

	settings, err := s.repo.Get(ctx, tenantID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	var days *int
	if settings != nil {
		days = settings.RetentionDays
	}
	s.cache.Add(tenantID, retentionEntry{days: days})
	return days, nil
}

// Get возвращает настройки компании субъекта. Доступно любому члену компании.
func (s *TenantSettingsService) Get(ctx context.Context, actor model.Actor) (*TenantSettingsView, error) {
	if actor.TenantID == "" {
		return nil, ErrForbidden
	}

	settings, err := s.repo.Get(ctx, actor.TenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.view(&model.TenantSettings{TenantID: actor.TenantID}), nil
		}
		return nil, storageFailure("настройки тенанта", err)
	}
	return s.view(settings), nil
}

// SetRetentionDays задаёт срок хранения для новых документов компании.
// Только администратор. Уже загруженные документы не пересчитываются.
func (s *TenantSettingsService) SetRetentionDays(ctx context.Context, actor model.Actor, days int) (*TenantSettingsView, error) {
	if actor.TenantID == "" {
		return nil, ErrForbidden
	}
	if err := access.RequireAdmin(actor); err != nil {
		return nil, err
	}
	if days < MinRetentionDays || days > MaxRetentionDays {
		return nil, fmt.Errorf("%w: retentionDays должен быть в диапазоне %d-%d",
			ErrValidation, MinRetentionDays, MaxRetentionDays)
	}

	settings, err := s.repo.SetRetentionDays(ctx, actor.TenantID, days, actor.ID)
	if err != nil {
		return nil, storageFailure("сохранение настроек тенанта", err)
	}
	s.cache.Remove(actor.TenantID)

	s.logger.Info("Срок хранения компании изменён",
		slog.String("tenant_id", actor.TenantID),
		slog.Int("retention_days", days),
		slog.String("updated_by", actor.ID),
	)
	return s.view(settings), nil
}

func (s *TenantSettingsService) view(settings *model.TenantSettings) *TenantSettingsView {
	v := &TenantSettingsView{
		TenantID:               settings.TenantID,
		RetentionDays:          settings.RetentionDays,
		EffectiveRetentionDays: s.policy.DefaultDays,
		DefaultRetentionDays:   s.policy.DefaultDays,
		UpdatedBy:              settings.UpdatedBy,
	}
	if settings.RetentionDays != nil {
		v.EffectiveRetentionDays = *settings.RetentionDays
	}
	if !settings.UpdatedAt.IsZero() {
		at := settings.UpdatedAt
		v.UpdatedAt = &at
	}
	return v
}
