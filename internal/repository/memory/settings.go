package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
	"github.com/bigkaa/goartstore/custody-module/internal/repository"
)

// TenantSettings — repository.TenantSettingsRepository в памяти.
type TenantSettings struct {
	mu    sync.Mutex
	items map[string]model.TenantSettings
	// Reads — количество вызовов Get (проверка кэширования в тестах)
	Reads int
}

// NewTenantSettings создаёт пустой репозиторий настроек.
func NewTenantSettings() *TenantSettings {
	return &TenantSettings{items: make(map[string]model.TenantSettings)}
}

func (r *TenantSettings) Get(_ context.Context, tenantID string) (*model.TenantSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Reads++
	s, ok := r.items[tenantID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (r *TenantSettings) SetRetentionDays(_ context.Context, tenantID string, days int, updatedBy string) (*model.TenantSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := model.TenantSettings{
		TenantID:      tenantID,
		RetentionDays: &days,
		UpdatedAt:     time.Now(),
		UpdatedBy:     updatedBy,
	}
	r.items[tenantID] = s
	return &s, nil
}

// RoleOverrides — repository.RoleOverrideRepository в памяти.
type RoleOverrides struct {
	mu    sync.Mutex
	items map[string]model.RoleOverride
}

// NewRoleOverrides создаёт пустой репозиторий overrides.
func NewRoleOverrides() *RoleOverrides {
	return &RoleOverrides{items: make(map[string]model.RoleOverride)}
}

func roKey(tenantID, userID string) string {
	return tenantID + "\x00" + userID
}

func (r *RoleOverrides) Upsert(_ context.Context, ro *model.RoleOverride) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	key := roKey(ro.TenantID, ro.UserID)
	if prev, ok := r.items[key]; ok {
		ro.CreatedAt = prev.CreatedAt
	} else {
		ro.CreatedAt = now
	}
	ro.UpdatedAt = now
	r.items[key] = *ro
	return nil
}

func (r *RoleOverrides) Get(_ context.Context, tenantID, userID string) (*model.RoleOverride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ro, ok := r.items[roKey(tenantID, userID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &ro, nil
}

func (r *RoleOverrides) Delete(_ context.Context, tenantID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := roKey(tenantID, userID)
	if _, ok := r.items[key]; !ok {
		return repository.ErrNotFound
	}
	delete(r.items, key)
	return nil
}

func (r *RoleOverrides) ListByTenant(_ context.Context, tenantID string) ([]*model.RoleOverride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*model.RoleOverride
	for _, ro := range r.items {
		if ro.TenantID == tenantID {
			cp := ro
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result, nil
}
